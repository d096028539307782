package main

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"log"
	"net/http"

	"golang.org/x/crypto/nacl/secretbox"
)

const sessionCookie = "hg_session"

// Sealer seals and opens the browser session cookie so the last-viewed
// chat id cannot be forged or tampered with client-side.
type Sealer struct {
	key [32]byte
}

// NewSealer derives the sealing key from secret. An empty secret gets a
// random per-boot key, which invalidates cookies across restarts.
func NewSealer(secret string) *Sealer {
	s := &Sealer{}
	if secret == "" {
		if _, err := rand.Read(s.key[:]); err != nil {
			log.Fatalf("[SESSION] cannot generate session key: %v", err)
		}
		log.Println("[SESSION] SESSION_SECRET not set, using per-boot random key")
		return s
	}
	s.key = sha256.Sum256([]byte(secret))
	return s
}

// Seal encrypts and authenticates value into a cookie-safe token.
func (s *Sealer) Seal(value string) string {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return ""
	}
	sealed := secretbox.Seal(nonce[:], []byte(value), &nonce, &s.key)
	return base64.RawURLEncoding.EncodeToString(sealed)
}

// Open reverses Seal. The second return is false for missing, malformed
// or tampered tokens.
func (s *Sealer) Open(token string) (string, bool) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) < 24 {
		return "", false
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	value, ok := secretbox.Open(nil, raw[24:], &nonce, &s.key)
	if !ok {
		return "", false
	}
	return string(value), true
}

// lastViewedChat reads the sealed chat id from the request cookie.
func (s *Sealer) lastViewedChat(r *http.Request) string {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return ""
	}
	id, ok := s.Open(c.Value)
	if !ok {
		return ""
	}
	return id
}

// rememberChat writes the sealed chat id back to the browser.
func (s *Sealer) rememberChat(w http.ResponseWriter, chatID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    s.Seal(chatID),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
