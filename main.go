package main

import (
	"log"
	"os"

	"guru.chat/chat"
	"guru.chat/config"
	"guru.chat/llm"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/chat.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Printf("[CONFIG] %v - using built-in defaults", err)
		cfg = config.Defaults()
	}

	store, err := buildStore(cfg)
	if err != nil {
		log.Fatalf("[STORE] %v", err)
	}

	var audit *llm.Audit
	if cfg.LLM.AuditPath != "" && os.Getenv("ENABLE_LLM_AUDIT") != "false" {
		audit, err = llm.OpenAudit(cfg.LLM.AuditPath)
		if err != nil {
			log.Printf("[AUDIT] disabled: %v", err)
		}
	}

	// A missing API key is not fatal: start degraded so chats stay
	// browsable while submits are rejected with a clear error.
	var completer chat.Completer
	var titler chat.Titler
	client, err := llm.New(llm.Config{
		APIKey:           os.Getenv("OPENAI_API_KEY"),
		URL:              cfg.LLM.URL,
		Model:            cfg.LLM.Model,
		Temperature:      cfg.LLM.Temperature,
		MaxTokens:        cfg.LLM.MaxTokens,
		TitleInstruction: cfg.Chat.TitleInstruction,
		Timeout:          cfg.LLM.Timeout(),
	}, audit)
	if err != nil {
		log.Printf("[LLM] %v - starting in degraded mode", err)
	} else {
		completer = client
		titler = client
		log.Printf("[LLM] completion client ready (model %s)", cfg.LLM.Model)
	}

	orch := chat.NewOrchestrator(store, completer, titler, cfg.Chat.SystemInstruction)

	if cfg.Chat.SeedDemo {
		seedDemoChat(store)
	}

	setRateLimit(cfg.HTTP.RateLimitPerMinute)
	srv := NewServer(orch, store, NewSealer(cfg.HTTP.SessionSecret), cfg.Chat.SidebarLimit, client == nil)

	if HTTPS_PORT > 0 {
		go func() {
			certPath, keyPath, found := findSSLCertificates()
			if !found {
				log.Printf("WARNING: SSL certificates not found, HTTPS disabled")
				return
			}
			if err := srv.StartHTTPSServer(HTTPS_PORT, certPath, keyPath); err != nil {
				log.Printf("[HTTP] https server: %v", err)
			}
		}()
	}
	if err := srv.StartHTTPServer(HTTP_PORT); err != nil {
		log.Fatalf("[HTTP] %v", err)
	}
}

// buildStore picks the configured session store backend.
func buildStore(cfg *config.App) (chat.Store, error) {
	switch cfg.Chat.Store {
	case "sqlite":
		log.Printf("[STORE] using sqlite store at %s", cfg.Chat.SQLitePath)
		return chat.OpenSQLiteStore(cfg.Chat.SQLitePath, cfg.Chat.Greeting)
	default:
		log.Printf("[STORE] using in-memory store")
		return chat.NewMemoryStore(cfg.Chat.Greeting), nil
	}
}

// seedDemoChat plants one finished conversation so the sidebar has
// content on a fresh boot.
func seedDemoChat(store chat.Store) {
	rec, err := store.Create()
	if err != nil {
		log.Printf("[STORE] demo seed failed: %v", err)
		return
	}
	store.Append(rec.ID, chat.Turn{Role: chat.RoleUser, Text: "Can you create a 30-minute workout plan for me?"})
	store.Append(rec.ID, chat.Turn{Role: chat.RoleModel, Text: "Here is a suggested plan: warm up for five minutes, then alternate bodyweight squats, push-ups and planks. Remember to consult a qualified professional before starting a new exercise program."})
	store.SetTitleIfDefault(rec.ID, "My Daily Workout Plan")
	log.Printf("[STORE] seeded demo chat %s", rec.ID)
}
