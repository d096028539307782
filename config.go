package main

import (
	"log"
	"os"
	"path/filepath"
)

// Port configuration based on environment
var (
	HTTP_PORT  int
	HTTPS_PORT int
)

func init() {
	// Check for high-port development mode
	if os.Getenv("HIGH_PORT_MODE") == "true" {
		log.Println("Running in HIGH_PORT_MODE - using non-privileged ports")
		HTTP_PORT = 8080 // Instead of 80
		HTTPS_PORT = 8443 // Instead of 443
	} else {
		HTTP_PORT = 80
		HTTPS_PORT = 443
	}

	log.Printf("Port configuration: HTTP=%d, HTTPS=%d", HTTP_PORT, HTTPS_PORT)
}

// findSSLCertificates looks for SSL certificates in common locations
func findSSLCertificates() (certPath, keyPath string, found bool) {
	// First, check working directory
	if fileExists("cert.pem") && fileExists("key.pem") {
		return "cert.pem", "key.pem", true
	}

	// Check for Let's Encrypt certificates
	domain := os.Getenv("BASE_DOMAIN")
	if domain == "" {
		return "", "", false
	}

	basePath := filepath.Join("/etc/letsencrypt/live", domain)
	certFile := filepath.Join(basePath, "fullchain.pem")
	keyFile := filepath.Join(basePath, "privkey.pem")
	if fileExists(certFile) && fileExists(keyFile) {
		log.Printf("Found Let's Encrypt certificates at %s", basePath)
		return certFile, keyFile, true
	}

	return "", "", false
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
