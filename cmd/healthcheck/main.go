// Package main is a tiny liveness checker for container images that ship
// without a shell. It reads TRUSTGATE_PORT to locate the gateway, hits
// /health, and exits 0 only on an HTTP 200. Build with CGO_ENABLED=0 so
// the binary stays fully static.
package main

import (
	"net/http"
	"os"
	"time"
)

func main() {
	port := os.Getenv("TRUSTGATE_PORT")
	if port == "" {
		port = "8080"
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://localhost:" + port + "/health")
	if err != nil {
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}
