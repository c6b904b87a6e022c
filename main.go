package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/secureqr/qr-sentinel/internal/config"
	"github.com/secureqr/qr-sentinel/internal/verdict"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	cfg := config.Load()

	svc := verdict.New(cfg)
	defer svc.Close()

	srv := NewServer(svc, cfg)

	addr := cfg.Host + ":" + cfg.Port
	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("[main] Shutting down...")
		httpServer.Close()
	}()

	authStatus := "disabled"
	if cfg.AuthKey != "" {
		authStatus = "enabled"
	}
	log.Printf("[main] qr-sentinel starting on %s", addr)
	log.Printf("[main] Eval timeout: %s | Cache capacity: %d | Auth: %s",
		cfg.EvalTimeout, cfg.CacheCapacity, authStatus)

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("[main] Server error: %v", err)
	}

	log.Println("[main] Server stopped")
}
