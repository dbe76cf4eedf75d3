package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tender-gateway/api"
	"tender-gateway/config"
	"tender-gateway/ledger"
	"tender-gateway/models"
	"tender-gateway/pipeline"
	"tender-gateway/service"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	client, err := ledger.Dial(ctx, cfg.RPCURL, cfg.ContractAddress, cfg.SignerKey)
	cancel()
	if err != nil {
		log.Fatalf("Failed to connect to ledger: %v", err)
	}
	log.Printf("Connected to ledger, signing as %s", client.SignerAddress().Hex())

	submitter := pipeline.New(client, pipeline.Options{
		ConfirmTimeout:    cfg.ConfirmTimeout,
		BroadcastAttempts: cfg.BroadcastRetry,
	})

	registry := service.NewIdentityRegistry()
	if err := registry.Register(cfg.AdminUser, cfg.AdminPassword, models.RoleAdmin); err != nil {
		log.Fatalf("Failed to seed admin identity: %v", err)
	}

	sessions := service.NewSessionGate([]byte(cfg.JWTSecret), cfg.TokenTTL)
	tenders := service.NewTenderService(client, submitter)
	server := api.NewServer(tenders, registry, sessions)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Router(),
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	serverChan := make(chan error, 1)
	go func() {
		log.Printf("Starting server on %s...", cfg.ListenAddr)
		serverChan <- httpServer.ListenAndServe()
	}()

	// A crash between broadcast and confirmation loses only the in-memory
	// waiting state. The transaction itself may still confirm on chain;
	// the ledger remains the source of truth.
	select {
	case err := <-serverChan:
		log.Fatalf("Server error: %v", err)
	case sig := <-sigChan:
		log.Printf("Received signal: %v", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
		log.Println("Server shutdown completed")
	}
}
