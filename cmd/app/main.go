package main

import (
	"context"
	"flag"
	"log"
	"os"

	"CryptoRelay/internal/di"
	"CryptoRelay/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	// Missing file falls back to defaults plus environment.
	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Printf("config load failed: %v", err)
		os.Exit(1)
	}

	log.Printf("env=%s port=%d symbols=%v", cfg.Environment, cfg.Server.Port, cfg.Finnhub.Symbols)

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Printf("app initialization failed: %v", err)
		os.Exit(1)
	}

	// Run application (blocks until signal)
	if err := app.Run(context.Background()); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
