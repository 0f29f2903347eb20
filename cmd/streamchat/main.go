package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"StreamChat/internal/app"
	"StreamChat/internal/config"
)

func main() {
	// Optional .env; absence is fine.
	_ = godotenv.Load()

	cfg := config.Default()
	flag.StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "Base URL of the chat backend")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the local credential database")
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	a, err := app.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}

	if err := a.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
