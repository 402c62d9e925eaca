package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/skald-audio/capture-service/internal/cli"
)

func main() {
	// Load .env if present; real env vars still win.
	_ = godotenv.Load()

	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
