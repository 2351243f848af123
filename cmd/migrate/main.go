// migrate applies the embedded security_events schema to DATABASE_URL.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"zero-trust-session-guard/internal/config"
	"zero-trust-session-guard/internal/db/migrate"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	envFile := flag.String("env-file", ".env", "Optional env file read before the environment")
	flag.Parse()

	cfg, err := config.LoadFile(*envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is not set; set it or add it to .env")
		os.Exit(1)
	}

	if err := migrate.Run(cfg.DatabaseURL, *direction); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			// Already at target version.
			return
		}
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
