// migrate applies the embedded SQL migrations to the configured database.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/codecollab/realtime/internal/db/migrate"
	"github.com/codecollab/realtime/pkg/config"
	"github.com/codecollab/realtime/pkg/logging"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	logger := logging.New(logging.LevelInfo)
	cfg, err := config.Load(logger, "config")
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if cfg.Database.URL == "" {
		fmt.Fprintln(os.Stderr, "database.url is not set; set it in config.yaml or CODECOLLAB_DATABASE_URL")
		os.Exit(1)
	}

	if err := migrate.Run(cfg.Database.URL, *direction); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			// Already at target version; success.
			return
		}
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
