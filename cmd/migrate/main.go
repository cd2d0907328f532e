package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"photoenhance/internal/infra"
)

func main() {
	_ = godotenv.Load()

	var (
		actionFlag string
		pathFlag   string
	)
	flag.StringVar(&actionFlag, "action", "up", "migration action: up, down or version")
	flag.StringVar(&pathFlag, "path", "", "migrations directory (defaults to MIGRATIONS_PATH or ./migrations)")
	flag.Parse()

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if !strings.HasPrefix(dbURL, "postgres") {
		exitWithError(errors.New("DATABASE_URL must point at PostgreSQL; embedded backends migrate themselves"))
	}
	path := strings.TrimSpace(pathFlag)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("MIGRATIONS_PATH"))
	}
	if path == "" {
		path = "./migrations"
	}

	logger := infra.NewLogger("cli", "migrate")
	switch strings.ToLower(actionFlag) {
	case "up":
		if err := infra.RunMigrations(dbURL, path); err != nil {
			exitWithError(err)
		}
		logger.Info().Str("path", path).Msg("migrations applied")
	case "down":
		if err := infra.RollbackMigrations(dbURL, path); err != nil {
			exitWithError(err)
		}
		logger.Info().Str("path", path).Msg("last migration rolled back")
	case "version":
		version, dirty, err := infra.MigrationVersion(dbURL, path)
		if err != nil {
			exitWithError(err)
		}
		fmt.Printf("version=%d dirty=%v\n", version, dirty)
	default:
		exitWithError(fmt.Errorf("unknown action %q", actionFlag))
	}
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
