package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"photoenhance/internal/infra"
	"photoenhance/internal/infra/credentials"
)

func main() {
	_ = godotenv.Load()

	var (
		keyFlag   string
		modelFlag string
	)
	flag.StringVar(&keyFlag, "key", "", "API key for the enhancement service (falls back to ENHANCER_API_KEY)")
	flag.StringVar(&modelFlag, "model", "", "model to use with this key (optional)")
	flag.Parse()

	key := strings.TrimSpace(keyFlag)
	if key == "" {
		key = strings.TrimSpace(os.Getenv("ENHANCER_API_KEY"))
	}
	if key == "" {
		fmt.Fprintln(os.Stderr, "API key is required via -key or ENHANCER_API_KEY")
		os.Exit(1)
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if !strings.HasPrefix(dbURL, "postgres") {
		fmt.Fprintln(os.Stderr, "DATABASE_URL must point at PostgreSQL")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create pool: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger := infra.NewLogger("cli", "enhancerkey")
	store := credentials.NewStore(infra.NewSQLRunner(pool, logger))

	if err := store.SetEnhancerCredential(ctx, key, modelFlag); err != nil {
		fmt.Fprintf(os.Stderr, "failed to persist enhancer api key: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("enhancer API key stored successfully")
}
