package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"photoenhance/internal/adapter"
	"photoenhance/internal/infra"
)

func main() {
	_ = godotenv.Load()

	var (
		userFlag      string
		grantFlag     int
		unlimitedFlag string
	)
	flag.StringVar(&userFlag, "user", "", "user id whose balance to change")
	flag.IntVar(&grantFlag, "grant", 0, "credits to add (0 to leave unchanged)")
	flag.StringVar(&unlimitedFlag, "unlimited", "", "set to true or false to toggle unlimited usage")
	flag.Parse()

	userID := strings.TrimSpace(userFlag)
	if userID == "" {
		exitWithError(errors.New("-user is required"))
	}
	if grantFlag < 0 {
		exitWithError(errors.New("-grant must not be negative"))
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" || dbURL == adapter.BackendMemory {
		exitWithError(errors.New("DATABASE_URL must point at a persistent store"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger := infra.NewLogger("cli", "credits")
	stores, err := adapter.Open(ctx, &infra.Config{DatabaseURL: dbURL, ScanConcurrency: 1}, logger)
	if err != nil {
		exitWithError(fmt.Errorf("failed to open store: %w", err))
	}
	defer stores.Close()

	ledger := stores.Ledger
	balance, err := ledger.GetBalance(ctx, userID)
	if err != nil {
		exitWithError(fmt.Errorf("failed to load balance: %w", err))
	}
	if grantFlag > 0 {
		if balance, err = ledger.Grant(ctx, userID, grantFlag); err != nil {
			exitWithError(fmt.Errorf("failed to grant credits: %w", err))
		}
	}
	switch strings.ToLower(strings.TrimSpace(unlimitedFlag)) {
	case "":
	case "true", "1", "yes":
		if balance, err = ledger.SetUnlimited(ctx, userID, true); err != nil {
			exitWithError(fmt.Errorf("failed to set unlimited: %w", err))
		}
	case "false", "0", "no":
		if balance, err = ledger.SetUnlimited(ctx, userID, false); err != nil {
			exitWithError(fmt.Errorf("failed to clear unlimited: %w", err))
		}
	default:
		exitWithError(fmt.Errorf("invalid -unlimited value %q", unlimitedFlag))
	}

	fmt.Printf("user=%s credits=%d unlimited=%v\n", userID, balance.Credits, balance.Unlimited)
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
