// Package adapter selects the persistence backend from DATABASE_URL.
package adapter

import (
	"context"
	"fmt"
	"strings"

	"photoenhance/internal/adapter/memstore"
	"photoenhance/internal/adapter/repo"
	"photoenhance/internal/adapter/sqlite"
	"photoenhance/internal/domain"
	"photoenhance/internal/infra"
	"photoenhance/internal/infra/credentials"
)

// Backend names.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

// Stores bundles the repositories of one backend.
type Stores struct {
	Backend   string
	Photos    domain.PhotoRepository
	Ledger    domain.CreditLedger
	Admission domain.AdmissionStore
	Attempts  domain.AttemptRepository
	// Credentials is only available on Postgres.
	Credentials *credentials.Store
	closer      func()
	ping        func(context.Context) error
}

// Ping checks the backend connection. The memory backend is always up.
func (s *Stores) Ping(ctx context.Context) error {
	if s == nil || s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

// Close releases the backend's connections.
func (s *Stores) Close() {
	if s != nil && s.closer != nil {
		s.closer()
	}
}

// BackendFor reports which backend a database URL selects.
func BackendFor(databaseURL string) (string, error) {
	switch u := strings.TrimSpace(databaseURL); {
	case u == "memory":
		return BackendMemory, nil
	case strings.HasPrefix(u, "sqlite://"):
		return BackendSQLite, nil
	case strings.HasPrefix(u, "postgres://"), strings.HasPrefix(u, "postgresql://"):
		return BackendPostgres, nil
	default:
		return "", fmt.Errorf("unsupported DATABASE_URL scheme %q", u)
	}
}

// Open connects the backend cfg.DatabaseURL names. Postgres migrations are
// applied first when cfg.MigrationsPath is set.
func Open(ctx context.Context, cfg *infra.Config, logger infra.Logger) (*Stores, error) {
	backend, err := BackendFor(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	switch backend {
	case BackendMemory:
		s := memstore.New()
		return &Stores{Backend: backend, Photos: s, Ledger: s, Admission: s, Attempts: s}, nil

	case BackendSQLite:
		s, err := sqlite.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return &Stores{
			Backend: backend, Photos: s, Ledger: s, Admission: s, Attempts: s,
			closer: func() { _ = s.Close() },
			ping:   s.Ping,
		}, nil

	default:
		if cfg.MigrationsPath != "" {
			if err := infra.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
				return nil, err
			}
		}
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		runner := infra.NewSQLRunner(pool, logger)
		photos := repo.NewPhotoRepository(runner)
		return &Stores{
			Backend:     backend,
			Photos:      photos,
			Ledger:      repo.NewCreditLedger(runner),
			Admission:   photos,
			Attempts:    repo.NewAttemptRepository(runner),
			Credentials: credentials.NewStore(runner),
			closer:      pool.Close,
			ping:        pool.Ping,
		}, nil
	}
}
