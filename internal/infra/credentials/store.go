// Package credentials keeps upstream API credentials in the database so they
// can be rotated without redeploying.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"photoenhance/internal/infra"
	"photoenhance/internal/sqlinline"
)

// ProviderEnhancer is the integration_tokens row for the enhancement service.
const ProviderEnhancer = "enhancer"

// Credential is a stored token plus the model it was registered for.
type Credential struct {
	Token string
	Model string
}

type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// EnhancerCredential returns the stored enhancement credential, or a zero
// value when none has been registered.
func (s *Store) EnhancerCredential(ctx context.Context) (Credential, error) {
	return s.Lookup(ctx, ProviderEnhancer)
}

func (s *Store) Lookup(ctx context.Context, provider string) (Credential, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var c Credential
	if err := row.Scan(&c.Token, &c.Model); err != nil {
		if infra.IsNoRows(err) {
			return Credential{}, nil
		}
		return Credential{}, err
	}
	c.Token = strings.TrimSpace(c.Token)
	c.Model = strings.TrimSpace(c.Model)
	return c, nil
}

// SetEnhancerCredential stores key, and model when non-empty.
func (s *Store) SetEnhancerCredential(ctx context.Context, key, model string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("enhancer api key is required")
	}
	props := map[string]any{}
	if m := strings.TrimSpace(model); m != "" {
		props["model"] = m
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, ProviderEnhancer, key, raw)
	return err
}
