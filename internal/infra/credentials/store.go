package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"adstudio/internal/infra"
	"adstudio/internal/sqlinline"
)

const (
	ProviderReplicate  = "replicate"
	ProviderElevenLabs = "elevenlabs"
	ProviderHeyGen     = "heygen"
)

// KnownProviders lists providers whose tokens may be stored.
var KnownProviders = []string{ProviderReplicate, ProviderElevenLabs, ProviderHeyGen}

// ValidProvider reports whether name is one of KnownProviders.
func ValidProvider(name string) bool {
	for _, p := range KnownProviders {
		if p == name {
			return true
		}
	}
	return false
}

type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// Token returns the stored token for provider, or "" when none is stored.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// SetToken stores token for provider, replacing any previous value.
func (s *Store) SetToken(ctx context.Context, provider, token string, props map[string]any) error {
	if !ValidProvider(provider) {
		return fmt.Errorf("unsupported provider %q", provider)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New(provider + " token is required")
	}
	return s.upsert(ctx, provider, token, props)
}

func (s *Store) upsert(ctx context.Context, provider, token string, props map[string]any) error {
	payload := props
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, token, raw)
	return err
}

// TokenFunc resolves a provider token at call time.
type TokenFunc func(ctx context.Context) (string, error)

// Static returns a TokenFunc for a fixed token.
func Static(token string) TokenFunc {
	token = strings.TrimSpace(token)
	return func(context.Context) (string, error) { return token, nil }
}

// Resolver prefers the environment token and falls back to the store, so keys
// rotated with cmd/providerkey apply without a restart.
func Resolver(envToken string, store *Store, provider string) TokenFunc {
	envToken = strings.TrimSpace(envToken)
	return func(ctx context.Context) (string, error) {
		if envToken != "" || store == nil {
			return envToken, nil
		}
		return store.Token(ctx, provider)
	}
}
