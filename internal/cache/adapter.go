package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// TieredStore puts a local store in front of a shared one
type TieredStore struct {
	local  Store
	shared Store
}

// NewTieredStore creates a store that reads local first and fills it from shared
func NewTieredStore(local, shared Store) *TieredStore {
	return &TieredStore{local: local, shared: shared}
}

// Get checks the local store, then the shared store
func (t *TieredStore) Get(ctx context.Context, url string) ([]byte, bool, error) {
	if body, ok, err := t.local.Get(ctx, url); err == nil && ok {
		return body, true, nil
	}

	body, ok, err := t.shared.Get(ctx, url)
	if err != nil || !ok {
		return nil, false, err
	}
	if err := t.local.Set(ctx, url, body, 0); err != nil {
		log.Debug().Err(err).Str("url", url).Msg("Failed to fill local document cache")
	}
	return body, true, nil
}

// Set writes both stores. A shared store failure is returned after the
// local write.
func (t *TieredStore) Set(ctx context.Context, url string, body []byte, ttl time.Duration) error {
	if err := t.local.Set(ctx, url, body, ttl); err != nil {
		return err
	}
	return t.shared.Set(ctx, url, body, ttl)
}
