package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
)

// Credentials is the two-state credential cache the coordinator leans
// on: either a valid cached token exists or one refresh produces it.
type Credentials interface {
	// Token returns the cached credential, refreshing if none is cached.
	Token() (*oauth2.Token, error)
	// Refresh discards the cache and obtains a fresh credential.
	Refresh(ctx context.Context) error
}

// TokenCache caches an OAuth token in the store and refreshes it
// through the wrapped source on demand. It implements both Credentials
// and oauth2.TokenSource, so the mail client can consume it directly.
type TokenCache struct {
	mu     sync.Mutex
	store  Store
	source oauth2.TokenSource
}

// NewTokenCache creates a TokenCache over source, persisting tokens in
// store across runs.
func NewTokenCache(store Store, source oauth2.TokenSource) *TokenCache {
	return &TokenCache{store: store, source: source}
}

// Token returns the cached token, falling back to a refresh when the
// cache is empty or the stored token has expired.
func (c *TokenCache) Token() (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	token, err := c.store.LoadToken()
	if err == nil && token.Valid() {
		return token, nil
	}
	if err != nil && !errors.Is(err, ErrNoResult) {
		return nil, fmt.Errorf("loading cached token: %w", err)
	}
	return c.refreshLocked()
}

// Refresh discards the cached token and obtains a new one.
func (c *TokenCache) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.DeleteToken(); err != nil {
		return fmt.Errorf("discarding cached token: %w", err)
	}
	_, err := c.refreshLocked()
	return err
}

func (c *TokenCache) refreshLocked() (*oauth2.Token, error) {
	token, err := c.source.Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}
	if err := c.store.SaveToken(token); err != nil {
		return nil, fmt.Errorf("caching token: %w", err)
	}
	return token, nil
}
