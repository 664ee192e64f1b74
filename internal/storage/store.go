// Package storage provides the persistence port used by the navigator and
// the API client in place of browser local storage.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Keys shared by the navigator, the router and the API client
const (
	KeyUser        = "user"
	KeyAuthMethod  = "auth_method"
	KeyAccessToken = "access_token"
	KeyCurrentView = "currentView"
	KeyActiveTab   = "activeTab"
)

// SessionKeys are cleared together on logout
var SessionKeys = []string{KeyUser, KeyAuthMethod, KeyAccessToken, KeyCurrentView, KeyActiveTab}

// CredentialKeys are cleared when the backend rejects the bearer token
var CredentialKeys = []string{KeyAccessToken, KeyUser, KeyAuthMethod}

// Store is a string key/value store with local-storage semantics
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context, keys ...string) error
}

// Change describes one key that changed outside the caller's control
type Change struct {
	Key     string
	Value   string
	Deleted bool
}

// Watcher is implemented by stores that can report changes made by other
// writers (another process, another tab).
type Watcher interface {
	Watch(ctx context.Context, fn func(Change)) error
}

// ErrEmptyKey is returned when a key is empty
var ErrEmptyKey = errors.New("storage key cannot be empty")

// GetJSON reads key and decodes it into v. It reports false when the key is
// absent or empty.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok || raw == "" {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it under key
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, string(data))
}

// GetString returns the value for key or "" when absent
func GetString(ctx context.Context, s Store, key string) (string, error) {
	v, _, err := s.Get(ctx, key)
	return v, err
}
