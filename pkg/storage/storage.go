// Package storage provides the durability-tiered key/value store that backs
// lock state, tenant selection and one-shot guards.
//
// Two tiers exist, mirroring the remember-me choice made at login: ephemeral
// keys live as long as a browser session would, remembered keys as long as a
// persistent login. Writes are single-key and last-writer-wins.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kamalcharan/contractnest-auth/pkg/domain"
)

// Default tier lifetimes.
const (
	DefaultEphemeralTTL  = 12 * time.Hour
	DefaultRememberedTTL = 30 * 24 * time.Hour
)

// Store is a shared key/value store.
type Store interface {
	// Get returns domain.ErrKeyNotFound when the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set writes value with the lifetime of the given durability tier.
	Set(ctx context.Context, key string, value []byte, durability domain.Durability) error
	// SetTTL writes value with an explicit lifetime.
	SetTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Acquire writes value only if key is absent. It reports whether the
	// caller won.
	Acquire(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// Delete removes keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
}

// TTLConfig maps durability tiers to lifetimes.
type TTLConfig struct {
	Ephemeral  time.Duration
	Remembered time.Duration
}

// For returns the lifetime for a durability tier.
func (c TTLConfig) For(d domain.Durability) time.Duration {
	switch d {
	case domain.DurabilityRemembered:
		if c.Remembered > 0 {
			return c.Remembered
		}
		return DefaultRememberedTTL
	case domain.DurabilityEphemeral:
	}
	if c.Ephemeral > 0 {
		return c.Ephemeral
	}
	return DefaultEphemeralTTL
}

// GetJSON reads and decodes a JSON value.
func GetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// SetJSON encodes and writes a JSON value.
func SetJSON(ctx context.Context, s Store, key string, v any, durability domain.Durability) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, data, durability)
}

// SetTTLJSON encodes and writes a JSON value with an explicit lifetime.
func SetTTLJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.SetTTL(ctx, key, data, ttl)
}

// IsNotFound reports whether err means the key does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrKeyNotFound)
}
