// Package authmethod decides which method an identity uses to authenticate
// and keeps the per-identity method registry current.
package authmethod

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/kamalcharan/contractnest-auth/pkg/domain"
)

// DefaultLookupTimeout bounds each registry or provider lookup.
const DefaultLookupTimeout = 2 * time.Second

// Registry is the persisted auth method table.
type Registry interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.AuthMethod, error)
	RecordUse(ctx context.Context, userID uuid.UUID, kind domain.AuthMethodKind, provider string, at time.Time) error
	SetPrimary(ctx context.Context, userID, methodID uuid.UUID) error
	SoftDelete(ctx context.Context, userID, methodID uuid.UUID) error
}

// ProviderSource lists the external providers linked to an identity.
type ProviderSource interface {
	ProvidersForUser(ctx context.Context, userID uuid.UUID) ([]string, error)
}

// Resolver picks the auth method for an identity. Lookups are advisory:
// failures are logged and resolution falls through to the next source.
type Resolver struct {
	registry      Registry
	providers     ProviderSource
	logger        *slog.Logger
	lookupTimeout time.Duration
	now           func() time.Time
}

// NewResolver creates a resolver. providers may be nil.
func NewResolver(registry Registry, providers ProviderSource, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		registry:      registry,
		providers:     providers,
		logger:        logger,
		lookupTimeout: DefaultLookupTimeout,
		now:           time.Now,
	}
}

// Resolve returns the method an identity should authenticate with. It
// never fails and always returns a valid kind.
//
// Order: the registry's primary row, then its most recently used row, then
// the login hint (amr claim), then linked external providers, then password.
func (r *Resolver) Resolve(ctx context.Context, identityID uuid.UUID, hint string) domain.AuthMethodKind {
	if identityID == uuid.Nil {
		return domain.DefaultAuthMethod
	}

	if methods := r.list(ctx, identityID); len(methods) > 0 {
		return methods[0].Kind
	}

	if hint != "" {
		if kind, err := domain.ParseAuthMethodKind(hint); err == nil {
			return kind
		}
		r.logger.Debug("ignoring unknown auth method hint", "user_id", identityID, "hint", hint)
	}

	if r.providers != nil {
		lctx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
		providers, err := r.providers.ProvidersForUser(lctx, identityID)
		cancel()
		if err != nil {
			r.logger.Warn("linked provider lookup failed", "user_id", identityID, "error", err)
		}
		for _, p := range providers {
			if kind, err := domain.ParseAuthMethodKind(p); err == nil && kind == domain.AuthMethodFederated {
				return kind
			}
		}
	}

	return domain.DefaultAuthMethod
}

// Methods returns the identity's valid methods, best first, without
// duplicates. An empty registry yields the default method.
func (r *Resolver) Methods(ctx context.Context, identityID uuid.UUID) []domain.AuthMethodKind {
	seen := make(map[domain.AuthMethodKind]bool)
	var out []domain.AuthMethodKind
	for _, m := range r.list(ctx, identityID) {
		if !seen[m.Kind] {
			seen[m.Kind] = true
			out = append(out, m.Kind)
		}
	}
	if len(out) == 0 {
		out = append(out, domain.DefaultAuthMethod)
	}
	return out
}

// List returns the identity's registry rows, best first. Unlike Resolve it
// reports lookup errors.
func (r *Resolver) List(ctx context.Context, identityID uuid.UUID) ([]*domain.AuthMethod, error) {
	rows, err := r.registry.ListByUser(ctx, identityID)
	if err != nil {
		return nil, err
	}
	return Order(rows), nil
}

// RecordUse registers a successful authentication with kind.
func (r *Resolver) RecordUse(ctx context.Context, identityID uuid.UUID, kind domain.AuthMethodKind, provider string) error {
	switch kind {
	case domain.AuthMethodPassword:
		provider = ""
	case domain.AuthMethodFederated:
	default:
		return domain.ErrInvalidAuthMethod
	}
	return r.registry.RecordUse(ctx, identityID, kind, provider, r.now().UTC())
}

// SetPrimary marks one method primary and clears the flag on the others.
func (r *Resolver) SetPrimary(ctx context.Context, identityID, methodID uuid.UUID) error {
	return r.registry.SetPrimary(ctx, identityID, methodID)
}

// Remove soft-deletes a method. The last remaining method cannot be removed.
func (r *Resolver) Remove(ctx context.Context, identityID, methodID uuid.UUID) error {
	rows, err := r.registry.ListByUser(ctx, identityID)
	if err != nil {
		return err
	}
	found, live := false, 0
	for _, m := range rows {
		if m.IsDeleted {
			continue
		}
		live++
		if m.ID == methodID {
			found = true
		}
	}
	if !found {
		return domain.ErrAuthMethodNotFound
	}
	if live == 1 {
		return domain.ErrLastAuthMethod
	}
	return r.registry.SoftDelete(ctx, identityID, methodID)
}

func (r *Resolver) list(ctx context.Context, identityID uuid.UUID) []*domain.AuthMethod {
	if r.registry == nil {
		return nil
	}
	lctx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
	defer cancel()
	rows, err := r.registry.ListByUser(lctx, identityID)
	if err != nil {
		r.logger.Warn("auth method lookup failed", "user_id", identityID, "error", err)
		return nil
	}
	return Order(rows)
}

// Order drops deleted and invalid rows and sorts the rest: primary first,
// then most recently used, then oldest.
func Order(rows []*domain.AuthMethod) []*domain.AuthMethod {
	out := make([]*domain.AuthMethod, 0, len(rows))
	for _, m := range rows {
		if m == nil || m.IsDeleted || !m.Kind.Valid() {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.IsPrimary != b.IsPrimary {
			return a.IsPrimary
		}
		switch {
		case a.LastUsedAt != nil && b.LastUsedAt != nil:
			if !a.LastUsedAt.Equal(*b.LastUsedAt) {
				return a.LastUsedAt.After(*b.LastUsedAt)
			}
		case a.LastUsedAt != nil:
			return true
		case b.LastUsedAt != nil:
			return false
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return out
}
