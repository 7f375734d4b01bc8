package lock

import (
	"context"

	"github.com/kamalcharan/contractnest-auth/pkg/domain"
	"github.com/kamalcharan/contractnest-auth/pkg/storage"
)

func stateKey(ref SessionRef) string {
	return stateKeyPrefix + ref.SessionID.String()
}

// load reads the persisted lock record. A storage failure falls back to the
// local copy. A nil record means unlocked.
func (c *Controller) load(ctx context.Context, ref SessionRef) *domain.LockState {
	var rec domain.LockState
	err := storage.GetJSON(ctx, c.store, stateKey(ref), &rec)
	if err == nil {
		return &rec
	}
	if storage.IsNotFound(err) {
		return nil
	}
	c.logger.Warn("lock state read failed, using local state", "session_id", ref.SessionID, "error", err)
	if err := storage.GetJSON(ctx, c.fallback, stateKey(ref), &rec); err != nil {
		return nil
	}
	return &rec
}

// save writes rec to shared storage and the local copy. Shared storage
// failures are logged and the local copy stays authoritative.
func (c *Controller) save(ctx context.Context, ref SessionRef, rec *domain.LockState) {
	rec.UpdatedAt = c.now().UTC()
	_ = storage.SetJSON(ctx, c.fallback, stateKey(ref), rec, rec.Durability)
	if err := storage.SetJSON(ctx, c.store, stateKey(ref), rec, rec.Durability); err != nil {
		c.logger.Warn("lock state write failed", "session_id", ref.SessionID, "status", rec.Status, "error", err)
	}
}

// tombstone writes a signed out record that lives for SignedOutTTL,
// independent of the session's durability tier.
func (c *Controller) tombstone(ctx context.Context, ref SessionRef, rec *domain.LockState) {
	rec.UpdatedAt = c.now().UTC()
	ttl := c.config.SignedOutTTL
	_ = storage.SetTTLJSON(ctx, c.fallback, stateKey(ref), rec, ttl)
	if err := storage.SetTTLJSON(ctx, c.store, stateKey(ref), rec, ttl); err != nil {
		c.logger.Warn("sign out record write failed", "session_id", ref.SessionID, "error", err)
	}
}

func (c *Controller) clear(ctx context.Context, ref SessionRef) {
	_ = c.fallback.Delete(ctx, stateKey(ref))
	if err := c.store.Delete(ctx, stateKey(ref)); err != nil {
		c.logger.Warn("lock state delete failed", "session_id", ref.SessionID, "error", err)
	}
}

func (c *Controller) stateOf(rec *domain.LockState) State {
	if rec == nil {
		return Unlocked{}
	}
	switch Kind(rec.Status) {
	case KindLocked, KindVerifying:
		return Locked{Reason: Reason(rec.Reason), FailedAttempts: rec.FailedAttempts}
	case KindBlocked:
		if rec.BlockedUntil != nil {
			if b, err := NewBlocked(Reason(rec.Reason), rec.FailedAttempts, *rec.BlockedUntil); err == nil {
				return b
			}
		}
		return Locked{Reason: Reason(rec.Reason), FailedAttempts: rec.FailedAttempts}
	case KindSignedOut:
		return SignedOut{}
	case KindUnlocked:
	}
	return Unlocked{}
}

// record builds the persisted form of s, keeping identity fields and any
// method override from prev.
func (c *Controller) record(ref SessionRef, s State, prev *domain.LockState) *domain.LockState {
	rec := &domain.LockState{
		SessionID:  ref.SessionID,
		UserID:     ref.UserID,
		Durability: ref.Durability,
		Status:     string(s.Kind()),
		LockedAt:   c.now().UTC(),
	}
	if rec.Durability == "" {
		rec.Durability = domain.DurabilityEphemeral
	}
	if prev != nil {
		rec.LockedAt = prev.LockedAt
		rec.MethodOverride = prev.MethodOverride
	}
	switch v := s.(type) {
	case Locked:
		rec.Reason = string(v.Reason)
		rec.FailedAttempts = v.FailedAttempts
	case Verifying:
		rec.Status = string(KindLocked)
		rec.Reason = string(v.Reason)
		rec.FailedAttempts = v.FailedAttempts
	case Blocked:
		until := v.Until().UTC()
		rec.Reason = string(v.Reason())
		rec.FailedAttempts = v.FailedAttempts()
		rec.BlockedUntil = &until
	case Unlocked, SignedOut:
	}
	return rec
}
