package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/splitledger/core/internal/models"
	"github.com/splitledger/core/internal/storage"
)

var _ storage.LockStore = (*Store)(nil)

// TryAcquireLock attempts to grab or steal `name`, returning the fencing
// token on success. It succeeds if the row is absent or its TTL has
// expired; otherwise it returns ok=false without blocking (the caller in
// internal/lock supplies the retry loop and jitter).
func (s *Store) TryAcquireLock(ctx context.Context, name, holder string, ttl time.Duration) (fence int64, ok bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	now := time.Now()
	var currentFence, expiresAt int64
	scanErr := tx.QueryRowContext(ctx, `SELECT fence, expires_at FROM locks WHERE name = ?`, name).Scan(&currentFence, &expiresAt)
	switch {
	case scanErr == sql.ErrNoRows:
		currentFence = 0
	case scanErr != nil:
		return 0, false, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, scanErr)
	default:
		if expiresAt > now.UnixNano() {
			return 0, false, nil // still held by someone else
		}
	}

	fence = currentFence + 1
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO locks (name, holder, fence, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET holder = excluded.holder, fence = excluded.fence, expires_at = excluded.expires_at`,
		name, holder, fence, now.Add(ttl).UnixNano(),
	); err != nil {
		return 0, false, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return fence, true, nil
}

// ExtendLock pushes out expires_at for (name, fence), failing if a newer
// fence has since taken the lock or the lease has been released.
func (s *Store) ExtendLock(ctx context.Context, name string, fence int64, ttl time.Duration) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE locks SET expires_at = ? WHERE name = ? AND fence = ? AND expires_at > 0`,
		time.Now().Add(ttl).UnixNano(), name, fence,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	if n == 0 {
		return models.ErrFenced
	}
	return nil
}

// ReleaseLock marks the row free (expires_at = 0) iff it still carries
// fence, keeping the fence so the next TryAcquireLock issues fence+1.
// Releasing an already-superseded lease is a silent no-op (spec.md §4.4).
func (s *Store) ReleaseLock(ctx context.Context, name string, fence int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE locks SET expires_at = 0 WHERE name = ? AND fence = ?`, name, fence)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}
