package postgres

import (
	"context"
	"time"
)

// TryAcquireLease implements the shedlock-style cross-process lease gating
// every single-leader loop. The lease is granted when no row exists or the
// previous lock_until has passed; lock_until is set to now + atMostFor so a
// crashed holder frees the lease without coordination.
func (s *Store) TryAcquireLease(ctx context.Context, name, owner string, atMostFor time.Duration) (bool, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO scheduler_leases (name, locked_by, locked_at, lock_until)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE
		SET locked_by = $2, locked_at = $3, lock_until = $4
		WHERE scheduler_leases.lock_until <= $3`,
		name, owner, now, now.Add(atMostFor))
	if err != nil {
		return false, storeErr("acquire lease", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseLease shortens the lease to locked_at + atLeastFor. The floor keeps
// fast ticks from flapping leadership between processes inside one interval.
func (s *Store) ReleaseLease(ctx context.Context, name, owner string, atLeastFor time.Duration) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scheduler_leases
		SET lock_until = GREATEST(locked_at + make_interval(secs => $3), now())
		WHERE name = $1 AND locked_by = $2`,
		name, owner, atLeastFor.Seconds())
	return storeErr("release lease", err)
}
