package source

import (
	"context"
	"fmt"
	"time"
)

// Lease marks s as in progress. It is a compare-and-set on started_at, so
// of two runs racing for the same source exactly one wins; the loser gets
// ErrLeased. A new lease also clears parsed_at so an interrupted re-parse
// stays visible to the sweeper.
func (r *Registry) Lease(ctx context.Context, s *Source) error {
	now := r.now()
	res, err := r.db.Exec(ctx,
		"UPDATE "+table+" SET started_at = ?, parsed_at = NULL, updated_at = ? WHERE id = ? AND started_at IS NULL",
		nanos(now), nanos(now), s.ID)
	if err != nil {
		return fmt.Errorf("lease source %d: %w", s.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLeased
	}
	s.StartedAt = &now
	s.ParsedAt = nil
	s.UpdatedAt = now
	return nil
}

// Complete clears the lease and records the fingerprint the work was done for.
func (r *Registry) Complete(ctx context.Context, s *Source, fingerprint string) error {
	now := r.now()
	_, err := r.db.Exec(ctx,
		"UPDATE "+table+" SET started_at = NULL, parsed_at = ?, fingerprint = ?, updated_at = ? WHERE id = ?",
		nanos(now), nullString(fingerprint), nanos(now), s.ID)
	if err != nil {
		return fmt.Errorf("complete source %d: %w", s.ID, err)
	}
	s.StartedAt = nil
	s.ParsedAt = &now
	s.Fingerprint = fingerprint
	s.UpdatedAt = now
	return nil
}

// Release drops the lease without recording completion.
func (r *Registry) Release(ctx context.Context, s *Source) error {
	if _, err := r.db.Exec(ctx, "UPDATE "+table+" SET started_at = NULL WHERE id = ?", s.ID); err != nil {
		return fmt.Errorf("release source %d: %w", s.ID, err)
	}
	s.StartedAt = nil
	return nil
}

// ReclaimStale clears every lease taken before cutoff whose work never
// completed, and returns how many were cleared.
func (r *Registry) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.Exec(ctx,
		"UPDATE "+table+" SET started_at = NULL WHERE started_at < ? AND parsed_at IS NULL",
		nanos(cutoff))
	if err != nil {
		return 0, fmt.Errorf("reclaim leases: %w", err)
	}
	return res.RowsAffected()
}
