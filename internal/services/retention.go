package services

import (
	"context"
	"fmt"
	"time"

	"github.com/visahub/visadataflow/internal/models"
	"github.com/visahub/visadataflow/internal/store"
)

// RetentionSweeper deletes dataset records older than the retention window.
// Sweeps are best-effort cleanup after a successful run, never transactional
// with the load that preceded them.
type RetentionSweeper struct {
	store store.Store
}

// NewRetentionSweeper wraps a store.
func NewRetentionSweeper(st store.Store) *RetentionSweeper {
	return &RetentionSweeper{store: st}
}

// Sweep removes one kind's records created before now minus years, returning
// how many were deleted.
func (s *RetentionSweeper) Sweep(ctx context.Context, kind models.DatasetKind, years int, now time.Time) (int, error) {
	if years <= 0 {
		return 0, fmt.Errorf("retention window must be positive, got %d years", years)
	}
	cutoff := now.AddDate(-years, 0, 0)
	deleted, err := s.store.Delete(ctx, kind.Collection(),
		store.Filter{Field: models.FieldCreatedAt, Op: "<", Value: cutoff})
	if err != nil {
		return deleted, fmt.Errorf("retention sweep for %s failed: %w", kind, err)
	}
	return deleted, nil
}
