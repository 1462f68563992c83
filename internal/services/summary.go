package services

import (
	"context"
	"fmt"
	"time"

	"github.com/visahub/visadataflow/internal/models"
	"github.com/visahub/visadataflow/internal/store"
)

// SummaryUpdater maintains the per-kind metadata rows and the single derived
// summary row.
type SummaryUpdater struct {
	store store.Store
}

// NewSummaryUpdater wraps a store.
func NewSummaryUpdater(st store.Store) *SummaryUpdater {
	return &SummaryUpdater{store: st}
}

// RecordMetadata upserts the bookkeeping row for one kind after a load
// attempt, whether it succeeded or not.
func (u *SummaryUpdater) RecordMetadata(ctx context.Context, kind models.DatasetKind, count int, loadErr error, runTime time.Time) error {
	status := "success"
	if loadErr != nil {
		status = "error: " + loadErr.Error()
	}
	row := store.Row{
		"dataset":      string(kind),
		"last_updated": runTime,
		"record_count": count,
		"status":       status,
	}
	if err := u.store.Upsert(ctx, models.MetadataCollection, []store.Row{row}, "dataset"); err != nil {
		return fmt.Errorf("failed to record metadata for %s: %w", kind, err)
	}
	return nil
}

// Recompute rebuilds the summary row in full from aggregate queries across
// the freshly loaded collections. Callers must only invoke it when every
// kind in the run loaded successfully; partial data would skew the rates.
func (u *SummaryUpdater) Recompute(ctx context.Context, runTime time.Time) error {
	approvals, err := u.store.Count(ctx, models.H1BApprovals.Collection())
	if err != nil {
		return fmt.Errorf("failed to count approvals: %w", err)
	}
	denials, err := u.store.Count(ctx, models.H1BDenials.Collection())
	if err != nil {
		return fmt.Errorf("failed to count denials: %w", err)
	}
	greenCards, err := u.store.Count(ctx, models.PERM.Collection(),
		store.Filter{Field: models.FieldCaseStatus, Op: "==", Value: "Certified"})
	if err != nil {
		return fmt.Errorf("failed to count green card approvals: %w", err)
	}
	avgWage, err := u.store.Average(ctx, models.PrevailingWage.Collection(), models.FieldWage)
	if err != nil {
		return fmt.Errorf("failed to average prevailing wage: %w", err)
	}

	row := store.Row{
		"id":                         models.SummaryDocID,
		"total_h1b_approvals":        approvals,
		"total_h1b_denials":          denials,
		"approval_rate":              ApprovalRate(approvals, denials),
		"avg_prevailing_wage":        avgWage,
		"total_green_card_approvals": greenCards,
		"updated_at":                 runTime,
	}
	if err := u.store.Upsert(ctx, models.SummaryCollection, []store.Row{row}, "id"); err != nil {
		return fmt.Errorf("failed to upsert summary statistics: %w", err)
	}
	return nil
}

// ApprovalRate returns 100 * approvals / (approvals + denials), or 0 when
// the denominator is 0.
func ApprovalRate(approvals, denials int64) float64 {
	total := approvals + denials
	if total == 0 {
		return 0
	}
	return 100 * float64(approvals) / float64(total)
}
