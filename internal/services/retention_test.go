package services

import (
	"context"
	"testing"
	"time"

	"github.com/visahub/visadataflow/internal/models"
	"github.com/visahub/visadataflow/internal/store"
)

func TestSweepDeletesOnlyExpiredRecords(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	rows := []store.Row{
		{"employer_name": "Old Corp", "created_at": now.AddDate(-11, 0, 0)},
		{"employer_name": "Older Corp", "created_at": now.AddDate(-15, 0, 0)},
		{"employer_name": "Fresh Corp", "created_at": now.AddDate(-1, 0, 0)},
	}
	if err := st.Insert(ctx, models.H1BApprovals.Collection(), rows); err != nil {
		t.Fatalf("seed insert failed: %v", err)
	}

	sweeper := NewRetentionSweeper(st)
	deleted, err := sweeper.Sweep(ctx, models.H1BApprovals, 10, now)
	if err != nil {
		t.Fatalf("Sweep returned error: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted %d records, want 2", deleted)
	}

	remaining := st.Rows(models.H1BApprovals.Collection())
	if len(remaining) != 1 {
		t.Fatalf("remaining rows = %d, want 1", len(remaining))
	}
	if got := remaining[0]["employer_name"]; got != "Fresh Corp" {
		t.Errorf("surviving record = %v, want Fresh Corp", got)
	}
}

func TestSweepRejectsNonPositiveWindow(t *testing.T) {
	sweeper := NewRetentionSweeper(store.NewMemory())
	if _, err := sweeper.Sweep(context.Background(), models.PERM, 0, time.Now()); err == nil {
		t.Fatal("expected error for zero retention window")
	}
}
