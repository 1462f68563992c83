package services

import (
	"context"
	"testing"

	"github.com/visahub/visadataflow/internal/models"
	"github.com/visahub/visadataflow/internal/store"
)

func TestApprovalRateBounds(t *testing.T) {
	testCases := []struct {
		approvals int64
		denials   int64
		want      float64
	}{
		{0, 0, 0},
		{10, 0, 100},
		{0, 10, 0},
		{1, 1, 50},
		{3, 1, 75},
	}

	for _, tc := range testCases {
		got := ApprovalRate(tc.approvals, tc.denials)
		if got != tc.want {
			t.Errorf("ApprovalRate(%d, %d) = %v, want %v", tc.approvals, tc.denials, got, tc.want)
		}
		if got < 0 || got > 100 {
			t.Errorf("ApprovalRate(%d, %d) = %v, out of [0, 100]", tc.approvals, tc.denials, got)
		}
	}
}

func TestRecordMetadataOverwrites(t *testing.T) {
	st := store.NewMemory()
	updater := NewSummaryUpdater(st)
	ctx := context.Background()

	if err := updater.RecordMetadata(ctx, models.PERM, 40, nil, runTime); err != nil {
		t.Fatalf("RecordMetadata returned error: %v", err)
	}
	failure := &SourceFetchError{Kind: models.PERM, Status: 503}
	if err := updater.RecordMetadata(ctx, models.PERM, 0, failure, runTime.Add(1)); err != nil {
		t.Fatalf("RecordMetadata returned error: %v", err)
	}

	rows := st.Rows(models.MetadataCollection)
	if len(rows) != 1 {
		t.Fatalf("metadata rows = %d, want 1 (upsert by kind)", len(rows))
	}
	if got := rows[0]["status"]; got != "error: "+failure.Error() {
		t.Errorf("status = %v, want error status", got)
	}
	if got := rows[0]["record_count"]; got != 0 {
		t.Errorf("record_count = %v, want 0", got)
	}
}

func TestRecomputeSummary(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	insert := func(collection string, rows []store.Row) {
		if err := st.Insert(ctx, collection, rows); err != nil {
			t.Fatalf("seed insert failed: %v", err)
		}
	}
	insert(models.H1BApprovals.Collection(), []store.Row{{"case_status": "Approved"}, {"case_status": "Approved"}, {"case_status": "Approved"}})
	insert(models.H1BDenials.Collection(), []store.Row{{"case_status": "Denied"}})
	insert(models.PERM.Collection(), []store.Row{
		{"case_status": "Certified"},
		{"case_status": "Certified"},
		{"case_status": "Denied"},
	})
	insert(models.PrevailingWage.Collection(), []store.Row{
		{"wage": float64(100000)},
		{"wage": float64(140000)},
	})

	updater := NewSummaryUpdater(st)
	if err := updater.Recompute(ctx, runTime); err != nil {
		t.Fatalf("Recompute returned error: %v", err)
	}

	rows := st.Rows(models.SummaryCollection)
	if len(rows) != 1 {
		t.Fatalf("summary rows = %d, want 1", len(rows))
	}
	summary := rows[0]
	if got := summary["total_h1b_approvals"]; got != int64(3) {
		t.Errorf("total_h1b_approvals = %v, want 3", got)
	}
	if got := summary["total_h1b_denials"]; got != int64(1) {
		t.Errorf("total_h1b_denials = %v, want 1", got)
	}
	if got := summary["approval_rate"]; got != float64(75) {
		t.Errorf("approval_rate = %v, want 75", got)
	}
	if got := summary["total_green_card_approvals"]; got != int64(2) {
		t.Errorf("total_green_card_approvals = %v, want 2 (certified only)", got)
	}
	if got := summary["avg_prevailing_wage"]; got != float64(120000) {
		t.Errorf("avg_prevailing_wage = %v, want 120000", got)
	}

	// A second recompute overwrites the same row.
	if err := updater.Recompute(ctx, runTime.Add(1)); err != nil {
		t.Fatalf("second Recompute returned error: %v", err)
	}
	if rows := st.Rows(models.SummaryCollection); len(rows) != 1 {
		t.Fatalf("summary rows after recompute = %d, want 1", len(rows))
	}
}
