package models

// DatasetKind identifies one of the visa-data categories the pipeline ingests.
// The kind determines the source URL, the column mapping, and the target
// collection name.
type DatasetKind string

const (
	H1BApprovals   DatasetKind = "h1b_approvals"
	H1BDenials     DatasetKind = "h1b_denials"
	H1BLCA         DatasetKind = "h1b_lca"
	PERM           DatasetKind = "perm"
	PrevailingWage DatasetKind = "prevailing_wage"
)

// AllDatasetKinds returns every kind in the fixed processing order.
func AllDatasetKinds() []DatasetKind {
	return []DatasetKind{H1BApprovals, H1BDenials, H1BLCA, PERM, PrevailingWage}
}

// Collection returns the Firestore collection a kind's records live in.
func (k DatasetKind) Collection() string {
	return "visa_" + string(k)
}

// Valid reports whether k is one of the known dataset kinds.
func (k DatasetKind) Valid() bool {
	switch k {
	case H1BApprovals, H1BDenials, H1BLCA, PERM, PrevailingWage:
		return true
	}
	return false
}

// Provenance tags where a dataset's records came from, so callers can tell a
// live fetch apart from synthesized fallback data.
type Provenance string

const (
	SourceLive  Provenance = "live"
	SourceMock  Provenance = "mock"
	SourceCache Provenance = "cache"
)

// RawRecord is one parsed CSV row, keyed by header column name. Values are
// untyped strings; blank cells are empty strings, never absent keys.
type RawRecord map[string]string

// NormalizedRecord is a transformed row ready for loading. Field names follow
// the normalized schema for the record's dataset kind. Numeric fields are
// float64 or nil, never NaN and never a numeric string; created_at and
// updated_at are always present and identical across a run's batch.
type NormalizedRecord map[string]any

// Normalized field names shared across dataset kinds.
const (
	FieldEmployerName     = "employer_name"
	FieldJobTitle         = "job_title"
	FieldWorksiteLocation = "worksite_location"
	FieldFiscalYear       = "fiscal_year"
	FieldWage             = "wage"
	FieldCaseStatus       = "case_status"
	FieldCaseNumber       = "case_number"
	FieldDecisionDate     = "decision_date"
	FieldSOCTitle         = "soc_title"
	FieldSource           = "source"
	FieldCreatedAt        = "created_at"
	FieldUpdatedAt        = "updated_at"
)

// MetadataCollection holds one bookkeeping row per kind: dataset,
// last_updated, record_count and status, overwritten on every run.
const MetadataCollection = "visa_dataset_metadata"

// SummaryCollection holds the single SummaryStatistics row.
const SummaryCollection = "visa_summary_stats"

// SummaryDocID is the fixed key of the summary row.
const SummaryDocID = "current"

// LogCollection receives best-effort pipeline log rows.
const LogCollection = "ingest_logs"
