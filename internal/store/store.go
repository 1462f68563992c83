// Package store wraps the hosted persistence backend behind a small generic
// interface so the ingestion services never touch Firestore types directly.
package store

import "context"

// Row is one persisted record, keyed by field name.
type Row = map[string]any

// Filter is a single field predicate. Op is one of "==", "<", "<=", ">", ">=".
type Filter struct {
	Field string
	Op    string
	Value any
}

// Store is the persistence collaborator consumed by every pipeline component.
// Implementations do not provide transactions spanning collections; callers
// must not assume cross-collection atomicity.
type Store interface {
	// Select returns all rows of a collection matching every filter.
	Select(ctx context.Context, collection string, filters ...Filter) ([]Row, error)

	// Insert appends rows with backend-generated IDs.
	Insert(ctx context.Context, collection string, rows []Row) error

	// Upsert writes rows keyed by the given field: a row whose key value
	// matches an existing row overwrites it, otherwise it is created.
	Upsert(ctx context.Context, collection string, rows []Row, keyField string) error

	// Delete removes all rows matching every filter and reports how many
	// were removed. No filters means the whole collection.
	Delete(ctx context.Context, collection string, filters ...Filter) (int, error)

	// Count returns the number of rows matching every filter.
	Count(ctx context.Context, collection string, filters ...Filter) (int64, error)

	// Average returns the mean of a numeric field across matching rows,
	// or 0 when no rows match.
	Average(ctx context.Context, collection, field string, filters ...Filter) (float64, error)
}
