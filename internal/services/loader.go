package services

import (
	"context"
	"fmt"

	"github.com/visahub/visadataflow/internal/models"
	"github.com/visahub/visadataflow/internal/store"
)

// BatchLoader replaces a dataset collection's contents with a freshly
// transformed record set, inserting in fixed-size batches. Full-replace keeps
// repeat runs idempotent: the end state depends only on the input set.
type BatchLoader struct {
	store     store.Store
	batchSize int
}

// NewBatchLoader builds a loader with the given batch size (default 500).
func NewBatchLoader(st store.Store, batchSize int) *BatchLoader {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &BatchLoader{store: st, batchSize: batchSize}
}

// Load clears the kind's collection and inserts records batch by batch,
// returning the number loaded. A failed batch aborts the load with a
// BatchInsertError; earlier batches stay committed.
func (l *BatchLoader) Load(ctx context.Context, kind models.DatasetKind, records []models.NormalizedRecord) (int, error) {
	collection := kind.Collection()

	if _, err := l.store.Delete(ctx, collection); err != nil {
		return 0, fmt.Errorf("failed to clear %s before load: %w", collection, err)
	}

	loaded := 0
	for start := 0; start < len(records); start += l.batchSize {
		end := start + l.batchSize
		if end > len(records) {
			end = len(records)
		}

		rows := make([]store.Row, 0, end-start)
		for _, record := range records[start:end] {
			rows = append(rows, store.Row(record))
		}

		if err := l.store.Insert(ctx, collection, rows); err != nil {
			return loaded, &BatchInsertError{Kind: kind, Batch: start/l.batchSize + 1, Err: err}
		}
		loaded += len(rows)
	}

	return loaded, nil
}
