package services

import (
	"errors"
	"fmt"

	"github.com/visahub/visadataflow/internal/models"
)

// ErrUnknownDataset marks a configuration-level failure: a dataset kind with
// no registered transformer. Unlike per-kind fetch/load errors this fails the
// whole run.
var ErrUnknownDataset = errors.New("unknown dataset kind")

// SourceFetchError is returned when a dataset's source responds non-2xx or
// the fetch times out. It is recorded as that kind's failure; other kinds
// continue independently.
type SourceFetchError struct {
	Kind   models.DatasetKind
	Status int
}

func (e *SourceFetchError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("source fetch for %s failed: request did not complete", e.Kind)
	}
	return fmt.Sprintf("source fetch for %s failed with status %d", e.Kind, e.Status)
}

// ParseError is returned when a response cannot be split into a header and
// rows at all (for example, an empty body). Individual malformed rows are
// tolerated and never produce a ParseError.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "failed to parse source data: " + e.Reason
}

// BatchInsertError is returned when the persistence layer rejects a batch.
// The failed kind's load aborts; batches already committed stay in place.
type BatchInsertError struct {
	Kind  models.DatasetKind
	Batch int
	Err   error
}

func (e *BatchInsertError) Error() string {
	return fmt.Sprintf("batch %d insert for %s failed: %v", e.Batch, e.Kind, e.Err)
}

func (e *BatchInsertError) Unwrap() error {
	return e.Err
}
