package store

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/api/iterator"
)

// Firestore implements Store on top of a Firestore database. Batched writes
// go through a BulkWriter; counts and averages use server-side aggregation
// queries so summary computation never pages whole collections down.
type Firestore struct {
	client *firestore.Client
}

// NewFirestore wraps an existing Firestore client.
func NewFirestore(client *firestore.Client) *Firestore {
	return &Firestore{client: client}
}

func (s *Firestore) query(collection string, filters []Filter) firestore.Query {
	q := s.client.Collection(collection).Query
	for _, f := range filters {
		q = q.Where(f.Field, f.Op, f.Value)
	}
	return q
}

// Select returns all rows of a collection matching every filter.
func (s *Firestore) Select(ctx context.Context, collection string, filters ...Filter) ([]Row, error) {
	docs, err := s.query(collection, filters).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	rows := make([]Row, 0, len(docs))
	for _, doc := range docs {
		rows = append(rows, doc.Data())
	}
	return rows, nil
}

// Insert appends rows with generated document IDs.
func (s *Firestore) Insert(ctx context.Context, collection string, rows []Row) error {
	bw := s.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(rows))
	col := s.client.Collection(collection)

	for _, row := range rows {
		job, err := bw.Create(col.NewDoc(), row)
		if err != nil {
			bw.End()
			return fmt.Errorf("failed to enqueue write to %s: %w", collection, err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return fmt.Errorf("failed to insert into %s: %w", collection, err)
		}
	}
	return nil
}

// Upsert writes rows keyed by keyField, overwriting rows with the same key.
func (s *Firestore) Upsert(ctx context.Context, collection string, rows []Row, keyField string) error {
	bw := s.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(rows))
	col := s.client.Collection(collection)

	for _, row := range rows {
		key, ok := row[keyField]
		if !ok {
			bw.End()
			return fmt.Errorf("upsert into %s: row is missing key field %q", collection, keyField)
		}
		job, err := bw.Set(col.Doc(docID(key)), row)
		if err != nil {
			bw.End()
			return fmt.Errorf("failed to enqueue upsert to %s: %w", collection, err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return fmt.Errorf("failed to upsert into %s: %w", collection, err)
		}
	}
	return nil
}

// Delete removes all rows matching every filter and reports how many went.
func (s *Firestore) Delete(ctx context.Context, collection string, filters ...Filter) (int, error) {
	iter := s.query(collection, filters).Documents(ctx)
	defer iter.Stop()

	bw := s.client.BulkWriter(ctx)
	var jobs []*firestore.BulkWriterJob
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			bw.End()
			return 0, fmt.Errorf("failed to iterate %s for delete: %w", collection, err)
		}
		job, err := bw.Delete(doc.Ref)
		if err != nil {
			bw.End()
			return 0, fmt.Errorf("failed to enqueue delete in %s: %w", collection, err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	deleted := 0
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return deleted, fmt.Errorf("failed to delete from %s: %w", collection, err)
		}
		deleted++
	}
	return deleted, nil
}

// Count returns the number of matching rows via an aggregation query.
func (s *Firestore) Count(ctx context.Context, collection string, filters ...Filter) (int64, error) {
	q := s.query(collection, filters)
	res, err := q.NewAggregationQuery().WithCount("all").Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", collection, err)
	}
	value, ok := res["all"].(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("unexpected count aggregation result for %s: %v", collection, res["all"])
	}
	return value.GetIntegerValue(), nil
}

// Average returns the mean of a numeric field via an aggregation query.
// Firestore reports a null average for an empty match set; that comes back
// as 0 here.
func (s *Firestore) Average(ctx context.Context, collection, field string, filters ...Filter) (float64, error) {
	q := s.query(collection, filters)
	res, err := q.NewAggregationQuery().WithAvg(field, "avg").Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to average %s.%s: %w", collection, field, err)
	}
	value, ok := res["avg"].(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("unexpected avg aggregation result for %s: %v", collection, res["avg"])
	}
	return value.GetDoubleValue(), nil
}

// docID derives a Firestore-safe document ID from an upsert key value.
func docID(key any) string {
	id := fmt.Sprintf("%v", key)
	return strings.ReplaceAll(id, "/", "_")
}
