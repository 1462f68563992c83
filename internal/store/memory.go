package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is an in-process Store used by tests. It honors the same filter
// semantics as the Firestore implementation.
type Memory struct {
	mu          sync.Mutex
	collections map[string][]Row

	// FailInsert lists collections whose Insert calls should fail, letting
	// tests force batch-load errors for a single dataset kind.
	FailInsert map[string]bool

	// FailUpsert does the same for Upsert, letting tests force metadata or
	// summary write failures.
	FailUpsert map[string]bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string][]Row),
		FailInsert:  make(map[string]bool),
		FailUpsert:  make(map[string]bool),
	}
}

// Rows returns a snapshot of a collection's contents.
func (m *Memory) Rows(collection string) []Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Row, len(m.collections[collection]))
	copy(out, m.collections[collection])
	return out
}

func (m *Memory) Select(ctx context.Context, collection string, filters ...Filter) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Row
	for _, row := range m.collections[collection] {
		if matches(row, filters) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (m *Memory) Insert(ctx context.Context, collection string, rows []Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailInsert[collection] {
		return fmt.Errorf("insert into %s rejected", collection)
	}
	m.collections[collection] = append(m.collections[collection], rows...)
	return nil
}

func (m *Memory) Upsert(ctx context.Context, collection string, rows []Row, keyField string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailUpsert[collection] {
		return fmt.Errorf("upsert into %s rejected", collection)
	}
next:
	for _, row := range rows {
		key, ok := row[keyField]
		if !ok {
			return fmt.Errorf("upsert into %s: row is missing key field %q", collection, keyField)
		}
		for i, existing := range m.collections[collection] {
			if existing[keyField] == key {
				m.collections[collection][i] = row
				continue next
			}
		}
		m.collections[collection] = append(m.collections[collection], row)
	}
	return nil
}

func (m *Memory) Delete(ctx context.Context, collection string, filters ...Filter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []Row
	deleted := 0
	for _, row := range m.collections[collection] {
		if matches(row, filters) {
			deleted++
		} else {
			kept = append(kept, row)
		}
	}
	m.collections[collection] = kept
	return deleted, nil
}

func (m *Memory) Count(ctx context.Context, collection string, filters ...Filter) (int64, error) {
	rows, _ := m.Select(ctx, collection, filters...)
	return int64(len(rows)), nil
}

func (m *Memory) Average(ctx context.Context, collection, field string, filters ...Filter) (float64, error) {
	rows, _ := m.Select(ctx, collection, filters...)
	var sum float64
	var n int
	for _, row := range rows {
		if v, ok := asFloat(row[field]); ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return sum / float64(n), nil
}

func matches(row Row, filters []Filter) bool {
	for _, f := range filters {
		cmp, ok := compare(row[f.Field], f.Value)
		if !ok {
			return false
		}
		switch f.Op {
		case "==":
			if cmp != 0 {
				return false
			}
		case "<":
			if cmp >= 0 {
				return false
			}
		case "<=":
			if cmp > 0 {
				return false
			}
		case ">":
			if cmp <= 0 {
				return false
			}
		case ">=":
			if cmp < 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func compare(a, b any) (int, bool) {
	if at, aok := a.(time.Time); aok {
		bt, bok := b.(time.Time)
		if !bok {
			return 0, false
		}
		switch {
		case at.Before(bt):
			return -1, true
		case at.After(bt):
			return 1, true
		}
		return 0, true
	}
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		if !bok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if !aok || !bok {
		return 0, false
	}
	switch {
	case as < bs:
		return -1, true
	case as > bs:
		return 1, true
	}
	return 0, true
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
