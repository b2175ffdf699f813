// Package memory is an in-process domain.Repository for tests, dry runs and
// local development.
package memory

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/DK-com2/PATHFINDER-WEB/internal/domain"
	"github.com/DK-com2/PATHFINDER-WEB/internal/events"
	"github.com/DK-com2/PATHFINDER-WEB/internal/timeline"
)

var errWriterClosed = errors.New("ingest writer already closed")

// Event is a queued outbox entry.
type Event struct {
	Type    string
	Owner   string
	Payload any
}

// Repository stores ingests and records in memory.
type Repository struct {
	mu      sync.RWMutex
	ingests map[string]domain.Ingest
	records map[string][]domain.StoredRecord
	events  []Event
	nextID  int64

	// FailWrites makes every IngestWriter.Write fail with the given error.
	FailWrites error
}

// NewRepository constructs an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		ingests: make(map[string]domain.Ingest),
		records: make(map[string][]domain.StoredRecord),
	}
}

// BeginIngest implements domain.Repository.
func (r *Repository) BeginIngest(_ context.Context, ingest domain.Ingest) (domain.IngestWriter, error) {
	return &writer{repo: r, ingestID: ingest.ID}, nil
}

// RecordFailure implements domain.Repository.
func (r *Repository) RecordFailure(_ context.Context, ingest domain.Ingest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ingests[ingest.ID] = ingest
	return nil
}

// RequestIngest implements domain.Repository.
func (r *Repository) RequestIngest(_ context.Context, ingest domain.Ingest, job events.IngestRequested) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ingests[ingest.ID] = ingest
	r.events = append(r.events, Event{Type: events.TypeIngestRequested, Owner: ingest.Owner, Payload: job})
	return nil
}

// GetIngest implements domain.Repository.
func (r *Repository) GetIngest(_ context.Context, owner, ingestID string) (*domain.Ingest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ingest, ok := r.ingests[ingestID]
	if !ok || ingest.Owner != owner {
		return nil, nil
	}
	return &ingest, nil
}

// Clear implements domain.Repository.
func (r *Repository) Clear(_ context.Context, owner string, clearedAt time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deleted := int64(len(r.records[owner]))
	delete(r.records, owner)
	r.events = append(r.events, Event{
		Type:    events.TypeTimelineCleared,
		Owner:   owner,
		Payload: events.TimelineCleared{Owner: owner, Deleted: deleted, ClearedAt: clearedAt},
	})
	return deleted, nil
}

// ListRecords implements domain.Repository.
func (r *Repository) ListRecords(_ context.Context, owner string, cursor *domain.Cursor, limit int) ([]domain.StoredRecord, *domain.Cursor, error) {
	r.mu.RLock()
	sorted := slices.Clone(r.records[owner])
	r.mu.RUnlock()

	slices.SortFunc(sorted, func(a, b domain.StoredRecord) int {
		if c := domain.SortTime(b.Record).Compare(domain.SortTime(a.Record)); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	results := make([]domain.StoredRecord, 0, limit)
	for _, rec := range sorted {
		if cursor != nil && !before(rec, *cursor) {
			continue
		}
		results = append(results, rec)
		if len(results) == limit {
			break
		}
	}

	var next *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{At: domain.SortTime(last.Record), ID: last.ID}
	}
	return results, next, nil
}

// before reports whether rec sorts strictly after the cursor position.
func before(rec domain.StoredRecord, c domain.Cursor) bool {
	at := domain.SortTime(rec.Record)
	return at.Before(c.At) || (at.Equal(c.At) && rec.ID < c.ID)
}

// Summarize implements domain.Repository.
func (r *Repository) Summarize(_ context.Context, owner string, topN int) (domain.OwnerSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summary := domain.OwnerSummary{Owner: owner, ByKind: make(map[timeline.Kind]int64)}
	activity := make(map[string]int64)
	visit := make(map[string]int64)
	var bounds timeline.BoundsOf

	for _, rec := range r.records[owner] {
		summary.Total++
		summary.ByKind[rec.Kind]++
		bounds.Add(rec.Record)
		if start := rec.StartTime; start != nil {
			if summary.FirstRecordAt == nil || start.Before(*summary.FirstRecordAt) {
				summary.FirstRecordAt = start
			}
			if summary.LastRecordAt == nil || start.After(*summary.LastRecordAt) {
				summary.LastRecordAt = start
			}
		}
		if rec.ActivityType != nil {
			activity[*rec.ActivityType]++
		}
		if rec.VisitSemanticType != nil {
			visit[*rec.VisitSemanticType]++
		}
	}
	summary.TopActivityTypes = topCounts(activity, topN)
	summary.TopVisitTypes = topCounts(visit, topN)
	if b, ok := bounds.Bound(); ok {
		summary.Bounds = &b
	}
	return summary, nil
}

func topCounts(counts map[string]int64, n int) []domain.TypeCount {
	out := make([]domain.TypeCount, 0, len(counts))
	for t, c := range counts {
		out = append(out, domain.TypeCount{Type: t, Count: c})
	}
	slices.SortFunc(out, func(a, b domain.TypeCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Type, b.Type)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Records returns every stored record of owner in insertion order.
func (r *Repository) Records(owner string) []domain.StoredRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.records[owner])
}

// Events returns the queued outbox entries.
func (r *Repository) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.events)
}

type writer struct {
	repo     *Repository
	ingestID string
	pending  []timeline.Record
	closed   bool
}

func (w *writer) Write(_ context.Context, records []timeline.Record) error {
	if w.closed {
		return errWriterClosed
	}
	if err := w.repo.FailWrites; err != nil {
		return err
	}
	w.pending = append(w.pending, records...)
	return nil
}

func (w *writer) Commit(_ context.Context, ingest domain.Ingest) error {
	if w.closed {
		return errWriterClosed
	}
	w.closed = true

	r := w.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range w.pending {
		r.nextID++
		r.records[ingest.Owner] = append(r.records[ingest.Owner], domain.StoredRecord{ID: r.nextID, IngestID: w.ingestID, Record: rec})
	}
	r.ingests[ingest.ID] = ingest
	r.events = append(r.events, Event{Type: events.TypeTimelineIngested, Owner: ingest.Owner, Payload: ingest.Event()})
	return nil
}

func (w *writer) Rollback(context.Context) error {
	w.closed = true
	w.pending = nil
	return nil
}
