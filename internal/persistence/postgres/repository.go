package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/ewkb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/DK-com2/PATHFINDER-WEB/internal/domain"
	"github.com/DK-com2/PATHFINDER-WEB/internal/events"
	"github.com/DK-com2/PATHFINDER-WEB/internal/timeline"
)

const recordTable = "timeline_data"

// Repository provides Postgres-backed persistence for timeline records,
// ingests and outbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// begin opens a transaction scoped to owner for row level security.
func (r *Repository) begin(ctx context.Context, owner string) (pgx.Tx, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, "SELECT set_config('app.owner', $1, true)", owner); err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	return tx, nil
}

func (r *Repository) inTx(ctx context.Context, owner string, fn func(pgx.Tx) error) error {
	tx, err := r.begin(ctx, owner)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// BeginIngest implements domain.Repository. The ingest row is written in the
// same transaction as the records.
func (r *Repository) BeginIngest(ctx context.Context, ingest domain.Ingest) (domain.IngestWriter, error) {
	id, err := uuid.Parse(ingest.ID)
	if err != nil {
		return nil, fmt.Errorf("ingest id: %w", err)
	}
	tx, err := r.begin(ctx, ingest.Owner)
	if err != nil {
		return nil, err
	}
	if err := upsertIngest(ctx, tx, ingest); err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	return &ingestWriter{tx: tx, ingestID: id, columns: append(timeline.Columns(), "ingest_id")}, nil
}

// RecordFailure implements domain.Repository.
func (r *Repository) RecordFailure(ctx context.Context, ingest domain.Ingest) error {
	return r.inTx(ctx, ingest.Owner, func(tx pgx.Tx) error {
		return upsertIngest(ctx, tx, ingest)
	})
}

// RequestIngest implements domain.Repository.
func (r *Repository) RequestIngest(ctx context.Context, ingest domain.Ingest, job events.IngestRequested) error {
	return r.inTx(ctx, ingest.Owner, func(tx pgx.Tx) error {
		if err := upsertIngest(ctx, tx, ingest); err != nil {
			return err
		}
		return insertOutbox(ctx, tx, outboxEntry{
			owner:         ingest.Owner,
			aggregateType: "ingest",
			aggregateID:   ingest.ID,
			eventType:     events.TypeIngestRequested,
			payload:       job,
		})
	})
}

const ingestColumns = `ingest_id::text, owner, filename, mode, dialect, state, processed, accepted, rejected, warnings,
        first_record_at, last_record_at, ST_AsBinary(bounds), reason, created_at, updated_at`

// GetIngest implements domain.Repository.
func (r *Repository) GetIngest(ctx context.Context, owner, ingestID string) (*domain.Ingest, error) {
	id, err := uuid.Parse(ingestID)
	if err != nil {
		return nil, nil
	}

	var (
		ingest domain.Ingest
		found  bool
	)
	err = r.inTx(ctx, owner, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+ingestColumns+` FROM ingests WHERE owner=$1 AND ingest_id=$2`, owner, id)
		bounds := wkb.Scanner(nil)
		if err := row.Scan(&ingest.ID, &ingest.Owner, &ingest.Filename, &ingest.Mode, &ingest.Dialect, &ingest.State,
			&ingest.Processed, &ingest.Accepted, &ingest.Rejected, &ingest.Warnings,
			&ingest.FirstRecordAt, &ingest.LastRecordAt, bounds, &ingest.Reason, &ingest.CreatedAt, &ingest.UpdatedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return err
		}
		found = true
		if bounds.Valid {
			b := bounds.Geometry.Bound()
			ingest.Bounds = &b
		}
		return nil
	})
	if err != nil || !found {
		return nil, err
	}
	return &ingest, nil
}

// Clear implements domain.Repository.
func (r *Repository) Clear(ctx context.Context, owner string, clearedAt time.Time) (int64, error) {
	var deleted int64
	err := r.inTx(ctx, owner, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM timeline_data WHERE owner=$1`, owner)
		if err != nil {
			return err
		}
		deleted = tag.RowsAffected()
		return insertOutbox(ctx, tx, outboxEntry{
			owner:         owner,
			aggregateType: "timeline",
			aggregateID:   owner,
			eventType:     events.TypeTimelineCleared,
			payload:       events.TimelineCleared{Owner: owner, Deleted: deleted, ClearedAt: clearedAt},
			dedupeKey:     fmt.Sprintf("%s:%s:%d", owner, events.TypeTimelineCleared, clearedAt.UnixNano()),
		})
	})
	return deleted, err
}

const recordColumns = `id, ingest_id::text, kind, start_time, end_time, point_time, latitude, longitude,
        visit_probability, visit_place_id, visit_semantic_type, activity_distance_meters, activity_type, activity_probability,
        owner, source_format, track_name, elevation, speed, point_sequence, sort_time`

// ListRecords implements domain.Repository. Records are ordered by sort
// time then id, both descending.
func (r *Repository) ListRecords(ctx context.Context, owner string, cursor *domain.Cursor, limit int) ([]domain.StoredRecord, *domain.Cursor, error) {
	args := []any{owner, limit}
	query := `SELECT ` + recordColumns + ` FROM timeline_data WHERE owner=$1`
	if cursor != nil {
		query += ` AND (sort_time, id) < ($3, $4)`
		args = append(args, cursor.At, cursor.ID)
	}
	query += ` ORDER BY sort_time DESC, id DESC LIMIT $2`

	results := make([]domain.StoredRecord, 0, limit)
	var lastSort time.Time
	err := r.inTx(ctx, owner, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				rec  domain.StoredRecord
				kind string
			)
			if err := rows.Scan(&rec.ID, &rec.IngestID, &kind, &rec.StartTime, &rec.EndTime, &rec.PointTime, &rec.Latitude, &rec.Longitude,
				&rec.VisitProbability, &rec.VisitPlaceID, &rec.VisitSemanticType, &rec.ActivityDistanceMeters, &rec.ActivityType, &rec.ActivityProbability,
				&rec.Owner, &rec.SourceFormat, &rec.TrackName, &rec.Elevation, &rec.Speed, &rec.PointSequence, &lastSort); err != nil {
				return err
			}
			rec.Kind = timeline.Kind(kind)
			results = append(results, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, nil, err
	}

	var next *domain.Cursor
	if len(results) == limit {
		next = &domain.Cursor{At: lastSort, ID: results[len(results)-1].ID}
	}
	return results, next, nil
}

// Summarize implements domain.Repository.
func (r *Repository) Summarize(ctx context.Context, owner string, topN int) (domain.OwnerSummary, error) {
	summary := domain.OwnerSummary{Owner: owner, ByKind: make(map[timeline.Kind]int64)}
	err := r.inTx(ctx, owner, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT kind, COUNT(*) FROM timeline_data WHERE owner=$1 GROUP BY kind`, owner)
		if err != nil {
			return err
		}
		for rows.Next() {
			var (
				kind  string
				count int64
			)
			if err := rows.Scan(&kind, &count); err != nil {
				rows.Close()
				return err
			}
			summary.ByKind[timeline.Kind(kind)] = count
			summary.Total += count
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		if err := tx.QueryRow(ctx,
			`SELECT MIN(start_time), MAX(start_time) FROM timeline_data WHERE owner=$1 AND start_time IS NOT NULL`, owner,
		).Scan(&summary.FirstRecordAt, &summary.LastRecordAt); err != nil {
			return err
		}

		if summary.TopActivityTypes, err = topTypes(ctx, tx, "activity_type", owner, topN); err != nil {
			return err
		}
		if summary.TopVisitTypes, err = topTypes(ctx, tx, "visit_semantic_type", owner, topN); err != nil {
			return err
		}

		extent := wkb.Scanner(nil)
		if err := tx.QueryRow(ctx,
			`SELECT ST_AsBinary(ST_Extent(geom)::geometry) FROM timeline_data WHERE owner=$1`, owner,
		).Scan(extent); err != nil {
			return err
		}
		if extent.Valid {
			b := extent.Geometry.Bound()
			summary.Bounds = &b
		}
		return nil
	})
	return summary, err
}

// topTypes counts the most frequent values of column. column is always one
// of the fixed names above.
func topTypes(ctx context.Context, tx pgx.Tx, column, owner string, n int) ([]domain.TypeCount, error) {
	rows, err := tx.Query(ctx, fmt.Sprintf(
		`SELECT %[1]s, COUNT(*) AS n FROM timeline_data WHERE owner=$1 AND %[1]s IS NOT NULL
         GROUP BY %[1]s ORDER BY n DESC, %[1]s LIMIT $2`, column), owner, n)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.TypeCount, error) {
		var tc domain.TypeCount
		err := row.Scan(&tc.Type, &tc.Count)
		return tc, err
	})
}

func upsertIngest(ctx context.Context, tx pgx.Tx, ingest domain.Ingest) error {
	id, err := uuid.Parse(ingest.ID)
	if err != nil {
		return fmt.Errorf("ingest id: %w", err)
	}

	const stmt = `INSERT INTO ingests (ingest_id, owner, filename, mode, dialect, state, processed, accepted, rejected, warnings,
            first_record_at, last_record_at, bounds, reason, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12, ST_GeomFromEWKB($13::bytea), $14,$15,$16)
        ON CONFLICT (ingest_id) DO UPDATE SET
            filename = EXCLUDED.filename,
            mode = EXCLUDED.mode,
            dialect = EXCLUDED.dialect,
            state = EXCLUDED.state,
            processed = EXCLUDED.processed,
            accepted = EXCLUDED.accepted,
            rejected = EXCLUDED.rejected,
            warnings = EXCLUDED.warnings,
            first_record_at = EXCLUDED.first_record_at,
            last_record_at = EXCLUDED.last_record_at,
            bounds = EXCLUDED.bounds,
            reason = EXCLUDED.reason,
            updated_at = EXCLUDED.updated_at`

	_, err = tx.Exec(ctx, stmt,
		id,
		ingest.Owner,
		ingest.Filename,
		string(ingest.Mode),
		ingest.Dialect,
		string(ingest.State),
		ingest.Processed,
		ingest.Accepted,
		ingest.Rejected,
		ingest.Warnings,
		ingest.FirstRecordAt,
		ingest.LastRecordAt,
		boundsValue(ingest.Bounds),
		ingest.Reason,
		ingest.CreatedAt,
		ingest.UpdatedAt,
	)
	return err
}

func boundsValue(b *orb.Bound) []byte {
	if b == nil {
		return nil
	}
	data, err := ewkb.Marshal(b.ToPolygon(), timeline.SRID)
	if err != nil {
		return nil
	}
	return data
}

type ingestWriter struct {
	tx       pgx.Tx
	ingestID uuid.UUID
	columns  []string
}

// Write bulk loads records with COPY.
func (w *ingestWriter) Write(ctx context.Context, records []timeline.Record) error {
	_, err := w.tx.CopyFrom(ctx, pgx.Identifier{recordTable}, w.columns,
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			return append(records[i].Values(), w.ingestID), nil
		}),
	)
	return err
}

func (w *ingestWriter) Commit(ctx context.Context, ingest domain.Ingest) error {
	if err := upsertIngest(ctx, w.tx, ingest); err != nil {
		_ = w.tx.Rollback(ctx)
		return err
	}
	if err := insertOutbox(ctx, w.tx, outboxEntry{
		owner:         ingest.Owner,
		aggregateType: "ingest",
		aggregateID:   ingest.ID,
		eventType:     events.TypeTimelineIngested,
		payload:       ingest.Event(),
	}); err != nil {
		_ = w.tx.Rollback(ctx)
		return err
	}
	return w.tx.Commit(ctx)
}

func (w *ingestWriter) Rollback(ctx context.Context) error {
	if err := w.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

type outboxEntry struct {
	owner         string
	aggregateType string
	aggregateID   string
	eventType     string
	payload       any
	dedupeKey     string
}

func insertOutbox(ctx context.Context, tx pgx.Tx, entry outboxEntry) error {
	body, err := json.Marshal(entry.payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[entry.eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", entry.eventType)
	}
	dedupeKey := entry.dedupeKey
	if dedupeKey == "" {
		dedupeKey = fmt.Sprintf("%s:%s", entry.aggregateID, entry.eventType)
	}

	const stmt = `INSERT INTO outbox (owner, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = tx.Exec(ctx, stmt,
		entry.owner,
		entry.aggregateType,
		entry.aggregateID,
		entry.eventType,
		meta.Topic,
		meta.Topic+"-value",
		entry.owner,
		body,
		dedupeKey,
	)
	return err
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic string
}

// Topics used by the service.
const (
	TopicIngestRequests = "timeline_ingest_requests"
	TopicTimelineEvents = "timeline_events"
)

var eventCatalog = map[string]EventMetadata{
	events.TypeIngestRequested:  {Topic: TopicIngestRequests},
	events.TypeTimelineIngested: {Topic: TopicTimelineEvents},
	events.TypeTimelineCleared:  {Topic: TopicTimelineEvents},
}
