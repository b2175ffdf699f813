// Package domain defines the business logic for the timeline ingest service.
package domain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/DK-com2/PATHFINDER-WEB/internal/events"
	"github.com/DK-com2/PATHFINDER-WEB/internal/logging"
	"github.com/DK-com2/PATHFINDER-WEB/internal/observability"
	"github.com/DK-com2/PATHFINDER-WEB/internal/timeline"
)

var (
	// ErrOwnerRequired is returned when an operation has no owner id.
	ErrOwnerRequired = errors.New("owner is required")
	// ErrUnsupportedFile is returned for file names without an accepted extension.
	ErrUnsupportedFile = errors.New("unsupported file type")
	// ErrInvalidMode is returned for unknown read modes.
	ErrInvalidMode = errors.New("invalid ingest mode")
	// ErrSourceTooLarge is returned when an export exceeds the upload limit.
	ErrSourceTooLarge = errors.New("timeline export exceeds upload limit")
	// ErrNoValidRecords is returned when nothing in an export passed validation.
	ErrNoValidRecords = errors.New("no valid records in timeline export")
	// ErrIngestNotFound is returned when an ingest cannot be located.
	ErrIngestNotFound = errors.New("ingest not found")
)

const (
	DefaultBatchSize      = 1000
	DefaultMaxUploadBytes = 100 << 20
	DefaultListLimit      = 100
	MaxListLimit          = 1000
	SummaryTopN           = 10
)

// Repository captures persistence operations.
type Repository interface {
	// BeginIngest opens the transaction records are loaded in.
	BeginIngest(ctx context.Context, ingest Ingest) (IngestWriter, error)
	// RecordFailure stores a failed ingest outside any load transaction.
	RecordFailure(ctx context.Context, ingest Ingest) error
	// RequestIngest stores a pending ingest and queues its job event.
	RequestIngest(ctx context.Context, ingest Ingest, job events.IngestRequested) error
	GetIngest(ctx context.Context, owner, ingestID string) (*Ingest, error)
	// Clear deletes an owner's records and queues a cleared event.
	Clear(ctx context.Context, owner string, clearedAt time.Time) (int64, error)
	ListRecords(ctx context.Context, owner string, cursor *Cursor, limit int) ([]StoredRecord, *Cursor, error)
	Summarize(ctx context.Context, owner string, topN int) (OwnerSummary, error)
}

// IngestWriter loads records for one ingest. Nothing is visible until Commit.
type IngestWriter interface {
	Write(ctx context.Context, records []timeline.Record) error
	// Commit finalises the ingest row, queues the ingested event and commits.
	Commit(ctx context.Context, ingest Ingest) error
	Rollback(ctx context.Context) error
}

// CacheInvalidator drops cached views of an owner's data.
type CacheInvalidator interface {
	InvalidateOwner(ctx context.Context, owner string) error
}

// PositionStore keeps each owner's latest known position.
type PositionStore interface {
	SetLastPosition(ctx context.Context, owner string, pos Position) error
	ClearLastPosition(ctx context.Context, owner string) error
}

// Option configures optional behaviour for the Service.
type Option func(*Service)

// WithParser overrides the timeline parser.
func WithParser(p *timeline.Parser) Option {
	return func(s *Service) {
		if p != nil {
			s.parser = p
		}
	}
}

func WithInvalidator(inv CacheInvalidator) Option {
	return func(s *Service) { s.invalidator = inv }
}

func WithPositions(ps PositionStore) Option {
	return func(s *Service) { s.positions = ps }
}

// WithLogger overrides the logger used to report side-effect failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func WithMaxUploadBytes(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// WithDefaultMode sets the mode used when an input does not name one.
func WithDefaultMode(m Mode) Option {
	return func(s *Service) {
		if m != "" {
			s.mode = m
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service orchestrates timeline workflows.
type Service struct {
	repo        Repository
	parser      *timeline.Parser
	invalidator CacheInvalidator
	positions   PositionStore
	logger      zerolog.Logger
	batchSize   int
	maxBytes    int64
	mode        Mode
	now         func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		logger:    logging.Component("ingest"),
		batchSize: DefaultBatchSize,
		maxBytes:  DefaultMaxUploadBytes,
		mode:      ModeStream,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.parser == nil {
		s.parser = timeline.NewParser()
	}
	return s
}

// IngestInput captures one export to load.
type IngestInput struct {
	// IngestID reuses an id issued by RequestIngest. Empty means a new id.
	IngestID string
	Owner    string
	Filename string
	Source   io.Reader
	Mode     Mode
}

// IngestResult reports what an ingest did.
type IngestResult struct {
	Ingest   Ingest
	Summary  timeline.Summary
	Batches  int
	Duration time.Duration
}

// Ingest parses an export and loads its valid records for the owner in a
// single transaction. On failure the returned result still carries the
// parse summary.
func (s *Service) Ingest(ctx context.Context, in IngestInput) (*IngestResult, error) {
	if strings.TrimSpace(in.Owner) == "" {
		return nil, ErrOwnerRequired
	}
	if !timeline.AcceptsExtension(in.Filename) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, in.Filename)
	}
	mode := in.Mode
	if mode == "" {
		mode = s.mode
	}
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}
	if in.Source == nil {
		return nil, errors.New("ingest source is nil")
	}

	started := s.now()
	ingest := Ingest{
		ID:        in.IngestID,
		Owner:     in.Owner,
		Filename:  in.Filename,
		Mode:      mode,
		State:     IngestStatePending,
		CreatedAt: started,
		UpdatedAt: started,
	}
	if ingest.ID == "" {
		ingest.ID = uuid.NewString()
	}
	logger := s.logger.With().Str("owner", ingest.Owner).Str("ingest_id", ingest.ID).Logger()

	writer, err := s.repo.BeginIngest(ctx, ingest)
	if err != nil {
		return nil, fmt.Errorf("begin ingest: %w", err)
	}

	src := &limitedReader{r: in.Source, remaining: s.maxBytes}
	load := &loader{writer: writer, size: s.batchSize}
	summary, dialect, err := s.parse(ctx, mode, src, in.Owner, load.add)
	if err == nil {
		err = load.flush(ctx)
	}
	if src.exceeded {
		err = ErrSourceTooLarge
	}
	if err == nil && load.accepted == 0 {
		err = ErrNoValidRecords
	}

	ingest.Dialect = dialect.String()
	ingest.Processed = summary.Accepted + summary.Rejected
	ingest.Accepted = load.accepted
	ingest.Rejected = summary.Rejected
	ingest.Warnings = summary.WarningCount()
	ingest.FirstRecordAt, ingest.LastRecordAt = load.first, load.last
	if b, ok := load.bounds.Bound(); ok {
		ingest.Bounds = &b
	}
	ingest.UpdatedAt = s.now()
	result := &IngestResult{Ingest: ingest, Summary: summary, Batches: load.batches}
	observability.RecordParse(ingest.Dialect, summary.Accepted, summary.Rejected, summary.WarningCount())

	if err == nil {
		ingest.State = IngestStateLoaded
		if err = writer.Commit(ctx, ingest); err != nil {
			err = fmt.Errorf("commit ingest: %w", err)
		}
	} else if rbErr := writer.Rollback(ctx); rbErr != nil {
		logger.Warn().Err(rbErr).Msg("rollback failed")
	}
	result.Duration = s.now().Sub(started)

	if err != nil {
		ingest.State = IngestStateFailed
		ingest.Reason = err.Error()
		result.Ingest = ingest
		if recErr := s.repo.RecordFailure(context.WithoutCancel(ctx), ingest); recErr != nil {
			logger.Error().Err(recErr).Msg("record ingest failure")
		}
		observability.RecordIngest(string(mode), false, result.Duration)
		logger.Warn().Err(err).Int("accepted", summary.Accepted).Int("rejected", summary.Rejected).Msg("timeline ingest failed")
		return result, err
	}

	result.Ingest = ingest
	observability.RecordIngest(string(mode), true, result.Duration)
	observability.RecordIngestCommitted(ingest.UpdatedAt)
	logger.Info().
		Str("dialect", ingest.Dialect).
		Int("accepted", ingest.Accepted).
		Int("rejected", ingest.Rejected).
		Int("warnings", ingest.Warnings).
		Int("batches", load.batches).
		Dur("duration", result.Duration).
		Msg("timeline ingest loaded")

	s.invalidate(ctx, ingest.Owner)
	if load.latest != nil {
		if err := s.positionsSet(ctx, ingest.Owner, *load.latest); err != nil {
			logger.Warn().Err(err).Msg("update last position")
		}
	}
	return result, nil
}

func (s *Service) parse(ctx context.Context, mode Mode, src io.Reader, owner string, add func(context.Context, timeline.Record) error) (timeline.Summary, timeline.Dialect, error) {
	if mode == ModeBuffered {
		data, err := io.ReadAll(src)
		if err != nil {
			return timeline.Summary{}, timeline.DialectUnknown, err
		}
		dialect, _ := timeline.DetectBytes(data)
		records, summary, err := s.parser.Parse(data, owner)
		if err != nil {
			return summary, dialect, err
		}
		for _, r := range records {
			if err := add(ctx, r); err != nil {
				return summary, dialect, err
			}
		}
		return summary, dialect, nil
	}

	st := s.parser.NewStream(src, owner)
	for r, err := range st.Records() {
		if err != nil {
			return st.Summary(), st.Dialect(), err
		}
		if err := add(ctx, r); err != nil {
			return st.Summary(), st.Dialect(), err
		}
	}
	return st.Summary(), st.Dialect(), nil
}

// IngestRequest describes an export already written to shared storage.
type IngestRequest struct {
	Owner    string
	Path     string
	Filename string
	Mode     Mode
}

// RequestIngest records a pending ingest and queues a job for a worker.
func (s *Service) RequestIngest(ctx context.Context, req IngestRequest) (*Ingest, error) {
	if strings.TrimSpace(req.Owner) == "" {
		return nil, ErrOwnerRequired
	}
	if req.Filename == "" {
		req.Filename = req.Path
	}
	if !timeline.AcceptsExtension(req.Filename) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, req.Filename)
	}
	if _, err := ParseMode(string(req.Mode)); err != nil {
		return nil, err
	}
	if req.Mode == "" {
		req.Mode = s.mode
	}

	now := s.now()
	ingest := Ingest{
		ID:        uuid.NewString(),
		Owner:     req.Owner,
		Filename:  req.Filename,
		Mode:      req.Mode,
		State:     IngestStatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	job := events.IngestRequested{
		IngestID:    ingest.ID,
		Owner:       req.Owner,
		Path:        req.Path,
		Filename:    req.Filename,
		Mode:        string(req.Mode),
		RequestedAt: now,
	}
	if err := s.repo.RequestIngest(ctx, ingest, job); err != nil {
		return nil, err
	}
	return &ingest, nil
}

// GetIngest fetches an ingest by id.
func (s *Service) GetIngest(ctx context.Context, owner, ingestID string) (*Ingest, error) {
	ingest, err := s.repo.GetIngest(ctx, owner, ingestID)
	if err != nil {
		return nil, err
	}
	if ingest == nil {
		return nil, ErrIngestNotFound
	}
	return ingest, nil
}

// Clear deletes every record of owner and returns how many were removed.
func (s *Service) Clear(ctx context.Context, owner string) (int64, error) {
	if strings.TrimSpace(owner) == "" {
		return 0, ErrOwnerRequired
	}
	deleted, err := s.repo.Clear(ctx, owner, s.now())
	if err != nil {
		return 0, err
	}
	s.logger.Info().Str("owner", owner).Int64("deleted", deleted).Msg("timeline cleared")

	s.invalidate(ctx, owner)
	if s.positions != nil {
		if err := s.positions.ClearLastPosition(ctx, owner); err != nil {
			s.logger.Warn().Err(err).Str("owner", owner).Msg("clear last position")
		}
	}
	return deleted, nil
}

// ListRecords pages through an owner's records, newest first.
func (s *Service) ListRecords(ctx context.Context, owner string, cursor *Cursor, limit int) ([]StoredRecord, *Cursor, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, nil, ErrOwnerRequired
	}
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	return s.repo.ListRecords(ctx, owner, cursor, limit)
}

// OwnerSummary aggregates an owner's stored records.
func (s *Service) OwnerSummary(ctx context.Context, owner string) (OwnerSummary, error) {
	if strings.TrimSpace(owner) == "" {
		return OwnerSummary{}, ErrOwnerRequired
	}
	return s.repo.Summarize(ctx, owner, SummaryTopN)
}

// SupportedFormats lists the accepted upload formats.
func (s *Service) SupportedFormats() []timeline.Format {
	return timeline.SupportedFormats()
}

func (s *Service) invalidate(ctx context.Context, owner string) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.InvalidateOwner(ctx, owner); err != nil {
		s.logger.Warn().Err(err).Str("owner", owner).Msg("cache invalidation failed")
	}
}

func (s *Service) positionsSet(ctx context.Context, owner string, pos Position) error {
	if s.positions == nil {
		return nil
	}
	return s.positions.SetLastPosition(ctx, owner, pos)
}

// loader batches records into an IngestWriter and tracks ingest statistics.
type loader struct {
	writer   IngestWriter
	size     int
	batch    []timeline.Record
	batches  int
	accepted int
	bounds   timeline.BoundsOf
	first    *time.Time
	last     *time.Time
	latest   *Position
}

func (l *loader) add(ctx context.Context, r timeline.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.batch = append(l.batch, r)
	l.accepted++
	l.bounds.Add(r)

	if ts, ok := r.Timestamp(); ok {
		if l.first == nil || ts.Before(*l.first) {
			l.first = &ts
		}
		if l.last == nil || ts.After(*l.last) {
			last := ts
			l.last = &last
		}
		if r.HasPosition() && (l.latest == nil || !ts.Before(l.latest.At)) {
			l.latest = &Position{Latitude: *r.Latitude, Longitude: *r.Longitude, At: ts}
		}
	}

	if len(l.batch) >= l.size {
		return l.flush(ctx)
	}
	return nil
}

func (l *loader) flush(ctx context.Context) error {
	if len(l.batch) == 0 {
		return nil
	}
	if err := l.writer.Write(ctx, l.batch); err != nil {
		return fmt.Errorf("write batch %d: %w", l.batches+1, err)
	}
	l.batches++
	l.batch = l.batch[:0]
	return nil
}

// limitedReader fails once more than remaining bytes have been read.
type limitedReader struct {
	r         io.Reader
	remaining int64
	exceeded  bool
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.exceeded {
		return 0, ErrSourceTooLarge
	}
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		l.exceeded = true
		return n, ErrSourceTooLarge
	}
	return n, err
}
