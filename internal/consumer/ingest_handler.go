package consumer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/DK-com2/PATHFINDER-WEB/internal/domain"
	"github.com/DK-com2/PATHFINDER-WEB/internal/events"
	"github.com/DK-com2/PATHFINDER-WEB/internal/logging"
	"github.com/DK-com2/PATHFINDER-WEB/internal/timeline"
)

// Ingester loads one export.
type Ingester interface {
	Ingest(ctx context.Context, in domain.IngestInput) (*domain.IngestResult, error)
}

// JobGuard stops two workers from running the same ingest.
type JobGuard interface {
	ClaimJob(ctx context.Context, ingestID string) (bool, error)
	ReleaseJob(ctx context.Context, ingestID string) error
}

// IngestHandler runs timeline.ingest_requested jobs. Exports are read from
// paths relative to the data directory.
type IngestHandler struct {
	ingester Ingester
	guard    JobGuard
	dataDir  string
	logger   zerolog.Logger
}

// NewIngestHandler constructs an IngestHandler.
func NewIngestHandler(ingester Ingester, guard JobGuard, dataDir string) *IngestHandler {
	return &IngestHandler{
		ingester: ingester,
		guard:    guard,
		dataDir:  dataDir,
		logger:   logging.Component("ingest-worker"),
	}
}

// Handle implements Handler. Messages of other event types are ignored.
func (h *IngestHandler) Handle(ctx context.Context, msg Message) error {
	if msg.EventType != events.TypeIngestRequested {
		return nil
	}

	var job events.IngestRequested
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		recordJob("rejected")
		return Permanent(fmt.Errorf("decode ingest job: %w", err))
	}
	if job.IngestID == "" || job.Owner == "" {
		recordJob("rejected")
		return Permanent(errors.New("ingest job without ingest_id or owner"))
	}
	mode, err := domain.ParseMode(job.Mode)
	if err != nil {
		recordJob("rejected")
		return Permanent(err)
	}
	path, err := h.resolve(job.Path)
	if err != nil {
		recordJob("rejected")
		return Permanent(err)
	}

	logger := h.logger.With().Str("ingest_id", job.IngestID).Str("owner", job.Owner).Logger()

	claimed, err := h.guard.ClaimJob(ctx, job.IngestID)
	if err != nil {
		return fmt.Errorf("claim ingest job: %w", err)
	}
	if !claimed {
		logger.Info().Msg("ingest job already claimed, skipping")
		recordJob("duplicate")
		return nil
	}

	err = h.run(ctx, job, mode, path)
	switch {
	case err == nil:
		recordJob("loaded")
		return nil
	case isPermanentIngestError(err):
		// The failure is recorded on the ingest row; a redelivery would fail the same way.
		recordJob("failed")
		return Permanent(err)
	default:
		if releaseErr := h.guard.ReleaseJob(context.WithoutCancel(ctx), job.IngestID); releaseErr != nil {
			logger.Error().Err(releaseErr).Msg("release ingest job")
		}
		return err
	}
}

func (h *IngestHandler) run(ctx context.Context, job events.IngestRequested, mode domain.Mode, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Permanent(err)
		}
		return err
	}
	defer f.Close()

	filename := job.Filename
	if filename == "" {
		filename = filepath.Base(path)
	}
	_, err = h.ingester.Ingest(ctx, domain.IngestInput{
		IngestID: job.IngestID,
		Owner:    job.Owner,
		Filename: filename,
		Source:   f,
		Mode:     mode,
	})
	return err
}

// resolve maps a job path onto the data directory and refuses paths that
// would leave it.
func (h *IngestHandler) resolve(path string) (string, error) {
	if path == "" || !filepath.IsLocal(path) {
		return "", fmt.Errorf("ingest path %q is not inside the data directory", path)
	}
	return filepath.Join(h.dataDir, path), nil
}

func isPermanentIngestError(err error) bool {
	if IsPermanent(err) {
		return true
	}
	for _, target := range []error{
		domain.ErrOwnerRequired,
		domain.ErrUnsupportedFile,
		domain.ErrInvalidMode,
		domain.ErrSourceTooLarge,
		domain.ErrNoValidRecords,
		timeline.ErrUnsupportedFormat,
		timeline.ErrMalformedJSON,
		timeline.ErrInvalidStructure,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
