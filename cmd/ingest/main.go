// Command ingest loads a Google Timeline export for an owner.
//
//	ingest -owner alice -file Timeline.json             load into Postgres
//	ingest -owner alice -file Timeline.json -dry-run    print records as TSV
//	ingest -owner alice -file alice/Timeline.json -async
//	ingest -owner alice -summary
//	ingest -owner alice -list 50
//	ingest -owner alice -clear
//	ingest -formats
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DK-com2/PATHFINDER-WEB/internal/config"
	"github.com/DK-com2/PATHFINDER-WEB/internal/domain"
	"github.com/DK-com2/PATHFINDER-WEB/internal/logging"
	"github.com/DK-com2/PATHFINDER-WEB/internal/persistence"
	"github.com/DK-com2/PATHFINDER-WEB/internal/persistence/memory"
	"github.com/DK-com2/PATHFINDER-WEB/internal/persistence/postgres"
	"github.com/DK-com2/PATHFINDER-WEB/internal/store"
	"github.com/DK-com2/PATHFINDER-WEB/internal/timeline"
)

type options struct {
	configPath string
	file       string
	owner      string
	mode       string
	dryRun     bool
	async      bool
	clear      bool
	summary    bool
	formats    bool
	list       int
	cursor     string
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "config file (defaults to CONFIG_PATH or ./config.yaml)")
	flag.StringVar(&o.file, "file", "", "timeline export to load")
	flag.StringVar(&o.owner, "owner", "", "owner the records belong to")
	flag.StringVar(&o.mode, "mode", "", "parser mode: stream or buffered (default from config)")
	flag.BoolVar(&o.dryRun, "dry-run", false, "parse only and write records as TSV to stdout")
	flag.BoolVar(&o.async, "async", false, "queue an ingest job for the worker; -file is relative to the data directory")
	flag.BoolVar(&o.clear, "clear", false, "delete every record of the owner")
	flag.BoolVar(&o.summary, "summary", false, "print the owner's timeline summary")
	flag.BoolVar(&o.formats, "formats", false, "list supported export formats")
	flag.IntVar(&o.list, "list", 0, "print up to n stored records as TSV, newest first")
	flag.StringVar(&o.cursor, "cursor", "", "continue -list from this cursor")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o, os.Stdout); err != nil {
		logging.Error().Err(err).Msg("ingest failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, o options, stdout io.Writer) error {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.LoadFile(o.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.Init(cfg.Logging())

	if o.formats {
		return writeJSON(stdout, timeline.SupportedFormats())
	}
	if o.owner == "" {
		return domain.ErrOwnerRequired
	}
	mode, err := domain.ParseMode(o.mode)
	if err != nil {
		return err
	}

	opts, err := cfg.ServiceOptions()
	if err != nil {
		return err
	}

	if o.dryRun {
		return dryRun(ctx, memory.NewRepository(), opts, o, mode, stdout)
	}

	pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	if redisStore, err := store.NewRedisStore(ctx, cfg.Redis); err != nil {
		logging.Warn().Err(err).Msg("redis unavailable, last position will not be updated")
	} else {
		defer redisStore.Close()
		opts = append(opts, domain.WithPositions(redisStore))
	}
	svc := domain.NewService(postgres.NewRepository(pool), opts...)

	switch {
	case o.clear:
		deleted, err := svc.Clear(ctx, o.owner)
		if err != nil {
			return err
		}
		return writeJSON(stdout, map[string]any{"owner": o.owner, "deleted": deleted})
	case o.summary:
		summary, err := svc.OwnerSummary(ctx, o.owner)
		if err != nil {
			return err
		}
		return writeJSON(stdout, summary)
	case o.list > 0:
		return list(ctx, svc, o, stdout)
	case o.async:
		if o.file == "" {
			return errors.New("-file is required")
		}
		ingest, err := svc.RequestIngest(ctx, domain.IngestRequest{Owner: o.owner, Path: o.file, Filename: filepath.Base(o.file), Mode: mode})
		if err != nil {
			return err
		}
		return writeJSON(stdout, map[string]any{"ingest_id": ingest.ID, "state": ingest.State})
	}

	if o.file == "" {
		return errors.New("-file is required")
	}
	f, err := os.Open(o.file)
	if err != nil {
		return err
	}
	defer f.Close()

	result, err := svc.Ingest(ctx, domain.IngestInput{Owner: o.owner, Filename: filepath.Base(o.file), Source: f, Mode: mode})
	if result != nil {
		if writeErr := writeJSON(stdout, resultView(result)); writeErr != nil && err == nil {
			err = writeErr
		}
	}
	return err
}

func dryRun(ctx context.Context, repo *memory.Repository, opts []domain.Option, o options, mode domain.Mode, stdout io.Writer) error {
	if o.file == "" {
		return errors.New("-file is required")
	}
	f, err := os.Open(o.file)
	if err != nil {
		return err
	}
	defer f.Close()

	svc := domain.NewService(repo, opts...)
	result, err := svc.Ingest(ctx, domain.IngestInput{Owner: o.owner, Filename: filepath.Base(o.file), Source: f, Mode: mode})
	if result != nil {
		logging.Info().
			Str("dialect", result.Ingest.Dialect).
			Int("accepted", result.Summary.Accepted).
			Int("rejected", result.Summary.Rejected).
			Int("warnings", result.Summary.WarningCount()).
			Msg("dry run parsed")
	}
	if err != nil {
		return err
	}

	w := timeline.NewTSVWriter(stdout, true)
	for _, rec := range repo.Records(o.owner) {
		if err := w.Write(rec.Record); err != nil {
			return err
		}
	}
	return w.Flush()
}

func list(ctx context.Context, svc *domain.Service, o options, stdout io.Writer) error {
	var cursor *domain.Cursor
	if o.cursor != "" {
		c, err := persistence.DecodeCursor(o.cursor)
		if err != nil {
			return err
		}
		cursor = c
	}

	records, next, err := svc.ListRecords(ctx, o.owner, cursor, o.list)
	if err != nil {
		return err
	}
	w := timeline.NewTSVWriter(stdout, true)
	for _, rec := range records {
		if err := w.Write(rec.Record); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if next != nil {
		logging.Info().Str("cursor", persistence.EncodeCursor(next)).Msg("more records available")
	}
	return nil
}

type ingestView struct {
	IngestID   string           `json:"ingest_id"`
	State      string           `json:"state"`
	Dialect    string           `json:"dialect"`
	Processed  int              `json:"processed"`
	Accepted   int              `json:"accepted"`
	Rejected   int              `json:"rejected"`
	Batches    int              `json:"batches"`
	DurationMS int64            `json:"duration_ms"`
	Summary    timeline.Summary `json:"summary"`
	Reason     string           `json:"reason,omitempty"`
}

func resultView(r *domain.IngestResult) ingestView {
	return ingestView{
		IngestID:   r.Ingest.ID,
		State:      string(r.Ingest.State),
		Dialect:    r.Ingest.Dialect,
		Processed:  r.Ingest.Processed,
		Accepted:   r.Ingest.Accepted,
		Rejected:   r.Ingest.Rejected,
		Batches:    r.Batches,
		DurationMS: r.Duration.Milliseconds(),
		Summary:    r.Summary,
		Reason:     r.Ingest.Reason,
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
