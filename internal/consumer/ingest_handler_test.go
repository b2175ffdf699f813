package consumer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/DK-com2/PATHFINDER-WEB/internal/domain"
	"github.com/DK-com2/PATHFINDER-WEB/internal/events"
	"github.com/DK-com2/PATHFINDER-WEB/internal/persistence/memory"
)

const visitExport = `{"semanticSegments":[{"startTime":"2024-03-01T10:00:00+09:00","endTime":"2024-03-01T12:00:00+09:00",
 "visit":{"probability":0.8,"topCandidate":{"placeId":"p1","semanticType":"WORK","placeLocation":{"latLng":"35.6586°, 139.7454°"}}}}]}`

type stubGuard struct {
	claimed  map[string]bool
	released []string
	err      error
}

func newStubGuard() *stubGuard { return &stubGuard{claimed: make(map[string]bool)} }

func (g *stubGuard) ClaimJob(_ context.Context, id string) (bool, error) {
	if g.err != nil {
		return false, g.err
	}
	if g.claimed[id] {
		return false, nil
	}
	g.claimed[id] = true
	return true, nil
}

func (g *stubGuard) ReleaseJob(_ context.Context, id string) error {
	delete(g.claimed, id)
	g.released = append(g.released, id)
	return nil
}

type stubIngester struct {
	calls int
	err   error
}

func (s *stubIngester) Ingest(context.Context, domain.IngestInput) (*domain.IngestResult, error) {
	s.calls++
	return &domain.IngestResult{}, s.err
}

func writeExport(t *testing.T, dir, rel, contents string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func jobFor(t *testing.T, job events.IngestRequested) Message {
	t.Helper()
	payload, err := json.Marshal(job)
	require.NoError(t, err)
	return Message{EventType: events.TypeIngestRequested, Owner: job.Owner, Payload: payload}
}

func TestIngestHandlerLoadsJob(t *testing.T) {
	dir := t.TempDir()
	writeExport(t, dir, "alice/Timeline.json", visitExport)

	repo := memory.NewRepository()
	guard := newStubGuard()
	h := NewIngestHandler(domain.NewService(repo), guard, dir)

	err := h.Handle(context.Background(), jobFor(t, events.IngestRequested{
		IngestID: "7f1c1f5e-0a7b-4a53-9a49-3a8f3c5f6a01",
		Owner:    "alice",
		Path:     "alice/Timeline.json",
		Mode:     "buffered",
	}))
	require.NoError(t, err)
	require.Len(t, repo.Records("alice"), 1)
	require.True(t, guard.claimed["7f1c1f5e-0a7b-4a53-9a49-3a8f3c5f6a01"])

	ingest, err := repo.GetIngest(context.Background(), "alice", "7f1c1f5e-0a7b-4a53-9a49-3a8f3c5f6a01")
	require.NoError(t, err)
	require.NotNil(t, ingest)
	require.Equal(t, "Timeline.json", ingest.Filename)
	require.Equal(t, domain.ModeBuffered, ingest.Mode)
}

func TestIngestHandlerSkipsClaimedJob(t *testing.T) {
	dir := t.TempDir()
	writeExport(t, dir, "Timeline.json", visitExport)

	guard := newStubGuard()
	guard.claimed["job-1"] = true
	ingester := &stubIngester{}
	h := NewIngestHandler(ingester, guard, dir)

	require.NoError(t, h.Handle(context.Background(), jobFor(t, events.IngestRequested{IngestID: "job-1", Owner: "alice", Path: "Timeline.json"})))
	require.Zero(t, ingester.calls)
}

func TestIngestHandlerRejectsBadJobs(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		msg  Message
	}{
		{name: "payload", msg: Message{EventType: events.TypeIngestRequested, Payload: []byte(`{`)}},
		{name: "owner", msg: jobFor(t, events.IngestRequested{IngestID: "job-1", Path: "Timeline.json"})},
		{name: "mode", msg: jobFor(t, events.IngestRequested{IngestID: "job-1", Owner: "alice", Path: "Timeline.json", Mode: "eager"})},
		{name: "traversal", msg: jobFor(t, events.IngestRequested{IngestID: "job-1", Owner: "alice", Path: "../secrets.json"})},
		{name: "absolute", msg: jobFor(t, events.IngestRequested{IngestID: "job-1", Owner: "alice", Path: "/etc/passwd"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			guard := newStubGuard()
			ingester := &stubIngester{}
			err := NewIngestHandler(ingester, guard, dir).Handle(context.Background(), tt.msg)
			require.Error(t, err)
			require.True(t, IsPermanent(err))
			require.Empty(t, guard.claimed)
			require.Zero(t, ingester.calls)
		})
	}
}

func TestIngestHandlerKeepsClaimOnPermanentFailure(t *testing.T) {
	dir := t.TempDir()
	writeExport(t, dir, "empty.json", `{"semanticSegments":[]}`)

	repo := memory.NewRepository()
	guard := newStubGuard()
	h := NewIngestHandler(domain.NewService(repo), guard, dir)

	err := h.Handle(context.Background(), jobFor(t, events.IngestRequested{IngestID: "5b0e4c1e-7f58-4d8f-8a43-1c6f2a1f9b11", Owner: "alice", Path: "empty.json"}))
	require.ErrorIs(t, err, domain.ErrNoValidRecords)
	require.True(t, IsPermanent(err))
	require.Empty(t, guard.released)

	err = h.Handle(context.Background(), jobFor(t, events.IngestRequested{IngestID: "job-missing", Owner: "alice", Path: "missing.json"}))
	require.ErrorIs(t, err, os.ErrNotExist)
	require.True(t, IsPermanent(err))
	require.Empty(t, guard.released)
}

func TestIngestHandlerReleasesClaimOnRetryableFailure(t *testing.T) {
	dir := t.TempDir()
	writeExport(t, dir, "Timeline.json", visitExport)

	guard := newStubGuard()
	ingester := &stubIngester{err: errors.New("connection reset")}
	h := NewIngestHandler(ingester, guard, dir)

	err := h.Handle(context.Background(), jobFor(t, events.IngestRequested{IngestID: "job-1", Owner: "alice", Path: "Timeline.json"}))
	require.Error(t, err)
	require.False(t, IsPermanent(err))
	require.Equal(t, []string{"job-1"}, guard.released)
	require.Empty(t, guard.claimed)
}

func TestIngestHandlerClaimErrorIsRetryable(t *testing.T) {
	guard := newStubGuard()
	guard.err = errors.New("redis down")
	err := NewIngestHandler(&stubIngester{}, guard, t.TempDir()).Handle(context.Background(),
		jobFor(t, events.IngestRequested{IngestID: "job-1", Owner: "alice", Path: "Timeline.json"}))
	require.Error(t, err)
	require.False(t, IsPermanent(err))
}

func TestIngestHandlerIgnoresOtherEvents(t *testing.T) {
	ingester := &stubIngester{}
	err := NewIngestHandler(ingester, newStubGuard(), t.TempDir()).Handle(context.Background(),
		Message{EventType: events.TypeTimelineIngested, Payload: []byte(`{}`)})
	require.NoError(t, err)
	require.Zero(t, ingester.calls)
}
