package outbox

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/DK-com2/PATHFINDER-WEB/internal/events"
)

func TestWireFormatRoundTrip(t *testing.T) {
	framed := encodeWireFormat(258, []byte(`{"owner":"alice"}`))
	require.Equal(t, []byte{0, 0, 0, 1, 2}, framed[:5])

	id, payload, err := DecodeWireFormat(framed)
	require.NoError(t, err)
	require.Equal(t, 258, id)
	require.JSONEq(t, `{"owner":"alice"}`, string(payload))

	_, _, err = DecodeWireFormat([]byte(`{}`))
	require.Error(t, err)
	_, _, err = DecodeWireFormat([]byte{1, 0, 0, 0, 1, '{', '}'})
	require.Error(t, err)
}

func TestBuildRecordSetsRoutingHeaders(t *testing.T) {
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	record := buildRecord(Message{
		EventType:     events.TypeIngestRequested,
		Owner:         "alice",
		SchemaSubject: "timeline_ingest_requests-value",
		PartitionKey:  "alice",
		Payload:       []byte(`{}`),
	}, 7, at)

	require.Equal(t, []byte("alice"), record.Key)
	require.Equal(t, at, record.Time)

	headers := make(map[string]string)
	for _, h := range record.Headers {
		headers[h.Key] = string(h.Value)
	}
	require.Equal(t, map[string]string{
		HeaderEventType:     events.TypeIngestRequested,
		HeaderOwner:         "alice",
		HeaderSchemaSubject: "timeline_ingest_requests-value",
	}, headers)
}

func TestSchemaCatalogCoversEvents(t *testing.T) {
	for _, eventType := range []string{events.TypeIngestRequested, events.TypeTimelineIngested, events.TypeTimelineCleared} {
		entry, ok := schemaCatalog[eventType]
		require.Truef(t, ok, "missing schema for %s", eventType)
		require.Truef(t, json.Valid([]byte(entry.Schema)), "invalid schema for %s", eventType)
	}
}

func TestTimelineIngestedSchemaListsPayloadFields(t *testing.T) {
	payload, err := json.Marshal(events.TimelineIngested{Bounds: &events.Bounds{}, FirstRecordAt: new(time.Time), LastRecordAt: new(time.Time)})
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(payload, &fields))

	var schema struct {
		Properties map[string]any `json:"properties"`
	}
	require.NoError(t, json.Unmarshal([]byte(timelineIngestedSchema), &schema))
	for field := range fields {
		require.Contains(t, schema.Properties, field)
	}
}

func TestSchemaRegistryRegistersMissingSubject(t *testing.T) {
	var registered string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/subjects/timeline_events-value/versions/latest":
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPost && r.URL.Path == "/subjects/timeline_events-value/versions":
			body, _ := io.ReadAll(r.Body)
			registered = string(body)
			_, _ = w.Write([]byte(`{"id":12}`))
		default:
			w.WriteHeader(http.StatusTeapot)
		}
	}))
	defer srv.Close()

	id, err := NewSchemaRegistryClient(srv.URL+"/").EnsureSchema(context.Background(), "timeline_events-value", timelineClearedSchema)
	require.NoError(t, err)
	require.Equal(t, 12, id)
	require.Contains(t, registered, `"schemaType":"JSON"`)
}

func TestSchemaRegistryReturnsExistingID(t *testing.T) {
	posts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts++
		}
		_, _ = w.Write([]byte(`{"id":3,"version":1}`))
	}))
	defer srv.Close()

	id, err := NewSchemaRegistryClient(srv.URL).EnsureSchema(context.Background(), "s", "{}")
	require.NoError(t, err)
	require.Equal(t, 3, id)
	require.Zero(t, posts)
}

func TestSchemaRegistryDoesNotRegisterOnServerError(t *testing.T) {
	posts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts++
		}
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewSchemaRegistryClient(srv.URL).EnsureSchema(context.Background(), "s", "{}")
	require.ErrorContains(t, err, "503")
	require.Zero(t, posts)
}

func TestBackoffDelay(t *testing.T) {
	m := NewDLQManager(nil, 0, time.Minute)
	require.Equal(t, 5, m.maxRetries)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: time.Minute},
		{attempt: 2, want: 2 * time.Minute},
		{attempt: 4, want: 8 * time.Minute},
		{attempt: 7, want: time.Hour},
		{attempt: 60, want: time.Hour},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, m.backoffDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}
