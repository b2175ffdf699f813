package outbox

import "github.com/DK-com2/PATHFINDER-WEB/internal/events"

const ingestRequestedSchema = `{
  "type": "object",
  "title": "TimelineIngestRequested",
  "properties": {
    "ingest_id": {"type": "string"},
    "owner": {"type": "string"},
    "path": {"type": "string"},
    "filename": {"type": "string"},
    "mode": {"type": "string"},
    "requested_at": {"type": "string", "format": "date-time"}
  },
  "required": ["ingest_id", "owner", "path", "requested_at"],
  "additionalProperties": false
}`

const boundsSchema = `{
      "type": "object",
      "properties": {
        "min_latitude": {"type": "number"},
        "min_longitude": {"type": "number"},
        "max_latitude": {"type": "number"},
        "max_longitude": {"type": "number"}
      },
      "required": ["min_latitude", "min_longitude", "max_latitude", "max_longitude"]
    }`

const timelineIngestedSchema = `{
  "type": "object",
  "title": "TimelineIngested",
  "properties": {
    "ingest_id": {"type": "string"},
    "owner": {"type": "string"},
    "dialect": {"type": "string"},
    "processed": {"type": "integer"},
    "accepted": {"type": "integer"},
    "rejected": {"type": "integer"},
    "warnings": {"type": "integer"},
    "first_record_at": {"type": "string", "format": "date-time"},
    "last_record_at": {"type": "string", "format": "date-time"},
    "bounds": ` + boundsSchema + `,
    "ingested_at": {"type": "string", "format": "date-time"}
  },
  "required": ["ingest_id", "owner", "dialect", "processed", "accepted", "rejected", "warnings", "ingested_at"],
  "additionalProperties": false
}`

const timelineClearedSchema = `{
  "type": "object",
  "title": "TimelineCleared",
  "properties": {
    "owner": {"type": "string"},
    "deleted": {"type": "integer"},
    "cleared_at": {"type": "string", "format": "date-time"}
  },
  "required": ["owner", "deleted", "cleared_at"],
  "additionalProperties": false
}`

// SchemaCatalogEntry maps event type to schema definition.
type SchemaCatalogEntry struct {
	Schema string
}

var schemaCatalog = map[string]SchemaCatalogEntry{
	events.TypeIngestRequested:  {Schema: ingestRequestedSchema},
	events.TypeTimelineIngested: {Schema: timelineIngestedSchema},
	events.TypeTimelineCleared:  {Schema: timelineClearedSchema},
}
