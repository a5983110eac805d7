package outbox

const batchNormalizedSchema = `{
  "type": "object",
  "title": "BatchNormalized",
  "properties": {
    "batch_id": {"type": "string"},
    "owner_id": {"type": "string"},
    "metric": {"type": "string"},
    "point_count": {"type": "integer"},
    "window_start": {"type": "string", "format": "date-time"},
    "window_end": {"type": "string", "format": "date-time"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["batch_id", "owner_id", "metric", "point_count", "window_start", "window_end", "occurred_at"],
  "additionalProperties": false
}`

const credentialStateChangedSchema = `{
  "type": "object",
  "title": "CredentialStateChanged",
  "properties": {
    "owner_id": {"type": "string"},
    "state": {"type": "string"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["owner_id", "state", "occurred_at"],
  "additionalProperties": false
}`

// SchemaCatalogEntry maps event type to schema definition.
type SchemaCatalogEntry struct {
	Schema string
}

var schemaCatalog = map[string]SchemaCatalogEntry{
	"health.batch_normalized": {
		Schema: batchNormalizedSchema,
	},
	"credential.state_changed": {
		Schema: credentialStateChangedSchema,
	},
}
