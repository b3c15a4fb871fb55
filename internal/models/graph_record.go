package models

import (
	"encoding/json"
	"time"
)

// GraphRecord is one successfully extracted knowledge graph. Records are
// append-only: one per successful extraction, never updated or deleted.
type GraphRecord struct {
	ID           string          `json:"id"`
	EntityType   EntityType      `json:"entity_type" badgerhold:"index"`
	EntityID     string          `json:"entity_id" badgerhold:"index"`
	EntityName   string          `json:"entity_name"`
	SourceTaskID string          `json:"source_task_id" badgerhold:"index"`
	// RawJSON is the extracted payload, stored opaque. It has been parsed
	// once for validity but its schema is not interpreted here.
	RawJSON     json.RawMessage `json:"raw_json"`
	ModelUsed   string          `json:"model_used,omitempty"`
	AccountUsed string          `json:"account_used,omitempty"`
	ExtractedAt time.Time       `json:"extracted_at"`
}
