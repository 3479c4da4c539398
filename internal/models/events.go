package models

import "time"

// EventKind is the closed taxonomy of events the EventBus carries.
type EventKind string

const (
	EventCaptured        EventKind = "captured"
	EventUpdated         EventKind = "updated"
	EventDeleted         EventKind = "deleted"
	EventRetrieved       EventKind = "retrieved"
	EventSynced          EventKind = "synced"
	EventSecurityAssessed EventKind = "security_assessed"
	EventLagged          EventKind = "lagged"
)

// EventMeta is carried by every event, regardless of kind.
type EventMeta struct {
	Source    string
	RequestID string
	Timestamp time.Time
}

// MemoryEvent is the single envelope type published on the EventBus; Kind
// selects which of the payload fields are meaningful.
type MemoryEvent struct {
	Kind EventKind
	Meta EventMeta

	// Captured / Updated / Deleted / Retrieved
	MemoryID      string
	Namespace     Namespace
	Domain        Domain
	ContentLength int

	// Updated
	ModifiedFields []string

	// Deleted
	Reason string

	// Retrieved
	Query string
	Score float32

	// Synced
	Pushed    int
	Pulled    int
	Conflicts int

	// Lagged (slow-subscriber signal, never published by producers directly)
	Skipped int
}
