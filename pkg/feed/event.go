package feed

import (
	"encoding/json"
	"fmt"

	"github.com/memberhub/accessd/pkg/model"
)

// EventType mirrors the trigger's TG_OP value.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Event is one enrollment mutation. For deletes, Record carries the row
// as it was before deletion.
type Event struct {
	Type   EventType        `json:"eventType"`
	Record model.Enrollment `json:"record"`
}

// ParsePayload decodes a NOTIFY payload emitted by the enrollments
// trigger. Unknown event types and payloads without a record id are
// rejected; the caller degrades to a resync rather than guessing.
func ParsePayload(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("malformed feed payload: %w", err)
	}
	switch ev.Type {
	case EventInsert, EventUpdate, EventDelete:
	default:
		return Event{}, fmt.Errorf("unknown feed event type %q", ev.Type)
	}
	if ev.Record.ID == "" {
		return Event{}, fmt.Errorf("feed payload for %s event has no record id", ev.Type)
	}
	return ev, nil
}
