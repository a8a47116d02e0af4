// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/sweeney/pumpsync/internal/logic"
)

// TopicDoses is the MQTT topic for reconciled dose entries.
const TopicDoses = "pumpsync/pump/doses"

// TopicEvents is the MQTT topic for timeline annotations (alarms, primes,
// markers) that carry no dose.
const TopicEvents = "pumpsync/pump/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "pumpsync/system"

// Publisher publishes pump data to MQTT.
type Publisher interface {
	// PublishDose sends a dose entry to the broker.
	// Returns error if publishing fails (should not crash the process).
	PublishDose(dose logic.DoseEntry) error

	// PublishEvent sends a timeline annotation to the broker.
	PublishEvent(event logic.TimelineEvent) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// DosePayload is the MQTT message for a dose entry.
type DosePayload struct {
	Dose DoseJSON `json:"dose"`
}

// DoseJSON is the wire form of logic.DoseEntry. Shared with the web
// endpoint so both surfaces agree.
type DoseJSON struct {
	ID         string   `json:"id"`
	Type       string   `json:"type"`
	Start      string   `json:"start"`
	End        string   `json:"end,omitempty"`
	Programmed float64  `json:"programmed"`
	Delivered  *float64 `json:"delivered,omitempty"`
	Unit       string   `json:"unit"`
	Mutable    bool     `json:"mutable"`
	Automatic  *bool    `json:"automatic,omitempty"`
	AtDevice   bool     `json:"programmed_at_device"`
}

// NewDoseJSON converts a dose entry for the wire.
func NewDoseJSON(d logic.DoseEntry) DoseJSON {
	j := DoseJSON{
		ID:         d.ID(),
		Type:       string(d.Type),
		Start:      d.StartDate.UTC().Format(time.RFC3339),
		Programmed: d.Programmed,
		Delivered:  d.Delivered,
		Unit:       string(d.Unit),
		Mutable:    d.IsMutable,
		Automatic:  d.Automatic,
		AtDevice:   d.WasProgrammedAtDevice,
	}
	if d.EndDate != nil {
		j.End = d.EndDate.UTC().Format(time.RFC3339)
	}
	return j
}

// FormatDosePayload creates the JSON payload for a dose entry.
func FormatDosePayload(d logic.DoseEntry) ([]byte, error) {
	return json.Marshal(DosePayload{Dose: NewDoseJSON(d)})
}

// EventPayload is the MQTT message for a timeline annotation.
type EventPayload struct {
	Event EventJSON `json:"event"`
}

// EventJSON contains the annotation details. Raw is the record in hex.
type EventJSON struct {
	Timestamp string `json:"timestamp,omitempty"`
	Title     string `json:"title"`
	Kind      string `json:"kind,omitempty"`
	Raw       string `json:"raw"`
}

// FormatEventPayload creates the JSON payload for a timeline annotation.
func FormatEventPayload(e logic.TimelineEvent) ([]byte, error) {
	j := EventJSON{
		Title: e.Title,
		Kind:  string(e.Kind),
		Raw:   hex.EncodeToString(e.Raw),
	}
	if !e.Date.IsZero() {
		j.Timestamp = e.Date.UTC().Format(time.RFC3339)
	}
	return json.Marshal(EventPayload{Event: j})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
