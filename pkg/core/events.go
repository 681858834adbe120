// pkg/core/events.go
package core

import "time"

// EventType names a lifecycle event emitted by the location manager.
type EventType string

const (
	EventCreated       EventType = "location_created"
	EventUpdated       EventType = "location_updated"
	EventDeleted       EventType = "location_deleted"
	EventViewCenter    EventType = "view_center"
	EventTimerFired    EventType = "timer_fired"
	EventTimerExtended EventType = "timer_extended"
	EventTimerCanceled EventType = "timer_canceled"
	EventAddressSynced EventType = "address_synced"
)

// Event describes something that happened to a record. Record is a copy of
// the record after the change; it is nil for deletions.
type Event struct {
	Type       EventType       `json:"type"`
	LocationID string          `json:"locationId"`
	Time       time.Time       `json:"time"`
	Record     *LocationRecord `json:"record,omitempty"`
	Center     *ViewCenter     `json:"center,omitempty"`
}

// ViewCenter is where the UI should move its map. X/Y are Web Mercator
// (EPSG:3857) metres for tile-based renderers.
type ViewCenter struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
}

// NoticeLevel is the severity of a user-visible notice.
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is a fire-and-forget message for the user. A later notice with the
// same Key replaces an earlier one instead of stacking.
type Notice struct {
	Key     string      `json:"key,omitempty"`
	Level   NoticeLevel `json:"level"`
	Title   string      `json:"title"`
	Body    string      `json:"body,omitempty"`
	Time    time.Time   `json:"time"`
	Subject string      `json:"subject,omitempty"` // location id, when the notice concerns one record
}
