// pkg/core/location.go
package core

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ParkingType categorises where the car was left.
type ParkingType string

const (
	ParkingStreet  ParkingType = "street"
	ParkingGarage  ParkingType = "garage"
	ParkingLot     ParkingType = "parking"
	ParkingOther   ParkingType = "other"
	DefaultParking             = ParkingStreet
)

// ParseParkingType accepts the canonical values case-insensitively.
// An empty string yields the default type.
func ParseParkingType(s string) (ParkingType, error) {
	switch ParkingType(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return DefaultParking, nil
	case ParkingStreet:
		return ParkingStreet, nil
	case ParkingGarage:
		return ParkingGarage, nil
	case ParkingLot:
		return ParkingLot, nil
	case ParkingOther:
		return ParkingOther, nil
	}
	return "", fmt.Errorf("unknown parking type %q", s)
}

// Valid reports whether t is one of the known parking types.
func (t ParkingType) Valid() bool {
	_, err := ParseParkingType(string(t))
	return err == nil && t != ""
}

// ErrInvalidRecord is returned by Validate for malformed records.
var ErrInvalidRecord = errors.New("invalid location record")

// LocationRecord is one saved "my car is here" entry.
// Optional fields are pointers so that absence is distinguishable from zero.
type LocationRecord struct {
	ID                string      `json:"id"`
	Latitude          float64     `json:"latitude"`
	Longitude         float64     `json:"longitude"`
	Address           *string     `json:"address,omitempty"`
	Timestamp         time.Time   `json:"timestamp"`
	Note              *string     `json:"note,omitempty"`
	ParkingType       ParkingType `json:"parkingType"`
	IsManualPlacement bool        `json:"isManualPlacement"`
	Accuracy          *float64    `json:"accuracy,omitempty"`
	Cost              *float64    `json:"cost,omitempty"`
	Photos            []string    `json:"photos,omitempty"`
	ExpiryTime        *time.Time  `json:"expiryTime,omitempty"`
	ReminderMinutes   *int        `json:"reminderMinutes,omitempty"`
	ExtensionCount    *int        `json:"extensionCount,omitempty"`
}

const (
	// MaxReminderMinutes is the longest reminder lead time, one week.
	MaxReminderMinutes = 7 * 24 * 60
	// MaxExtensions is the largest extension count the SQL backends store.
	MaxExtensions = math.MaxInt32
)

// Validate checks the fields the caller is required to provide.
func (r LocationRecord) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRecord)
	}
	if math.IsNaN(r.Latitude) || r.Latitude < -90 || r.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidRecord, r.Latitude)
	}
	if math.IsNaN(r.Longitude) || r.Longitude < -180 || r.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidRecord, r.Longitude)
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidRecord)
	}
	if !r.ParkingType.Valid() {
		return fmt.Errorf("%w: parking type %q", ErrInvalidRecord, r.ParkingType)
	}
	if r.IsManualPlacement && (r.Note == nil || strings.TrimSpace(*r.Note) == "") {
		return fmt.Errorf("%w: manual placement requires a note", ErrInvalidRecord)
	}
	if r.ReminderMinutes != nil && (*r.ReminderMinutes < 0 || *r.ReminderMinutes > MaxReminderMinutes) {
		return fmt.Errorf("%w: reminder lead time %d out of range", ErrInvalidRecord, *r.ReminderMinutes)
	}
	if r.ExtensionCount != nil && (*r.ExtensionCount < 0 || *r.ExtensionCount > MaxExtensions) {
		return fmt.Errorf("%w: extension count %d out of range", ErrInvalidRecord, *r.ExtensionCount)
	}
	return nil
}

// HasTimer reports whether the record carries an active reminder timer.
func (r LocationRecord) HasTimer() bool {
	return r.ExpiryTime != nil
}

// AddressOrEmpty returns the address or "" when absent.
func (r LocationRecord) AddressOrEmpty() string {
	if r.Address == nil {
		return ""
	}
	return *r.Address
}

// Extensions returns the extension counter, treating absence as zero.
func (r LocationRecord) Extensions() int {
	if r.ExtensionCount == nil {
		return 0
	}
	return *r.ExtensionCount
}

// Clone returns a deep copy so callers can never alias mirror state.
func (r LocationRecord) Clone() LocationRecord {
	out := r
	out.Address = clonePtr(r.Address)
	out.Note = clonePtr(r.Note)
	out.Accuracy = clonePtr(r.Accuracy)
	out.Cost = clonePtr(r.Cost)
	out.ExpiryTime = clonePtr(r.ExpiryTime)
	out.ReminderMinutes = clonePtr(r.ReminderMinutes)
	out.ExtensionCount = clonePtr(r.ExtensionCount)
	if r.Photos != nil {
		out.Photos = append([]string(nil), r.Photos...)
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ptr is a small helper for building optional fields.
func Ptr[T any](v T) *T {
	return &v
}
