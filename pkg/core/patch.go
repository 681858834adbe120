package core

import "time"

// Patch is a partial update for a LocationRecord. Nil fields are left
// untouched. The Clear flags remove optional timer fields, since a nil pointer
// cannot express "set to absent". ClearExpiry without a new expiry clears
// the whole timer.
type Patch struct {
	Latitude          *float64     `json:"latitude,omitempty"`
	Longitude         *float64     `json:"longitude,omitempty"`
	Address           *string      `json:"address,omitempty"`
	Note              *string      `json:"note,omitempty"`
	ParkingType       *ParkingType `json:"parkingType,omitempty"`
	IsManualPlacement *bool        `json:"isManualPlacement,omitempty"`
	Accuracy          *float64     `json:"accuracy,omitempty"`
	Cost              *float64     `json:"cost,omitempty"`
	Photos            *[]string    `json:"photos,omitempty"`
	ExpiryTime        *time.Time   `json:"expiryTime,omitempty"`
	ReminderMinutes   *int         `json:"reminderMinutes,omitempty"`
	ExtensionCount    *int         `json:"extensionCount,omitempty"`

	ClearExpiry     bool `json:"clearExpiry,omitempty"`
	ClearReminder   bool `json:"clearReminder,omitempty"`
	ClearExtensions bool `json:"clearExtensions,omitempty"`
}

// TouchesExpiry reports whether applying the patch changes the timer deadline.
func (p Patch) TouchesExpiry() bool {
	return p.ExpiryTime != nil || p.ClearExpiry
}

// Empty reports whether the patch would change nothing.
func (p Patch) Empty() bool {
	return p == Patch{}
}

// ClearTimerPatch removes every timer-related field.
func ClearTimerPatch() Patch {
	return Patch{ClearExpiry: true, ClearReminder: true, ClearExtensions: true}
}

// Apply merges p into r and returns the result. r is not modified.
// Id and timestamp are immutable and never patched.
func (r LocationRecord) Apply(p Patch) LocationRecord {
	out := r.Clone()
	if p.Latitude != nil {
		out.Latitude = *p.Latitude
	}
	if p.Longitude != nil {
		out.Longitude = *p.Longitude
	}
	if p.Address != nil {
		out.Address = clonePtr(p.Address)
	}
	if p.Note != nil {
		out.Note = clonePtr(p.Note)
	}
	if p.ParkingType != nil {
		out.ParkingType = *p.ParkingType
	}
	if p.IsManualPlacement != nil {
		out.IsManualPlacement = *p.IsManualPlacement
	}
	if p.Accuracy != nil {
		out.Accuracy = clonePtr(p.Accuracy)
	}
	if p.Cost != nil {
		out.Cost = clonePtr(p.Cost)
	}
	if p.Photos != nil {
		out.Photos = append([]string(nil), (*p.Photos)...)
	}

	if p.ClearExpiry {
		out.ExpiryTime = nil
	}
	if p.ExpiryTime != nil {
		out.ExpiryTime = clonePtr(p.ExpiryTime)
	}
	if p.ClearReminder {
		out.ReminderMinutes = nil
	}
	if p.ReminderMinutes != nil {
		out.ReminderMinutes = clonePtr(p.ReminderMinutes)
	}
	if p.ClearExtensions {
		out.ExtensionCount = nil
	}
	if p.ExtensionCount != nil {
		out.ExtensionCount = clonePtr(p.ExtensionCount)
	}

	// A cancelled timer keeps neither its reminder nor its extensions.
	if p.ClearExpiry && p.ExpiryTime == nil {
		out.ReminderMinutes = nil
		out.ExtensionCount = nil
	}
	return out
}
