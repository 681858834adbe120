package convert

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/parkspot/tracker/internal/model"
	"github.com/parkspot/tracker/pkg/core"
)

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	return &f.Float64
}

func intPtr(i sql.NullInt32) *int {
	if !i.Valid {
		return nil
	}
	v := int(i.Int32)
	return &v
}

// ParkingLocationToCore converts a GORM ParkingLocation to a core.LocationRecord.
// Times come back in UTC regardless of the driver's location handling.
func ParkingLocationToCore(p model.ParkingLocation) core.LocationRecord {
	var photos []string
	if len(p.Photos) > 0 {
		_ = json.Unmarshal(p.Photos, &photos)
	}
	if len(photos) == 0 {
		photos = nil
	}

	var expiry *time.Time
	if p.ExpiryTime.Valid {
		t := p.ExpiryTime.Time.UTC()
		expiry = &t
	}

	return core.LocationRecord{
		ID:                p.ID,
		Latitude:          p.Latitude,
		Longitude:         p.Longitude,
		Address:           stringPtr(p.Address),
		Timestamp:         p.Timestamp.UTC(),
		Note:              stringPtr(p.Note),
		ParkingType:       core.ParkingType(p.ParkingType),
		IsManualPlacement: p.IsManualPlacement,
		Accuracy:          floatPtr(p.Accuracy),
		Cost:              floatPtr(p.Cost),
		Photos:            photos,
		ExpiryTime:        expiry,
		ReminderMinutes:   intPtr(p.ReminderMinutes),
		ExtensionCount:    intPtr(p.ExtensionCount),
	}
}
