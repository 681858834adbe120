// Package convert provides functions to convert between GORM models and core models
package convert

import (
	"database/sql"
	"encoding/json"

	"github.com/parkspot/tracker/internal/geo"
	"github.com/parkspot/tracker/internal/model"
	"github.com/parkspot/tracker/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
)

// photosToJSON converts a []string to datatypes.JSON for DB storage.
func photosToJSON(photos []string) datatypes.JSON {
	if len(photos) == 0 {
		return datatypes.JSON("[]")
	}
	data, _ := json.Marshal(photos)
	return datatypes.JSON(data)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullInt(i *int) sql.NullInt32 {
	if i == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(*i), Valid: true}
}

// CoreToParkingLocation converts a core.LocationRecord to a GORM model.ParkingLocation.
func CoreToParkingLocation(r core.LocationRecord) model.ParkingLocation {
	pos, err := geo.Point3857(r.Latitude, r.Longitude)
	if err != nil {
		pos = geom.NewEmptyPoint(geom.DimXY)
	}

	var expiry sql.NullTime
	if r.ExpiryTime != nil {
		expiry = sql.NullTime{Time: r.ExpiryTime.UTC(), Valid: true}
	}

	return model.ParkingLocation{
		ID:                r.ID,
		Timestamp:         r.Timestamp.UTC(),
		Latitude:          r.Latitude,
		Longitude:         r.Longitude,
		Position:          pos,
		Address:           nullString(r.Address),
		Note:              nullString(r.Note),
		ParkingType:       string(r.ParkingType),
		IsManualPlacement: r.IsManualPlacement,
		Accuracy:          nullFloat(r.Accuracy),
		Cost:              nullFloat(r.Cost),
		Photos:            photosToJSON(r.Photos),
		ExpiryTime:        expiry,
		ReminderMinutes:   nullInt(r.ReminderMinutes),
		ExtensionCount:    nullInt(r.ExtensionCount),
	}
}
