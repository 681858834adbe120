package model

import (
	"database/sql"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SchemaVersion is stamped into StoreInfo on migration.
const SchemaVersion = 1

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&StoreInfo{},
	&ParkingLocation{},
}

// StoreInfo records the schema version a database was migrated with
type StoreInfo struct {
	gorm.Model
	SchemaVersion int    `json:"schemaVersion"`
	CreatedBy     string `json:"createdBy" gorm:"size:64"`
}

func (*StoreInfo) TableName() string {
	return "store_infos"
}

// ParkingLocation is a saved parking spot.
// Latitude/Longitude keep the exact WGS84 values; Position holds the same
// place in EPSG:3857 for spatial queries.
type ParkingLocation struct {
	ID                string          `json:"id" gorm:"primaryKey;size:64"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
	Timestamp         time.Time       `json:"timestamp" gorm:"index:idx_parking_timestamp"`
	Latitude          float64         `json:"latitude"`
	Longitude         float64         `json:"longitude"`
	Position          geom.Point      `json:"position"`
	Address           sql.NullString  `json:"address" gorm:"size:512"`
	Note              sql.NullString  `json:"note" gorm:"size:1024"`
	ParkingType       string          `json:"parkingType" gorm:"size:16"`
	IsManualPlacement bool            `json:"isManualPlacement"`
	Accuracy          sql.NullFloat64 `json:"accuracy"`
	Cost              sql.NullFloat64 `json:"cost"`
	Photos            datatypes.JSON  `json:"photos"`
	ExpiryTime        sql.NullTime    `json:"expiryTime" gorm:"index:idx_parking_expiry"`
	ReminderMinutes   sql.NullInt32   `json:"reminderMinutes"`
	ExtensionCount    sql.NullInt32   `json:"extensionCount"`
}

func (*ParkingLocation) TableName() string {
	return "parking_locations"
}
