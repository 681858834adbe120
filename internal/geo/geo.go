package geo

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// Positions are persisted as EPSG:3857 points so the SQLite and Postgres
// backends store the same WKB regardless of spatial support. Records and
// placeholders are always expressed in WGS84 degrees.

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// PendingMarker prefixes an address that still holds raw coordinates.
const PendingMarker = "⏳"

var placeholderPattern = regexp.MustCompile(`^(?:` + PendingMarker + `\s*)?[-+]?\d+(?:\.\d+)?\s*,?\s*[-+]?\d+(?:\.\d+)?$`)

// IsPlaceholder reports whether addr only encodes coordinates, e.g.
// "40.416800, -3.703800" or "⏳ 40.416800, -3.703800".
func IsPlaceholder(addr string) bool {
	return placeholderPattern.MatchString(strings.TrimSpace(addr))
}

// NeedsResolution reports whether a record address should be backfilled.
// Absent and blank addresses count; any other non-placeholder text is
// considered resolved.
func NeedsResolution(addr *string) bool {
	if addr == nil || strings.TrimSpace(*addr) == "" {
		return true
	}
	return IsPlaceholder(*addr)
}

// FormatPlaceholder renders the pending-address text for a position.
func FormatPlaceholder(lat, lng float64) string {
	return fmt.Sprintf("%s %.6f, %.6f", PendingMarker, lat, lng)
}

// ValidLatLng reports whether lat/lng are finite WGS84 degrees in range.
func ValidLatLng(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// Point3857 converts WGS84 degrees to a Web Mercator point.
func Point3857(lat, lng float64) (geom.Point, error) {
	if !ValidLatLng(lat, lng) {
		return geom.NewEmptyPoint(geom.DimXY), ErrInvalidCoordinates
	}
	x, y := To3857(lat, lng)
	return geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: x, Y: y},
		Type: geom.DimXY,
	}), nil
}

// To3857 projects WGS84 degrees to Web Mercator metres.
func To3857(lat, lng float64) (x, y float64) {
	f := wgs84.EPSG().Transform(4326, 3857)
	x, y, _ = f(lng, lat, 0)
	return x, y
}
