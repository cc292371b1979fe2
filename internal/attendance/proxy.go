package attendance

import (
	"math"
	"time"

	"attendanceportal/internal/model"
)

// Proxy reasons stored on flagged records.
const (
	ReasonLate            = "late"
	ReasonMissingLocation = "missing_location"
	ReasonOutsideGeofence = "outside_geofence"
	ReasonFaceMismatch    = "face_mismatch"
	ReasonTeacher         = "teacher"
)

// Detector inspects a check-in against its session and reports why it looks
// like proxy attendance. An empty reason means the check-in looks genuine.
type Detector interface {
	Inspect(s model.AttendanceSession, r model.AttendanceRecord) string
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(s model.AttendanceSession, r model.AttendanceRecord) string

// Inspect calls f.
func (f DetectorFunc) Inspect(s model.AttendanceSession, r model.AttendanceRecord) string {
	return f(s, r)
}

// Chain runs detectors in order and reports the first reason found.
type Chain []Detector

// Inspect implements Detector.
func (c Chain) Inspect(s model.AttendanceSession, r model.AttendanceRecord) string {
	for _, d := range c {
		if reason := d.Inspect(s, r); reason != "" {
			return reason
		}
	}
	return ""
}

// DefaultDetectors flags late check-ins and check-ins away from a geotagged
// session.
func DefaultDetectors(radiusM float64) Chain {
	return Chain{TimeWindow{}, Geofence{RadiusM: radiusM}}
}

// TimeWindow flags check-ins stamped after the session end.
type TimeWindow struct{}

// Inspect implements Detector.
func (TimeWindow) Inspect(s model.AttendanceSession, r model.AttendanceRecord) string {
	if r.Timestamp.After(s.EndTime) {
		return ReasonLate
	}
	return ""
}

// Geofence flags check-ins outside RadiusM meters of a geotagged session.
type Geofence struct {
	RadiusM float64
}

// Inspect implements Detector.
func (g Geofence) Inspect(s model.AttendanceSession, r model.AttendanceRecord) string {
	if !s.Geotagged() || g.RadiusM <= 0 {
		return ""
	}
	if !r.Located() {
		return ReasonMissingLocation
	}
	if DistanceMeters(*s.Latitude, *s.Longitude, *r.Latitude, *r.Longitude) > g.RadiusM {
		return ReasonOutsideGeofence
	}
	return ""
}

const earthRadiusM = 6371000.0

// DistanceMeters is the haversine great-circle distance between two points.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusM * math.Asin(math.Min(1, math.Sqrt(a)))
}

// deadline is the last instant a check-in is accepted.
func deadline(s model.AttendanceSession, grace time.Duration) time.Time {
	return s.EndTime.Add(grace)
}
