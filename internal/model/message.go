package model

import (
	"math"
	"strings"
	"time"
)

// Message is a parsed exercise-report record. It is produced upstream and
// only read by the grading engine.
type Message struct {
	ID       string            `json:"id"`
	From     string            `json:"from"`
	To       string            `json:"to,omitempty"`
	Type     string            `json:"type"`
	Date     time.Time         `json:"date"`
	Location *LatLon           `json:"location,omitempty"`
	Fields   map[string]string `json:"fields"`
}

// Field returns the value stored under key, or nil when the message does not
// carry the field at all.
func (m Message) Field(key string) *string {
	if m.Fields == nil {
		return nil
	}
	v, ok := m.Fields[key]
	if !ok {
		return nil
	}
	return &v
}

// Recipient returns the trimmed To address, or nil when it is blank.
func (m Message) Recipient() *string {
	to := strings.TrimSpace(m.To)
	if to == "" {
		return nil
	}
	return &to
}

// LatLon is a pair of decimal degrees.
type LatLon struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// Valid reports whether the coordinate is finite, within range and not the
// zero/zero default that exports use for "no position".
func (p LatLon) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) {
		return false
	}
	if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		return false
	}
	return p.Lat != 0 || p.Lon != 0
}

// ValidLocation reports whether p is non-nil and Valid.
func ValidLocation(p *LatLon) bool {
	return p != nil && p.Valid()
}
