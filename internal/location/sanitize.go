// Package location backfills missing or invalid coordinates with synthetic
// ones scattered around a reference point, so that participants without a
// usable position can still be plotted without landing on top of each other.
// Synthetic coordinates are cosmetic and never a real position.
package location

import (
	crand "crypto/rand"
	"encoding/binary"
	"math"
	"math/rand"

	"github.com/ashita-ai/hyoka/internal/model"
)

const (
	// DefaultRadiusKm bounds the jitter distance from the centre.
	DefaultRadiusKm = 10.0

	earthRadiusKm = 6371.0088

	// collisionEpsilon is the tolerance (degrees) under which two synthetic
	// coordinates count as the same point.
	collisionEpsilon = 1e-9

	maxAttempts = 64
)

// Sanitizer assigns synthetic coordinates. It is not safe for concurrent use.
type Sanitizer struct {
	center   model.LatLon
	radiusKm float64
	rng      *rand.Rand
}

// Option configures a Sanitizer.
type Option func(*Sanitizer)

// WithCenter sets the reference point; the default is the origin (0, 0).
func WithCenter(c model.LatLon) Option {
	return func(s *Sanitizer) { s.center = c }
}

// WithRadiusKm sets the maximum jitter distance. Negative values become 0.
func WithRadiusKm(km float64) Option {
	return func(s *Sanitizer) { s.radiusKm = math.Max(0, km) }
}

// WithSeed makes the jitter reproducible.
func WithSeed(seed int64) Option {
	return func(s *Sanitizer) { s.rng = rand.New(rand.NewSource(seed)) } //nolint:gosec // cosmetic jitter, not security sensitive
}

// New creates a Sanitizer. Without WithSeed the source is seeded from crypto/rand.
func New(opts ...Option) *Sanitizer {
	s := &Sanitizer{radiusKm: DefaultRadiusKm}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(NewSeed())) //nolint:gosec // cosmetic jitter
	}
	return s
}

// NewSeed returns a seed from crypto/rand, falling back to a fixed value if
// the system source is unavailable.
func NewSeed() int64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 1
	}
	return int64(binary.LittleEndian.Uint64(b[:])) //nolint:gosec // reinterpretation of random bits
}

// Sanitize returns a synthetic coordinate for every distinct id. Within one
// call no two ids share a coordinate when the radius is positive.
func (s *Sanitizer) Sanitize(ids []string) map[string]model.LatLon {
	out := make(map[string]model.LatLon, len(ids))
	used := make([]model.LatLon, 0, len(ids))
	for _, id := range ids {
		if _, done := out[id]; done {
			continue
		}
		var p model.LatLon
		for attempt := 0; attempt < maxAttempts; attempt++ {
			p = s.jitter()
			if s.radiusKm == 0 || !collides(p, used) {
				break
			}
		}
		used = append(used, p)
		out[id] = p
	}
	return out
}

// jitter draws a point uniformly over the disc of radiusKm around the
// centre: uniform bearing, sqrt-distributed distance.
func (s *Sanitizer) jitter() model.LatLon {
	bearing := s.rng.Float64() * 2 * math.Pi
	distance := s.radiusKm * math.Sqrt(s.rng.Float64())
	return Destination(s.center, bearing, distance)
}

// Destination returns the point reached by travelling distanceKm from start
// along the initial bearing (radians, clockwise from north) on a sphere.
func Destination(start model.LatLon, bearing, distanceKm float64) model.LatLon {
	lat1 := start.Lat * math.Pi / 180
	lon1 := start.Lon * math.Pi / 180
	d := distanceKm / earthRadiusKm

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(d) + math.Cos(lat1)*math.Sin(d)*math.Cos(bearing))
	lon2 := lon1 + math.Atan2(math.Sin(bearing)*math.Sin(d)*math.Cos(lat1), math.Cos(d)-math.Sin(lat1)*math.Sin(lat2))

	lon := math.Mod(lon2*180/math.Pi+540, 360) - 180
	return model.LatLon{Lat: lat2 * 180 / math.Pi, Lon: lon}
}

// DistanceKm is the haversine distance between a and b.
func DistanceKm(a, b model.LatLon) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

func collides(p model.LatLon, used []model.LatLon) bool {
	for _, u := range used {
		if math.Abs(p.Lat-u.Lat) < collisionEpsilon && math.Abs(p.Lon-u.Lon) < collisionEpsilon {
			return true
		}
	}
	return false
}
