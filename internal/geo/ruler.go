package geo

import "math"

// Point is a GPS coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Ruler measures distances in meters using a flat-earth (equirectangular)
// projection anchored at a reference latitude. The approximation is accurate
// to well under 0.5% for the distances a single trip covers, which is far
// tighter than any of the location thresholds we compare against.
type Ruler struct {
	kx float64 // meters per degree of longitude at the anchor latitude
	ky float64 // meters per degree of latitude at the anchor latitude
}

// NewRuler creates a Ruler anchored at the given latitude, typically the
// latitude of the trip_start event.
func NewRuler(lat float64) *Ruler {
	// FCC-style series expansion of longitude/latitude degree lengths.
	cos := math.Cos(lat * math.Pi / 180)
	cos2 := 2*cos*cos - 1
	cos3 := 2*cos*cos2 - cos
	cos4 := 2*cos*cos3 - cos2
	cos5 := 2*cos*cos4 - cos3

	return &Ruler{
		kx: 1000 * (111.41513*cos - 0.09455*cos3 + 0.00012*cos5),
		ky: 1000 * (111.13209 - 0.56605*cos2 + 0.0012*cos4),
	}
}

// Distance returns the distance between two points in meters.
// Returns NaN if either point is nil.
func (r *Ruler) Distance(a, b *Point) float64 {
	if a == nil || b == nil {
		return math.NaN()
	}
	dx := (a.Lng - b.Lng) * r.kx
	dy := (a.Lat - b.Lat) * r.ky
	return math.Sqrt(dx*dx + dy*dy)
}

// LineDistance returns the total length of the path through the given points
// in meters. Returns NaN if fewer than one point is given.
func (r *Ruler) LineDistance(points []*Point) float64 {
	if len(points) == 0 {
		return math.NaN()
	}
	total := 0.0
	for i := 1; i < len(points); i++ {
		total += r.Distance(points[i-1], points[i])
	}
	return total
}

// Percent returns the position of value between min and max as a number from
// 0...100. Returns NaN if value is NaN.
//
// NOTE: values below min clamp to 0 and values above max clamp to 1, NOT 100.
// The report graph relies on these exact clamp values to pin out-of-window
// events to the edges of the timeline, so don't "fix" this.
func Percent(value, min, max float64) float64 {
	if math.IsNaN(value) {
		return math.NaN()
	}
	if value < min {
		return 0
	}
	if value > max {
		return 1
	}
	return ((value - min) / (max - min)) * 100
}
