// Package locate finds the sample closest to a cursor across plotted series.
//
// Both axes are normalized by the visible range before measuring, so a hit
// means "close on screen" whatever the units or zoom level.
package locate

import (
	"math"
	"time"

	"codeberg.org/mutker/mbscope/internal/buffer"
)

// DefaultThreshold is the largest normalized distance that counts as a hit.
const DefaultThreshold = 0.05

type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

type Series struct {
	Label  string  `json:"label"`
	Points []Point `json:"points"`
}

// Viewport is the visible range of both axes.
type Viewport struct {
	TimeMin  time.Time `json:"time_min"`
	TimeMax  time.Time `json:"time_max"`
	ValueMin float64   `json:"value_min"`
	ValueMax float64   `json:"value_max"`
}

type Hit struct {
	Label    string  `json:"label"`
	Point    Point   `json:"point"`
	Distance float64 `json:"distance"`
}

// FromSamples builds a series from buffered samples.
func FromSamples(label string, samples []buffer.Sample) Series {
	points := make([]Point, len(samples))
	for i, s := range samples {
		points[i] = Point{Time: s.Timestamp, Value: s.Value}
	}

	return Series{Label: label, Points: points}
}

// Fit returns the smallest viewport containing every point.
func Fit(series []Series) Viewport {
	var (
		v     Viewport
		first = true
	)
	for _, s := range series {
		for _, p := range s.Points {
			if first {
				v = Viewport{TimeMin: p.Time, TimeMax: p.Time, ValueMin: p.Value, ValueMax: p.Value}
				first = false
				continue
			}
			if p.Time.Before(v.TimeMin) {
				v.TimeMin = p.Time
			}
			if p.Time.After(v.TimeMax) {
				v.TimeMax = p.Time
			}
			v.ValueMin = math.Min(v.ValueMin, p.Value)
			v.ValueMax = math.Max(v.ValueMax, p.Value)
		}
	}

	return v
}

// Nearest returns the point closest to cursor within threshold, measured in
// viewport-normalized units. A non-positive threshold means
// DefaultThreshold. Ties go to the earlier series, then the earlier point.
func Nearest(cursor Point, view Viewport, series []Series, threshold float64) (Hit, bool) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	// Zero-width axes fall back to raw seconds and raw values.
	timeSpan := view.TimeMax.Sub(view.TimeMin).Seconds()
	if timeSpan <= 0 {
		timeSpan = 1
	}
	valueSpan := view.ValueMax - view.ValueMin
	if valueSpan <= 0 {
		valueSpan = 1
	}

	best := Hit{Distance: math.Inf(1)}
	for _, s := range series {
		for _, p := range s.Points {
			dt := p.Time.Sub(cursor.Time).Seconds() / timeSpan
			dv := (p.Value - cursor.Value) / valueSpan
			if d := math.Hypot(dt, dv); d < best.Distance {
				best = Hit{Label: s.Label, Point: p, Distance: d}
			}
		}
	}

	if best.Distance >= threshold {
		return Hit{}, false
	}

	return best, true
}
