package dashboard

import "math"

// GaugeMaxCM is the distance shown as an empty gauge.
const GaugeMaxCM = 50.0

// Level is the gauge coloring band.
type Level string

const (
	LevelCritical Level = "critical" // d <= 5cm
	LevelWarning  Level = "warning"  // d <= 15cm
	LevelNormal   Level = "normal"
)

// Gauge is the radial fill for one distance reading. The closer the water,
// the fuller the gauge.
type Gauge struct {
	DistanceCM float64
	Percent    float64 // 0..100
	Level      Level
}

func NewGauge(distanceCM float64) Gauge {
	if math.IsNaN(distanceCM) {
		distanceCM = 0
	}
	pct := 100 - math.Min(distanceCM, GaugeMaxCM)/GaugeMaxCM*100
	pct = math.Max(0, math.Min(100, pct))

	level := LevelNormal
	switch {
	case distanceCM <= 5:
		level = LevelCritical
	case distanceCM <= 15:
		level = LevelWarning
	}
	return Gauge{DistanceCM: distanceCM, Percent: pct, Level: level}
}
