package eta

import (
	"math"

	"github.com/example/job-tracking/internal/geo"
	"github.com/example/job-tracking/internal/models"
)

// DefaultSpeedMps is ~28.8 km/h, a typical urban average for a loaded truck.
const DefaultSpeedMps = 8.0

// Naive ETA: distance / speed_mps. Tracking only needs a rough figure.
func EstimateSeconds(from, to models.Coord, speedMps float64) float64 {
	if speedMps <= 0 {
		speedMps = DefaultSpeedMps
	}
	return geo.Distance(from, to) / speedMps
}

// Minutes rounds the estimate up to whole minutes; a driver on top of the
// pickup reports 0.
func Minutes(from, to models.Coord, speedMps float64) int {
	return int(math.Ceil(EstimateSeconds(from, to, speedMps) / 60))
}

// MinutesPtr is Minutes for optional coordinates; it returns nil when either
// end is unknown.
func MinutesPtr(from, to *models.Coord, speedMps float64) *int {
	if from == nil || to == nil {
		return nil
	}
	m := Minutes(*from, *to, speedMps)
	return &m
}
