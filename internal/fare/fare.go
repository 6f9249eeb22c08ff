package fare

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/example/airbear/internal/geo"
	"github.com/example/airbear/internal/models"
)

var ErrSpotNotFound = errors.New("spot not found")

// Estimator turns a distance into a fare and a duration. Both are
// non-decreasing in distance and never drop below the base fee and the
// minimum duration.
type Estimator struct {
	BaseFare        decimal.Decimal
	PerKm           decimal.Decimal
	AverageSpeedKmh float64
	MinMinutes      int
}

// DefaultEstimator matches the rates shipped with the service config.
func DefaultEstimator() Estimator {
	return Estimator{
		BaseFare:        decimal.RequireFromString("4.00"),
		PerKm:           decimal.RequireFromString("1.50"),
		AverageSpeedKmh: 15,
		MinMinutes:      2,
	}
}

// Fare is base + perKm*d, rounded to cents.
func (e Estimator) Fare(distanceKm float64) decimal.Decimal {
	if distanceKm < 0 || math.IsNaN(distanceKm) {
		distanceKm = 0
	}
	return e.BaseFare.Add(e.PerKm.Mul(decimal.NewFromFloat(distanceKm))).Round(2)
}

// Minutes is the estimated trip duration at the configured average speed.
func (e Estimator) Minutes(distanceKm float64) int {
	if distanceKm <= 0 || math.IsNaN(distanceKm) || e.AverageSpeedKmh <= 0 {
		return e.MinMinutes
	}
	m := int(math.Ceil(distanceKm / e.AverageSpeedKmh * 60))
	if m < e.MinMinutes {
		return e.MinMinutes
	}
	return m
}

// Quote estimates a trip between two spots of the table.
func (e Estimator) Quote(t *geo.Table, from, to string) (models.Quote, error) {
	d, ok := t.Distance(from, to)
	if !ok {
		return models.Quote{}, fmt.Errorf("%w: %s -> %s", ErrSpotNotFound, from, to)
	}
	return models.Quote{
		From:       from,
		To:         to,
		DistanceKm: math.Round(d*100) / 100,
		Fare:       e.Fare(d),
		Minutes:    e.Minutes(d),
	}, nil
}
