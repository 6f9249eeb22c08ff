package fare

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/airbear/internal/geo"
)

func TestZeroDistanceIsBaseFareAndMinimumTime(t *testing.T) {
	e := DefaultEstimator()
	assert.True(t, e.Fare(0).Equal(e.BaseFare))
	assert.Equal(t, e.MinMinutes, e.Minutes(0))
	assert.True(t, e.Fare(-3).Equal(e.BaseFare), "negative distances clamp to zero")
}

func TestEstimatesAreMonotonic(t *testing.T) {
	e := DefaultEstimator()
	prevFare := e.Fare(0)
	prevMin := e.Minutes(0)
	for d := 0.05; d < 40; d += 0.137 {
		f := e.Fare(d)
		m := e.Minutes(d)
		assert.True(t, prevFare.LessThanOrEqual(f), "fare(%v)=%s < previous %s", d, f, prevFare)
		assert.LessOrEqual(t, prevMin, m, "minutes(%v)", d)
		prevFare, prevMin = f, m
	}
}

func TestFareRoundsToCents(t *testing.T) {
	e := Estimator{BaseFare: decimal.RequireFromString("4.00"), PerKm: decimal.RequireFromString("1.50"), AverageSpeedKmh: 15, MinMinutes: 2}
	assert.Equal(t, "7.00", e.Fare(2).StringFixed(2))
	assert.Equal(t, "4.02", e.Fare(0.0123).StringFixed(2))
}

func TestMinutesAtAverageSpeed(t *testing.T) {
	e := Estimator{AverageSpeedKmh: 15, MinMinutes: 2}
	assert.Equal(t, 20, e.Minutes(5))
	assert.Equal(t, 2, e.Minutes(0.1))
	assert.Equal(t, 2, Estimator{MinMinutes: 2}.Minutes(10), "zero speed falls back to minimum")
}

func TestQuote(t *testing.T) {
	tbl := geo.DefaultTable()
	e := DefaultEstimator()

	q, err := e.Quote(tbl, "court-street", "binghamton-university")
	require.NoError(t, err)
	assert.InDelta(t, 4.4, q.DistanceKm, 0.2)
	assert.True(t, q.Fare.GreaterThan(e.BaseFare))
	assert.Greater(t, q.Minutes, e.MinMinutes)

	same, err := e.Quote(tbl, "court-street", "court-street")
	require.NoError(t, err)
	assert.Zero(t, same.DistanceKm)
	assert.True(t, same.Fare.Equal(e.BaseFare))

	_, err = e.Quote(tbl, "court-street", "atlantis")
	assert.ErrorIs(t, err, ErrSpotNotFound)
}
