package stats

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"rollbook/internal/model"
)

func TestRate(t *testing.T) {
	assert.Equal(t, 0.0, Rate(0, 0))
	assert.Equal(t, 100.0, Rate(3, 3))
	assert.Equal(t, 66.67, Rate(2, 3))
	assert.Equal(t, 33.33, Rate(1, 3))
	assert.Equal(t, 14.29, Rate(1, 7))
	assert.Equal(t, 0.0, Rate(0, 5))
}

func TestRateRoundsHalvesToEven(t *testing.T) {
	for _, c := range []struct {
		present, total int
		want           float64
	}{
		{1, 800, 0.12},
		{1, 160, 0.62},
		{1, 32, 3.12},
		{5, 32, 15.62},
		{3, 32, 9.38},
		{1, 8, 12.5},
	} {
		assert.Equal(t, c.want, Rate(c.present, c.total), "present=%d total=%d", c.present, c.total)
	}
}

func TestRateStaysWithinHalfACent(t *testing.T) {
	for total := 1; total <= 200; total++ {
		for present := 0; present <= total; present++ {
			raw := float64(present) / float64(total) * 100
			got := Rate(present, total)
			assert.InDelta(t, raw, got, 0.005+1e-9, "present=%d total=%d", present, total)
			assert.Equal(t, got, math.Round(got*100)/100, "present=%d total=%d", present, total)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 100.0)
		}
	}
}

func TestCount(t *testing.T) {
	d1 := model.NewDate(2025, time.January, 15)
	d2 := model.NewDate(2025, time.January, 16)
	records := []model.Record{
		{Date: d1, Status: model.StatusPresent},
		{Date: d1, Status: model.StatusAbsent},
		{Date: d2, Status: model.StatusLate},
		{Date: d2, Status: model.StatusExcused},
		{Date: d2, Status: model.StatusPresent},
	}
	got := Count(records)
	assert.Equal(t, Tally{Total: 5, Present: 2, Absent: 1, Late: 1, Excused: 1, UniqueDays: 2}, got)
	assert.Equal(t, 40.0, got.Rate())

	empty := Count(nil)
	assert.Equal(t, Tally{}, empty)
	assert.Equal(t, 0.0, empty.Rate())
}
