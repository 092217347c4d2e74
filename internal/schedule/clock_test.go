package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComposeClock(t *testing.T) {
	day := time.Date(2025, time.March, 14, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		hour     int
		minute   int
		period   Period
		wantHour int
	}{
		{"midnight", 12, 0, AM, 0},
		{"noon", 12, 30, PM, 12},
		{"morning", 9, 15, AM, 9},
		{"afternoon", 3, 45, PM, 15},
		{"late evening", 11, 59, PM, 23},
		{"one am", 1, 0, AM, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComposeClock(day, tt.hour, tt.minute, tt.period)
			require.NoError(t, err)
			assert.Equal(t, tt.wantHour, got.Hour())
			assert.Equal(t, tt.minute, got.Minute())
			assert.Equal(t, day.Day(), got.Day())
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestComposeClock_Invalid(t *testing.T) {
	day := time.Now()

	_, err := ComposeClock(day, 0, 0, AM)
	assert.Error(t, err)

	_, err = ComposeClock(day, 13, 0, PM)
	assert.Error(t, err)

	_, err = ComposeClock(day, 10, 60, AM)
	assert.Error(t, err)

	_, err = ComposeClock(day, 10, 0, Period("XM"))
	assert.Error(t, err)
}

func TestParsePeriod(t *testing.T) {
	for _, s := range []string{"AM", "am", "Am"} {
		p, err := ParsePeriod(s)
		assert.NoError(t, err)
		assert.Equal(t, AM, p)
	}

	p, err := ParsePeriod("pm")
	assert.NoError(t, err)
	assert.Equal(t, PM, p)

	_, err = ParsePeriod("noon")
	assert.Error(t, err)
}

func TestValidateFuture(t *testing.T) {
	now := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

	assert.ErrorIs(t, ValidateFuture(now.Add(-time.Second), now), ErrNotInFuture)
	assert.ErrorIs(t, ValidateFuture(now, now), ErrNotInFuture)
	assert.NoError(t, ValidateFuture(now.Add(time.Nanosecond), now))
	assert.NoError(t, ValidateFuture(now.Add(time.Hour), now))
}
