package zipfile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDosTimeRoundTrip(t *testing.T) {
	tests := []time.Time{
		time.Date(2009, time.November, 10, 23, 45, 58, 0, time.Local),
		time.Date(1980, time.January, 1, 0, 0, 0, 0, time.Local),
		time.Date(2107, time.December, 31, 23, 59, 58, 0, time.Local),
		time.Date(2024, time.June, 15, 12, 0, 2, 0, time.Local),
	}
	for _, want := range tests {
		got := dosTimeToTime(timeToDosTime(want))
		assert.True(t, got.Equal(want), "round trip %v, got %v", want, got)
	}
}

func TestDosTimeTruncatesToTwoSeconds(t *testing.T) {
	odd := time.Date(2020, time.March, 3, 10, 20, 31, 500e6, time.Local)
	got := dosTimeToTime(timeToDosTime(odd))
	assert.Equal(t, 30, got.Second())
	assert.Equal(t, 0, got.Nanosecond())
}

func TestDosTimeClamping(t *testing.T) {
	early := time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, dosTimeEarliest, timeToDosTime(early))

	late := time.Date(2200, time.January, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, dosTimeLatest, timeToDosTime(late))
}

func TestNtfsTimeRoundTrip(t *testing.T) {
	want := time.Date(2018, time.September, 12, 17, 4, 26, 617e6, time.UTC)
	got := ntfsTimeToTime(timeToNtfsTime(want))
	assert.True(t, got.Equal(want), "round trip %v, got %v", want, got)
}

func TestNtfsEpoch(t *testing.T) {
	epoch := time.Date(1601, time.January, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, uint64(0), timeToNtfsTime(epoch))
	assert.True(t, ntfsTimeToTime(0).Equal(epoch))
}
