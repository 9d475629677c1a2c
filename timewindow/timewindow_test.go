// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package timewindow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBacklog(t *testing.T) {
	minutes, err := ParseBacklog("1d")
	require.NoError(t, err)
	assert.Equal(t, 1440, minutes)

	minutes, err = ParseBacklog("1M")
	require.NoError(t, err)
	assert.Equal(t, 43800, minutes)

	minutes, err = ParseBacklog("10m")
	require.NoError(t, err)
	assert.Equal(t, 10, minutes)
}

func TestParseBacklogInvalid(t *testing.T) {
	_, err := ParseBacklog("")
	assert.Error(t, err)

	_, err = ParseBacklog("10x")
	assert.Error(t, err)

	_, err = ParseBacklog("xh")
	assert.Error(t, err)
}

func TestSliceOverlap(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	stop := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	windows := Slice(start, stop, 720)
	require.Len(t, windows, 3)

	assert.True(t, windows[0].Start.Equal(start))
	assert.True(t, windows[0].Stop.Equal(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)))

	assert.True(t, windows[1].Start.Equal(time.Date(2024, 1, 1, 11, 30, 0, 0, time.UTC)))
	assert.True(t, windows[1].Stop.Equal(time.Date(2024, 1, 1, 23, 30, 0, 0, time.UTC)))

	assert.True(t, windows[2].Start.Equal(time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC)))
	assert.True(t, windows[2].Stop.Equal(time.Date(2024, 1, 2, 11, 0, 0, 0, time.UTC)))

	for i := 0; i < len(windows)-1; i++ {
		assert.True(t, windows[i+1].Start.Equal(windows[i].Stop.Add(-30*time.Minute)))
	}
}

func TestSliceCoversInterval(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	stop := time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC)
	windows := Slice(start, stop, 30)
	require.NotEmpty(t, windows)
	assert.True(t, windows[0].Start.Equal(start))
	assert.False(t, windows[len(windows)-1].Stop.Before(stop))
}

func TestSliceEmptyOnInvalidRange(t *testing.T) {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	stop := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Nil(t, Slice(start, stop, 60))
	assert.Nil(t, Slice(start, stop, 0))
}
