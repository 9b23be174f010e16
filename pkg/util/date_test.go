package util

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	require.True(t, ok)
	assert.Equal(t, s, got.UTC().Format(time.RFC3339))
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	require.True(t, ok)
	assert.Equal(t, ts, got.Unix())
}

func TestParseTimeRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "yesterday", "0", "-5"} {
		_, ok := ParseTime(s)
		assert.False(t, ok, s)
	}
}

func TestAgeSeconds(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 10, 0, 0, time.UTC)
	assert.Equal(t, 600.0, AgeSeconds(now.Add(-10*time.Minute), now))
	assert.Equal(t, 0.0, AgeSeconds(now.Add(time.Minute), now))
}

func TestSplitCSV(t *testing.T) {
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, SplitCSV(" k1:9092, ,k2:9092 "))
	assert.Empty(t, SplitCSV(""))
}
