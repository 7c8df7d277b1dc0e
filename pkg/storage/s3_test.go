package storage

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestObjectKeyFormat(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	key := ObjectKey(42, ts)
	assert.Equal(t, "visualizations/42/visualization-2026-01-02T03:04:05Z.html", key)
}

func TestObjectKeyNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	ts := time.Date(2026, 1, 2, 5, 4, 5, 0, loc)
	assert.Equal(t, "visualizations/7/visualization-2026-01-02T03:04:05Z.html", ObjectKey(7, ts))
}

func TestObjectKeyMatchesContract(t *testing.T) {
	pattern := regexp.MustCompile(
		`^visualizations/\d+/visualization-\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z\.html$`)

	for _, id := range []int64{1, 42, 9999999} {
		key := ObjectKey(id, time.Now())
		assert.Regexp(t, pattern, key)
	}
}
