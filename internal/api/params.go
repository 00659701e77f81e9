package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aryanshmalviya/street-light-management-system-BE/internal/fleet"
)

const dateOnly = "2006-01-02"

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", dateOnly}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", fleet.ErrInvalidInput, key)
	}
	return n, nil
}

func queryBool(r *http.Request, key string) (bool, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean", fleet.ErrInvalidInput, key)
	}
	return b, nil
}

// queryTime parses an optional date or timestamp; a missing value is the zero time
func queryTime(r *http.Request, key string) (time.Time, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %s is not a valid date", fleet.ErrInvalidInput, key)
}

// queryEndTime is queryTime for an inclusive upper bound: a bare date covers
// the whole of that day
func queryEndTime(r *http.Request, key string) (time.Time, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if d, err := time.Parse(dateOnly, v); err == nil {
		return d.AddDate(0, 0, 1).Add(-time.Nanosecond).UTC(), nil
	}
	return queryTime(r, key)
}

// zoneParam reads the zone query parameter under either spelling
func zoneParam(r *http.Request) string {
	q := r.URL.Query()
	if z := q.Get("zoneId"); z != "" {
		return z
	}
	return q.Get("zone_id")
}
