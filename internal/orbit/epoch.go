package orbit

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// J2000Unix is 2000-01-01T12:00:00Z as a Unix timestamp.
// The ET axis used here ignores leap seconds and the TDB-UTC offset.
const J2000Unix = 946728000.0

// ETFromTime converts a UTC time to seconds past J2000.
func ETFromTime(t time.Time) float64 {
	return float64(t.Unix()) - J2000Unix + float64(t.Nanosecond())/1e9
}

// TimeFromET converts seconds past J2000 back to UTC.
func TimeFromET(et float64) time.Time {
	sec := math.Floor(et)
	nsec := math.Round((et - sec) * 1e9)
	return time.Unix(int64(sec)+int64(J2000Unix), int64(nsec)).UTC()
}

var utcLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
}

// ParseUTC parses an ISO-8601 style UTC string into ET seconds.
// Strings without an offset are taken as UTC.
func ParseUTC(s string) (float64, error) {
	s = strings.TrimSpace(s)
	for _, layout := range utcLayouts {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err == nil {
			return ETFromTime(t), nil
		}
	}
	return 0, fmt.Errorf("invalid UTC time %q", s)
}

// ParseTime accepts either ET seconds as a decimal number or a UTC string.
func ParseTime(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if et, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(et) || math.IsInf(et, 0) {
			return 0, fmt.Errorf("invalid ET %q", s)
		}
		return et, nil
	}
	return ParseUTC(s)
}

// FormatUTC renders ET as an ISO-8601 UTC string with millisecond precision.
func FormatUTC(et float64) string {
	return TimeFromET(et).Format("2006-01-02T15:04:05.000Z")
}

// Time returns the state vector's timestamp as UTC.
func (s StateVector) Time() time.Time {
	return TimeFromET(s.ET)
}
