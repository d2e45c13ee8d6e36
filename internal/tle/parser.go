package tle

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"

	"github.com/akhenakh/sgp4"

	"github.com/star/sgp4d/internal/orbit"
)

const (
	minutesPerDay = 1440.0
	deg2rad       = math.Pi / 180.0
)

// Parse reads 2- or 3-line NORAD TLE text from r. Name lines are optional.
// Entries that fail to parse or fail their checksum are skipped with a
// warning log.
func Parse(r io.Reader, logger *slog.Logger) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading TLE data: %w", err)
	}

	var entries []Entry
	for i := 0; i < len(lines); {
		var name, line1, line2 string
		switch {
		case i+1 < len(lines) && isLine(lines[i], '1') && isLine(lines[i+1], '2'):
			line1, line2 = lines[i], lines[i+1]
			i += 2
		case i+2 < len(lines) && isLine(lines[i+1], '1') && isLine(lines[i+2], '2'):
			name, line1, line2 = strings.TrimSpace(lines[i]), lines[i+1], lines[i+2]
			i += 3
		default:
			logger.Warn("skipping malformed TLE entry", "line_index", i, "line", lines[i])
			i++
			continue
		}

		entry, err := ParseLines(name, line1, line2)
		if err != nil {
			logger.Warn("skipping invalid TLE entry", "name", name, "error", err)
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func isLine(s string, n byte) bool {
	return len(s) > 2 && s[0] == n && s[1] == ' '
}

// ParseLines parses one element set. name may be empty.
func ParseLines(name, line1, line2 string) (Entry, error) {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)

	t, err := sgp4.ParseTLE(line1 + "\n" + line2)
	if err != nil {
		return Entry{}, err
	}
	if name == "" {
		name = fmt.Sprintf("NORAD %d", t.SatelliteNumber)
	}
	t.Name = name

	entry := fromTLE(t)
	entry.Line1 = line1
	entry.Line2 = line2
	return entry, nil
}

// ParseOMM reads a JSON array of CCSDS OMM records.
func ParseOMM(data []byte, logger *slog.Logger) ([]Entry, error) {
	omms, err := sgp4.ParseOMMs(data)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(omms))
	for i := range omms {
		t, err := omms[i].ToTLE()
		if err != nil {
			logger.Warn("skipping invalid OMM record", "name", omms[i].ObjectName, "norad_id", omms[i].NoradCatID, "error", err)
			continue
		}
		entries = append(entries, fromTLE(t))
	}
	return entries, nil
}

func fromTLE(t *sgp4.TLE) Entry {
	epoch := t.EpochTime()
	return Entry{
		NORADID:  t.SatelliteNumber,
		Name:     strings.TrimSpace(t.Name),
		Epoch:    epoch,
		Elements: ElementsFromTLE(t),
	}
}

// ElementsFromTLE converts TLE fields (degrees, revolutions per day) to the
// propagator's units (radians, radians per minute, ET seconds).
func ElementsFromTLE(t *sgp4.TLE) orbit.Elements {
	return orbit.Elements{
		NDot:  t.MeanMotionDot * 2 * math.Pi / (minutesPerDay * minutesPerDay),
		NDDot: t.MeanMotionDot2 * 2 * math.Pi / (minutesPerDay * minutesPerDay * minutesPerDay),
		BStar: t.Bstar,
		Incl:  t.Inclination * deg2rad,
		RAAN:  t.RightAscension * deg2rad,
		Ecc:   t.Eccentricity,
		ArgP:  t.ArgOfPerigee * deg2rad,
		M:     t.MeanAnomaly * deg2rad,
		N:     t.MeanMotion * 2 * math.Pi / minutesPerDay,
		Epoch: orbit.ETFromTime(t.EpochTime()),
	}
}
