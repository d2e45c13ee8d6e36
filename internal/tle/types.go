package tle

import (
	"time"

	"github.com/star/sgp4d/internal/orbit"
	"github.com/star/sgp4d/internal/propagation"
)

// Entry is one satellite's element set. Line1 and Line2 are empty when the
// entry came from an OMM record.
type Entry struct {
	NORADID  int
	Name     string
	Epoch    time.Time
	Line1    string
	Line2    string
	Elements orbit.Elements
}

// Satellite converts the entry into a propagation input.
func (e Entry) Satellite() propagation.Satellite {
	return propagation.Satellite{
		NORADID:  e.NORADID,
		Name:     e.Name,
		Elements: e.Elements,
		Line1:    e.Line1,
		Line2:    e.Line2,
	}
}

// EpochRange represents the minimum and maximum epoch times in a dataset.
type EpochRange struct {
	Min time.Time
	Max time.Time
}

// Dataset is a complete catalog from one source.
type Dataset struct {
	Source     string
	FetchedAt  time.Time
	EpochRange EpochRange
	Satellites []Entry
}

// NewDataset builds a dataset and computes its epoch range.
func NewDataset(source string, fetchedAt time.Time, entries []Entry) *Dataset {
	ds := &Dataset{Source: source, FetchedAt: fetchedAt, Satellites: entries}
	if len(entries) == 0 {
		return ds
	}
	ds.EpochRange = EpochRange{Min: entries[0].Epoch, Max: entries[0].Epoch}
	for _, e := range entries[1:] {
		if e.Epoch.Before(ds.EpochRange.Min) {
			ds.EpochRange.Min = e.Epoch
		}
		if e.Epoch.After(ds.EpochRange.Max) {
			ds.EpochRange.Max = e.Epoch
		}
	}
	return ds
}
