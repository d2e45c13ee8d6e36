// Package batch stores many satellites' elements and propagated states in
// structure-of-arrays form so the propagator can walk them in lane groups.
package batch

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/star/sgp4d/internal/orbit"
)

const (
	// LaneMultiple is the granularity capacities are rounded up to.
	LaneMultiple = 8

	// Align is the byte alignment of every array start.
	Align = 64

	// MaxCapacity bounds a single allocation (satellites * steps for results).
	MaxCapacity = 1 << 26
)

var (
	ErrInvalidCount = errors.New("batch count must be at least 1")
	ErrAllocation   = errors.New("batch allocation failed")
)

// Batch holds Count satellites' elements padded to Capacity.
// Padding lanes stay zero and are never read back as results.
type Batch struct {
	Count    int
	Capacity int

	NDot  []float64
	NDDot []float64
	BStar []float64
	Incl  []float64
	RAAN  []float64
	Ecc   []float64
	ArgP  []float64
	M     []float64
	N     []float64
	Epoch []float64

	// Derived, filled by propagation.Derive.
	A          []float64
	AltApogee  []float64
	AltPerigee []float64
}

// Capacity returns count rounded up to LaneMultiple.
func Capacity(count int) int {
	return ((count + LaneMultiple - 1) / LaneMultiple) * LaneMultiple
}

// Allocate returns a zero-filled batch for count satellites.
func Allocate(count int) (*Batch, error) {
	if count < 1 {
		return nil, ErrInvalidCount
	}
	capacity := Capacity(count)
	if capacity > MaxCapacity {
		return nil, fmt.Errorf("%w: capacity %d exceeds %d", ErrAllocation, capacity, MaxCapacity)
	}

	b := &Batch{Count: count, Capacity: capacity}
	for _, p := range b.arrays() {
		*p = alignedFloats(capacity)
	}
	return b, nil
}

func (b *Batch) arrays() []*[]float64 {
	return []*[]float64{
		&b.NDot, &b.NDDot, &b.BStar, &b.Incl, &b.RAAN,
		&b.Ecc, &b.ArgP, &b.M, &b.N, &b.Epoch,
		&b.A, &b.AltApogee, &b.AltPerigee,
	}
}

// Set writes one satellite's elements. Out-of-range indexes are ignored.
func (b *Batch) Set(index int, e orbit.Elements) {
	if b == nil || index < 0 || index >= b.Capacity || b.NDot == nil {
		return
	}
	b.NDot[index] = e.NDot
	b.NDDot[index] = e.NDDot
	b.BStar[index] = e.BStar
	b.Incl[index] = e.Incl
	b.RAAN[index] = e.RAAN
	b.Ecc[index] = e.Ecc
	b.ArgP[index] = e.ArgP
	b.M[index] = e.M
	b.N[index] = e.N
	b.Epoch[index] = e.Epoch
}

// Elements reads back one satellite's elements.
func (b *Batch) Elements(index int) (orbit.Elements, bool) {
	if b == nil || index < 0 || index >= b.Count || b.NDot == nil {
		return orbit.Elements{}, false
	}
	return orbit.Elements{
		NDot:  b.NDot[index],
		NDDot: b.NDDot[index],
		BStar: b.BStar[index],
		Incl:  b.Incl[index],
		RAAN:  b.RAAN[index],
		Ecc:   b.Ecc[index],
		ArgP:  b.ArgP[index],
		M:     b.M[index],
		N:     b.N[index],
		Epoch: b.Epoch[index],
	}, true
}

// Released reports whether Release has been called.
func (b *Batch) Released() bool {
	return b == nil || b.NDot == nil
}

// Release drops every array. Safe to call more than once.
func (b *Batch) Release() {
	if b == nil {
		return
	}
	for _, p := range b.arrays() {
		*p = nil
	}
}

// alignedFloats returns a zeroed slice of n float64 whose first element sits
// on an Align-byte boundary. The capacity is clipped so appends reallocate.
func alignedFloats(n int) []float64 {
	const pad = Align / 8
	buf := make([]float64, n+pad)
	off := 0
	if rem := uintptr(unsafe.Pointer(&buf[0])) % Align; rem != 0 {
		off = int((Align - rem) / 8)
	}
	return buf[off : off+n : off+n]
}

func aligned(s []float64) bool {
	return len(s) == 0 || uintptr(unsafe.Pointer(&s[0]))%Align == 0
}
