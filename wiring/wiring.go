// Package wiring maps one flat stacked model vector to named per-property
// sub-vectors and back. Each tracked physical property owns a contiguous,
// disjoint index range of equal length; the ranges partition the stacked
// vector exactly.
package wiring

import "fmt"

// ShapeError reports a stacked-vector length that does not match the
// wiring table. It is always surfaced, never silently truncated or padded.
type ShapeError struct {
	Len, Want int
}

func (e ShapeError) Error() string {
	return fmt.Sprintf("stacked vector length %d does not match wired length %d", e.Len, e.Want)
}

// Range is one property's slot in the stacked vector: [Lo,Hi).
type Range struct {
	Name   string
	Lo, Hi int
}

// Map is the fixed range table, built once and never mutated.
type Map struct {
	ranges []Range
	nCells int
}

// NewMap lays the named properties out in declared order, each over nCells
// contiguous entries of the stacked vector.
func NewMap(nCells int, names ...string) (w *Map, err error) {
	if nCells <= 0 {
		err = fmt.Errorf("wiring requires a positive cell count, got %d", nCells)
		return
	}
	if len(names) == 0 {
		err = fmt.Errorf("wiring requires at least one property name")
		return
	}
	seen := make(map[string]bool, len(names))
	ranges := make([]Range, len(names))
	for i, name := range names {
		if name == "" {
			err = fmt.Errorf("property %d has an empty name", i)
			return
		}
		if seen[name] {
			err = fmt.Errorf("duplicate property name %q", name)
			return
		}
		seen[name] = true
		ranges[i] = Range{Name: name, Lo: i * nCells, Hi: (i + 1) * nCells}
	}
	w = &Map{ranges: ranges, nCells: nCells}
	return
}

func (w *Map) NumProperties() int { return len(w.ranges) }
func (w *Map) NumCells() int      { return w.nCells }

// Size is the stacked vector length, properties x cells.
func (w *Map) Size() int { return len(w.ranges) * w.nCells }

func (w *Map) Names() (names []string) {
	names = make([]string, len(w.ranges))
	for i, r := range w.ranges {
		names[i] = r.Name
	}
	return
}

func (w *Map) Ranges() (ranges []Range) {
	ranges = make([]Range, len(w.ranges))
	copy(ranges, w.ranges)
	return
}

// Split copies the stacked vector into named per-property sub-vectors.
func (w *Map) Split(stacked []float64) (fields map[string][]float64, err error) {
	if len(stacked) != w.Size() {
		err = ShapeError{Len: len(stacked), Want: w.Size()}
		return
	}
	fields = make(map[string][]float64, len(w.ranges))
	for _, r := range w.ranges {
		sub := make([]float64, w.nCells)
		copy(sub, stacked[r.Lo:r.Hi])
		fields[r.Name] = sub
	}
	return
}

// View returns the named property's sub-vector as a slice into stacked,
// avoiding the copy that Split makes.
func (w *Map) View(stacked []float64, name string) (sub []float64, err error) {
	if len(stacked) != w.Size() {
		err = ShapeError{Len: len(stacked), Want: w.Size()}
		return
	}
	for _, r := range w.ranges {
		if r.Name == name {
			sub = stacked[r.Lo:r.Hi]
			return
		}
	}
	err = fmt.Errorf("unknown property %q", name)
	return
}

// Join rebuilds the stacked vector from named sub-vectors. It is the exact
// inverse of Split for any input of matching lengths.
func (w *Map) Join(fields map[string][]float64) (stacked []float64, err error) {
	stacked = make([]float64, w.Size())
	for _, r := range w.ranges {
		sub, ok := fields[r.Name]
		if !ok {
			stacked = nil
			err = fmt.Errorf("missing property %q", r.Name)
			return
		}
		if len(sub) != w.nCells {
			stacked = nil
			err = ShapeError{Len: len(sub), Want: w.nCells}
			return
		}
		copy(stacked[r.Lo:r.Hi], sub)
	}
	return
}
