package wiring

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapLayout(t *testing.T) {
	w, err := NewMap(4, "density", "velocity", "susceptibility")
	require.NoError(t, err)
	require.Equal(t, 3, w.NumProperties())
	require.Equal(t, 4, w.NumCells())
	require.Equal(t, 12, w.Size())
	require.Equal(t, []string{"density", "velocity", "susceptibility"}, w.Names())

	// Ranges partition the stacked vector exactly: no gaps, no overlap.
	ranges := w.Ranges()
	next := 0
	for _, r := range ranges {
		assert.Equal(t, next, r.Lo)
		assert.Equal(t, r.Lo+4, r.Hi)
		next = r.Hi
	}
	assert.Equal(t, w.Size(), next)
}

func TestMapErrors(t *testing.T) {
	_, err := NewMap(0, "a")
	assert.Error(t, err)
	_, err = NewMap(3)
	assert.Error(t, err)
	_, err = NewMap(3, "a", "a")
	assert.Error(t, err)
	_, err = NewMap(3, "a", "")
	assert.Error(t, err)
}

func TestSplitJoinRoundTrip(t *testing.T) {
	var (
		rng  = rand.New(rand.NewSource(1))
		n    = 17
		w, _ = NewMap(n, "s0", "s1")
	)
	stacked := make([]float64, w.Size())
	for i := range stacked {
		stacked[i] = rng.NormFloat64()
	}
	fields, err := w.Split(stacked)
	require.NoError(t, err)
	require.Len(t, fields, 2)
	require.Len(t, fields["s0"], n)
	require.Len(t, fields["s1"], n)

	back, err := w.Join(fields)
	require.NoError(t, err)
	// Pure data movement, so the round trip is exact.
	require.Equal(t, stacked, back)
}

func TestSplitShapeError(t *testing.T) {
	w, _ := NewMap(5, "s0", "s1")
	_, err := w.Split(make([]float64, 9))
	require.Error(t, err)
	var se ShapeError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 9, se.Len)
	assert.Equal(t, 10, se.Want)
}

func TestJoinErrors(t *testing.T) {
	w, _ := NewMap(3, "s0", "s1")
	_, err := w.Join(map[string][]float64{"s0": make([]float64, 3)})
	assert.Error(t, err)
	_, err = w.Join(map[string][]float64{
		"s0": make([]float64, 3),
		"s1": make([]float64, 2),
	})
	assert.Error(t, err)
}

func TestView(t *testing.T) {
	w, _ := NewMap(3, "s0", "s1")
	stacked := []float64{1, 2, 3, 4, 5, 6}
	sub, err := w.View(stacked, "s1")
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 5, 6}, sub)
	_, err = w.View(stacked, "nope")
	assert.Error(t, err)
	_, err = w.View(stacked[:4], "s0")
	assert.Error(t, err)
}
