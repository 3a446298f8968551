package solver

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geosparse/gopgi/utils"
	"github.com/geosparse/gopgi/wiring"
)

// spdSystem assembles a random diagonally dominant SPD matrix.
func spdSystem(rng *rand.Rand, n int) (H utils.CSR, b []float64) {
	D := utils.NewDOK(n, n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if rng.Float64() < 0.2 {
				v := rng.NormFloat64()
				D.Set(i, j, v)
				D.Set(j, i, v)
			}
		}
	}
	for i := 0; i < n; i++ {
		D.Set(i, i, float64(n)+rng.Float64())
	}
	b = make([]float64, n)
	for i := range b {
		b[i] = rng.NormFloat64()
	}
	H = D.ToCSR()
	return
}

func TestDirectAndCGAgree(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	H, b := spdSystem(rng, 30)

	xd, err := Direct{}.Solve(H, b)
	require.NoError(t, err)
	xc, err := CG{}.Solve(H, b)
	require.NoError(t, err)
	require.Len(t, xc, 30)
	for i := range xd {
		assert.InDelta(t, xd[i], xc[i], 1.e-8)
	}

	// Both residuals vanish.
	r := H.MulVec(xd)
	for i := range r {
		assert.InDelta(t, b[i], r[i], 1.e-8)
	}
}

func TestSolveInputErrors(t *testing.T) {
	H, b := spdSystem(rand.New(rand.NewSource(1)), 5)
	for _, s := range []Interface{Direct{}, CG{}} {
		_, err := s.Solve(H, b[:3])
		assert.Error(t, err)
	}
	rect := utils.NewDOK(2, 3).ToCSR()
	for _, s := range []Interface{Direct{}, CG{}} {
		_, err := s.Solve(rect, []float64{1, 2})
		assert.Error(t, err)
	}
}

func TestSingularSystems(t *testing.T) {
	// Rank-deficient: second row/column identically zero.
	D := utils.NewDOK(2, 2)
	D.Set(0, 0, 1.)
	H := D.ToCSR()
	b := []float64{1, 1}

	var sse SingularSystemError
	_, err := Direct{}.Solve(H, b)
	require.Error(t, err)
	require.ErrorAs(t, err, &sse)

	_, err = CG{MaxIter: 50}.Solve(H, b)
	require.Error(t, err)
	require.ErrorAs(t, err, &sse)

	// Indefinite.
	D = utils.NewDOK(2, 2)
	D.Set(0, 0, 1.)
	D.Set(0, 1, 2.)
	D.Set(1, 0, 2.)
	D.Set(1, 1, 1.)
	H = D.ToCSR()
	_, err = Direct{}.Solve(H, b)
	assert.Error(t, err)
	_, err = CG{MaxIter: 50}.Solve(H, []float64{1, 0})
	assert.Error(t, err)
}

func TestCGZeroRHS(t *testing.T) {
	H, _ := spdSystem(rand.New(rand.NewSource(9)), 4)
	x, err := CG{}.Solve(H, make([]float64, 4))
	require.NoError(t, err)
	assert.Equal(t, make([]float64, 4), x)
}

// quadratic is 0.5 (m-target)' A (m-target); one Newton step from any
// starting model lands exactly on target.
type quadratic struct {
	A      utils.CSR
	target []float64
	wires  *wiring.Map
}

func (q quadratic) Deriv(model []float64) (g []float64, err error) {
	d := make([]float64, len(model))
	for i := range d {
		d[i] = model[i] - q.target[i]
	}
	g = q.A.MulVec(d)
	return
}

func (q quadratic) Deriv2(model []float64) (utils.CSR, error) { return q.A, nil }
func (q quadratic) Wiring() *wiring.Map                       { return q.wires }

func TestNewtonOnQuadratic(t *testing.T) {
	var (
		rng   = rand.New(rand.NewSource(3))
		n     = 6
		w, _  = wiring.NewMap(n, "s0", "s1")
		Hm, _ = spdSystem(rng, w.Size())
	)
	target := make([]float64, w.Size())
	model := make([]float64, w.Size())
	for i := range target {
		target[i] = rng.NormFloat64()
		model[i] = rng.NormFloat64()
	}
	obj := quadratic{A: Hm, target: target, wires: w}

	step, err := Newton(obj, model, Direct{})
	require.NoError(t, err)
	for i := range target {
		assert.InDelta(t, target[i], step.Updated[i], 1.e-9)
	}
	require.Len(t, step.Direction, 2)
	for _, r := range w.Ranges() {
		dir := step.Direction[r.Name]
		require.Len(t, dir, n)
		for i := range dir {
			assert.InDelta(t, model[r.Lo+i]-target[r.Lo+i], dir[i], 1.e-9)
		}
	}
}

func TestNewtonPropagatesSolveFailure(t *testing.T) {
	var (
		w, _ = wiring.NewMap(2, "s0")
		D    = utils.NewDOK(2, 2)
	)
	D.Set(0, 0, 1.)
	obj := quadratic{A: D.ToCSR(), target: []float64{0, 0}, wires: w}
	_, err := Newton(obj, []float64{1, 1}, Direct{})
	require.Error(t, err)
	var sse SingularSystemError
	assert.ErrorAs(t, err, &sse)
}
