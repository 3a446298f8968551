package mixture

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// Two well-separated rock-type signatures in a two-property space.
var (
	testMu0  = []float64{5.2, 6.1}
	testMu1  = []float64{-5.4, -4.3}
	testCov0 = mat.NewSymDense(2, []float64{2.0, 0.4, 0.4, 1.5})
	testCov1 = mat.NewSymDense(2, []float64{1.2, -0.3, -0.3, 1.8})
)

func drawGaussian(rng *rand.Rand, mu []float64, cov *mat.SymDense, out *mat.Dense, row0, n int) {
	var chol mat.Cholesky
	if !chol.Factorize(cov) {
		panic("test covariance is not SPD")
	}
	var L mat.TriDense
	chol.LTo(&L)
	d := len(mu)
	z := make([]float64, d)
	for i := 0; i < n; i++ {
		for j := range z {
			z[j] = rng.NormFloat64()
		}
		for a := 0; a < d; a++ {
			v := mu[a]
			for b := 0; b <= a; b++ {
				v += L.At(a, b) * z[b]
			}
			out.Set(row0+i, a, v)
		}
	}
}

// testCloud draws 600/400 samples from the two signatures, cluster 0 first.
func testCloud(seed int64) (samples *mat.Dense, n0, n1 int) {
	rng := rand.New(rand.NewSource(seed))
	n0, n1 = 600, 400
	samples = mat.NewDense(n0+n1, 2, nil)
	drawGaussian(rng, testMu0, testCov0, samples, 0, n0)
	drawGaussian(rng, testMu1, testCov1, samples, n0, n1)
	return
}

func trueParams(t *testing.T, kind CovarianceType) (p Params) {
	t.Helper()
	var (
		cov *Covariances
		err error
	)
	switch kind {
	case FullCov:
		cov, err = NewFullCovariances([]*mat.SymDense{testCov0, testCov1})
	case TiedCov:
		pooled := mat.NewSymDense(2, nil)
		for i := 0; i < 2; i++ {
			for j := i; j < 2; j++ {
				pooled.SetSym(i, j, 0.5*(testCov0.At(i, j)+testCov1.At(i, j)))
			}
		}
		cov, err = NewTiedCovariance(pooled, 2)
	case DiagCov:
		d0 := mat.NewVecDense(2, []float64{testCov0.At(0, 0), testCov0.At(1, 1)})
		d1 := mat.NewVecDense(2, []float64{testCov1.At(0, 0), testCov1.At(1, 1)})
		cov, err = NewDiagCovariances([]*mat.VecDense{d0, d1})
	case SphericalCov:
		s0 := 0.5 * (testCov0.At(0, 0) + testCov0.At(1, 1))
		s1 := 0.5 * (testCov1.At(0, 0) + testCov1.At(1, 1))
		cov, err = NewSphericalCovariances([]float64{s0, s1}, 2)
	}
	require.NoError(t, err)
	means := mat.NewDense(2, 2, nil)
	means.SetRow(0, testMu0)
	means.SetRow(1, testMu1)
	p = Params{Means: means, Covariances: cov, Weights: []float64{0.6, 0.4}}
	return
}

func TestFitInvariants(t *testing.T) {
	samples, _, _ := testCloud(518936)
	for _, kind := range []CovarianceType{FullCov, TiedCov, DiagCov, SphericalCov} {
		t.Run(kind.String(), func(t *testing.T) {
			g, err := New(Config{
				NComponents:    2,
				CovarianceType: kind,
				NInit:          2,
				MaxIter:        200,
				Seed:           518936,
			})
			require.NoError(t, err)
			require.NoError(t, g.Fit(samples, nil))

			// Mixing weights are non-negative and sum to one.
			w := g.MixingWeights()
			sum := 0.0
			for _, v := range w {
				assert.GreaterOrEqual(t, v, 0.)
				sum += v
			}
			assert.InDelta(t, 1., sum, 1.e-9)

			// Every sample's responsibilities sum to one.
			R := g.Responsibilities()
			n, nc := R.Dims()
			require.Equal(t, 2, nc)
			for i := 0; i < n; i++ {
				rs := 0.0
				for c := 0; c < nc; c++ {
					rs += R.At(i, c)
				}
				assert.InDelta(t, 1., rs, 1.e-9)
			}

			// Each true signature is recovered by some component.
			for _, mu := range [][]float64{testMu0, testMu1} {
				found := false
				for c := 0; c < 2; c++ {
					est := g.MeanAt(c)
					if math.Hypot(est[0]-mu[0], est[1]-mu[1]) < 1.0 {
						found = true
					}
				}
				assert.True(t, found, "no component recovered mean %v", mu)
			}

			// Family-specific structure of the fitted covariances.
			cov := g.Covariances()
			require.Equal(t, kind, cov.Kind())
			switch kind {
			case TiedCov:
				S0, S1 := cov.At(0), cov.At(1)
				for i := 0; i < 2; i++ {
					for j := 0; j < 2; j++ {
						assert.Equal(t, S0.At(i, j), S1.At(i, j))
					}
				}
			case DiagCov:
				for c := 0; c < 2; c++ {
					S := cov.At(c)
					assert.Equal(t, 0., S.At(0, 1))
					assert.Greater(t, S.At(0, 0), 0.)
				}
			case SphericalCov:
				for c := 0; c < 2; c++ {
					S := cov.At(c)
					assert.Equal(t, 0., S.At(0, 1))
					assert.Equal(t, S.At(0, 0), S.At(1, 1))
				}
			}
		})
	}
}

func TestFitFromWarmStart(t *testing.T) {
	samples, n0, n1 := testCloud(518936)
	g, err := New(Config{NComponents: 2, CovarianceType: FullCov, MaxIter: 1000, Seed: 518936})
	require.NoError(t, err)
	require.NoError(t, g.FitFrom(trueParams(t, FullCov), samples, nil))

	traj := g.LogLikelihoodTrajectory()
	require.NotEmpty(t, traj)
	assert.GreaterOrEqual(t, traj[len(traj)-1], traj[0]-1.e-8)

	// Component order follows the warm-start state, so labels align with
	// the generating clusters.
	labels, err := g.Predict(samples)
	require.NoError(t, err)
	miss := 0
	for i, l := range labels {
		want := 0
		if i >= n0 {
			want = 1
		}
		if l != want {
			miss++
		}
	}
	assert.Less(t, float64(miss)/float64(n0+n1), 0.01)

	w := g.MixingWeights()
	assert.InDelta(t, 0.6, w[0], 0.05)
	assert.InDelta(t, 0.4, w[1], 0.05)
}

func TestWeightedFitShiftsProportions(t *testing.T) {
	samples, n0, n1 := testCloud(7)
	// Quadruple the weight of the first cluster's cells; its mixing
	// proportion must track the weighted mass, not the sample count.
	weights := make([]float64, n0+n1)
	for i := range weights {
		if i < n0 {
			weights[i] = 4.
		} else {
			weights[i] = 1.
		}
	}
	g, err := New(Config{NComponents: 2, CovarianceType: FullCov, MaxIter: 500, Seed: 7})
	require.NoError(t, err)
	require.NoError(t, g.FitFrom(trueParams(t, FullCov), samples, weights))

	want := 4. * float64(n0) / (4.*float64(n0) + float64(n1))
	w := g.MixingWeights()
	assert.InDelta(t, want, w[0], 0.03)
}

func TestPredictAndScoreSamples(t *testing.T) {
	samples, _, _ := testCloud(11)
	g, err := New(Config{NComponents: 2, CovarianceType: FullCov, MaxIter: 500, Seed: 11})
	require.NoError(t, err)
	require.NoError(t, g.FitFrom(trueParams(t, FullCov), samples, nil))

	pts := mat.NewDense(3, 2, []float64{
		testMu0[0], testMu0[1],
		testMu1[0], testMu1[1],
		20., 20.,
	})
	labels, err := g.Predict(pts)
	require.NoError(t, err)
	assert.Equal(t, 0, labels[0])
	assert.Equal(t, 1, labels[1])

	ld, err := g.ScoreSamples(pts)
	require.NoError(t, err)
	assert.Greater(t, ld[0], ld[2])
	assert.Greater(t, ld[1], ld[2])

	R, err := g.Posterior(pts)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		assert.InDelta(t, 1., R.At(i, 0)+R.At(i, 1), 1.e-9)
	}
}

func TestFitInputErrors(t *testing.T) {
	g, err := New(Config{NComponents: 5, CovarianceType: FullCov})
	require.NoError(t, err)
	small := mat.NewDense(3, 2, nil)
	assert.Error(t, g.Fit(small, nil))

	samples, _, _ := testCloud(3)
	g2, err := New(Config{NComponents: 2, CovarianceType: FullCov})
	require.NoError(t, err)
	bad := make([]float64, 1000)
	bad[0] = -1.
	assert.Error(t, g2.Fit(samples, bad))
	assert.Error(t, g2.Fit(samples, make([]float64, 10)))
}

func TestFitFailureSurfacesFitError(t *testing.T) {
	samples, n0, n1 := testCloud(13)
	g, err := New(Config{NComponents: 2, CovarianceType: FullCov, NInit: 3, Seed: 13})
	require.NoError(t, err)

	// All-zero sample weights sink every restart; the failure must surface
	// as a FitError carrying the restart count and the underlying cause.
	err = g.Fit(samples, make([]float64, n0+n1))
	require.Error(t, err)
	var fe FitError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 3, fe.Restarts)
	assert.Contains(t, err.Error(), "total sample weight is zero")
	assert.False(t, g.Fitted())
}

func TestIsotropicFallbackRepairsIndefiniteCovariance(t *testing.T) {
	g, err := New(Config{NComponents: 2, CovarianceType: FullCov})
	require.NoError(t, err)
	bad := mat.NewSymDense(2, []float64{1, 2, 2, 1})
	good := mat.NewSymDense(2, []float64{1, 0, 0, 1})
	cov, err := NewFullCovariances([]*mat.SymDense{bad, good})
	require.NoError(t, err)

	p, fellBack, err := g.buildPrecisions(cov)
	require.NoError(t, err)
	require.True(t, fellBack)

	// The indefinite component is reset to the isotropic average of its
	// absolute diagonal plus the covariance floor.
	P := p.precisionAt(0)
	want := 1. / (1. + g.cfg.RegCovar)
	assert.InDelta(t, want, P.At(0, 0), 1.e-9)
	assert.InDelta(t, want, P.At(1, 1), 1.e-9)
	assert.InDelta(t, 0., P.At(0, 1), 1.e-12)

	// The healthy component passes through untouched.
	Q := p.precisionAt(1)
	assert.InDelta(t, 1., Q.At(0, 0), 1.e-9)
	assert.InDelta(t, 0., Q.At(0, 1), 1.e-12)
}

func TestFitFromRejectsMismatchedFamily(t *testing.T) {
	samples, _, _ := testCloud(5)
	g, err := New(Config{NComponents: 2, CovarianceType: DiagCov})
	require.NoError(t, err)
	// Warm-start state carries full covariances, the mixture is diag.
	assert.Error(t, g.FitFrom(trueParams(t, FullCov), samples, nil))
}

func TestConfigValidation(t *testing.T) {
	_, err := New(Config{NComponents: 0})
	assert.Error(t, err)
	_, err = New(Config{NComponents: 2, NInit: -1})
	assert.Error(t, err)
	_, err = New(Config{NComponents: 2, MaxIter: -1})
	assert.Error(t, err)
	_, err = New(Config{NComponents: 2, Tol: -1.e-3})
	assert.Error(t, err)
	_, err = New(Config{NComponents: 2, RegCovar: -1.e-6})
	assert.Error(t, err)
}

func TestCovarianceConstructors(t *testing.T) {
	_, err := NewDiagCovariances([]*mat.VecDense{mat.NewVecDense(2, []float64{1, -1})})
	assert.Error(t, err)
	_, err = NewSphericalCovariances([]float64{0}, 2)
	assert.Error(t, err)
	_, err = NewFullCovariances([]*mat.SymDense{
		mat.NewSymDense(2, nil),
		mat.NewSymDense(3, nil),
	})
	assert.Error(t, err)

	for _, kind := range []CovarianceType{FullCov, TiedCov, DiagCov, SphericalCov} {
		parsed, perr := ParseCovarianceType(kind.String())
		require.NoError(t, perr)
		assert.Equal(t, kind, parsed)
	}
	_, err = ParseCovarianceType("banded")
	assert.Error(t, err)
}
