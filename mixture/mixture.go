// Package mixture fits a weighted Gaussian mixture to property-space
// samples by expectation-maximization. Each sample carries an external
// scalar weight so that cells of differing volume or confidence contribute
// proportionally to the likelihood.
package mixture

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/geosparse/gopgi/utils"
)

// FitError reports that no EM restart produced a valid mixture. The caller
// should retry with different initialization or fewer components.
type FitError struct {
	Restarts int
	Reason   string
}

func (e FitError) Error() string {
	return fmt.Sprintf("mixture fit failed after %d restart(s): %s", e.Restarts, e.Reason)
}

// Config carries the fit controls. Zero values select the defaults noted
// per field.
type Config struct {
	NComponents    int
	CovarianceType CovarianceType
	NInit          int     // independent restarts, default 1
	MaxIter        int     // EM iterations per restart, default 100
	Tol            float64 // mean log-likelihood change to stop, default 1e-3
	RegCovar       float64 // diagonal floor on covariance updates, default 1e-6
	Seed           int64
	Verbose        bool
}

// Params is an explicit mixture state, used to resume EM from a known
// starting point instead of random initialization.
type Params struct {
	Means       *mat.Dense // NComponents x dim
	Covariances *Covariances
	Weights     []float64
}

// Weighted is the estimator. Fit or FitFrom populate it; afterwards it is
// an immutable snapshot safe for concurrent reads.
type Weighted struct {
	cfg Config
	rng *rand.Rand

	dim        int
	means      *mat.Dense
	cov        *Covariances
	prec       *precisions
	weights    []float64
	logWeights []float64
	resp       *mat.Dense
	trajectory []float64
	fitted     bool
}

func New(cfg Config) (g *Weighted, err error) {
	if cfg.NComponents <= 0 {
		err = fmt.Errorf("mixture requires a positive component count, got %d", cfg.NComponents)
		return
	}
	if cfg.NInit == 0 {
		cfg.NInit = 1
	}
	if cfg.NInit < 0 {
		err = fmt.Errorf("NInit must be positive, got %d", cfg.NInit)
		return
	}
	if cfg.MaxIter < 0 {
		err = fmt.Errorf("MaxIter must be positive, got %d", cfg.MaxIter)
		return
	}
	if cfg.Tol < 0 {
		err = fmt.Errorf("Tol must be positive, got %v", cfg.Tol)
		return
	}
	if cfg.RegCovar < 0 {
		err = fmt.Errorf("RegCovar must be non-negative, got %v", cfg.RegCovar)
		return
	}
	if cfg.MaxIter == 0 {
		cfg.MaxIter = 100
	}
	if cfg.Tol == 0 {
		cfg.Tol = 1.e-3
	}
	if cfg.RegCovar == 0 {
		cfg.RegCovar = 1.e-6
	}
	g = &Weighted{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
	return
}

func (g *Weighted) NComponents() int { return g.cfg.NComponents }

// Dim is the number of tracked physical properties.
func (g *Weighted) Dim() int { return g.dim }

func (g *Weighted) Fitted() bool { return g.fitted }

func (g *Weighted) Kind() CovarianceType { return g.cfg.CovarianceType }

// Means returns a copy of the fitted component means, one row per component.
func (g *Weighted) Means() (M *mat.Dense) {
	g.mustBeFitted()
	M = mat.DenseCopyOf(g.means)
	return
}

// MeanAt returns component comp's mean as a slice copy.
func (g *Weighted) MeanAt(comp int) (mu []float64) {
	g.mustBeFitted()
	mu = make([]float64, g.dim)
	copy(mu, g.means.RawRowView(comp))
	return
}

// MixingWeights returns a copy of the fitted mixing proportions.
func (g *Weighted) MixingWeights() (w []float64) {
	g.mustBeFitted()
	w = make([]float64, len(g.weights))
	copy(w, g.weights)
	return
}

// Covariances returns a copy of the fitted covariance variant.
func (g *Weighted) Covariances() *Covariances {
	g.mustBeFitted()
	return g.cov.clone()
}

// Precision materializes component comp's inverse covariance.
func (g *Weighted) Precision(comp int) *mat.SymDense {
	g.mustBeFitted()
	return g.prec.precisionAt(comp)
}

// Responsibilities returns the soft assignment matrix from the final
// E-step of the winning restart, one row per training sample.
func (g *Weighted) Responsibilities() (R *mat.Dense) {
	g.mustBeFitted()
	R = mat.DenseCopyOf(g.resp)
	return
}

// LogLikelihoodTrajectory returns the total weighted log-likelihood after
// each EM iteration of the winning restart.
func (g *Weighted) LogLikelihoodTrajectory() (t []float64) {
	g.mustBeFitted()
	t = make([]float64, len(g.trajectory))
	copy(t, g.trajectory)
	return
}

// ComponentLogDensity is log(pi_c * N(x; mu_c, Sigma_c)).
func (g *Weighted) ComponentLogDensity(comp int, x []float64) float64 {
	g.mustBeFitted()
	return g.logWeights[comp] + g.prec.logProb(comp, x, g.means.RawRowView(comp))
}

// Predict hard-assigns each point to its most responsible component.
func (g *Weighted) Predict(points *mat.Dense) (labels []int, err error) {
	g.mustBeFitted()
	if err = g.checkPoints(points); err != nil {
		return
	}
	n, _ := points.Dims()
	labels = make([]int, n)
	wl := make([]float64, g.cfg.NComponents)
	for i := 0; i < n; i++ {
		g.weightedLogProb(points.RawRowView(i), wl)
		best := 0
		for c := 1; c < len(wl); c++ {
			if wl[c] > wl[best] {
				best = c
			}
		}
		labels[i] = best
	}
	return
}

// ScoreSamples returns the log mixture density at each point.
func (g *Weighted) ScoreSamples(points *mat.Dense) (ld []float64, err error) {
	g.mustBeFitted()
	if err = g.checkPoints(points); err != nil {
		return
	}
	n, _ := points.Dims()
	ld = make([]float64, n)
	wl := make([]float64, g.cfg.NComponents)
	for i := 0; i < n; i++ {
		g.weightedLogProb(points.RawRowView(i), wl)
		ld[i] = utils.LogSumExp(wl)
	}
	return
}

// Posterior returns the responsibility of each component for each point,
// rows summing to one.
func (g *Weighted) Posterior(points *mat.Dense) (R *mat.Dense, err error) {
	g.mustBeFitted()
	if err = g.checkPoints(points); err != nil {
		return
	}
	n, _ := points.Dims()
	R = mat.NewDense(n, g.cfg.NComponents, nil)
	wl := make([]float64, g.cfg.NComponents)
	for i := 0; i < n; i++ {
		g.weightedLogProb(points.RawRowView(i), wl)
		lse := utils.LogSumExp(wl)
		for c := range wl {
			R.Set(i, c, math.Exp(wl[c]-lse))
		}
	}
	return
}

// Print writes a readable summary of the fitted mixture.
func (g *Weighted) Print() {
	g.mustBeFitted()
	fmt.Printf("Gaussian mixture: %d components, %d properties, %s covariances\n",
		g.cfg.NComponents, g.dim, g.cfg.CovarianceType)
	for c := 0; c < g.cfg.NComponents; c++ {
		fmt.Printf("component %d: weight = %8.5f\n", c, g.weights[c])
		mu := utils.NewMatrix(1, g.dim, g.MeanAt(c))
		fmt.Print(mu.Print(fmt.Sprintf("  mean[%d]", c)))
		S := utils.NewMatrix(g.dim, g.dim)
		S.M.Copy(g.cov.At(c))
		fmt.Print(S.Print(fmt.Sprintf("  covariance[%d]", c)))
	}
	if len(g.trajectory) > 0 {
		fmt.Printf("final log-likelihood = %12.6f after %d iterations\n",
			g.trajectory[len(g.trajectory)-1], len(g.trajectory))
	}
}

func (g *Weighted) weightedLogProb(x []float64, wl []float64) {
	for c := 0; c < g.cfg.NComponents; c++ {
		wl[c] = g.logWeights[c] + g.prec.logProb(c, x, g.means.RawRowView(c))
	}
}

func (g *Weighted) mustBeFitted() {
	if !g.fitted {
		panic("mixture has not been fitted")
	}
}

func (g *Weighted) checkPoints(points *mat.Dense) (err error) {
	_, d := points.Dims()
	if d != g.dim {
		err = fmt.Errorf("points have %d properties, mixture was fit with %d", d, g.dim)
	}
	return
}
