// Package regularization scores a stacked multi-property model against a
// fitted Gaussian mixture prior over property space, and supplies the
// gradient and Gauss-Newton Hessian an outer inversion needs to pull the
// model toward the prior's rock-type signatures.
package regularization

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/geosparse/gopgi/mesh"
	"github.com/geosparse/gopgi/mixture"
	"github.com/geosparse/gopgi/utils"
	"github.com/geosparse/gopgi/wiring"
)

// EvalType selects between the exact mixture negative log-likelihood and
// the hard-assignment approximation valid for well-separated clusters.
type EvalType int

const (
	EvalApprox EvalType = iota
	EvalFull
)

func (t EvalType) String() string {
	if t == EvalFull {
		return "full"
	}
	return "approx"
}

func ParseEvalType(s string) (t EvalType, err error) {
	switch s {
	case "approx":
		t = EvalApprox
	case "full":
		t = EvalFull
	default:
		err = fmt.Errorf("unknown evaluation type %q", s)
	}
	return
}

// EvalConfig is passed explicitly to each evaluation; the functional keeps
// no mutable evaluation state and caches nothing across calls, so any
// combination may be compared against the same fitted mixture.
type EvalConfig struct {
	Type           EvalType
	ApproxGradient bool
}

// CovarianceMismatchError reports a functional configured for one
// covariance family applied to a mixture fit with another. This is a
// programming error caught at construction.
type CovarianceMismatchError struct {
	Want, Got mixture.CovarianceType
}

func (e CovarianceMismatchError) Error() string {
	return fmt.Sprintf("regularization configured for %s covariances, mixture was fit with %s", e.Want, e.Got)
}

// Options configures the functional. CovarianceType must name the family
// the mixture was fit with. CellWeights holds one non-negative weight
// vector per property, each of length NumCells; they are averaged into a
// single scalar integration weight per cell.
type Options struct {
	CovarianceType mixture.CovarianceType
	CellWeights    [][]float64
	AlphaX         float64
	Eval           EvalConfig
	Verbose        bool
}

// PGI is the regularization functional. Construction fixes the wiring,
// the per-cell integration weights and the reference mixture; evaluation
// is pure in the model vector and the EvalConfig.
type PGI struct {
	gmm     *mixture.Weighted
	wires   *wiring.Map
	msh     *mesh.TensorMesh
	weights []float64 // combined scalar integration weight per cell
	alphaX  float64
	eval    EvalConfig
	verbose bool
}

// NewSimple builds the variant that treats all cells uniformly: only the
// optional user cell weights enter the integration.
func NewSimple(gmm *mixture.Weighted, wires *wiring.Map, msh *mesh.TensorMesh, opts Options) (*PGI, error) {
	return newPGI(gmm, wires, msh, opts, false)
}

// NewWithVolumes additionally folds the mesh cell volumes into the
// integration weights.
func NewWithVolumes(gmm *mixture.Weighted, wires *wiring.Map, msh *mesh.TensorMesh, opts Options) (*PGI, error) {
	return newPGI(gmm, wires, msh, opts, true)
}

func newPGI(gmm *mixture.Weighted, wires *wiring.Map, msh *mesh.TensorMesh, opts Options, useVolumes bool) (p *PGI, err error) {
	if !gmm.Fitted() {
		err = fmt.Errorf("mixture must be fitted before building the regularization")
		return
	}
	if opts.CovarianceType != gmm.Kind() {
		err = CovarianceMismatchError{Want: opts.CovarianceType, Got: gmm.Kind()}
		return
	}
	if gmm.Dim() != wires.NumProperties() {
		err = fmt.Errorf("mixture covers %d properties, wiring has %d", gmm.Dim(), wires.NumProperties())
		return
	}
	if msh.NumCells() != wires.NumCells() {
		err = fmt.Errorf("mesh has %d cells, wiring expects %d", msh.NumCells(), wires.NumCells())
		return
	}
	n := wires.NumCells()
	w := utils.ConstArray(n, 1.)
	if opts.CellWeights != nil {
		if len(opts.CellWeights) != wires.NumProperties() {
			err = fmt.Errorf("got %d cell-weight vectors for %d properties", len(opts.CellWeights), wires.NumProperties())
			return
		}
		for pi, cw := range opts.CellWeights {
			if len(cw) != n {
				err = wiring.ShapeError{Len: len(cw), Want: n}
				return
			}
			for i, v := range cw {
				if v < 0 {
					err = fmt.Errorf("cell weight [%d][%d] is negative", pi, i)
					return
				}
			}
		}
		for i := 0; i < n; i++ {
			s := 0.0
			for pi := range opts.CellWeights {
				s += opts.CellWeights[pi][i]
			}
			w[i] = s / float64(len(opts.CellWeights))
		}
	}
	if useVolumes {
		vols := msh.CellVolumes()
		for i := 0; i < n; i++ {
			w[i] *= vols.AtVec(i)
		}
	}
	p = &PGI{
		gmm:     gmm,
		wires:   wires,
		msh:     msh,
		weights: w,
		alphaX:  opts.AlphaX,
		eval:    opts.Eval,
		verbose: opts.Verbose,
	}
	return
}

func (p *PGI) Wiring() *wiring.Map { return p.wires }
func (p *PGI) Eval() EvalConfig    { return p.eval }

// WithEval returns a shallow clone whose default evaluation config is cfg.
// The functional itself is never mutated in place.
func (p *PGI) WithEval(cfg EvalConfig) *PGI {
	q := *p
	q.eval = cfg
	return &q
}

// points unstacks the model into one property-space row per cell.
func (p *PGI) points(model []float64) (pts *mat.Dense, err error) {
	var (
		n = p.wires.NumCells()
		k = p.wires.NumProperties()
	)
	if len(model) != p.wires.Size() {
		err = wiring.ShapeError{Len: len(model), Want: p.wires.Size()}
		return
	}
	pts = mat.NewDense(n, k, nil)
	for pi, r := range p.wires.Ranges() {
		sub := model[r.Lo:r.Hi]
		for i := 0; i < n; i++ {
			pts.Set(i, pi, sub[i])
		}
	}
	return
}

// Score evaluates the functional with its default EvalConfig.
func (p *PGI) Score(model []float64) (float64, error) {
	return p.ScoreWith(model, p.eval)
}

// ScoreWith sums each cell's weighted negative log-likelihood under the
// mixture prior, exactly (EvalFull) or by hard assignment (EvalApprox),
// plus the optional smoothness term.
func (p *PGI) ScoreWith(model []float64, cfg EvalConfig) (s float64, err error) {
	var (
		pts *mat.Dense
		n   = p.wires.NumCells()
	)
	if pts, err = p.points(model); err != nil {
		return
	}
	switch cfg.Type {
	case EvalFull:
		var ld []float64
		if ld, err = p.gmm.ScoreSamples(pts); err != nil {
			return
		}
		for i := 0; i < n; i++ {
			s -= p.weights[i] * ld[i]
		}
	default:
		var labels []int
		if labels, err = p.gmm.Predict(pts); err != nil {
			return
		}
		for i := 0; i < n; i++ {
			s -= p.weights[i] * p.gmm.ComponentLogDensity(labels[i], pts.RawRowView(i))
		}
	}
	s += p.smoothnessScore(model)
	return
}

// Deriv evaluates the gradient with the default EvalConfig.
func (p *PGI) Deriv(model []float64) ([]float64, error) {
	return p.DerivWith(model, p.eval)
}

// DerivWith returns the gradient of the score in the stacked layout. With
// ApproxGradient the hard-assigned component's statistics are treated as
// locally constant; otherwise the exact mixture gradient, including the
// responsibility weighting, is evaluated. The two converge as the
// clusters separate.
func (p *PGI) DerivWith(model []float64, cfg EvalConfig) (g []float64, err error) {
	var (
		pts *mat.Dense
		n   = p.wires.NumCells()
		k   = p.wires.NumProperties()
		nc  = p.gmm.NComponents()
	)
	if pts, err = p.points(model); err != nil {
		return
	}
	precs := make([]*mat.SymDense, nc)
	means := make([][]float64, nc)
	for c := 0; c < nc; c++ {
		precs[c] = p.gmm.Precision(c)
		means[c] = p.gmm.MeanAt(c)
	}
	g = make([]float64, p.wires.Size())
	ranges := p.wires.Ranges()
	cell := make([]float64, k)
	accum := func(c int, scale float64, x []float64) {
		// cell += scale * P_c (x - mu_c)
		for a := 0; a < k; a++ {
			v := 0.0
			for b := 0; b < k; b++ {
				v += precs[c].At(a, b) * (x[b] - means[c][b])
			}
			cell[a] += scale * v
		}
	}
	if cfg.ApproxGradient {
		var labels []int
		if labels, err = p.gmm.Predict(pts); err != nil {
			return
		}
		for i := 0; i < n; i++ {
			for a := range cell {
				cell[a] = 0
			}
			accum(labels[i], p.weights[i], pts.RawRowView(i))
			for pi := range ranges {
				g[ranges[pi].Lo+i] = cell[pi]
			}
		}
	} else {
		var resp *mat.Dense
		if resp, err = p.gmm.Posterior(pts); err != nil {
			return
		}
		for i := 0; i < n; i++ {
			for a := range cell {
				cell[a] = 0
			}
			for c := 0; c < nc; c++ {
				accum(c, p.weights[i]*resp.At(i, c), pts.RawRowView(i))
			}
			for pi := range ranges {
				g[ranges[pi].Lo+i] = cell[pi]
			}
		}
	}
	p.smoothnessDeriv(model, g)
	return
}

// Deriv2 assembles the Gauss-Newton Hessian: one k x k block per cell,
// the hard-assigned component's precision scaled by the cell's
// integration weight, plus the smoothness contribution. Cross-cell terms
// of the clustering penalty are zero, so the matrix stays block sparse.
func (p *PGI) Deriv2(model []float64) (H utils.CSR, err error) {
	var (
		pts    *mat.Dense
		labels []int
		n      = p.wires.NumCells()
		k      = p.wires.NumProperties()
		nc     = p.gmm.NComponents()
		size   = p.wires.Size()
	)
	if pts, err = p.points(model); err != nil {
		return
	}
	if labels, err = p.gmm.Predict(pts); err != nil {
		return
	}
	precs := make([]*mat.SymDense, nc)
	for c := 0; c < nc; c++ {
		precs[c] = p.gmm.Precision(c)
	}
	D := utils.NewDOK(size, size)
	ranges := p.wires.Ranges()
	for i := 0; i < n; i++ {
		P := precs[labels[i]]
		for a := 0; a < k; a++ {
			for b := 0; b < k; b++ {
				v := p.weights[i] * P.At(a, b)
				if v != 0 {
					D.Add(ranges[a].Lo+i, ranges[b].Lo+i, v)
				}
			}
		}
	}
	p.smoothnessDeriv2(D)
	H = D.ToCSR()
	return
}

// smoothnessScore is 0.5*alphaX*sum_p ||D m_p||^2 with D the first
// difference along the cell ordering.
func (p *PGI) smoothnessScore(model []float64) (s float64) {
	if p.alphaX == 0 {
		return
	}
	n := p.wires.NumCells()
	for _, r := range p.wires.Ranges() {
		sub := model[r.Lo:r.Hi]
		for i := 0; i+1 < n; i++ {
			d := sub[i+1] - sub[i]
			s += d * d
		}
	}
	s *= 0.5 * p.alphaX
	return
}

// smoothnessDeriv accumulates alphaX * D'D m_p into g.
func (p *PGI) smoothnessDeriv(model []float64, g []float64) {
	if p.alphaX == 0 {
		return
	}
	n := p.wires.NumCells()
	for _, r := range p.wires.Ranges() {
		sub := model[r.Lo:r.Hi]
		for i := 0; i < n; i++ {
			v := 0.0
			if i > 0 {
				v += sub[i] - sub[i-1]
			}
			if i+1 < n {
				v += sub[i] - sub[i+1]
			}
			g[r.Lo+i] += p.alphaX * v
		}
	}
}

// smoothnessDeriv2 accumulates the tridiagonal alphaX * D'D per property.
func (p *PGI) smoothnessDeriv2(D utils.DOK) {
	if p.alphaX == 0 {
		return
	}
	n := p.wires.NumCells()
	for _, r := range p.wires.Ranges() {
		for i := 0; i < n; i++ {
			deg := 0.0
			if i > 0 {
				deg++
				D.Add(r.Lo+i, r.Lo+i-1, -p.alphaX)
			}
			if i+1 < n {
				deg++
				D.Add(r.Lo+i, r.Lo+i+1, -p.alphaX)
			}
			D.Add(r.Lo+i, r.Lo+i, p.alphaX*deg)
		}
	}
}
