package mixture

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/geosparse/gopgi/utils"
)

// CovarianceType selects the structural constraint on component
// covariances. It is fixed when the mixture is constructed; every density
// and derivative computation dispatches on it exactly once.
type CovarianceType int

const (
	// FullCov gives each component an independent SPD matrix.
	FullCov CovarianceType = iota
	// TiedCov shares a single SPD matrix across all components.
	TiedCov
	// DiagCov gives each component an independent positive diagonal.
	DiagCov
	// SphericalCov gives each component a single positive scalar.
	SphericalCov
)

func (t CovarianceType) String() string {
	switch t {
	case FullCov:
		return "full"
	case TiedCov:
		return "tied"
	case DiagCov:
		return "diag"
	case SphericalCov:
		return "spherical"
	}
	return fmt.Sprintf("unknown(%d)", int(t))
}

func ParseCovarianceType(s string) (t CovarianceType, err error) {
	switch s {
	case "full":
		t = FullCov
	case "tied":
		t = TiedCov
	case "diag":
		t = DiagCov
	case "spherical":
		t = SphericalCov
	default:
		err = fmt.Errorf("unknown covariance type %q", s)
	}
	return
}

// Covariances is the tagged variant holding one family's parameters.
// Only the representation matching kind is populated.
type Covariances struct {
	kind  CovarianceType
	dim   int
	nComp int
	full  []*mat.SymDense // FullCov: one per component; TiedCov: single shared
	diag  []*mat.VecDense
	sph   []float64
}

func NewFullCovariances(mats []*mat.SymDense) (c *Covariances, err error) {
	if len(mats) == 0 {
		err = fmt.Errorf("full covariances require at least one component")
		return
	}
	dim := mats[0].SymmetricDim()
	full := make([]*mat.SymDense, len(mats))
	for i, S := range mats {
		if S.SymmetricDim() != dim {
			err = fmt.Errorf("component %d covariance dimension %d != %d", i, S.SymmetricDim(), dim)
			return
		}
		W := mat.NewSymDense(dim, nil)
		W.CopySym(S)
		full[i] = W
	}
	c = &Covariances{kind: FullCov, dim: dim, nComp: len(mats), full: full}
	return
}

func NewTiedCovariance(S *mat.SymDense, nComponents int) (c *Covariances, err error) {
	if nComponents <= 0 {
		err = fmt.Errorf("tied covariance requires a positive component count")
		return
	}
	W := mat.NewSymDense(S.SymmetricDim(), nil)
	W.CopySym(S)
	c = &Covariances{kind: TiedCov, dim: S.SymmetricDim(), nComp: nComponents, full: []*mat.SymDense{W}}
	return
}

func NewDiagCovariances(diags []*mat.VecDense) (c *Covariances, err error) {
	if len(diags) == 0 {
		err = fmt.Errorf("diag covariances require at least one component")
		return
	}
	dim := diags[0].Len()
	dd := make([]*mat.VecDense, len(diags))
	for i, d := range diags {
		if d.Len() != dim {
			err = fmt.Errorf("component %d diagonal length %d != %d", i, d.Len(), dim)
			return
		}
		for j := 0; j < dim; j++ {
			if d.AtVec(j) <= 0 {
				err = fmt.Errorf("component %d diagonal entry %d is non-positive", i, j)
				return
			}
		}
		dd[i] = mat.VecDenseCopyOf(d)
	}
	c = &Covariances{kind: DiagCov, dim: dim, nComp: len(diags), diag: dd}
	return
}

func NewSphericalCovariances(vars []float64, dim int) (c *Covariances, err error) {
	if len(vars) == 0 {
		err = fmt.Errorf("spherical covariances require at least one component")
		return
	}
	ss := make([]float64, len(vars))
	for i, s := range vars {
		if s <= 0 {
			err = fmt.Errorf("component %d variance is non-positive", i)
			return
		}
		ss[i] = s
	}
	c = &Covariances{kind: SphericalCov, dim: dim, nComp: len(vars), sph: ss}
	return
}

func (c *Covariances) Kind() CovarianceType { return c.kind }
func (c *Covariances) Dim() int             { return c.dim }
func (c *Covariances) NumComponents() int   { return c.nComp }

// At materializes component comp's covariance as a dense SPD matrix,
// whatever the family.
func (c *Covariances) At(comp int) (S *mat.SymDense) {
	S = mat.NewSymDense(c.dim, nil)
	switch c.kind {
	case FullCov:
		S.CopySym(c.full[comp])
	case TiedCov:
		S.CopySym(c.full[0])
	case DiagCov:
		for j := 0; j < c.dim; j++ {
			S.SetSym(j, j, c.diag[comp].AtVec(j))
		}
	case SphericalCov:
		for j := 0; j < c.dim; j++ {
			S.SetSym(j, j, c.sph[comp])
		}
	}
	return
}

func (c *Covariances) clone() (r *Covariances) {
	r = &Covariances{kind: c.kind, dim: c.dim, nComp: c.nComp}
	for _, S := range c.full {
		W := mat.NewSymDense(c.dim, nil)
		W.CopySym(S)
		r.full = append(r.full, W)
	}
	for _, d := range c.diag {
		r.diag = append(r.diag, mat.VecDenseCopyOf(d))
	}
	r.sph = append(r.sph, c.sph...)
	return
}

const ln2Pi = 1.8378770664093453

// precisions caches the inverse-covariance form used by densities and by
// the Gauss-Newton blocks. Built once per M-step, never in the sample loop.
type precisions struct {
	kind  CovarianceType
	dim   int
	prec  []*mat.SymDense // FullCov per component; TiedCov single shared
	diag  []*mat.VecDense
	sph   []float64
	ldCov []float64 // log-determinant of the covariance per component
}

func newPrecisions(c *Covariances) (p *precisions, err error) {
	p = &precisions{kind: c.kind, dim: c.dim}
	switch c.kind {
	case FullCov:
		p.prec = make([]*mat.SymDense, c.nComp)
		p.ldCov = make([]float64, c.nComp)
		for i, S := range c.full {
			if p.prec[i], p.ldCov[i], err = utils.SPDInverse(S); err != nil {
				err = fmt.Errorf("component %d: %w", i, err)
				return
			}
		}
	case TiedCov:
		var (
			Pinv *mat.SymDense
			ld   float64
		)
		if Pinv, ld, err = utils.SPDInverse(c.full[0]); err != nil {
			return
		}
		p.prec = []*mat.SymDense{Pinv}
		p.ldCov = make([]float64, c.nComp)
		for i := range p.ldCov {
			p.ldCov[i] = ld
		}
	case DiagCov:
		p.diag = make([]*mat.VecDense, c.nComp)
		p.ldCov = make([]float64, c.nComp)
		for i, d := range c.diag {
			inv := mat.NewVecDense(c.dim, nil)
			ld := 0.0
			for j := 0; j < c.dim; j++ {
				v := d.AtVec(j)
				inv.SetVec(j, 1./v)
				ld += math.Log(v)
			}
			p.diag[i] = inv
			p.ldCov[i] = ld
		}
	case SphericalCov:
		p.sph = make([]float64, c.nComp)
		p.ldCov = make([]float64, c.nComp)
		for i, s := range c.sph {
			p.sph[i] = 1. / s
			p.ldCov[i] = float64(c.dim) * math.Log(s)
		}
	}
	return
}

// mahalanobis computes (x-mu)' P (x-mu) for component comp.
func (p *precisions) mahalanobis(comp int, x, mu []float64) (m float64) {
	switch p.kind {
	case FullCov, TiedCov:
		P := p.prec[0]
		if p.kind == FullCov {
			P = p.prec[comp]
		}
		for i := 0; i < p.dim; i++ {
			di := x[i] - mu[i]
			for j := 0; j < p.dim; j++ {
				m += di * P.At(i, j) * (x[j] - mu[j])
			}
		}
	case DiagCov:
		for j := 0; j < p.dim; j++ {
			d := x[j] - mu[j]
			m += d * d * p.diag[comp].AtVec(j)
		}
	case SphericalCov:
		for j := 0; j < p.dim; j++ {
			d := x[j] - mu[j]
			m += d * d
		}
		m *= p.sph[comp]
	}
	return
}

// logProb is the log of the component's normal density at x.
func (p *precisions) logProb(comp int, x, mu []float64) float64 {
	return -0.5 * (float64(p.dim)*ln2Pi + p.ldCov[comp] + p.mahalanobis(comp, x, mu))
}

// precisionAt materializes component comp's inverse covariance as a dense
// SPD matrix, whatever the family.
func (p *precisions) precisionAt(comp int) (P *mat.SymDense) {
	P = mat.NewSymDense(p.dim, nil)
	switch p.kind {
	case FullCov:
		P.CopySym(p.prec[comp])
	case TiedCov:
		P.CopySym(p.prec[0])
	case DiagCov:
		for j := 0; j < p.dim; j++ {
			P.SetSym(j, j, p.diag[comp].AtVec(j))
		}
	case SphericalCov:
		for j := 0; j < p.dim; j++ {
			P.SetSym(j, j, p.sph[comp])
		}
	}
	return
}
