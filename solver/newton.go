package solver

import (
	"github.com/geosparse/gopgi/utils"
	"github.com/geosparse/gopgi/wiring"
)

// Objective is the slice of the regularization functional the Newton
// assembler needs: first and second derivatives plus the wiring that maps
// the descent direction back onto named properties.
type Objective interface {
	Deriv(model []float64) ([]float64, error)
	Deriv2(model []float64) (utils.CSR, error)
	Wiring() *wiring.Map
}

// Step is one Newton descent step: the updated stacked model and the
// per-property descent direction that produced it.
type Step struct {
	Updated   []float64
	Direction map[string][]float64
}

// Newton forms the approximate Hessian and gradient at model, solves
// H p = g with the supplied solver and reports model - p. Solver failures
// surface as SingularSystemError.
func Newton(obj Objective, model []float64, s Interface) (step Step, err error) {
	var (
		g []float64
		H utils.CSR
		p []float64
	)
	if g, err = obj.Deriv(model); err != nil {
		return
	}
	if H, err = obj.Deriv2(model); err != nil {
		return
	}
	if p, err = s.Solve(H, g); err != nil {
		return
	}
	updated := make([]float64, len(model))
	for i := range model {
		updated[i] = model[i] - p[i]
	}
	var direction map[string][]float64
	if direction, err = obj.Wiring().Split(p); err != nil {
		return
	}
	step = Step{Updated: updated, Direction: direction}
	return
}
