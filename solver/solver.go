// Package solver inverts the sparse approximate Hessian produced by the
// regularization and assembles the Newton descent direction.
package solver

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/geosparse/gopgi/utils"
)

// SingularSystemError reports a solve that failed on a singular or
// indefinite system, or an iterative method that did not converge. The
// caller decides whether to fall back to a gradient-only step.
type SingularSystemError struct {
	Reason string
}

func (e SingularSystemError) Error() string {
	return fmt.Sprintf("singular system: %s", e.Reason)
}

// Interface is the solve contract: given a sparse symmetric positive
// (semi-)definite matrix H and right-hand side b, produce x with H x = b.
type Interface interface {
	Solve(H utils.CSR, b []float64) ([]float64, error)
}

// Direct solves through a dense Cholesky factorization. The Hessian's
// per-cell block structure keeps the expanded system small relative to
// the model size, so this is the default path.
type Direct struct{}

func (Direct) Solve(H utils.CSR, b []float64) (x []float64, err error) {
	var (
		nr, nc = H.Dims()
	)
	if nr != nc {
		err = fmt.Errorf("system matrix is %dx%d, want square", nr, nc)
		return
	}
	if len(b) != nr {
		err = fmt.Errorf("right-hand side has length %d, want %d", len(b), nr)
		return
	}
	S := mat.NewSymDense(nr, nil)
	H.M.DoNonZero(func(i, j int, v float64) {
		if i <= j {
			S.SetSym(i, j, v)
		}
	})
	var chol mat.Cholesky
	if ok := chol.Factorize(S); !ok {
		err = SingularSystemError{Reason: "Cholesky factorization failed"}
		return
	}
	xv := mat.NewVecDense(nr, nil)
	if serr := chol.SolveVecTo(xv, mat.NewVecDense(nr, b)); serr != nil {
		err = SingularSystemError{Reason: serr.Error()}
		return
	}
	x = make([]float64, nr)
	copy(x, xv.RawVector().Data)
	return
}

// CG is a matrix-free conjugate-gradient solve over the assembled sparse
// matrix, observationally equivalent to Direct within Tol on SPD systems.
type CG struct {
	Tol     float64 // relative residual target, default 1e-10
	MaxIter int     // default 10 * n
}

func (s CG) Solve(H utils.CSR, b []float64) (x []float64, err error) {
	var (
		nr, nc = H.Dims()
		tol    = s.Tol
		maxit  = s.MaxIter
	)
	if nr != nc {
		err = fmt.Errorf("system matrix is %dx%d, want square", nr, nc)
		return
	}
	if len(b) != nr {
		err = fmt.Errorf("right-hand side has length %d, want %d", len(b), nr)
		return
	}
	if tol == 0 {
		tol = 1.e-10
	}
	if maxit == 0 {
		maxit = 10 * nr
	}
	var (
		r  = make([]float64, nr)
		p  = make([]float64, nr)
		nb float64
	)
	x = make([]float64, nr)
	copy(r, b)
	copy(p, b)
	for _, v := range b {
		nb += v * v
	}
	nb = math.Sqrt(nb)
	if nb == 0 {
		return
	}
	rr := 0.0
	for _, v := range r {
		rr += v * v
	}
	for iter := 0; iter < maxit; iter++ {
		if math.Sqrt(rr) <= tol*nb {
			return
		}
		Ap := H.MulVec(p)
		pAp := 0.0
		for i := range p {
			pAp += p[i] * Ap[i]
		}
		if pAp <= 0 {
			x = nil
			err = SingularSystemError{Reason: "matrix is not positive definite"}
			return
		}
		alpha := rr / pAp
		for i := range x {
			x[i] += alpha * p[i]
			r[i] -= alpha * Ap[i]
		}
		rrNew := 0.0
		for _, v := range r {
			rrNew += v * v
		}
		beta := rrNew / rr
		for i := range p {
			p[i] = r[i] + beta*p[i]
		}
		rr = rrNew
	}
	x = nil
	err = SingularSystemError{Reason: fmt.Sprintf("conjugate gradient did not converge in %d iterations", maxit)}
	return
}
