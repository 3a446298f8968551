package utils

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func ConstArray(N int, val float64) (v []float64) {
	v = make([]float64, N)
	for i := range v {
		v[i] = val
	}
	return
}

// LogSumExp computes log(sum(exp(x))) guarding against overflow.
func LogSumExp(x []float64) (lse float64) {
	var (
		max = floats.Max(x)
		sum float64
	)
	if math.IsInf(max, -1) {
		return math.Inf(-1)
	}
	for _, val := range x {
		sum += math.Exp(val - max)
	}
	lse = max + math.Log(sum)
	return
}

// SPDFactor runs a Cholesky factorization of S, retrying with growing
// diagonal jitter before giving up. The returned logDet is of S itself.
func SPDFactor(S *mat.SymDense) (chol *mat.Cholesky, logDet float64, err error) {
	var (
		n      = S.SymmetricDim()
		jitter = 0.0
	)
	chol = &mat.Cholesky{}
	for try := 0; try < 4; try++ {
		W := mat.NewSymDense(n, nil)
		W.CopySym(S)
		if jitter > 0 {
			for i := 0; i < n; i++ {
				W.SetSym(i, i, W.At(i, i)+jitter)
			}
		}
		if ok := chol.Factorize(W); ok {
			logDet = chol.LogDet()
			return
		}
		if jitter == 0 {
			jitter = 1.e-10
		} else {
			jitter *= 100.
		}
	}
	err = fmt.Errorf("matrix is not positive definite after jitter of %v", jitter)
	return
}

// SPDInverse inverts a symmetric positive-definite matrix through its
// Cholesky factors, returning the inverse and log-determinant of S.
func SPDInverse(S *mat.SymDense) (Sinv *mat.SymDense, logDet float64, err error) {
	var (
		chol *mat.Cholesky
		n    = S.SymmetricDim()
	)
	if chol, logDet, err = SPDFactor(S); err != nil {
		return
	}
	Sinv = mat.NewSymDense(n, nil)
	if err = chol.InverseTo(Sinv); err != nil {
		return
	}
	return
}
