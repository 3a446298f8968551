package mixture

import (
	"fmt"
	"math"

	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/geosparse/gopgi/utils"
)

// Guard against responsibility mass vanishing for a starved component.
const tinyMass = 10. * 2.220446049250313e-16

// Fit runs weighted EM with NInit independent restarts and keeps the
// restart with the highest final weighted log-likelihood. Restart zero is
// initialized by k-means on the samples; later restarts draw random
// initial means. Ties keep the earliest restart. A nil weights slice
// means uniform weights.
func (g *Weighted) Fit(samples *mat.Dense, weights []float64) (err error) {
	var (
		w    []float64
		best *emResult
	)
	if w, err = g.checkFitInputs(samples, weights); err != nil {
		return
	}
	var lastErr error
	for restart := 0; restart < g.cfg.NInit; restart++ {
		var init Params
		if restart == 0 {
			init, err = g.kmeansInit(samples, w)
			if err != nil {
				init, err = g.randomInit(samples, w)
			}
		} else {
			init, err = g.randomInit(samples, w)
		}
		if err != nil {
			return
		}
		res, runErr := g.runEM(samples, w, init)
		if runErr != nil {
			lastErr = runErr
			if g.cfg.Verbose {
				fmt.Printf("restart %d failed: %v\n", restart, runErr)
			}
			continue
		}
		if res.collapsed() {
			continue
		}
		if g.cfg.Verbose {
			fmt.Printf("restart %d converged, log-likelihood = %12.6f\n", restart, res.finalLL)
		}
		if best == nil || res.finalLL > best.finalLL {
			best = res
		}
	}
	if best == nil {
		reason := "every restart required the isotropic covariance fallback on every iteration"
		if lastErr != nil {
			reason = lastErr.Error()
		}
		err = FitError{Restarts: g.cfg.NInit, Reason: reason}
		return
	}
	g.adopt(best)
	return
}

// FitFrom resumes EM from an explicit parameter state, running a single
// pass with no random restarts. This is the warm-start entry point.
func (g *Weighted) FitFrom(init Params, samples *mat.Dense, weights []float64) (err error) {
	var w []float64
	if w, err = g.checkFitInputs(samples, weights); err != nil {
		return
	}
	if err = g.checkParams(init, samples); err != nil {
		return
	}
	res, runErr := g.runEM(samples, w, init)
	if runErr != nil {
		err = FitError{Restarts: 1, Reason: runErr.Error()}
		return
	}
	if res.collapsed() {
		err = FitError{Restarts: 1, Reason: "isotropic covariance fallback required on every iteration"}
		return
	}
	g.adopt(res)
	return
}

func (g *Weighted) checkFitInputs(samples *mat.Dense, weights []float64) (w []float64, err error) {
	n, d := samples.Dims()
	if n < g.cfg.NComponents {
		err = fmt.Errorf("%d samples cannot support %d components", n, g.cfg.NComponents)
		return
	}
	if g.fitted && d != g.dim {
		err = fmt.Errorf("samples have %d properties, mixture was fit with %d", d, g.dim)
		return
	}
	if weights == nil {
		w = utils.ConstArray(n, 1.)
		return
	}
	if len(weights) != n {
		err = fmt.Errorf("got %d weights for %d samples", len(weights), n)
		return
	}
	for i, wi := range weights {
		if wi < 0 || math.IsNaN(wi) {
			err = fmt.Errorf("sample weight %d is negative or NaN", i)
			return
		}
	}
	w = make([]float64, n)
	copy(w, weights)
	return
}

func (g *Weighted) checkParams(p Params, samples *mat.Dense) (err error) {
	_, d := samples.Dims()
	nr, nc := p.Means.Dims()
	if nr != g.cfg.NComponents || nc != d {
		err = fmt.Errorf("initial means are %dx%d, want %dx%d", nr, nc, g.cfg.NComponents, d)
		return
	}
	if p.Covariances == nil {
		err = fmt.Errorf("initial covariances are required")
		return
	}
	if p.Covariances.Kind() != g.cfg.CovarianceType {
		err = fmt.Errorf("initial covariances are %s, mixture is configured for %s",
			p.Covariances.Kind(), g.cfg.CovarianceType)
		return
	}
	if p.Covariances.Dim() != d || p.Covariances.NumComponents() != g.cfg.NComponents {
		err = fmt.Errorf("initial covariances cover %d components of dim %d, want %d of dim %d",
			p.Covariances.NumComponents(), p.Covariances.Dim(), g.cfg.NComponents, d)
		return
	}
	if len(p.Weights) != g.cfg.NComponents {
		err = fmt.Errorf("got %d initial mixing weights, want %d", len(p.Weights), g.cfg.NComponents)
		return
	}
	return
}

type emResult struct {
	means      *mat.Dense
	cov        *Covariances
	prec       *precisions
	weights    []float64
	logWeights []float64
	resp       *mat.Dense
	trajectory []float64
	finalLL    float64
	iters      int
	fallbacks  int
}

func (r *emResult) collapsed() bool {
	return r.iters > 0 && r.fallbacks == r.iters
}

func (g *Weighted) adopt(res *emResult) {
	_, g.dim = res.means.Dims()
	g.means = res.means
	g.cov = res.cov
	g.prec = res.prec
	g.weights = res.weights
	g.logWeights = res.logWeights
	g.resp = res.resp
	g.trajectory = res.trajectory
	g.fitted = true
}

func (g *Weighted) runEM(samples *mat.Dense, w []float64, init Params) (res *emResult, err error) {
	var (
		n, _   = samples.Dims()
		nc     = g.cfg.NComponents
		totalW float64
	)
	for _, wi := range w {
		totalW += wi
	}
	if totalW <= 0 {
		err = fmt.Errorf("total sample weight is zero")
		return
	}
	res = &emResult{
		means:      mat.DenseCopyOf(init.Means),
		cov:        init.Covariances.clone(),
		weights:    make([]float64, nc),
		logWeights: make([]float64, nc),
		resp:       mat.NewDense(n, nc, nil),
	}
	wsum := 0.0
	for _, v := range init.Weights {
		wsum += v
	}
	for c, v := range init.Weights {
		res.weights[c] = v / wsum
		res.logWeights[c] = math.Log(res.weights[c])
	}
	if res.prec, err = newPrecisions(res.cov); err != nil {
		err = fmt.Errorf("initial covariances: %w", err)
		return
	}

	prevMean := math.Inf(-1)
	for iter := 0; iter < g.cfg.MaxIter; iter++ {
		ll := g.eStep(samples, w, res)
		res.trajectory = append(res.trajectory, ll)
		res.iters++

		meanLL := ll / totalW
		if math.Abs(meanLL-prevMean) < g.cfg.Tol {
			break
		}
		prevMean = meanLL

		if err = g.mStep(samples, w, res); err != nil {
			return nil, err
		}
		fellBack := false
		if res.prec, fellBack, err = g.buildPrecisions(res.cov); err != nil {
			return nil, err
		}
		if fellBack {
			res.fallbacks++
		}
	}
	// Sync responsibilities and likelihood with the final parameters.
	res.finalLL = g.eStep(samples, w, res)
	res.trajectory = append(res.trajectory, res.finalLL)
	return
}

// eStep fills res.resp with posterior responsibilities and returns the
// total weighted log-likelihood.
func (g *Weighted) eStep(samples *mat.Dense, w []float64, res *emResult) (ll float64) {
	var (
		n, _ = samples.Dims()
		nc   = g.cfg.NComponents
		wl   = make([]float64, nc)
	)
	for i := 0; i < n; i++ {
		x := samples.RawRowView(i)
		for c := 0; c < nc; c++ {
			wl[c] = res.logWeights[c] + res.prec.logProb(c, x, res.means.RawRowView(c))
		}
		lse := utils.LogSumExp(wl)
		ll += w[i] * lse
		for c := 0; c < nc; c++ {
			res.resp.Set(i, c, math.Exp(wl[c]-lse))
		}
	}
	return
}

// mStep updates means, mixing weights and the family-shaped covariances
// from the current responsibilities, combining each sample's external
// weight with its responsibility.
func (g *Weighted) mStep(samples *mat.Dense, w []float64, res *emResult) (err error) {
	var (
		n, d = samples.Dims()
		nc   = g.cfg.NComponents
		mass = make([]float64, nc)
		tot  float64
	)
	for c := 0; c < nc; c++ {
		for i := 0; i < n; i++ {
			mass[c] += w[i] * res.resp.At(i, c)
		}
		mass[c] += tinyMass
		tot += mass[c]
	}
	for c := 0; c < nc; c++ {
		res.weights[c] = mass[c] / tot
		res.logWeights[c] = math.Log(res.weights[c])
	}
	for c := 0; c < nc; c++ {
		mu := res.means.RawRowView(c)
		for j := 0; j < d; j++ {
			mu[j] = 0
		}
		for i := 0; i < n; i++ {
			q := w[i] * res.resp.At(i, c)
			x := samples.RawRowView(i)
			for j := 0; j < d; j++ {
				mu[j] += q * x[j]
			}
		}
		for j := 0; j < d; j++ {
			mu[j] /= mass[c]
		}
	}
	res.cov, err = g.covarianceUpdate(samples, w, res, mass)
	return
}

func (g *Weighted) covarianceUpdate(samples *mat.Dense, w []float64, res *emResult, mass []float64) (cov *Covariances, err error) {
	var (
		n, d = samples.Dims()
		nc   = g.cfg.NComponents
		reg  = g.cfg.RegCovar
	)
	scatter := func(c int) (S *mat.SymDense) {
		S = mat.NewSymDense(d, nil)
		mu := res.means.RawRowView(c)
		for i := 0; i < n; i++ {
			q := w[i] * res.resp.At(i, c)
			if q == 0 {
				continue
			}
			x := samples.RawRowView(i)
			for j := 0; j < d; j++ {
				dj := x[j] - mu[j]
				for l := j; l < d; l++ {
					S.SetSym(j, l, S.At(j, l)+q*dj*(x[l]-mu[l]))
				}
			}
		}
		return
	}
	switch g.cfg.CovarianceType {
	case FullCov:
		mats := make([]*mat.SymDense, nc)
		for c := 0; c < nc; c++ {
			S := scatter(c)
			for j := 0; j < d; j++ {
				S.SetSym(j, j, S.At(j, j)/mass[c]+reg)
				for l := j + 1; l < d; l++ {
					S.SetSym(j, l, S.At(j, l)/mass[c])
				}
			}
			mats[c] = S
		}
		cov, err = NewFullCovariances(mats)
	case TiedCov:
		var totMass float64
		pooled := mat.NewSymDense(d, nil)
		for c := 0; c < nc; c++ {
			S := scatter(c)
			pooled.AddSym(pooled, S)
			totMass += mass[c]
		}
		for j := 0; j < d; j++ {
			pooled.SetSym(j, j, pooled.At(j, j)/totMass+reg)
			for l := j + 1; l < d; l++ {
				pooled.SetSym(j, l, pooled.At(j, l)/totMass)
			}
		}
		cov, err = NewTiedCovariance(pooled, nc)
	case DiagCov:
		diags := make([]*mat.VecDense, nc)
		for c := 0; c < nc; c++ {
			v := mat.NewVecDense(d, nil)
			mu := res.means.RawRowView(c)
			for i := 0; i < n; i++ {
				q := w[i] * res.resp.At(i, c)
				x := samples.RawRowView(i)
				for j := 0; j < d; j++ {
					dj := x[j] - mu[j]
					v.SetVec(j, v.AtVec(j)+q*dj*dj)
				}
			}
			for j := 0; j < d; j++ {
				v.SetVec(j, v.AtVec(j)/mass[c]+reg)
			}
			diags[c] = v
		}
		cov, err = NewDiagCovariances(diags)
	case SphericalCov:
		vars := make([]float64, nc)
		for c := 0; c < nc; c++ {
			mu := res.means.RawRowView(c)
			s := 0.0
			for i := 0; i < n; i++ {
				q := w[i] * res.resp.At(i, c)
				x := samples.RawRowView(i)
				for j := 0; j < d; j++ {
					dj := x[j] - mu[j]
					s += q * dj * dj
				}
			}
			vars[c] = s/(mass[c]*float64(d)) + reg
		}
		cov, err = NewSphericalCovariances(vars, d)
	default:
		err = fmt.Errorf("unknown covariance type %v", g.cfg.CovarianceType)
	}
	return
}

// buildPrecisions inverts the covariances, resetting any component that
// fails the SPD check to an isotropic fallback for this iteration. A
// failure that survives the fallback is fatal for the restart.
func (g *Weighted) buildPrecisions(cov *Covariances) (p *precisions, fellBack bool, err error) {
	if p, err = newPrecisions(cov); err == nil {
		return
	}
	// Only the matrix families can fail the factorization; diag and
	// spherical updates are floored positive by construction.
	fellBack = true
	for c := range cov.full {
		S := cov.full[c]
		if _, _, ferr := utils.SPDFactor(S); ferr == nil {
			continue
		}
		avg := 0.0
		for j := 0; j < cov.dim; j++ {
			avg += math.Abs(S.At(j, j))
		}
		avg = avg/float64(cov.dim) + g.cfg.RegCovar
		iso := mat.NewSymDense(cov.dim, nil)
		for j := 0; j < cov.dim; j++ {
			iso.SetSym(j, j, avg)
		}
		cov.full[c] = iso
	}
	if p, err = newPrecisions(cov); err != nil {
		err = fmt.Errorf("covariance not positive-definite after isotropic fallback: %w", err)
		return
	}
	return
}

// kmeansInit seeds EM from a k-means partition of the samples: cluster
// centers become the initial means, cluster shares the mixing weights,
// and the pooled sample covariance the initial spread.
func (g *Weighted) kmeansInit(samples *mat.Dense, w []float64) (init Params, err error) {
	var (
		n, d = samples.Dims()
		nc   = g.cfg.NComponents
	)
	obs := make(clusters.Observations, n)
	for i := 0; i < n; i++ {
		pt := make(clusters.Coordinates, d)
		copy(pt, samples.RawRowView(i))
		obs[i] = pt
	}
	km := kmeans.New()
	cc, kerr := km.Partition(obs, nc)
	if kerr != nil {
		err = fmt.Errorf("k-means initialization: %w", kerr)
		return
	}
	if len(cc) != nc {
		err = fmt.Errorf("k-means produced %d clusters, want %d", len(cc), nc)
		return
	}
	means := mat.NewDense(nc, d, nil)
	weights := make([]float64, nc)
	for c, cl := range cc {
		if len(cl.Center) != d {
			err = fmt.Errorf("k-means center %d has dimension %d, want %d", c, len(cl.Center), d)
			return
		}
		means.SetRow(c, []float64(cl.Center))
		weights[c] = float64(len(cl.Observations)+1) / float64(n+nc)
	}
	var cov *Covariances
	if cov, err = g.pooledCovariances(samples, w); err != nil {
		return
	}
	init = Params{Means: means, Covariances: cov, Weights: weights}
	return
}

// randomInit draws distinct samples as the initial means with uniform
// mixing weights and the pooled sample covariance.
func (g *Weighted) randomInit(samples *mat.Dense, w []float64) (init Params, err error) {
	var (
		n, d = samples.Dims()
		nc   = g.cfg.NComponents
	)
	perm := g.rng.Perm(n)
	means := mat.NewDense(nc, d, nil)
	for c := 0; c < nc; c++ {
		means.SetRow(c, samples.RawRowView(perm[c]))
	}
	var cov *Covariances
	if cov, err = g.pooledCovariances(samples, w); err != nil {
		return
	}
	init = Params{
		Means:       means,
		Covariances: cov,
		Weights:     utils.ConstArray(nc, 1./float64(nc)),
	}
	return
}

// pooledCovariances shapes the weighted sample covariance of the whole
// cloud into the configured family.
func (g *Weighted) pooledCovariances(samples *mat.Dense, w []float64) (cov *Covariances, err error) {
	var (
		_, d = samples.Dims()
		nc   = g.cfg.NComponents
		reg  = g.cfg.RegCovar
	)
	S := mat.NewSymDense(d, nil)
	stat.CovarianceMatrix(S, samples, w)
	for j := 0; j < d; j++ {
		S.SetSym(j, j, S.At(j, j)+reg)
	}
	switch g.cfg.CovarianceType {
	case FullCov:
		mats := make([]*mat.SymDense, nc)
		for c := 0; c < nc; c++ {
			W := mat.NewSymDense(d, nil)
			W.CopySym(S)
			mats[c] = W
		}
		cov, err = NewFullCovariances(mats)
	case TiedCov:
		cov, err = NewTiedCovariance(S, nc)
	case DiagCov:
		diags := make([]*mat.VecDense, nc)
		for c := 0; c < nc; c++ {
			v := mat.NewVecDense(d, nil)
			for j := 0; j < d; j++ {
				v.SetVec(j, S.At(j, j))
			}
			diags[c] = v
		}
		cov, err = NewDiagCovariances(diags)
	case SphericalCov:
		avg := 0.0
		for j := 0; j < d; j++ {
			avg += S.At(j, j)
		}
		avg /= float64(d)
		cov, err = NewSphericalCovariances(utils.ConstArray(nc, avg), d)
	default:
		err = fmt.Errorf("unknown covariance type %v", g.cfg.CovarianceType)
	}
	return
}
