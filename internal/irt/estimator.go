package irt

import "math"

// Step sizes of the fixed-step paths.
const (
	// ShortHistoryStep moves theta when there are too few items for a likelihood fit.
	ShortHistoryStep = 0.3
	// DegradedStep moves theta when the likelihood search cannot be used or fails.
	DegradedStep = 0.2
)

const (
	defaultMaxIterations = 50
	defaultTolerance     = 1e-6
	// gridStep is the spacing of the coarse likelihood scan over [MinTheta, MaxTheta].
	gridStep  = 0.05
	probFloor = 1e-12
)

// Status tags how an estimate was produced.
type Status string

const (
	StatusConverged Status = "converged"
	StatusFallback  Status = "fallback"
)

// FallbackReason says why the likelihood search was not used.
type FallbackReason string

const (
	ReasonNone              FallbackReason = ""
	ReasonShortHistory      FallbackReason = "short_history"
	ReasonIncompleteHistory FallbackReason = "incomplete_history"
	ReasonInvalidItem       FallbackReason = "invalid_item"
	ReasonNoInformation     FallbackReason = "no_information"
	ReasonNotConverged      FallbackReason = "not_converged"
)

// Estimate is the tagged result of one estimator call.
type Estimate struct {
	Theta      float64        // new estimate, always within [MinTheta, MaxTheta]
	Prior      float64        // theta current immediately before the call
	Status     Status         // converged or fallback
	Reason     FallbackReason // set when Status is fallback
	Iterations int            // refinement iterations spent, 0 on the fixed-step paths
}

// Converged reports whether the likelihood search produced the estimate.
func (e Estimate) Converged() bool { return e.Status == StatusConverged }

// Estimator computes maximum-likelihood ability estimates. The zero value is
// ready to use.
type Estimator struct {
	// MaxIterations bounds the bisection refinement.
	MaxIterations int
	// Tolerance is the bracket width at which refinement stops.
	Tolerance float64
}

// EstimateTheta runs the default Estimator.
func EstimateTheta(prior float64, items []Item, responses []bool) Estimate {
	return Estimator{}.Estimate(prior, items, responses)
}

// Estimate updates prior from the administered items and their responses.
//
// With zero or one item the theta moves by ShortHistoryStep in the direction
// of the most recent response. With two or more items the likelihood of the
// response pattern is maximized over [MinTheta, MaxTheta]; the global maximum
// is returned, with prior only breaking exact ties.
// When the search cannot run (responses not aligned with items, invalid
// parameters) or does not converge within MaxIterations, theta moves by
// DegradedStep using only the most recent response.
func (e Estimator) Estimate(prior float64, items []Item, responses []bool) Estimate {
	prior = Clamp(prior)

	if len(items) <= 1 {
		return stepped(prior, responses, ShortHistoryStep, ReasonShortHistory)
	}
	if len(items) != len(responses) {
		return stepped(prior, responses, DegradedStep, ReasonIncompleteHistory)
	}
	for _, it := range items {
		if !it.Valid() {
			return stepped(prior, responses, DegradedStep, ReasonInvalidItem)
		}
	}

	theta, iters, reason := e.search(prior, items, responses)
	if reason != ReasonNone {
		out := stepped(prior, responses, DegradedStep, reason)
		out.Iterations = iters
		return out
	}
	return Estimate{
		Theta:      Clamp(theta),
		Prior:      prior,
		Status:     StatusConverged,
		Iterations: iters,
	}
}

// search finds the global maximum of the log-likelihood on [MinTheta, MaxTheta].
// A coarse scan locates every local maximum on the grid, bisection on the
// score refines each one inside its cell, and the highest wins. A maximum on
// a bound is returned directly. Equal peaks resolve to the one nearest prior.
func (e Estimator) search(prior float64, items []Item, responses []bool) (float64, int, FallbackReason) {
	maxIter := e.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}
	tol := e.Tolerance
	if tol <= 0 {
		tol = defaultTolerance
	}

	informative := false
	for _, it := range items {
		if it.C < 1 {
			informative = true
			break
		}
	}
	if !informative {
		return 0, 0, ReasonNoInformation
	}

	last := int(math.Round((MaxTheta - MinTheta) / gridStep))
	lls := make([]float64, last+1)
	for i := range lls {
		lls[i] = logLikelihood(gridPoint(i), items, responses)
		if !finite(lls[i]) {
			return 0, 0, ReasonNotConverged
		}
	}

	best, bestLL, spent := 0.0, math.Inf(-1), 0
	for i, ll := range lls {
		if i > 0 && ll <= lls[i-1] {
			continue
		}
		if i < last && ll < lls[i+1] {
			continue
		}
		theta, iters, ok := refine(i, last, ll, items, responses, maxIter, tol)
		if !ok {
			return theta, iters, ReasonNotConverged
		}
		spent = max(spent, iters)
		peak := logLikelihood(theta, items, responses)
		if peak > bestLL || (peak == bestLL && math.Abs(theta-prior) < math.Abs(best-prior)) {
			best, bestLL = theta, peak
		}
	}
	return best, spent, ReasonNone
}

// refine bisects the score inside the grid cell next to local maximum i.
func refine(i, last int, gridLL float64, items []Item, responses []bool, maxIter int, tol float64) (float64, int, bool) {
	theta := gridPoint(i)
	s := score(theta, items, responses)
	var lo, hi float64
	switch {
	case !finite(s):
		return theta, 0, false
	case s == 0:
		return theta, 0, true
	case s > 0:
		if i == last {
			return MaxTheta, 0, true
		}
		lo, hi = theta, gridPoint(i+1)
	default:
		if i == 0 {
			return MinTheta, 0, true
		}
		lo, hi = gridPoint(i-1), theta
	}

	// lo sits on the rising side of the maximum, hi on the falling side.
	for iter := 1; iter <= maxIter; iter++ {
		mid := (lo + hi) / 2
		sm := score(mid, items, responses)
		if !finite(sm) {
			return theta, iter, false
		}
		if sm > 0 {
			lo = mid
		} else {
			hi = mid
		}
		if hi-lo < tol {
			root := (lo + hi) / 2
			if logLikelihood(root, items, responses) < gridLL {
				// dip inside the cell; the grid point is the better maximum
				root = theta
			}
			return root, iter, true
		}
	}
	return theta, maxIter, false
}

func gridPoint(i int) float64 {
	return Clamp(MinTheta + float64(i)*gridStep)
}

func stepped(prior float64, responses []bool, step float64, reason FallbackReason) Estimate {
	delta := -step
	if n := len(responses); n > 0 && responses[n-1] {
		delta = step
	}
	return Estimate{
		Theta:  Clamp(prior + delta),
		Prior:  prior,
		Status: StatusFallback,
		Reason: reason,
	}
}

func logLikelihood(theta float64, items []Item, responses []bool) float64 {
	var ll float64
	for i, it := range items {
		p := it.Probability(theta)
		if responses[i] {
			ll += math.Log(math.Max(p, probFloor))
		} else {
			ll += math.Log(math.Max(1-p, probFloor))
		}
	}
	return ll
}

// score returns the first derivative of the log-likelihood at theta. With
// P = c + (1-c)L:
//
//	d/dθ log L = Σ D a (u - P) L / P
func score(theta float64, items []Item, responses []bool) float64 {
	var total float64
	for i, it := range items {
		if it.C >= 1 {
			continue
		}
		k := D * it.A
		l := logistic(k * (theta - it.B))
		p := it.C + (1-it.C)*l
		ratio := 1.0
		if p > 0 {
			ratio = l / p
		}
		u := 0.0
		if responses[i] {
			u = 1
		}
		total += k * (u - p) * ratio
	}
	return total
}
