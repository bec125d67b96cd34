// Package irt implements the three-parameter logistic (3PL) item response
// model together with the ability estimator and the item selector built on it.
// Everything here is pure: no I/O, no shared state beyond the selector's RNG.
package irt

import "math"

// D rescales the logistic curve to approximate the normal-ogive model.
const D = 1.7

// Ability bounds. Every theta leaving this package is clamped into [MinTheta, MaxTheta].
const (
	MinTheta = -4.0
	MaxTheta = 4.0
)

// Item is the read-only 3PL descriptor of a question.
//
//	A: discrimination, > 0
//	B: difficulty
//	C: pseudo-guessing, in [0, 1)
type Item struct {
	ID string  `json:"id"`
	A  float64 `json:"a"`
	B  float64 `json:"b"`
	C  float64 `json:"c"`
}

// Valid reports whether the parameters are usable by the model.
// C == 1 is accepted: it is a degenerate item that carries no information.
func (it Item) Valid() bool {
	if !finite(it.A) || !finite(it.B) || !finite(it.C) {
		return false
	}
	return it.A > 0 && it.C >= 0 && it.C <= 1
}

// ResponseProbability returns P(correct | theta) under the 3PL model:
//
//	p = c + (1 - c) / (1 + exp(-1.7 * a * (theta - b)))
//
// The exponential never overflows; for large |theta - b| the result
// saturates to c or 1.
func ResponseProbability(a, b, c, theta float64) float64 {
	return c + (1-c)*logistic(D*a*(theta-b))
}

// Probability is ResponseProbability for an Item.
func (it Item) Probability(theta float64) float64 {
	return ResponseProbability(it.A, it.B, it.C, theta)
}

// FisherInformation returns the selection information of item at theta:
//
//	info = (1.7 a)^2 * (P - c)^2 / (1 - c)^2
//
// Since P - c = (1 - c) * L, where L is the logistic term, the ratio is
// evaluated as L^2 directly instead of subtracting two nearly equal numbers.
// Returns 0 when P <= 0, P >= 1 or c >= 1.
func FisherInformation(item Item, theta float64) float64 {
	if item.C >= 1 {
		return 0
	}
	l := logistic(D * item.A * (theta - item.B))
	p := item.C + (1-item.C)*l
	if p <= 0 || p >= 1 || l >= 1 || math.IsNaN(l) {
		return 0
	}
	k := D * item.A
	info := k * k * l * l
	if !finite(info) || info < 0 {
		return 0
	}
	return info
}

// Clamp bounds theta to [MinTheta, MaxTheta]. NaN maps to 0.
func Clamp(theta float64) float64 {
	switch {
	case math.IsNaN(theta):
		return 0
	case theta < MinTheta:
		return MinTheta
	case theta > MaxTheta:
		return MaxTheta
	}
	return theta
}

// logistic computes 1 / (1 + exp(-z)) without overflowing for any z.
func logistic(z float64) float64 {
	if math.IsNaN(z) {
		z = 0
	}
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
