package rating

import "math"

// minDenominator guards the pdf/cdf ratios against an underflowed CDF.
const minDenominator = 1e-300

var invSqrt2Pi = 1 / math.Sqrt(2*math.Pi)

// pdf is the standard normal density.
func pdf(x float64) float64 {
	return invSqrt2Pi * math.Exp(-x*x/2)
}

// cdf is the standard normal CDF. erfc keeps precision in the lower tail.
func cdf(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

// ppf is the inverse of cdf.
func ppf(p float64) float64 {
	return math.Sqrt2 * math.Erfinv(2*p-1)
}

// vWin is the additive mean correction after observing a performance
// difference t greater than the margin eps.
func vWin(t, eps float64) float64 {
	x := t - eps
	denom := cdf(x)
	if denom < minDenominator {
		return -x
	}
	return pdf(x) / denom
}

// wWin is the multiplicative variance correction matching vWin.
func wWin(t, eps float64) float64 {
	x := t - eps
	v := vWin(t, eps)
	w := v * (v + x)
	if w > 0 && w < 1 {
		return w
	}
	// Outside (0, 1) only through rounding in the tails.
	if x < 0 {
		return 1
	}
	return 0
}

// vDraw is the mean correction after observing |difference| <= eps.
// The sign follows t: the favoured side is pulled down.
func vDraw(t, eps float64) float64 {
	abs := math.Abs(t)
	a, b := eps-abs, -eps-abs
	denom := cdf(a) - cdf(b)
	var v float64
	if denom < minDenominator {
		v = a
	} else {
		v = (pdf(b) - pdf(a)) / denom
	}
	if t < 0 {
		return -v
	}
	return v
}

// wDraw is the variance correction matching vDraw.
func wDraw(t, eps float64) float64 {
	abs := math.Abs(t)
	a, b := eps-abs, -eps-abs
	denom := cdf(a) - cdf(b)
	if denom < minDenominator {
		return 1
	}
	v := vDraw(abs, eps)
	w := v*v + (a*pdf(a)-b*pdf(b))/denom
	switch {
	case math.IsNaN(w) || w >= 1:
		return 1
	case w < 0:
		return 0
	}
	return w
}
