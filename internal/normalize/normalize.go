// Package normalize quantizes noisy numeric telemetry from the persona server
// so downstream state only changes when values meaningfully differ.
package normalize

import "math"

// DefaultPrecision keeps one decimal place.
const DefaultPrecision = 10

// Map floors every value in raw to the given precision divisor, e.g. a
// precision of 10 keeps one decimal place. A precision <= 0 falls back to
// DefaultPrecision. The input is never mutated.
func Map(raw map[string]float64, precision float64) map[string]float64 {
	if precision <= 0 {
		precision = DefaultPrecision
	}
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		out[k] = math.Floor(v*precision) / precision
	}
	return out
}

// Detector suppresses updates whose rounded values are unchanged from the
// previous emission. Comparison is field-wise: two mappings are equal only if
// they have the same keys and every value matches. (A sum-of-fields check
// would be cheaper but collides on distinct vectors with equal totals.)
type Detector struct {
	precision float64
	last      map[string]float64
	emitted   bool
}

// NewDetector returns a detector quantizing with the given precision divisor.
func NewDetector(precision float64) *Detector {
	return &Detector{precision: precision}
}

// Observe rounds raw and reports whether the result differs from the last
// emitted mapping. On a change the rounded mapping is returned with changed
// true and becomes the new baseline; otherwise changed is false and the
// returned map is the unchanged baseline.
func (d *Detector) Observe(raw map[string]float64) (rounded map[string]float64, changed bool) {
	r := Map(raw, d.precision)
	if d.emitted && Equal(d.last, r) {
		return d.last, false
	}
	d.last = r
	d.emitted = true
	return r, true
}

// Reset clears the baseline so the next observation always emits.
func (d *Detector) Reset() {
	d.last = nil
	d.emitted = false
}

// Equal reports field-wise equality of two mappings.
func Equal(a, b map[string]float64) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || av != bv {
			return false
		}
	}
	return true
}
