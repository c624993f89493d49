package confidence

import "math"

// Smoother holds the per-stream EMA state. The first raw score seeds the
// state so a stream never reports a warm-up artifact; after that each
// update blends alpha parts new score with (1-alpha) parts history, so a
// higher alpha tracks the raw score more closely. Emitted values are
// rounded to whole integers, internal state stays fractional.
type Smoother struct {
	alpha  float64
	value  float64
	primed bool
}

func NewSmoother(alpha float64) *Smoother {
	return &Smoother{alpha: alpha}
}

// Update folds a raw score in and returns the emitted integer score.
func (s *Smoother) Update(raw float64) int {
	if !s.primed {
		s.value = raw
		s.primed = true
	} else {
		s.value = s.alpha*raw + (1-s.alpha)*s.value
	}
	return s.Current()
}

// Current returns the last emitted score without changing state.
func (s *Smoother) Current() int {
	return int(math.Round(s.value))
}

// Primed reports whether any score has been folded in yet.
func (s *Smoother) Primed() bool {
	return s.primed
}
