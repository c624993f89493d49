package dsp

import (
	"context"
	"math"

	"github.com/resonlabs/reson-core/internal/audio"
	"github.com/resonlabs/reson-core/internal/config"
)

// pitchEnergyFloor is the RMS below which the adjuster leaves the frame
// alone: boosting near-silence only amplifies residual noise.
const pitchEnergyFloor = 0.05 * audio.FullScale

// PitchAdjuster is the optional final stage: a bounded energy boost for
// voiced frames plus an optional micro pitch shift. The shift ratio is
// capped in config, it is never allowed to alter intelligibility. Output
// length always equals input length; the resampled tail is padded with
// the final sample.
type PitchAdjuster struct {
	cfg config.PitchConfig
}

func NewPitchAdjuster(cfg config.PitchConfig) *PitchAdjuster {
	return &PitchAdjuster{cfg: cfg}
}

func (p *PitchAdjuster) Name() string { return "pitch_adjust" }

func (p *PitchAdjuster) Process(_ context.Context, samples []int16) ([]int16, error) {
	if len(samples) == 0 {
		return samples, nil
	}
	if audio.RMS(samples) < pitchEnergyFloor {
		return samples, nil
	}

	work := make([]float64, len(samples))
	for i, s := range samples {
		work[i] = float64(s) * p.cfg.EnergyBoost
	}

	if p.cfg.MaxShift > 0 {
		work = resample(work, 1+p.cfg.MaxShift)
	}

	out := make([]int16, len(samples))
	for i := range out {
		out[i] = clampInt16(work[i])
	}
	return out, nil
}

// resample stretches the signal by ratio with linear interpolation,
// keeping the original length.
func resample(in []float64, ratio float64) []float64 {
	out := make([]float64, len(in))
	last := len(in) - 1
	for i := range out {
		pos := float64(i) * ratio
		lo := int(math.Floor(pos))
		if lo >= last {
			out[i] = in[last]
			continue
		}
		frac := pos - float64(lo)
		out[i] = in[lo]*(1-frac) + in[lo+1]*frac
	}
	return out
}
