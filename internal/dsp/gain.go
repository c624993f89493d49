package dsp

import (
	"context"
	"math"

	"github.com/resonlabs/reson-core/internal/audio"
	"github.com/resonlabs/reson-core/internal/config"
)

const (
	agcSilenceRMS  = 10.0
	softLimitStart = 0.9
	softLimitRatio = 0.7
)

// GainNormalizer is an AGC that steers frame RMS toward a target level.
// The applied gain is smoothed across frames and clamped to configured
// bounds; samples pushed past 90% of full scale are soft-limited before
// the final hard clip.
type GainNormalizer struct {
	cfg        config.AGCConfig
	smoothGain float64
	primed     bool
}

func NewGainNormalizer(cfg config.AGCConfig) *GainNormalizer {
	return &GainNormalizer{cfg: cfg}
}

func (g *GainNormalizer) Name() string { return "gain_normalization" }

func (g *GainNormalizer) Process(_ context.Context, samples []int16) ([]int16, error) {
	if len(samples) == 0 {
		return samples, nil
	}

	rms := audio.RMS(samples)
	if rms < agcSilenceRMS {
		// Near-silence: amplifying would only raise the noise floor.
		return samples, nil
	}

	desired := g.cfg.TargetRMS / rms
	if desired < g.cfg.MinGain {
		desired = g.cfg.MinGain
	}
	if desired > g.cfg.MaxGain {
		desired = g.cfg.MaxGain
	}

	if !g.primed {
		g.smoothGain = desired
		g.primed = true
	} else {
		g.smoothGain = g.cfg.Smoothing*g.smoothGain + (1-g.cfg.Smoothing)*desired
	}

	out := make([]int16, len(samples))
	limit := softLimitStart * audio.FullScale
	for i, s := range samples {
		v := float64(s) * g.smoothGain
		if abs := math.Abs(v); abs > limit {
			excess := abs - limit
			v = math.Copysign(limit+excess*softLimitRatio, v)
		}
		out[i] = clampInt16(v)
	}
	return out, nil
}
