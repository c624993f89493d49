package confidence

import (
	"math"

	"github.com/resonlabs/reson-core/internal/features"
)

// Scorer maps a FeatureSet to a raw confidence in [0, 100]. Each phase
// is a strict superset of the previous one; the active phase is chosen
// once from config.
type Scorer interface {
	Phase() int
	Score(fs features.FeatureSet) float64
}

// NewScorer returns the strategy for the given phase. Unsupported phases
// fall back to the richest strategy.
func NewScorer(phase int) Scorer {
	switch phase {
	case 1:
		return phase1{}
	case 2:
		return phase2{}
	default:
		return phase3{}
	}
}

const (
	loudnessReference = 10000.0

	// Feature targets for the phase 3 terms.
	centroidTargetHz = 2000.0
	zcrTarget        = 0.10
)

type phase1 struct{}

func (phase1) Phase() int { return 1 }

// Score is loudness only: a linear ramp of mean RMS against a fixed
// reference level.
func (phase1) Score(fs features.FeatureSet) float64 {
	return clampScore(fs.RMSMean / loudnessReference * 100)
}

type phase2 struct{}

func (phase2) Phase() int { return 2 }

func (phase2) Score(fs features.FeatureSet) float64 {
	score := 0.25*loudness(fs) +
		0.15*rmsStability(fs) +
		0.15*pitchPresence(fs) +
		0.15*pitchStability(fs) +
		0.20*speechActivity(fs) +
		0.10*speechRateScore(fs)
	return clampScore(score)
}

type phase3 struct{}

func (phase3) Phase() int { return 3 }

func (phase3) Score(fs features.FeatureSet) float64 {
	score := 0.20*loudness(fs) +
		0.12*rmsStability(fs) +
		0.12*pitchPresence(fs) +
		0.12*pitchStability(fs) +
		0.15*speechActivity(fs) +
		0.08*speechRateScore(fs) +
		0.08*centroidScore(fs) +
		0.05*centroidStability(fs) +
		0.05*zcrScore(fs) +
		0.03*zcrStability(fs)
	return clampScore(score)
}

// Component terms, each in [0, 100].

func loudness(fs features.FeatureSet) float64 {
	return clampScore(fs.RMSMean / loudnessReference * 100)
}

// rmsStability rewards a steady level: the coefficient of variation is
// inverted so flat delivery scores high and erratic delivery low.
func rmsStability(fs features.FeatureSet) float64 {
	if fs.RMSMean <= 0 {
		return 0
	}
	cv := math.Sqrt(fs.RMSVariance) / fs.RMSMean
	return clampScore((1 - cv) * 100)
}

func pitchPresence(fs features.FeatureSet) float64 {
	if fs.Voiced() {
		return 100
	}
	return 0
}

func pitchStability(fs features.FeatureSet) float64 {
	if !fs.Voiced() {
		return 0
	}
	cv := math.Sqrt(fs.PitchVariance) / fs.Pitch
	return clampScore((1 - cv) * 100)
}

func speechActivity(fs features.FeatureSet) float64 {
	return clampScore((1 - fs.SilenceRatio) * 100)
}

// speechRateScore peaks in a comfortable band around 2-5 transitions per
// second and tapers off toward rushed or halting delivery.
func speechRateScore(fs features.FeatureSet) float64 {
	rate := fs.SpeechRate
	switch {
	case rate <= 0:
		return 0
	case rate < 2:
		return clampScore(rate / 2 * 100)
	case rate <= 5:
		return 100
	default:
		return clampScore((1 - (rate-5)/10) * 100)
	}
}

func centroidScore(fs features.FeatureSet) float64 {
	if fs.CentroidMean <= 0 {
		return 0
	}
	deviation := math.Abs(fs.CentroidMean-centroidTargetHz) / centroidTargetHz
	return clampScore((1 - deviation) * 100)
}

func centroidStability(fs features.FeatureSet) float64 {
	if fs.CentroidMean <= 0 {
		return 0
	}
	cv := math.Sqrt(fs.CentroidVariance) / fs.CentroidMean
	return clampScore((1 - cv) * 100)
}

func zcrScore(fs features.FeatureSet) float64 {
	deviation := math.Abs(fs.ZCRMean-zcrTarget) / zcrTarget
	return clampScore((1 - deviation) * 100)
}

func zcrStability(fs features.FeatureSet) float64 {
	if fs.ZCRMean <= 0 {
		return 0
	}
	cv := math.Sqrt(fs.ZCRVariance) / fs.ZCRMean
	return clampScore((1 - cv) * 100)
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
