package dsp

import (
	"context"
	"math"

	"github.com/resonlabs/reson-core/internal/audio"
)

const (
	noiseFFTSize         = 256
	noiseProfileFrames   = 10
	noiseProfileAlpha    = 0.7
	noiseSubtractFactor  = 0.5
	noiseMagnitudeFloor  = 0.1
	noiseLearnCeilingDB  = -35.0
	noiseGateMarginDB    = 10.0
	noiseGateAttenuation = 0.1
	highPassAlpha        = 0.98
)

// NoiseReducer applies spectral subtraction against a noise profile
// learned online from low-energy frames. It only ever attenuates: per-bin
// output magnitude is floored at a fraction of the input magnitude, never
// raised above it, so silence stays silent and no stage can add energy.
type NoiseReducer struct {
	profile      []float64
	profileCount int
	profileRMSdb float64

	hpPrevIn  float64
	hpPrevOut float64
	hpPrimed  bool
}

func NewNoiseReducer() *NoiseReducer {
	return &NoiseReducer{profileRMSdb: math.Inf(-1)}
}

func (n *NoiseReducer) Name() string { return "noise_reduction" }

func (n *NoiseReducer) Process(_ context.Context, samples []int16) ([]int16, error) {
	if len(samples) == 0 {
		return samples, nil
	}

	work := make([]float64, len(samples))
	for i, s := range samples {
		work[i] = float64(s)
	}
	n.highPass(work)

	rmsDB := dbfs(rmsFloat(work))
	if n.profileCount < noiseProfileFrames {
		if rmsDB < noiseLearnCeilingDB {
			n.learn(work, rmsDB)
		}
	} else {
		n.subtract(work)
		if rmsDB < n.profileRMSdb+noiseGateMarginDB {
			for i := range work {
				work[i] *= noiseGateAttenuation
			}
		}
	}

	out := make([]int16, len(samples))
	for i, v := range work {
		out[i] = clampInt16(v)
	}
	return out, nil
}

// highPass removes DC and rumble with a first-order filter. State carries
// across frames so block boundaries stay seamless.
func (n *NoiseReducer) highPass(work []float64) {
	for i, v := range work {
		if !n.hpPrimed {
			n.hpPrimed = true
			n.hpPrevIn = v
			n.hpPrevOut = 0
			work[i] = 0
			continue
		}
		out := highPassAlpha * (n.hpPrevOut + v - n.hpPrevIn)
		n.hpPrevIn = v
		n.hpPrevOut = out
		work[i] = out
	}
}

func (n *NoiseReducer) learn(work []float64, rmsDB float64) {
	mags := magnitudes(work)
	if n.profile == nil {
		n.profile = mags
	} else {
		for i := range n.profile {
			n.profile[i] = noiseProfileAlpha*n.profile[i] + (1-noiseProfileAlpha)*mags[i]
		}
	}
	n.profileCount++
	if math.IsInf(n.profileRMSdb, -1) {
		n.profileRMSdb = rmsDB
	} else {
		n.profileRMSdb = noiseProfileAlpha*n.profileRMSdb + (1-noiseProfileAlpha)*rmsDB
	}
}

// subtract runs block-wise spectral subtraction over the frame. The tail
// block is zero-padded for the transform and truncated on the way out, so
// the frame length never changes.
func (n *NoiseReducer) subtract(work []float64) {
	for start := 0; start < len(work); start += noiseFFTSize {
		end := start + noiseFFTSize
		if end > len(work) {
			end = len(work)
		}
		block := work[start:end]

		buf := make([]complex128, noiseFFTSize)
		for i, v := range block {
			buf[i] = complex(v, 0)
		}
		fft(buf, false)

		half := noiseFFTSize / 2
		for i := 0; i <= half; i++ {
			mag := cmplxAbs(buf[i])
			if mag == 0 {
				continue
			}
			reduced := mag - noiseSubtractFactor*n.profile[i]
			floor := noiseMagnitudeFloor * mag
			if reduced < floor {
				reduced = floor
			}
			scale := reduced / mag
			buf[i] *= complex(scale, 0)
			if i != 0 && i != half {
				// Mirror onto the negative frequencies to keep the
				// inverse transform real.
				buf[noiseFFTSize-i] *= complex(scale, 0)
			}
		}

		fft(buf, true)
		for i := range block {
			block[i] = real(buf[i])
		}
	}
}

func magnitudes(work []float64) []float64 {
	buf := make([]complex128, noiseFFTSize)
	limit := len(work)
	if limit > noiseFFTSize {
		limit = noiseFFTSize
	}
	for i := 0; i < limit; i++ {
		buf[i] = complex(work[i], 0)
	}
	fft(buf, false)
	mags := make([]float64, noiseFFTSize/2+1)
	for i := range mags {
		mags[i] = cmplxAbs(buf[i])
	}
	return mags
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}

func rmsFloat(work []float64) float64 {
	if len(work) == 0 {
		return 0
	}
	var sum float64
	for _, v := range work {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(work)))
}

// dbfs converts an int16-scale RMS amplitude to dB relative to full scale.
func dbfs(rms float64) float64 {
	if rms <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms/float64(audio.FullScale))
}

func clampInt16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(math.Round(v))
}
