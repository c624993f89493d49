package features

import (
	"math"

	"github.com/resonlabs/reson-core/internal/audio"
	"github.com/resonlabs/reson-core/internal/dsp"
)

// silenceThresholdDB marks a frame silent when its RMS falls below this
// level relative to full scale.
const silenceThresholdDB = -30.0

// FeatureSet summarizes the rolling analysis window. All values are
// finite; degenerate windows produce neutral zeros rather than NaNs.
type FeatureSet struct {
	RMSMean          float64 `json:"rms_mean"`
	RMSVariance      float64 `json:"rms_variance"`
	Pitch            float64 `json:"pitch_hz"`
	PitchVariance    float64 `json:"pitch_variance"`
	SilenceRatio     float64 `json:"silence_ratio"`
	SpeechRate       float64 `json:"speech_rate"`
	CentroidMean     float64 `json:"spectral_centroid_hz"`
	CentroidVariance float64 `json:"spectral_centroid_variance"`
	ZCRMean          float64 `json:"zcr_mean"`
	ZCRVariance      float64 `json:"zcr_variance"`
	FrameCount       int     `json:"frame_count"`
}

// Voiced reports whether any frame in the window carried a pitch.
func (f FeatureSet) Voiced() bool {
	return f.Pitch > 0
}

// Rounded returns a copy with values rounded to two decimals, compact
// enough to ride along with every confidence update.
func (f FeatureSet) Rounded() FeatureSet {
	f.RMSMean = round2(f.RMSMean)
	f.RMSVariance = round2(f.RMSVariance)
	f.Pitch = round2(f.Pitch)
	f.PitchVariance = round2(f.PitchVariance)
	f.SilenceRatio = round2(f.SilenceRatio)
	f.SpeechRate = round2(f.SpeechRate)
	f.CentroidMean = round2(f.CentroidMean)
	f.CentroidVariance = round2(f.CentroidVariance)
	f.ZCRMean = round2(f.ZCRMean)
	f.ZCRVariance = round2(f.ZCRVariance)
	return f
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Extractor computes a FeatureSet from the post-pipeline frames of one
// stream's window. It holds no per-stream state; a single instance is
// shared safely across streams.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(frames []audio.Frame) FeatureSet {
	if len(frames) == 0 {
		return FeatureSet{}
	}

	var (
		rmsValues     []float64
		pitchValues   []float64
		centroids     []float64
		zcrs          []float64
		silent        int
		totalDuration float64
	)

	for _, frame := range frames {
		rms := audio.RMS(frame.Samples)
		rmsValues = append(rmsValues, rms)
		if dsp.DBFS(rms) < silenceThresholdDB {
			silent++
		}
		if pitch := dsp.EstimatePitch(frame.Samples, frame.SampleRate); pitch > 0 {
			pitchValues = append(pitchValues, pitch)
		}
		centroids = append(centroids, dsp.SpectralCentroid(frame.Samples, frame.SampleRate))
		zcrs = append(zcrs, dsp.ZeroCrossingRate(frame.Samples))
		totalDuration += frame.Duration().Seconds()
	}

	rmsMean, rmsVar := meanVariance(rmsValues)
	pitchMean, pitchVar := meanVariance(pitchValues)
	centroidMean, centroidVar := meanVariance(centroids)
	zcrMean, zcrVar := meanVariance(zcrs)

	return FeatureSet{
		RMSMean:          rmsMean,
		RMSVariance:      rmsVar,
		Pitch:            pitchMean,
		PitchVariance:    pitchVar,
		SilenceRatio:     float64(silent) / float64(len(frames)),
		SpeechRate:       speechRate(rmsValues, totalDuration),
		CentroidMean:     centroidMean,
		CentroidVariance: centroidVar,
		ZCRMean:          zcrMean,
		ZCRVariance:      zcrVar,
		FrameCount:       len(frames),
	}
}

// speechRate counts crossings of the mean energy between consecutive
// frames, scaled to transitions per second. It approximates the cadence
// of voiced/unvoiced alternation without a full VAD.
func speechRate(rmsValues []float64, seconds float64) float64 {
	if len(rmsValues) < 2 || seconds <= 0 {
		return 0
	}
	var mean float64
	for _, v := range rmsValues {
		mean += v
	}
	mean /= float64(len(rmsValues))
	if mean == 0 {
		return 0
	}

	transitions := 0
	prevAbove := rmsValues[0] > mean
	for _, v := range rmsValues[1:] {
		above := v > mean
		if above != prevAbove {
			transitions++
			prevAbove = above
		}
	}
	return float64(transitions) / seconds
}

func meanVariance(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	if len(values) < 2 {
		return mean, 0
	}
	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	if math.IsNaN(variance) || math.IsInf(variance, 0) {
		variance = 0
	}
	return mean, variance
}
