package stream

import (
	"context"
	"time"

	"github.com/resonlabs/reson-core/internal/audio"
	"github.com/resonlabs/reson-core/internal/confidence"
	"github.com/resonlabs/reson-core/internal/dsp"
	"github.com/resonlabs/reson-core/internal/features"
)

// AnalysisResult is the outcome of a one-shot buffer analysis.
type AnalysisResult struct {
	Score     int
	Processed []byte
	Frames    int
}

// AnalyzeBuffer runs an entire recording through a throwaway pipeline
// synchronously, faster than real time. It occupies one capacity slot
// for the duration of the call so bulk work cannot starve live streams
// past the configured limit. A partial trailing frame is appended to the
// output unprocessed, keeping output size equal to input size.
func (r *Registry) AnalyzeBuffer(ctx context.Context, pcm []byte) (AnalysisResult, error) {
	if len(pcm)%2 != 0 {
		return AnalysisResult{}, audio.ErrMalformedInput
	}
	if !r.sem.TryAcquire(1) {
		return AnalysisResult{}, ErrCapacity
	}
	defer r.sem.Release(1)

	pipeline := dsp.NewPipeline(r.cfg.Pipeline, r.format.SampleRate, r.enhancer, r.log)
	window := audio.NewWindow(time.Duration(r.cfg.Confidence.WindowSeconds * float64(time.Second)))
	extractor := features.NewExtractor()
	scorer := confidence.NewScorer(r.cfg.Confidence.Phase)
	smoother := confidence.NewSmoother(r.cfg.Confidence.SmoothingAlpha)
	updateEvery := time.Duration(r.cfg.Confidence.UpdateIntervalMS) * time.Millisecond

	frameBytes := r.format.FrameBytes()
	processed := make([]byte, 0, len(pcm))
	frames := 0
	var sinceScore time.Duration
	var seq uint64

	for offset := 0; offset+frameBytes <= len(pcm); offset += frameBytes {
		if err := ctx.Err(); err != nil {
			return AnalysisResult{}, err
		}
		samples, err := audio.DecodeSamples(pcm[offset : offset+frameBytes])
		if err != nil {
			return AnalysisResult{}, err
		}
		frame := audio.Frame{
			Samples:    pipeline.Process(ctx, samples),
			SampleRate: r.format.SampleRate,
			Seq:        seq,
			Captured:   time.Now(),
		}
		seq++
		frames++
		window.Append(frame)
		processed = append(processed, audio.EncodeSamples(frame.Samples)...)

		sinceScore += frame.Duration()
		if sinceScore >= updateEvery {
			sinceScore = 0
			smoother.Update(scorer.Score(extractor.Extract(window.Frames())))
		}
	}

	// Short recordings may never cross the update interval; score once
	// from whatever the window holds.
	if !smoother.Primed() && window.Len() > 0 {
		smoother.Update(scorer.Score(extractor.Extract(window.Frames())))
	}

	// Pass the partial tail through untouched.
	if tail := len(pcm) % frameBytes; tail != 0 {
		processed = append(processed, pcm[len(pcm)-tail:]...)
	}

	return AnalysisResult{
		Score:     smoother.Current(),
		Processed: processed,
		Frames:    frames,
	}, nil
}
