package stream

import (
	"time"

	"github.com/resonlabs/reson-core/internal/features"
)

// Sink receives the outputs of one stream's worker. Callbacks run on the
// worker goroutine, so implementations must return quickly and do their
// own locking.
type Sink interface {
	// OnProcessedFrame delivers post-pipeline PCM for one frame.
	OnProcessedFrame(streamID string, seq uint64, pcm []byte)
	// OnScore delivers a smoothed confidence update. The feature summary
	// is attached for phase 3 scoring and nil for the earlier phases.
	OnScore(streamID string, score int, fs *features.FeatureSet, at time.Time)
}

// MultiSink fans out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) OnProcessedFrame(streamID string, seq uint64, pcm []byte) {
	for _, s := range m {
		if s != nil {
			s.OnProcessedFrame(streamID, seq, pcm)
		}
	}
}

func (m MultiSink) OnScore(streamID string, score int, fs *features.FeatureSet, at time.Time) {
	for _, s := range m {
		if s != nil {
			s.OnScore(streamID, score, fs, at)
		}
	}
}

// ScoreFunc adapts a function to a score-only Sink.
type ScoreFunc func(streamID string, score int, fs *features.FeatureSet, at time.Time)

func (f ScoreFunc) OnProcessedFrame(string, uint64, []byte) {}

func (f ScoreFunc) OnScore(streamID string, score int, fs *features.FeatureSet, at time.Time) {
	f(streamID, score, fs, at)
}
