package protocol

import (
	"time"

	"github.com/resonlabs/reson-core/internal/features"
)

// AudioFrame carries PCM audio streamed from edge devices. PCM is raw
// little-endian mono int16.
type AudioFrame struct {
	StreamID   string `json:"stream_id"`
	Sequence   uint64 `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// ProcessedFrame is post-pipeline audio broadcast back on the bus.
type ProcessedFrame struct {
	StreamID string `json:"stream_id"`
	Sequence uint64 `json:"sequence"`
	PCM      []byte `json:"pcm"`
}

// ConfidenceScore is a smoothed confidence update for one stream.
// Features is present on phase 3 updates.
type ConfidenceScore struct {
	StreamID  string               `json:"stream_id"`
	Score     int                  `json:"confidence"`
	Phase     int                  `json:"phase"`
	Features  *features.FeatureSet `json:"features,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

const (
	SubjectAudioFramePrefix      = "audio.frame"
	SubjectProcessedFramePrefix  = "audio.processed"
	SubjectConfidenceScorePrefix = "confidence.score"
)
