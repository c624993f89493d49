package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/resonlabs/reson-core/internal/bus"
	"github.com/resonlabs/reson-core/internal/config"
	"github.com/resonlabs/reson-core/internal/features"
	"github.com/resonlabs/reson-core/internal/protocol"
	"github.com/resonlabs/reson-core/internal/stream"
)

// Service bridges the bus to the stream registry: it subscribes to
// audio.frame.<stream_id>, feeds chunks into the registry, and publishes
// the worker outputs back as audio.processed.<stream_id> and
// confidence.score.<stream_id>.
type Service struct {
	cfg      config.ConfidenceConfig
	bus      *bus.Client
	registry *stream.Registry
	ctx      context.Context
	cancel   context.CancelFunc
	sub      *nats.Subscription
	ready    bool
}

func NewService(parent context.Context, cfg config.ConfidenceConfig, busClient *bus.Client, registry *stream.Registry) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:      cfg,
		bus:      busClient,
		registry: registry,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Service) Start() error {
	subject := protocol.SubjectAudioFramePrefix + ".>"
	sub, err := s.bus.Conn().Subscribe(subject, s.handleFrame)
	if err != nil {
		return fmt.Errorf("subscribe audio frames: %w", err)
	}
	s.sub = sub
	s.ready = true
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
}

func (s *Service) Healthy() bool {
	return s.ready
}

func (s *Service) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.bus.Logger().Warn("failed to decode audio frame", slogError(err))
		return
	}
	if frame.StreamID == "" {
		s.bus.Logger().Warn("audio frame without stream id")
		return
	}

	err := s.registry.PushChunk(frame.StreamID, frame.PCM)
	if errors.Is(err, stream.ErrUnknownStream) {
		// First frame for this id opens the stream; the publisher sink
		// carries its output back onto the bus.
		if openErr := s.registry.Open(s.ctx, frame.StreamID, s.publisherSink()); openErr != nil {
			s.bus.Logger().Warn("failed to open stream",
				slog.String("stream_id", frame.StreamID), slogError(openErr))
			return
		}
		err = s.registry.PushChunk(frame.StreamID, frame.PCM)
	}
	if err != nil {
		s.bus.Logger().Warn("failed to ingest audio frame",
			slog.String("stream_id", frame.StreamID), slogError(err))
		return
	}

	if frame.Final {
		if err := s.registry.Close(frame.StreamID); err != nil && !errors.Is(err, stream.ErrUnknownStream) {
			s.bus.Logger().Warn("failed to close stream",
				slog.String("stream_id", frame.StreamID), slogError(err))
		}
	}
}

func (s *Service) publisherSink() stream.Sink {
	return &busSink{svc: s}
}

type busSink struct {
	svc *Service
}

func (b *busSink) OnProcessedFrame(streamID string, seq uint64, pcm []byte) {
	msg := protocol.ProcessedFrame{StreamID: streamID, Sequence: seq, PCM: pcm}
	data, err := json.Marshal(msg)
	if err != nil {
		b.svc.bus.Logger().Warn("failed to marshal processed frame", slogError(err))
		return
	}
	subject := fmt.Sprintf("%s.%s", protocol.SubjectProcessedFramePrefix, streamID)
	if err := b.svc.bus.Conn().Publish(subject, data); err != nil {
		b.svc.bus.Logger().Warn("failed to publish processed frame", slogError(err))
	}
}

func (b *busSink) OnScore(streamID string, score int, fs *features.FeatureSet, at time.Time) {
	msg := protocol.ConfidenceScore{
		StreamID:  streamID,
		Score:     score,
		Phase:     b.svc.cfg.Phase,
		Features:  fs,
		Timestamp: at.UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		b.svc.bus.Logger().Warn("failed to marshal confidence score", slogError(err))
		return
	}
	subject := fmt.Sprintf("%s.%s", protocol.SubjectConfidenceScorePrefix, streamID)
	if err := b.svc.bus.Conn().Publish(subject, data); err != nil {
		b.svc.bus.Logger().Warn("failed to publish confidence score", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
