package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/resonlabs/reson-core/internal/audio"
	"github.com/resonlabs/reson-core/internal/confidence"
	"github.com/resonlabs/reson-core/internal/dsp"
	"github.com/resonlabs/reson-core/internal/features"
)

// Status is a point-in-time view of one stream. Features carries the
// window summary behind the latest score when phase 3 scoring is active.
type Status struct {
	StreamID  string               `json:"stream_id"`
	Score     int                  `json:"confidence"`
	Scored    bool                 `json:"scored"`
	Frames    uint64               `json:"frames_processed"`
	Features  *features.FeatureSet `json:"features,omitempty"`
	UpdatedAt time.Time            `json:"updated_at"`
	OpenedAt  time.Time            `json:"opened_at"`
}

// state is everything owned by a single stream. All mutation happens on
// the stream's one worker goroutine; the mutex only guards the small
// snapshot read by Latest and the reaper.
type state struct {
	id        string
	assembler *audio.Assembler
	pipeline  *dsp.Pipeline
	window    *audio.Window
	extractor *features.Extractor
	scorer    confidence.Scorer
	smoother  *confidence.Smoother
	sink      Sink
	log       *slog.Logger

	queue  chan audio.Frame
	done   chan struct{}
	cancel context.CancelFunc

	updateEvery time.Duration
	sinceScore  time.Duration

	mu           sync.Mutex
	score        int
	scored       bool
	frames       uint64
	summary      *features.FeatureSet
	lastActivity time.Time
	updatedAt    time.Time
	openedAt     time.Time
}

// run consumes the frame queue until the stream closes. One goroutine
// per stream is the single-writer discipline: frames for a stream are
// processed strictly in order while separate streams proceed in
// parallel.
func (s *state) run(ctx context.Context, onScore func(ctx context.Context, score int)) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-s.queue:
			if !ok {
				return
			}
			s.handleFrame(ctx, frame, onScore)
		}
	}
}

func (s *state) handleFrame(ctx context.Context, frame audio.Frame, onScore func(ctx context.Context, score int)) {
	processed := s.pipeline.Process(ctx, frame.Samples)
	frame.Samples = processed
	s.window.Append(frame)

	s.mu.Lock()
	s.frames++
	s.lastActivity = time.Now()
	s.mu.Unlock()

	if s.sink != nil {
		s.sink.OnProcessedFrame(s.id, frame.Seq, audio.EncodeSamples(processed))
	}

	s.sinceScore += frame.Duration()
	if s.sinceScore < s.updateEvery {
		return
	}
	s.sinceScore = 0

	fs := s.extractor.Extract(s.window.Frames())
	raw := s.scorer.Score(fs)
	score := s.smoother.Update(raw)
	now := time.Now()

	var summary *features.FeatureSet
	if s.scorer.Phase() == 3 {
		rounded := fs.Rounded()
		summary = &rounded
	}

	s.mu.Lock()
	s.score = score
	s.scored = true
	s.summary = summary
	s.updatedAt = now
	s.mu.Unlock()

	if onScore != nil {
		onScore(ctx, score)
	}
	if s.sink != nil {
		s.sink.OnScore(s.id, score, summary, now)
	}
}

// enqueue adds a frame for the worker, dropping the oldest queued frame
// when the queue is full so a slow consumer degrades to fresher audio
// instead of unbounded lag.
func (s *state) enqueue(frame audio.Frame) {
	for {
		select {
		case s.queue <- frame:
			return
		default:
		}
		select {
		case dropped := <-s.queue:
			s.log.Warn("frame queue full, dropping oldest",
				slog.String("stream_id", s.id),
				slog.Uint64("dropped_seq", dropped.Seq))
		default:
		}
	}
}

func (s *state) status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		StreamID:  s.id,
		Score:     s.score,
		Scored:    s.scored,
		Frames:    s.frames,
		Features:  s.summary,
		UpdatedAt: s.updatedAt,
		OpenedAt:  s.openedAt,
	}
}

func (s *state) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}
