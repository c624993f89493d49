package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	"github.com/resonlabs/reson-core/internal/audio"
	"github.com/resonlabs/reson-core/internal/confidence"
	"github.com/resonlabs/reson-core/internal/config"
	"github.com/resonlabs/reson-core/internal/dsp"
	"github.com/resonlabs/reson-core/internal/features"
)

var (
	// ErrUnknownStream reports a status query for an id that was never
	// opened or has already been released.
	ErrUnknownStream = errors.New("stream: unknown stream")
	// ErrCapacity reports that the concurrent stream limit is reached.
	ErrCapacity = errors.New("stream: concurrent stream limit reached")
	// ErrStreamExists reports a second open for a live id.
	ErrStreamExists = errors.New("stream: stream already open")
)

// Registry owns every live stream. Each open stream gets its own DSP
// pipeline, rolling window, smoother and worker goroutine; the registry
// itself only routes frames and answers status queries. Capacity is
// bounded by a weighted semaphore sized at the configured limit.
type Registry struct {
	cfg      config.Config
	format   audio.Format
	enhancer dsp.EnhancerCapability
	sink     Sink
	log      *slog.Logger

	mu      sync.Mutex
	streams map[string]*state

	sem    *semaphore.Weighted
	cancel context.CancelFunc
	wg     sync.WaitGroup

	scoreCounter metric.Int64Counter
}

func NewRegistry(ctx context.Context, cfg config.Config, enhancer dsp.EnhancerCapability, sink Sink, log *slog.Logger) *Registry {
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		cfg: cfg,
		format: audio.Format{
			SampleRate: cfg.Audio.SampleRate,
			FrameMS:    cfg.Audio.FrameMS,
			Channels:   cfg.Audio.Channels,
		},
		enhancer: enhancer,
		sink:     sink,
		log:      log.With(slog.String("component", "stream-registry")),
		streams:  make(map[string]*state),
		sem:      semaphore.NewWeighted(int64(cfg.Streams.MaxConcurrent)),
		cancel:   cancel,
	}
	r.initMetrics()

	r.wg.Add(1)
	go r.runReaper(ctx)
	return r
}

func (r *Registry) initMetrics() {
	meter := otel.Meter("github.com/resonlabs/reson-core/stream")
	gauge, err := meter.Int64ObservableGauge("reson.streams.active",
		metric.WithDescription("Streams currently open"))
	if err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
		return
	}
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		r.mu.Lock()
		n := int64(len(r.streams))
		r.mu.Unlock()
		obs.ObserveInt64(gauge, n)
		return nil
	}, gauge)
	if err != nil {
		r.log.Warn("failed to register metrics callback", slog.String("error", err.Error()))
	}
	r.scoreCounter, err = meter.Int64Counter("reson.confidence.updates",
		metric.WithDescription("Smoothed confidence updates emitted"))
	if err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
}

// Open registers a stream and starts its worker. The sink receives that
// stream's processed frames and score updates alongside any registry-wide
// sink.
func (r *Registry) Open(ctx context.Context, id string, sink Sink) error {
	if id == "" {
		return fmt.Errorf("stream id must not be empty")
	}
	if !r.sem.TryAcquire(1) {
		return ErrCapacity
	}

	r.mu.Lock()
	if _, ok := r.streams[id]; ok {
		r.mu.Unlock()
		r.sem.Release(1)
		return ErrStreamExists
	}

	streamCtx, cancel := context.WithCancel(ctx)
	now := time.Now()
	st := &state{
		id:           id,
		assembler:    audio.NewAssembler(r.format),
		pipeline:     dsp.NewPipeline(r.cfg.Pipeline, r.format.SampleRate, r.enhancer, r.log),
		window:       audio.NewWindow(time.Duration(r.cfg.Confidence.WindowSeconds * float64(time.Second))),
		extractor:    features.NewExtractor(),
		scorer:       confidence.NewScorer(r.cfg.Confidence.Phase),
		smoother:     confidence.NewSmoother(r.cfg.Confidence.SmoothingAlpha),
		sink:         MultiSink{r.sink, sink},
		log:          r.log,
		queue:        make(chan audio.Frame, r.cfg.Streams.QueueDepth),
		done:         make(chan struct{}),
		cancel:       cancel,
		updateEvery:  time.Duration(r.cfg.Confidence.UpdateIntervalMS) * time.Millisecond,
		lastActivity: now,
		openedAt:     now,
	}
	r.streams[id] = st
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		st.run(streamCtx, r.countScore)
	}()

	r.log.Info("stream opened", slog.String("stream_id", id))
	return nil
}

func (r *Registry) countScore(ctx context.Context, _ int) {
	if r.scoreCounter != nil {
		r.scoreCounter.Add(ctx, 1)
	}
}

// PushChunk feeds raw PCM bytes into a stream. Whole frames are enqueued
// for the worker in arrival order; a partial tail is carried until the
// next chunk. Safe for concurrent callers: chunks for the same stream
// are serialized under the stream mutex so the assembler carry and the
// frame order stay consistent.
func (r *Registry) PushChunk(id string, chunk []byte) error {
	r.mu.Lock()
	st, ok := r.streams[id]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownStream
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	frames, err := st.assembler.Push(chunk)
	if err != nil {
		return err
	}
	st.lastActivity = time.Now()
	for _, frame := range frames {
		st.enqueue(frame)
	}
	return nil
}

// Latest returns the current status of a stream.
func (r *Registry) Latest(id string) (Status, error) {
	r.mu.Lock()
	st, ok := r.streams[id]
	r.mu.Unlock()
	if !ok {
		return Status{}, ErrUnknownStream
	}
	return st.status(), nil
}

// ActiveIDs lists the currently open stream ids.
func (r *Registry) ActiveIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.streams))
	for id := range r.streams {
		ids = append(ids, id)
	}
	return ids
}

// Close tears down one stream and releases its capacity slot. Queued
// frames that have not been processed yet are discarded.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	st, ok := r.streams[id]
	if ok {
		delete(r.streams, id)
	}
	r.mu.Unlock()
	if !ok {
		return ErrUnknownStream
	}

	st.cancel()
	<-st.done
	r.sem.Release(1)
	r.log.Info("stream closed", slog.String("stream_id", id))
	return nil
}

// Shutdown closes every stream and stops the reaper.
func (r *Registry) Shutdown() {
	for _, id := range r.ActiveIDs() {
		_ = r.Close(id)
	}
	r.cancel()
	r.wg.Wait()
}

func (r *Registry) runReaper(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reapIdle()
		}
	}
}

func (r *Registry) reapIdle() {
	timeout := time.Duration(r.cfg.Streams.IdleTimeoutSec) * time.Second
	now := time.Now()

	r.mu.Lock()
	var idle []string
	for id, st := range r.streams {
		if now.Sub(st.idleSince()) > timeout {
			idle = append(idle, id)
		}
	}
	r.mu.Unlock()

	for _, id := range idle {
		r.log.Info("reaping idle stream", slog.String("stream_id", id))
		_ = r.Close(id)
	}
}
