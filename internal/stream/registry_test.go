package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/resonlabs/reson-core/internal/audio"
	"github.com/resonlabs/reson-core/internal/config"
	"github.com/resonlabs/reson-core/internal/features"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Streams.MaxConcurrent = 4
	cfg.Streams.QueueDepth = 64
	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(t *testing.T, cfg config.Config) *Registry {
	t.Helper()
	r := NewRegistry(context.Background(), cfg, nil, nil, testLogger())
	t.Cleanup(r.Shutdown)
	return r
}

func tonePCM(freq, amplitude float64, seconds float64, sampleRate int) []byte {
	n := int(seconds * float64(sampleRate))
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return audio.EncodeSamples(samples)
}

func waitForFrames(t *testing.T, r *Registry, id string, want uint64) Status {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		status, err := r.Latest(id)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status.Frames >= want {
			return status
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("stream %s did not reach %d frames in time", id, want)
	return Status{}
}

func TestStreamLifecycle(t *testing.T) {
	r := newTestRegistry(t, testConfig())

	if err := r.Open(context.Background(), "s1", nil); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := r.Open(context.Background(), "s1", nil); !errors.Is(err, ErrStreamExists) {
		t.Fatalf("expected ErrStreamExists, got %v", err)
	}

	if err := r.PushChunk("s1", tonePCM(200, 8000, 0.5, 16000)); err != nil {
		t.Fatalf("push: %v", err)
	}
	status := waitForFrames(t, r, "s1", 25)
	if !status.Scored {
		t.Fatal("expected a confidence score after half a second of audio")
	}
	if status.Score < 0 || status.Score > 100 {
		t.Fatalf("score %d out of range", status.Score)
	}

	if err := r.Close("s1"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := r.Latest("s1"); !errors.Is(err, ErrUnknownStream) {
		t.Fatalf("expected ErrUnknownStream after close, got %v", err)
	}
	if err := r.Close("s1"); !errors.Is(err, ErrUnknownStream) {
		t.Fatalf("expected ErrUnknownStream on double close, got %v", err)
	}
}

func TestUnknownStreamQueries(t *testing.T) {
	r := newTestRegistry(t, testConfig())
	if _, err := r.Latest("missing"); !errors.Is(err, ErrUnknownStream) {
		t.Fatalf("expected ErrUnknownStream, got %v", err)
	}
	if err := r.PushChunk("missing", make([]byte, 640)); !errors.Is(err, ErrUnknownStream) {
		t.Fatalf("expected ErrUnknownStream, got %v", err)
	}
}

func TestCapacityLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Streams.MaxConcurrent = 2
	r := newTestRegistry(t, cfg)

	if err := r.Open(context.Background(), "a", nil); err != nil {
		t.Fatalf("open a: %v", err)
	}
	if err := r.Open(context.Background(), "b", nil); err != nil {
		t.Fatalf("open b: %v", err)
	}
	if err := r.Open(context.Background(), "c", nil); !errors.Is(err, ErrCapacity) {
		t.Fatalf("expected ErrCapacity, got %v", err)
	}

	if err := r.Close("a"); err != nil {
		t.Fatalf("close a: %v", err)
	}
	if err := r.Open(context.Background(), "c", nil); err != nil {
		t.Fatalf("open c after release: %v", err)
	}
}

type recordingSink struct {
	mu   sync.Mutex
	seqs []uint64
}

func (s *recordingSink) OnProcessedFrame(_ string, seq uint64, _ []byte) {
	s.mu.Lock()
	s.seqs = append(s.seqs, seq)
	s.mu.Unlock()
}

func (s *recordingSink) OnScore(string, int, *features.FeatureSet, time.Time) {}

func TestFramesProcessedInOrder(t *testing.T) {
	r := newTestRegistry(t, testConfig())
	sink := &recordingSink{}
	if err := r.Open(context.Background(), "ordered", sink); err != nil {
		t.Fatalf("open: %v", err)
	}

	pcm := tonePCM(200, 8000, 0.1, 16000)
	// Push in uneven chunks to exercise the assembler carry.
	for i := 0; i < len(pcm); i += 100 {
		end := i + 100
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := r.PushChunk("ordered", pcm[i:end]); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	waitForFrames(t, r, "ordered", 5)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	for i, seq := range sink.seqs {
		if seq != uint64(i) {
			t.Fatalf("frame %d arrived with seq %d", i, seq)
		}
	}
}

func TestScoreCarriesFeatureSummaryAtPhase3(t *testing.T) {
	r := newTestRegistry(t, testConfig())
	sink := &featureSink{}
	if err := r.Open(context.Background(), "s1", sink); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := r.PushChunk("s1", tonePCM(200, 8000, 0.5, 16000)); err != nil {
		t.Fatalf("push: %v", err)
	}
	status := waitForFrames(t, r, "s1", 25)

	if status.Features == nil {
		t.Fatal("expected feature summary on phase 3 status")
	}
	if status.Features.FrameCount == 0 {
		t.Fatal("feature summary should cover at least one frame")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.last == nil {
		t.Fatal("expected feature summary delivered to the sink")
	}
	if sink.last.SilenceRatio != 0 {
		t.Fatalf("steady tone should not read as silence, got ratio %v", sink.last.SilenceRatio)
	}
}

func TestScoreOmitsFeatureSummaryBelowPhase3(t *testing.T) {
	cfg := testConfig()
	cfg.Confidence.Phase = 1
	r := newTestRegistry(t, cfg)
	if err := r.Open(context.Background(), "s1", nil); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := r.PushChunk("s1", tonePCM(200, 8000, 0.5, 16000)); err != nil {
		t.Fatalf("push: %v", err)
	}
	status := waitForFrames(t, r, "s1", 25)
	if !status.Scored {
		t.Fatal("expected a score")
	}
	if status.Features != nil {
		t.Fatalf("phase 1 status must not carry features, got %+v", status.Features)
	}
}

type featureSink struct {
	mu   sync.Mutex
	last *features.FeatureSet
}

func (s *featureSink) OnProcessedFrame(string, uint64, []byte) {}

func (s *featureSink) OnScore(_ string, _ int, fs *features.FeatureSet, _ time.Time) {
	s.mu.Lock()
	s.last = fs
	s.mu.Unlock()
}

func TestConcurrentPushersAreSerialized(t *testing.T) {
	r := newTestRegistry(t, testConfig())
	if err := r.Open(context.Background(), "shared", nil); err != nil {
		t.Fatalf("open: %v", err)
	}

	frame := tonePCM(200, 8000, 0.02, 16000)
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				if err := r.PushChunk("shared", frame); err != nil {
					t.Errorf("push: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	status := waitForFrames(t, r, "shared", 40)
	if status.Frames != 40 {
		t.Fatalf("expected exactly 40 frames from 4 producers, got %d", status.Frames)
	}
}

func TestMalformedChunkRejected(t *testing.T) {
	r := newTestRegistry(t, testConfig())
	if err := r.Open(context.Background(), "s", nil); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := r.PushChunk("s", []byte{0x01}); !errors.Is(err, audio.ErrMalformedInput) {
		t.Fatalf("expected ErrMalformedInput, got %v", err)
	}
}

func TestReaperReleasesIdleStreams(t *testing.T) {
	r := newTestRegistry(t, testConfig())
	if err := r.Open(context.Background(), "idle", nil); err != nil {
		t.Fatalf("open: %v", err)
	}

	r.mu.Lock()
	st := r.streams["idle"]
	r.mu.Unlock()
	st.mu.Lock()
	st.lastActivity = time.Now().Add(-time.Hour)
	st.mu.Unlock()

	r.reapIdle()

	if _, err := r.Latest("idle"); !errors.Is(err, ErrUnknownStream) {
		t.Fatalf("expected idle stream to be reaped, got %v", err)
	}
	// The freed slot must be reusable.
	if err := r.Open(context.Background(), "idle", nil); err != nil {
		t.Fatalf("reopen after reap: %v", err)
	}
}

func TestAnalyzeBufferToneOutscoresSilence(t *testing.T) {
	r := newTestRegistry(t, testConfig())

	tone, err := r.AnalyzeBuffer(context.Background(), tonePCM(200, 8000, 1.0, 16000))
	if err != nil {
		t.Fatalf("analyze tone: %v", err)
	}
	silence, err := r.AnalyzeBuffer(context.Background(), make([]byte, 32000))
	if err != nil {
		t.Fatalf("analyze silence: %v", err)
	}

	if tone.Score <= silence.Score {
		t.Fatalf("tone score %d should beat silence score %d", tone.Score, silence.Score)
	}
	if tone.Frames != 50 {
		t.Fatalf("expected 50 frames for 1s of audio, got %d", tone.Frames)
	}
	if len(tone.Processed) != 32000 {
		t.Fatalf("expected output size to match input, got %d", len(tone.Processed))
	}
}

func TestAnalyzeBufferRejectsOddInput(t *testing.T) {
	r := newTestRegistry(t, testConfig())
	if _, err := r.AnalyzeBuffer(context.Background(), []byte{0x01}); !errors.Is(err, audio.ErrMalformedInput) {
		t.Fatalf("expected ErrMalformedInput, got %v", err)
	}
}

func TestAnalyzeBufferPassesPartialTailThrough(t *testing.T) {
	r := newTestRegistry(t, testConfig())
	pcm := tonePCM(200, 8000, 0.1, 16000)
	pcm = append(pcm, 0x10, 0x20) // one extra sample beyond the last frame
	res, err := r.AnalyzeBuffer(context.Background(), pcm)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(res.Processed) != len(pcm) {
		t.Fatalf("expected %d output bytes, got %d", len(pcm), len(res.Processed))
	}
	tail := res.Processed[len(res.Processed)-2:]
	if tail[0] != 0x10 || tail[1] != 0x20 {
		t.Fatalf("partial tail was modified: %v", tail)
	}
}
