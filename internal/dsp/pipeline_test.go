package dsp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/resonlabs/reson-core/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type failingEnhancer struct{}

func (failingEnhancer) Enhance(context.Context, int, []int16) ([]int16, error) {
	return nil, errors.New("backend unavailable")
}

type identityEnhancer struct{}

func (identityEnhancer) Enhance(_ context.Context, _ int, samples []int16) ([]int16, error) {
	out := make([]int16, len(samples))
	copy(out, samples)
	return out, nil
}

func TestPipelineAllDisabledIsIdentity(t *testing.T) {
	p := NewPipeline(config.PipelineConfig{}, 16000, nil, testLogger())
	in := sineFrame(200, 8000, 320, 16000)
	out := p.Process(context.Background(), in)
	if len(out) != len(in) {
		t.Fatalf("length changed: %d -> %d", len(in), len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("bypassed pipeline modified sample %d", i)
		}
	}
}

func TestPipelineStageFailureFallsBack(t *testing.T) {
	cfg := config.PipelineConfig{
		Enhancer: config.EnhancerConfig{Enabled: true, Mode: "exec", TimeoutMS: 50},
	}
	p := NewPipeline(cfg, 16000, failingEnhancer{}, testLogger())
	in := sineFrame(200, 8000, 320, 16000)
	out := p.Process(context.Background(), in)
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("failed stage should pass input through, sample %d differs", i)
		}
	}
}

func TestPipelineFullChainPreservesLength(t *testing.T) {
	cfg := config.PipelineConfig{
		NoiseReduction:    true,
		GainNormalization: true,
		AGC:               testAGC(),
		Enhancer:          config.EnhancerConfig{Enabled: true, Mode: "mock", TimeoutMS: 50},
		PitchAdjust:       config.PitchConfig{Enabled: true, EnergyBoost: 1.05, MaxShift: 0.03},
	}
	p := NewPipeline(cfg, 16000, identityEnhancer{}, testLogger())
	if got := len(p.StageNames()); got != 4 {
		t.Fatalf("expected 4 stages, got %d (%v)", got, p.StageNames())
	}
	for i := 0; i < 30; i++ {
		in := sineFrame(200, 8000, 320, 16000)
		out := p.Process(context.Background(), in)
		if len(out) != 320 {
			t.Fatalf("frame %d: expected 320 samples, got %d", i, len(out))
		}
	}
}

func TestPipelineStageOrder(t *testing.T) {
	cfg := config.PipelineConfig{
		NoiseReduction:    true,
		GainNormalization: true,
		AGC:               testAGC(),
	}
	p := NewPipeline(cfg, 16000, nil, testLogger())
	names := p.StageNames()
	if len(names) != 2 || names[0] != "noise_reduction" || names[1] != "gain_normalization" {
		t.Fatalf("unexpected stage order: %v", names)
	}
}
