package dsp

import (
	"context"
	"testing"

	"github.com/resonlabs/reson-core/internal/audio"
	"github.com/resonlabs/reson-core/internal/config"
)

func TestPitchAdjusterBoostsVoicedFrames(t *testing.T) {
	p := NewPitchAdjuster(config.PitchConfig{EnergyBoost: 1.05, MaxShift: 0})
	in := sineFrame(200, 8000, 320, 16000)
	inRMS := audio.RMS(in)

	out, err := p.Process(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("length changed: %d -> %d", len(in), len(out))
	}
	outRMS := audio.RMS(out)
	if outRMS < inRMS*1.03 || outRMS > inRMS*1.07 {
		t.Fatalf("expected ~1.05x RMS boost, got %v -> %v", inRMS, outRMS)
	}
}

func TestPitchAdjusterSkipsQuietFrames(t *testing.T) {
	p := NewPitchAdjuster(config.PitchConfig{EnergyBoost: 1.05, MaxShift: 0.03})
	in := sineFrame(200, 500, 320, 16000)

	out, err := p.Process(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("quiet frame was modified at sample %d", i)
		}
	}
}

func TestPitchAdjusterShiftPreservesLength(t *testing.T) {
	p := NewPitchAdjuster(config.PitchConfig{EnergyBoost: 1.0, MaxShift: 0.03})
	in := sineFrame(200, 8000, 320, 16000)
	out, err := p.Process(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("length changed: %d -> %d", len(in), len(out))
	}
}
