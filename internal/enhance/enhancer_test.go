package enhance

import (
	"context"
	"testing"

	"github.com/resonlabs/reson-core/internal/config"
)

func TestNewDisabledReturnsNil(t *testing.T) {
	e, err := New(config.EnhancerConfig{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e != nil {
		t.Fatal("disabled enhancer should be nil")
	}
}

func TestNewRejectsUnknownMode(t *testing.T) {
	if _, err := New(config.EnhancerConfig{Enabled: true, Mode: "onnx"}); err == nil {
		t.Fatal("expected error for unsupported mode")
	}
}

func TestMockEnhancerIsIdentity(t *testing.T) {
	e, err := New(config.EnhancerConfig{Enabled: true, Mode: "mock"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !e.Ready() {
		t.Fatal("mock enhancer should be ready")
	}

	in := []int16{1, -2, 3, -4, 32767, -32768}
	out, err := e.Enhance(context.Background(), 16000, in)
	if err != nil {
		t.Fatalf("enhance: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("length changed: %d -> %d", len(in), len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("sample %d modified: %d -> %d", i, in[i], out[i])
		}
	}
	// Output must be a copy, not an alias.
	out[0] = 99
	if in[0] == 99 {
		t.Fatal("enhancer returned the input slice")
	}
}

func TestExecEnhancerRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecEnhancer(config.EnhancerConfig{Enabled: true, Mode: "exec", Command: ""}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestExecEnhancerCommandFailureSurfaces(t *testing.T) {
	e, err := NewExecEnhancer(config.EnhancerConfig{Enabled: true, Mode: "exec", Command: "/nonexistent/enhancer-binary"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := e.Enhance(context.Background(), 16000, make([]int16, 320)); err == nil {
		t.Fatal("expected error from missing backend binary")
	}
}
