package dsp

import (
	"context"
	"fmt"
	"time"
)

// EnhancerCapability is the injected enhancement backend. Implementations
// live outside this package; the pipeline only ever sees this handle and
// treats it as shared, read-only state safe for concurrent calls.
type EnhancerCapability interface {
	Enhance(ctx context.Context, sampleRate int, samples []int16) ([]int16, error)
}

// EnhanceStage adapts the capability into a pipeline stage. Every call is
// bounded by a timeout so a wedged backend cannot stall a stream; errors
// surface to the pipeline, which falls back to the stage input.
type EnhanceStage struct {
	capability EnhancerCapability
	sampleRate int
	timeout    time.Duration
}

func NewEnhanceStage(capability EnhancerCapability, sampleRate int, timeout time.Duration) *EnhanceStage {
	return &EnhanceStage{
		capability: capability,
		sampleRate: sampleRate,
		timeout:    timeout,
	}
}

func (e *EnhanceStage) Name() string { return "enhancement" }

func (e *EnhanceStage) Process(ctx context.Context, samples []int16) ([]int16, error) {
	if len(samples) == 0 {
		return samples, nil
	}
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	out, err := e.capability.Enhance(callCtx, e.sampleRate, samples)
	if err != nil {
		return nil, err
	}
	if len(out) != len(samples) {
		return nil, fmt.Errorf("enhancer returned %d samples, expected %d", len(out), len(samples))
	}
	return out, nil
}
