package enhance

import (
	"context"
	"errors"
	"fmt"

	"github.com/resonlabs/reson-core/internal/config"
)

// ErrUnavailable reports that no enhancement backend is ready. Callers
// treat it as a soft failure: the frame passes through unenhanced.
var ErrUnavailable = errors.New("enhance: capability unavailable")

// Enhancer abstracts the enhancement backend. The handle is constructed
// once at startup and shared read-only across streams; implementations
// must be safe for concurrent calls.
type Enhancer interface {
	Enhance(ctx context.Context, sampleRate int, samples []int16) ([]int16, error)
	Ready() bool
}

// New builds the backend selected in config. A disabled enhancer yields
// nil, which the pipeline reads as "skip the stage".
func New(cfg config.EnhancerConfig) (Enhancer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Mode {
	case "mock":
		return NewMockEnhancer(), nil
	case "exec":
		return NewExecEnhancer(cfg)
	default:
		return nil, fmt.Errorf("unsupported enhancer mode %q", cfg.Mode)
	}
}
