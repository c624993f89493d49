package dsp

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/resonlabs/reson-core/internal/config"
)

// Stage is one length-preserving transform in the processing chain.
type Stage interface {
	Name() string
	Process(ctx context.Context, samples []int16) ([]int16, error)
}

// Pipeline chains the enabled stages in fixed order: noise reduction,
// gain normalization, enhancement, pitch adjust. A failing stage is
// logged and counted, its input passes through unchanged, and the run
// continues; the pipeline itself never fails a frame.
type Pipeline struct {
	stages []Stage
	log    *slog.Logger

	frameDuration metric.Float64Histogram
	stageFailures metric.Int64Counter
}

// NewPipeline builds the chain from config. The enhancement capability
// is optional; when nil (or the stage is disabled) the stage is skipped
// entirely.
func NewPipeline(cfg config.PipelineConfig, sampleRate int, enhancer EnhancerCapability, log *slog.Logger) *Pipeline {
	p := &Pipeline{
		log: log.With(slog.String("component", "dsp-pipeline")),
	}

	if cfg.NoiseReduction {
		p.stages = append(p.stages, NewNoiseReducer())
	}
	if cfg.GainNormalization {
		p.stages = append(p.stages, NewGainNormalizer(cfg.AGC))
	}
	if cfg.Enhancer.Enabled && enhancer != nil {
		timeout := time.Duration(cfg.Enhancer.TimeoutMS) * time.Millisecond
		p.stages = append(p.stages, NewEnhanceStage(enhancer, sampleRate, timeout))
	}
	if cfg.PitchAdjust.Enabled {
		p.stages = append(p.stages, NewPitchAdjuster(cfg.PitchAdjust))
	}

	p.initMetrics()
	return p
}

func (p *Pipeline) initMetrics() {
	meter := otel.Meter("github.com/resonlabs/reson-core/dsp")
	var err error
	p.frameDuration, err = meter.Float64Histogram("reson.pipeline.frame_duration_ms",
		metric.WithDescription("Wall time spent processing one frame"))
	if err != nil {
		p.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	p.stageFailures, err = meter.Int64Counter("reson.pipeline.stage_failures",
		metric.WithDescription("Stage errors recovered by pass-through"))
	if err != nil {
		p.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
}

// StageNames lists the enabled stages in execution order.
func (p *Pipeline) StageNames() []string {
	names := make([]string, 0, len(p.stages))
	for _, s := range p.stages {
		names = append(names, s.Name())
	}
	return names
}

// Process runs one frame through every enabled stage. The returned slice
// always has the input length.
func (p *Pipeline) Process(ctx context.Context, samples []int16) []int16 {
	start := time.Now()
	current := samples
	for _, stage := range p.stages {
		out, err := stage.Process(ctx, current)
		if err != nil {
			p.log.Warn("stage failed, passing frame through",
				slog.String("stage", stage.Name()),
				slog.String("error", err.Error()))
			if p.stageFailures != nil {
				p.stageFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage.Name())))
			}
			continue
		}
		current = out
	}
	if p.frameDuration != nil {
		p.frameDuration.Record(ctx, float64(time.Since(start).Microseconds())/1000.0)
	}
	return current
}
