// Package model owns the generative music model: a lazily loaded, process-wide
// handle and the synthesis call that turns a prompt into a sample buffer.
package model

import (
	"context"
	"fmt"

	"github.com/book-expert/logger"

	"github.com/book-expert/music-service/internal/core"
)

// DefaultTopK is the top-k truncation used for every generation.
const DefaultTopK = 250

// Log messages.
const (
	logFmtLoadingModel    = "Loading music model '%s'"
	logFmtModelLoaded     = "Music model '%s' loaded (sample rate %d Hz)"
	logFmtModelLoadFailed = "Failed to load music model '%s': %v"
	logFmtSynthesizing    = "Synthesizing %ds of audio"
	logFmtSynthesized     = "Synthesized %d channel(s) x %d samples"
)

// Options configure a Gateway.
type Options struct {
	ModelName string
	TopK      int
	Limits    core.DurationLimits
}

// Gateway provides single, reusable access to the generative model.
// The handle is built on first use and kept for the life of the process.
// Generation calls are serialized because the underlying model serves one
// generation at a time.
type Gateway struct {
	loader  core.ModelLoader
	options Options
	log     *logger.Logger

	// initSlot guards handle and genSlot serializes generation. Both are
	// one-slot semaphores so waiting callers can give up on ctx.
	initSlot chan struct{}
	handle   core.ModelHandle
	genSlot  chan struct{}
}

// NewGateway creates a Gateway that loads its handle through loader.
func NewGateway(loader core.ModelLoader, options Options, log *logger.Logger) *Gateway {
	if options.TopK == 0 {
		options.TopK = DefaultTopK
	}

	if options.Limits == (core.DurationLimits{}) {
		options.Limits = core.DefaultDurationLimits()
	}

	return &Gateway{
		loader:   loader,
		options:  options,
		log:      log,
		initSlot: make(chan struct{}, 1),
		genSlot:  make(chan struct{}, 1),
	}
}

// Handle returns the cached model handle, loading it on the first call.
// A failed load is not cached; the next call tries again. Callers waiting on
// another caller's load give up when ctx is done.
func (g *Gateway) Handle(ctx context.Context) (core.ModelHandle, error) {
	select {
	case g.initSlot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for the model to load: %w", ctx.Err())
	}
	defer func() { <-g.initSlot }()

	if g.handle != nil {
		return g.handle, nil
	}

	g.log.Info(logFmtLoadingModel, g.options.ModelName)

	handle, err := g.loader.Load(ctx, g.options.ModelName)
	if err != nil {
		g.log.Error(logFmtModelLoadFailed, g.options.ModelName, err)

		if ctx.Err() != nil {
			return nil, fmt.Errorf("model load aborted: %w", ctx.Err())
		}

		return nil, fmt.Errorf("%w: %w", core.ErrModelUnavailable, err)
	}

	g.log.Info(logFmtModelLoaded, g.options.ModelName, handle.SampleRate())
	g.handle = handle

	return handle, nil
}

// SampleRate returns the loaded model's output rate, loading the model if needed.
func (g *Gateway) SampleRate(ctx context.Context) (int, error) {
	handle, err := g.Handle(ctx)
	if err != nil {
		return 0, err
	}

	return handle.SampleRate(), nil
}

// Params builds the generation parameters for one call.
func (g *Gateway) Params(durationSeconds int) core.GenerationParams {
	return core.GenerationParams{
		UseSampling:     true,
		TopK:            g.options.TopK,
		DurationSeconds: durationSeconds,
	}
}

// Synthesize generates audio for a single prompt. Input is validated before the
// model is touched.
func (g *Gateway) Synthesize(
	ctx context.Context,
	prompt string,
	durationSeconds int,
	progress core.ProgressFunc,
) (core.SampleBuffer, error) {
	err := core.ValidatePrompt(prompt)
	if err != nil {
		return nil, err
	}

	err = g.options.Limits.Check(durationSeconds)
	if err != nil {
		return nil, err
	}

	handle, err := g.Handle(ctx)
	if err != nil {
		return nil, err
	}

	select {
	case g.genSlot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for the model: %w", ctx.Err())
	}

	defer func() { <-g.genSlot }()

	g.log.Info(logFmtSynthesizing, durationSeconds)

	batch, err := handle.Generate(ctx, []string{prompt}, g.Params(durationSeconds), progress)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("generation aborted: %w", ctx.Err())
		}

		return nil, fmt.Errorf("%w: %w", core.ErrGenerationFailure, err)
	}

	if len(batch) == 0 {
		return nil, core.ErrEmptyResult
	}

	buffer := batch[0]

	// The shape error is flattened so it is not reported as caller input.
	err = core.ValidateBuffer(buffer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrGenerationFailure, err)
	}

	g.log.Info(logFmtSynthesized, buffer.NumChannels(), buffer.NumSamples())

	return buffer, nil
}
