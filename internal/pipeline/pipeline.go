// Package pipeline turns a prompt into a stored, playable WAV asset.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/music-service/internal/audio"
	"github.com/book-expert/music-service/internal/core"
)

// AutoIndex asks the pipeline to choose the next asset index itself. The first
// automatic index follows the highest one already in the store when the store
// implements IndexScanner, and every saved index moves the next one past it, so
// automatic indices do not overwrite earlier assets. Explicit indices still do.
const AutoIndex = -1

const defaultDownloadLabel = "Download"

// Log messages.
const (
	logFmtRequest       = "Generating %ds of music for prompt %q"
	logFmtRejected      = "Rejected request: %v"
	logFmtSynthFailed   = "Synthesis failed: %v"
	logFmtRateMismatch  = "Model sample rate %d Hz differs from asset rate %d Hz"
	logFmtSaveFailed    = "Failed to save asset %d: %v"
	logFmtScanFailed    = "Failed to scan existing assets, automatic indices start at %d: %v"
	logFmtReadFailed    = "Failed to read back asset '%s': %v"
	logFmtGenerated     = "Generated asset '%s' (%d bytes, %s)"
	errFmtStepSynthesis = "synthesize: %w"
	errFmtStepSave      = "save asset: %w"
	errFmtStepRead      = "read asset: %w"
)

// Synthesizer produces one sample buffer per prompt.
type Synthesizer interface {
	Synthesize(ctx context.Context, prompt string, durationSeconds int, progress core.ProgressFunc) (core.SampleBuffer, error)
	SampleRate(ctx context.Context) (int, error)
}

// IndexScanner is implemented by asset stores that can report the highest
// index they hold, or -1 when empty.
type IndexScanner interface {
	HighestIndex(ctx context.Context) (int, error)
}

// Request is one generation request.
type Request struct {
	Prompt          string `json:"prompt"`
	DurationSeconds int    `json:"duration"`
	Index           int    `json:"index"`
}

// Result is a stored asset together with its encoded bytes.
type Result struct {
	Asset      core.AssetRef
	Audio      []byte
	Duration   time.Duration
	SampleRate int
}

// DataURI returns the audio as a base64 data URI for inline playback.
func (r *Result) DataURI() string {
	return audio.DataURI(r.Audio)
}

// DownloadLink returns an HTML anchor that downloads the asset under its own name.
func (r *Result) DownloadLink(label string) string {
	if label == "" {
		label = defaultDownloadLabel
	}

	return audio.DownloadLink(r.Asset.Name, label, r.Audio)
}

// Options configure a Pipeline.
type Options struct {
	Limits     core.DurationLimits
	SampleRate int
}

// Pipeline runs validation, synthesis, storage and read-back for each request.
type Pipeline struct {
	synth   Synthesizer
	store   core.AssetStore
	options Options
	log     *logger.Logger

	indexMu     sync.Mutex
	indexSeeded bool
	nextIndex   int
}

// New creates a Pipeline.
func New(synth Synthesizer, store core.AssetStore, options Options, log *logger.Logger) *Pipeline {
	if options.Limits == (core.DurationLimits{}) {
		options.Limits = core.DefaultDurationLimits()
	}

	if options.SampleRate == 0 {
		options.SampleRate = audio.DefaultSampleRate
	}

	return &Pipeline{
		synth:   synth,
		store:   store,
		options: options,
		log:     log,
	}
}

// Limits returns the duration policy the pipeline enforces.
func (p *Pipeline) Limits() core.DurationLimits {
	return p.options.Limits
}

// Validate checks a request without doing any work.
func Validate(request Request, limits core.DurationLimits) error {
	err := core.ValidatePrompt(request.Prompt)
	if err != nil {
		return err
	}

	err = limits.Check(request.DurationSeconds)
	if err != nil {
		return err
	}

	if request.Index < AutoIndex {
		return fmt.Errorf("%w: got %d", core.ErrIndexNegative, request.Index)
	}

	return nil
}

// Generate validates the request, synthesizes the audio, saves it and reads the
// saved bytes back. Nothing is written when synthesis fails.
func (p *Pipeline) Generate(ctx context.Context, request Request, progress core.ProgressFunc) (*Result, error) {
	err := Validate(request, p.options.Limits)
	if err != nil {
		p.log.Warn(logFmtRejected, err)

		return nil, err
	}

	p.log.Info(logFmtRequest, request.DurationSeconds, request.Prompt)

	buffer, err := p.synth.Synthesize(ctx, request.Prompt, request.DurationSeconds, progress)
	if err != nil {
		p.log.Error(logFmtSynthFailed, err)

		return nil, fmt.Errorf(errFmtStepSynthesis, err)
	}

	modelRate, err := p.synth.SampleRate(ctx)
	if err == nil && modelRate != p.options.SampleRate {
		p.log.Warn(logFmtRateMismatch, modelRate, p.options.SampleRate)
	}

	index := p.reserveIndex(ctx, request.Index)

	ref, err := p.store.Save(ctx, buffer, index)
	if err != nil {
		p.log.Error(logFmtSaveFailed, index, err)

		return nil, fmt.Errorf(errFmtStepSave, err)
	}

	data, err := p.store.ReadBytes(ctx, ref)
	if err != nil {
		p.log.Error(logFmtReadFailed, ref.Name, err)

		if !errors.Is(err, core.ErrStorageUnavailable) {
			err = fmt.Errorf("%w: %w", core.ErrStorageUnavailable, err)
		}

		return nil, fmt.Errorf(errFmtStepRead, err)
	}

	result := &Result{
		Asset:      ref,
		Audio:      data,
		Duration:   audio.Duration(buffer.NumSamples(), p.options.SampleRate),
		SampleRate: p.options.SampleRate,
	}

	p.log.Info(logFmtGenerated, ref.Name, len(data), result.Duration)

	return result, nil
}

// reserveIndex resolves AutoIndex to the next free index and keeps later
// automatic indices past every index handed out.
func (p *Pipeline) reserveIndex(ctx context.Context, requested int) int {
	p.indexMu.Lock()
	defer p.indexMu.Unlock()

	if !p.indexSeeded {
		p.seedIndex(ctx)
	}

	index := requested
	if index == AutoIndex {
		index = p.nextIndex
	}

	p.nextIndex = max(p.nextIndex, index+1)

	return index
}

func (p *Pipeline) seedIndex(ctx context.Context) {
	scanner, ok := p.store.(IndexScanner)
	if !ok {
		p.indexSeeded = true

		return
	}

	highest, err := scanner.HighestIndex(ctx)
	if err != nil {
		p.log.Warn(logFmtScanFailed, p.nextIndex, err)

		return
	}

	p.nextIndex = max(p.nextIndex, highest+1)
	p.indexSeeded = true
}
