// Package core defines the core business types and interfaces for the music service.
package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// SampleBuffer holds raw waveform samples shaped (channels, samples).
// Values are nominally in [-1.0, 1.0].
type SampleBuffer [][]float64

// NumChannels returns the number of channels in the buffer.
func (b SampleBuffer) NumChannels() int {
	return len(b)
}

// NumSamples returns the number of samples per channel.
func (b SampleBuffer) NumSamples() int {
	if len(b) == 0 {
		return 0
	}

	return len(b[0])
}

// GenerationParams is the immutable parameter bundle for one generation call.
type GenerationParams struct {
	UseSampling     bool
	TopK            int
	DurationSeconds int
}

// Progress reports how far a running generation has advanced.
type Progress struct {
	Generated int
	Total     int
}

// ProgressFunc observes generation progress. It may be nil.
type ProgressFunc func(Progress)

// Report calls the observer if one is set.
func (f ProgressFunc) Report(generated, total int) {
	if f == nil {
		return
	}

	f(Progress{Generated: generated, Total: total})
}

// ModelHandle is a loaded generative music model.
// Implementations return one SampleBuffer per prompt, in prompt order.
type ModelHandle interface {
	Generate(ctx context.Context, prompts []string, params GenerationParams, progress ProgressFunc) ([]SampleBuffer, error)
	SampleRate() int
}

// ModelLoader constructs a ModelHandle for a named pretrained configuration.
type ModelLoader interface {
	Load(ctx context.Context, modelName string) (ModelHandle, error)
}

// AssetRef addresses a persisted audio asset.
type AssetRef struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Size     int64  `json:"size"`
}

// AssetStore persists sample buffers as encoded audio assets.
type AssetStore interface {
	EnsureRoot(ctx context.Context) error
	Save(ctx context.Context, buffer SampleBuffer, index int) (AssetRef, error)
	ReadBytes(ctx context.Context, ref AssetRef) ([]byte, error)
}
