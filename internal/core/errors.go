package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Error kinds surfaced to callers.
const (
	KindInvalidInput       = "invalid_input"
	KindModelUnavailable   = "model_unavailable"
	KindGenerationFailure  = "generation_failure"
	KindStorageUnavailable = "storage_unavailable"
	KindCanceled           = "canceled"
	KindInternal           = "internal"
)

// Default duration policy, in seconds.
const (
	DefaultMinDurationSeconds = 1
	DefaultMaxDurationSeconds = 30
)

// Error taxonomy. Every error returned by the pipeline wraps exactly one of these.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrModelUnavailable   = errors.New("model unavailable")
	ErrGenerationFailure  = errors.New("generation failed")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Specific errors.
var (
	// ErrPromptEmpty indicates a prompt that is empty after trimming whitespace.
	ErrPromptEmpty = fmt.Errorf("%w: prompt cannot be empty", ErrInvalidInput)
	// ErrDurationOutOfRange indicates a duration outside the configured bounds.
	ErrDurationOutOfRange = fmt.Errorf("%w: duration out of range", ErrInvalidInput)
	// ErrIndexNegative indicates a negative asset index.
	ErrIndexNegative = fmt.Errorf("%w: asset index must be non-negative", ErrInvalidInput)
	// ErrInvalidBuffer indicates a sample buffer with an unsupported shape.
	ErrInvalidBuffer = fmt.Errorf("%w: invalid sample buffer", ErrInvalidInput)
	// ErrAssetNotFound indicates that no asset exists under the requested name.
	ErrAssetNotFound = errors.New("asset not found")
	// ErrEmptyResult indicates that the model returned no output for the prompt.
	ErrEmptyResult = fmt.Errorf("%w: model returned an empty batch", ErrGenerationFailure)
)

// User-facing messages, one per error kind.
const (
	msgInvalidInput       = "Please check your input: %s"
	msgModelUnavailable   = "The music model is not available right now. Please try again later."
	msgGenerationFailure  = "Music generation failed. Please try again."
	msgStorageUnavailable = "The generated track could not be saved. Please try again."
	msgCanceled           = "The request was canceled before it finished."
	msgInternal           = "Something went wrong."
)

// DurationLimits bounds the accepted duration, inclusive on both ends.
type DurationLimits struct {
	MinSeconds int
	MaxSeconds int
}

// DefaultDurationLimits returns the 1..30 second policy.
func DefaultDurationLimits() DurationLimits {
	return DurationLimits{
		MinSeconds: DefaultMinDurationSeconds,
		MaxSeconds: DefaultMaxDurationSeconds,
	}
}

// Check returns ErrDurationOutOfRange when seconds lies outside the limits.
func (l DurationLimits) Check(seconds int) error {
	if seconds < l.MinSeconds || seconds > l.MaxSeconds {
		return fmt.Errorf("%w: got %d, want %d..%d", ErrDurationOutOfRange, seconds, l.MinSeconds, l.MaxSeconds)
	}

	return nil
}

// ValidatePrompt returns ErrPromptEmpty for blank prompts.
func ValidatePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return ErrPromptEmpty
	}

	return nil
}

// ValidateBuffer checks that a buffer has one or two channels of equal, non-zero length.
func ValidateBuffer(buffer SampleBuffer) error {
	channels := buffer.NumChannels()
	if channels < 1 || channels > 2 {
		return fmt.Errorf("%w: got %d channels, want 1 or 2", ErrInvalidBuffer, channels)
	}

	samples := buffer.NumSamples()
	if samples == 0 {
		return fmt.Errorf("%w: no samples", ErrInvalidBuffer)
	}

	for i, channel := range buffer {
		if len(channel) != samples {
			return fmt.Errorf("%w: channel %d has %d samples, want %d", ErrInvalidBuffer, i, len(channel), samples)
		}
	}

	return nil
}

// ErrorKind classifies err into one of the Kind* constants.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrModelUnavailable):
		return KindModelUnavailable
	case errors.Is(err, ErrGenerationFailure):
		return KindGenerationFailure
	case errors.Is(err, ErrStorageUnavailable):
		return KindStorageUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindInternal
	}
}

// UserMessage returns a message that tells bad input apart from system failures.
func UserMessage(err error) string {
	switch ErrorKind(err) {
	case "":
		return ""
	case KindInvalidInput:
		return fmt.Sprintf(msgInvalidInput, err.Error())
	case KindModelUnavailable:
		return msgModelUnavailable
	case KindGenerationFailure:
		return msgGenerationFailure
	case KindStorageUnavailable:
		return msgStorageUnavailable
	case KindCanceled:
		return msgCanceled
	default:
		return msgInternal
	}
}
