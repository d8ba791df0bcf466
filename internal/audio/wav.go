// Package audio provides WAV encoding, decoding and format validation for generated
// music, plus helpers for embedding encoded audio in downloadable payloads.
package audio

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"math"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"

	"github.com/book-expert/music-service/internal/core"
)

// Format defaults and limits.
const (
	DefaultSampleRate = 32000
	MaxSampleRate     = 192000
	MaxChannels       = 2
	bytesPerSample    = 2
	decodeChunkFrames = 4096
)

// Media type and naming.
const (
	MediaTypeWAV     = "audio/wav"
	FileExtensionWAV = ".wav"
	dataURIPrefix    = "data:" + MediaTypeWAV + ";base64,"
)

// Error message formats.
const (
	errFmtSampleRateRange = "%w: sample rate must be between 1 and %d Hz, got %d"
	errFmtChannelsRange   = "%w: channels must be between 1 and %d, got %d"
	errFmtEncode          = "failed to encode wav: %w"
	errFmtDecode          = "failed to decode wav: %w"
)

// ErrInvalidFormat is returned for unsupported sample rates or channel layouts.
var ErrInvalidFormat = errors.New("invalid audio format")

// ValidateFormat checks that a sample rate and channel count can be encoded.
func ValidateFormat(sampleRate, channels int) error {
	if sampleRate <= 0 || sampleRate > MaxSampleRate {
		return fmt.Errorf(errFmtSampleRateRange, ErrInvalidFormat, MaxSampleRate, sampleRate)
	}

	if channels <= 0 || channels > MaxChannels {
		return fmt.Errorf(errFmtChannelsRange, ErrInvalidFormat, MaxChannels, channels)
	}

	return nil
}

// EncodeWAV encodes the buffer as 16-bit linear PCM WAV at sampleRate.
func EncodeWAV(buffer core.SampleBuffer, sampleRate int) ([]byte, error) {
	err := core.ValidateBuffer(buffer)
	if err != nil {
		return nil, err
	}

	err = ValidateFormat(sampleRate, buffer.NumChannels())
	if err != nil {
		return nil, err
	}

	format := beep.Format{
		SampleRate:  beep.SampleRate(sampleRate),
		NumChannels: buffer.NumChannels(),
		Precision:   bytesPerSample,
	}

	var out seekBuffer

	err = wav.Encode(&out, &bufferStreamer{buffer: buffer}, format)
	if err != nil {
		return nil, fmt.Errorf(errFmtEncode, err)
	}

	return out.Bytes(), nil
}

// DecodeWAV decodes WAV bytes into a fresh buffer and returns the file's sample rate.
func DecodeWAV(data []byte) (core.SampleBuffer, int, error) {
	streamer, format, err := wav.Decode(readSeekNopCloser{Reader: bytes.NewReader(data)})
	if err != nil {
		return nil, 0, fmt.Errorf(errFmtDecode, err)
	}

	defer func() {
		_ = streamer.Close()
	}()

	channels := format.NumChannels
	if channels > MaxChannels {
		channels = MaxChannels
	}

	err = ValidateFormat(int(format.SampleRate), channels)
	if err != nil {
		return nil, 0, err
	}

	gain := signedPCMGain(format.Precision)

	buffer := make(core.SampleBuffer, channels)
	for i := range buffer {
		buffer[i] = make([]float64, 0, streamer.Len())
	}

	chunk := make([][2]float64, decodeChunkFrames)

	for {
		n, ok := streamer.Stream(chunk)
		for _, frame := range chunk[:n] {
			for c := range buffer {
				buffer[c] = append(buffer[c], clampSample(frame[c]*gain))
			}
		}

		if !ok {
			break
		}
	}

	err = streamer.Err()
	if err != nil {
		return nil, 0, fmt.Errorf(errFmtDecode, err)
	}

	return buffer, int(format.SampleRate), nil
}

// signedPCMGain undoes beep v1.1.0's wav decoder scaling for 16 and 24-bit PCM.
// The decoder divides by 2^bits-1 while full scale is 2^(bits-1)-1, which halves
// every sample. 8-bit PCM is unsigned and decodes correctly.
func signedPCMGain(precision int) float64 {
	if precision < 2 {
		return 1
	}

	bits := float64(precision * 8)

	return (math.Exp2(bits) - 1) / (math.Exp2(bits-1) - 1)
}

func clampSample(sample float64) float64 {
	return max(-1, min(1, sample))
}

// Duration returns the playback length of numSamples frames at sampleRate.
func Duration(numSamples, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}

	return beep.SampleRate(sampleRate).D(numSamples)
}

// DataURI embeds WAV bytes in a base64 data URI.
func DataURI(data []byte) string {
	return dataURIPrefix + base64.StdEncoding.EncodeToString(data)
}

// DownloadLink renders an HTML anchor that downloads data under fileName.
func DownloadLink(fileName, label string, data []byte) string {
	return fmt.Sprintf(
		`<a href="%s" download="%s">%s</a>`,
		DataURI(data),
		html.EscapeString(fileName),
		html.EscapeString(label),
	)
}

// bufferStreamer streams a SampleBuffer as beep stereo frames.
// Mono buffers are duplicated onto both sides so the mono encoder's average is exact.
type bufferStreamer struct {
	buffer core.SampleBuffer
	pos    int
}

func (s *bufferStreamer) Stream(samples [][2]float64) (int, bool) {
	total := s.buffer.NumSamples()
	if s.pos >= total {
		return 0, false
	}

	n := 0
	for n < len(samples) && s.pos < total {
		left := s.buffer[0][s.pos]
		right := left

		if s.buffer.NumChannels() > 1 {
			right = s.buffer[1][s.pos]
		}

		samples[n] = [2]float64{left, right}
		n++
		s.pos++
	}

	return n, true
}

func (s *bufferStreamer) Err() error {
	return nil
}
