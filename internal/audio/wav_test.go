package audio_test

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"io"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/book-expert/music-service/internal/audio"
	"github.com/book-expert/music-service/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 16-bit PCM quantization bound with margin.
const pcmTolerance = 1e-4

func sineBuffer(channels, samples, sampleRate int) core.SampleBuffer {
	buffer := make(core.SampleBuffer, channels)
	for c := range buffer {
		buffer[c] = make([]float64, samples)
		for i := range buffer[c] {
			freq := 440.0 * float64(c+1)
			buffer[c][i] = 0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
		}
	}

	return buffer
}

func requireBuffersClose(t *testing.T, want, got core.SampleBuffer) {
	t.Helper()

	require.Equal(t, want.NumChannels(), got.NumChannels())
	require.Equal(t, want.NumSamples(), got.NumSamples())

	for c := range want {
		for i := range want[c] {
			if math.Abs(want[c][i]-got[c][i]) > pcmTolerance {
				t.Fatalf("channel %d sample %d: want %f, got %f", c, i, want[c][i], got[c][i])
			}
		}
	}
}

func TestEncodeDecodeWAV_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		channels int
	}{
		{name: "mono", channels: 1},
		{name: "stereo", channels: 2},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			want := sineBuffer(testCase.channels, 10000, audio.DefaultSampleRate)

			data, err := audio.EncodeWAV(want, audio.DefaultSampleRate)
			require.NoError(t, err)
			require.True(t, strings.HasPrefix(string(data), "RIFF"))
			assert.Equal(t, "WAVE", string(data[8:12]))

			got, sampleRate, err := audio.DecodeWAV(data)
			require.NoError(t, err)
			assert.Equal(t, audio.DefaultSampleRate, sampleRate)
			requireBuffersClose(t, want, got)
		})
	}
}

// pcmWAV builds a canonical signed PCM WAV from interleaved integer samples.
func pcmWAV(t *testing.T, bitsPerSample, channels, sampleRate int, samples []int32) []byte {
	t.Helper()

	bytesPerSample := bitsPerSample / 8
	dataSize := len(samples) * bytesPerSample

	var buf bytes.Buffer

	buf.WriteString("RIFF")
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize)))
	buf.WriteString("WAVEfmt ")
	for _, field := range []any{
		uint32(16),
		uint16(1),
		uint16(channels),
		uint32(sampleRate),
		uint32(sampleRate * channels * bytesPerSample),
		uint16(channels * bytesPerSample),
		uint16(bitsPerSample),
	} {
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, field))
	}
	buf.WriteString("data")
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(dataSize)))

	for _, sample := range samples {
		for i := range bytesPerSample {
			buf.WriteByte(byte(sample >> (8 * i)))
		}
	}

	return buf.Bytes()
}

func TestDecodeWAV_FullScaleAmplitude(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		bitsPerSample int
		channels      int
		samples       []int32
		want          core.SampleBuffer
	}{
		{
			name:          "16-bit mono",
			bitsPerSample: 16,
			channels:      1,
			samples:       []int32{16384, -16384, 32767, -32768},
			want:          core.SampleBuffer{{16384.0 / 32767, -16384.0 / 32767, 1, -1}},
		},
		{
			name:          "16-bit stereo",
			bitsPerSample: 16,
			channels:      2,
			samples:       []int32{8192, -8192, 0, 32767},
			want:          core.SampleBuffer{{8192.0 / 32767, 0}, {-8192.0 / 32767, 1}},
		},
		{
			name:          "24-bit mono",
			bitsPerSample: 24,
			channels:      1,
			samples:       []int32{1 << 22, -(1 << 22)},
			want:          core.SampleBuffer{{0.5, -0.5}},
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			data := pcmWAV(t, testCase.bitsPerSample, testCase.channels, audio.DefaultSampleRate, testCase.samples)

			got, sampleRate, err := audio.DecodeWAV(data)
			require.NoError(t, err)
			assert.Equal(t, audio.DefaultSampleRate, sampleRate)
			requireBuffersClose(t, testCase.want, got)
		})
	}
}

func TestEncodeDecodeWAV_PreservesAmplitude(t *testing.T) {
	t.Parallel()

	want := core.SampleBuffer{{0.5, -0.5, 0.25, 0.99, -0.99}}

	data, err := audio.EncodeWAV(want, audio.DefaultSampleRate)
	require.NoError(t, err)

	got, _, err := audio.DecodeWAV(data)
	require.NoError(t, err)
	requireBuffersClose(t, want, got)
}

func TestEncodeWAV_TenSecondsAtDefaultRate(t *testing.T) {
	t.Parallel()

	samples := 10 * audio.DefaultSampleRate
	data, err := audio.EncodeWAV(sineBuffer(1, samples, audio.DefaultSampleRate), audio.DefaultSampleRate)
	require.NoError(t, err)

	// 44-byte canonical header plus two bytes per mono sample.
	assert.Len(t, data, 44+2*samples)

	decoded, sampleRate, err := audio.DecodeWAV(data)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, audio.Duration(decoded.NumSamples(), sampleRate))
}

func TestEncodeWAV_Rejects(t *testing.T) {
	t.Parallel()

	_, err := audio.EncodeWAV(core.SampleBuffer{}, audio.DefaultSampleRate)
	require.ErrorIs(t, err, core.ErrInvalidBuffer)

	_, err = audio.EncodeWAV(core.SampleBuffer{{0.1}}, 0)
	require.ErrorIs(t, err, audio.ErrInvalidFormat)

	_, err = audio.EncodeWAV(core.SampleBuffer{{0.1}}, audio.MaxSampleRate+1)
	require.ErrorIs(t, err, audio.ErrInvalidFormat)
}

func TestDecodeWAV_Garbage(t *testing.T) {
	t.Parallel()

	_, _, err := audio.DecodeWAV([]byte("definitely not a wav file"))
	require.Error(t, err)
}

func TestDuration(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Second, audio.Duration(32000, 32000))
	assert.Equal(t, 500*time.Millisecond, audio.Duration(16000, 32000))
	assert.Equal(t, time.Duration(0), audio.Duration(16000, 0))
}

func TestDataURIAndDownloadLink(t *testing.T) {
	t.Parallel()

	payload := []byte("RIFF....WAVE")

	uri := audio.DataURI(payload)
	require.True(t, strings.HasPrefix(uri, "data:audio/wav;base64,"))

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, "data:audio/wav;base64,"))
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)

	link := audio.DownloadLink("audio_0.wav", "Save .wav", payload)
	assert.Contains(t, link, `download="audio_0.wav"`)
	assert.Contains(t, link, `href="`+uri+`"`)
	assert.Contains(t, link, ">Save .wav</a>")

	escaped := audio.DownloadLink(`a"b.wav`, "<b>", payload)
	assert.Contains(t, escaped, `download="a&#34;b.wav"`)
	assert.Contains(t, escaped, "&lt;b&gt;")
}

func TestValidateFormat(t *testing.T) {
	t.Parallel()

	require.NoError(t, audio.ValidateFormat(32000, 1))
	require.NoError(t, audio.ValidateFormat(48000, 2))
	require.ErrorIs(t, audio.ValidateFormat(32000, 3), audio.ErrInvalidFormat)
	require.ErrorIs(t, audio.ValidateFormat(-1, 1), audio.ErrInvalidFormat)
}

func TestSeekBuffer_PatchesHeader(t *testing.T) {
	t.Parallel()

	var buf audio.SeekBufferForTest

	_, err := buf.Write([]byte("abcdef"))
	require.NoError(t, err)

	pos, err := buf.Seek(1, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pos)

	_, err = buf.Write([]byte("XY"))
	require.NoError(t, err)

	_, err = buf.Seek(0, io.SeekEnd)
	require.NoError(t, err)

	_, err = buf.Write([]byte("!"))
	require.NoError(t, err)

	assert.Equal(t, "aXYdef!", string(buf.Bytes()))

	_, err = buf.Seek(-100, io.SeekCurrent)
	require.Error(t, err)
}
