package audio

import (
	"bytes"
	"errors"
	"io"
)

var errNegativePosition = errors.New("seek to negative position")

// seekBuffer is an in-memory io.WriteSeeker. The WAV encoder seeks back to patch
// chunk sizes once the sample data is written.
type seekBuffer struct {
	data []byte
	pos  int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	end := b.pos + len(p)
	if end > len(b.data) {
		b.data = append(b.data, make([]byte, end-len(b.data))...)
	}

	copy(b.data[b.pos:end], p)
	b.pos = end

	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var base int64

	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = int64(b.pos)
	case io.SeekEnd:
		base = int64(len(b.data))
	default:
		return 0, errors.New("invalid whence")
	}

	next := base + offset
	if next < 0 {
		return 0, errNegativePosition
	}

	b.pos = int(next)

	return next, nil
}

// Bytes returns the written data.
func (b *seekBuffer) Bytes() []byte {
	return b.data
}

// readSeekNopCloser lets the decoder treat an in-memory reader as a closable file.
type readSeekNopCloser struct {
	*bytes.Reader
}

func (readSeekNopCloser) Close() error {
	return nil
}
