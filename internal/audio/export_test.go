package audio

// SeekBufferForTest exposes the in-memory write seeker to external tests.
type SeekBufferForTest = seekBuffer
