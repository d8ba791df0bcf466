// Package jobs defines the messages exchanged with the music worker over NATS.
package jobs

import "github.com/book-expert/events"

// MusicRequestedEvent asks the service to generate one track.
// An Index of -1 lets the service pick the next free index.
type MusicRequestedEvent struct {
	Header          events.EventHeader `json:"header"`
	Prompt          string             `json:"prompt"`
	DurationSeconds int                `json:"duration_seconds"`
	Index           int                `json:"index"`
}

// MusicGeneratedEvent is the reply to a MusicRequestedEvent. On failure AssetKey is
// empty and ErrorKind names the failure class.
type MusicGeneratedEvent struct {
	Header          events.EventHeader `json:"header"`
	AssetKey        string             `json:"asset_key,omitempty"`
	Location        string             `json:"location,omitempty"`
	Size            int64              `json:"size,omitempty"`
	DurationSeconds float64            `json:"duration_seconds,omitempty"`
	SampleRate      int                `json:"sample_rate,omitempty"`
	ErrorKind       string             `json:"error_kind,omitempty"`
	Error           string             `json:"error,omitempty"`
}

// MusicProgressEvent reports generation progress for a running request.
type MusicProgressEvent struct {
	Header    events.EventHeader `json:"header"`
	Generated int                `json:"generated"`
	Total     int                `json:"total"`
}
