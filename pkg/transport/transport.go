// Package transport defines the collaborator interfaces between the
// orchestration layer and the room: transcription events in, synthesized
// audio out, and an auxiliary data path for structured events. The room SDK
// itself (connection, codecs, track management) lives behind these
// interfaces and is not part of this module.
package transport

import (
	"context"
	"time"
)

// InputKind tags an input event from the room's audio path.
type InputKind int

const (
	// InputSpeechStart signals detected voice activity. While the agent is
	// generating or speaking this is a barge-in.
	InputSpeechStart InputKind = iota

	// InputTranscript carries interim or final transcription text.
	InputTranscript
)

// InputEvent is one event from the transcription source.
type InputEvent struct {
	Kind  InputKind
	Text  string
	Final bool
	At    time.Time
}

// TranscriptSource yields interim/final transcription and voice-activity
// events for one participant. The channel closes when the participant's
// audio ends.
type TranscriptSource interface {
	Events() <-chan InputEvent
	Close() error
}

// SpeechStream is one turn's speech synthesis: text goes in incrementally,
// audio frames come out. Done closes after the final audio for the flushed
// text has been emitted. A canceled stream stops emitting within one
// synthesis chunk.
type SpeechStream interface {
	// SendText queues text for synthesis. last marks the final fragment and
	// flushes the provider.
	SendText(text string, last bool) error

	Audio() <-chan []byte
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Synthesizer creates per-turn speech streams.
type Synthesizer interface {
	NewStream(ctx context.Context) (SpeechStream, error)
}

// AudioPublisher writes synthesized audio frames to the room.
type AudioPublisher interface {
	WriteFrame(ctx context.Context, frame []byte) error
}
