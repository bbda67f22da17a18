// Package speech defines the Backend interface for platform text-to-speech
// engines.
//
// A Backend wraps whatever the host platform offers for speaking a short
// phrase: an on-device speech daemon on embedded hardware, or the browser's
// Web Speech API reached through a bridge page. The scheduler hands it one
// [Request] at a time and learns about progress through the returned [Event]
// channel.
//
// Implementations must be safe for concurrent use.
package speech

import (
	"context"
	"errors"
)

// ErrNotSupported is returned by operations the platform cannot perform, such
// as cancelling speech on an engine with no stop primitive.
var ErrNotSupported = errors.New("speech: operation not supported by backend")

// ErrCancelled is carried by an [EventFailed] event when an utterance was cut
// short by context cancellation or an explicit stop.
var ErrCancelled = errors.New("speech: utterance cancelled")

// Parameter ranges accepted by every backend.
const (
	MinRate   = 0.1
	MaxRate   = 2.0
	MinPitch  = 0.0
	MaxPitch  = 2.0
	MinVolume = 0.0
	MaxVolume = 1.0

	DefaultRate   = 0.9
	DefaultPitch  = 1.0
	DefaultVolume = 0.8
)

// QueueStrategy tells the platform what to do with speech it is already
// playing when a new request arrives.
type QueueStrategy string

const (
	// QueueFlush interrupts anything the platform is speaking.
	QueueFlush QueueStrategy = "flush"

	// QueueAppend lets the platform finish current speech first.
	QueueAppend QueueStrategy = "append"
)

// Valid reports whether q is a known strategy.
func (q QueueStrategy) Valid() bool {
	return q == QueueFlush || q == QueueAppend
}

// Request is a single utterance submitted to a [Backend]. Rate, Pitch and
// Volume are snapshotted by the caller at submission time.
type Request struct {
	// ID identifies the dispatch. Backends echo it in logs; it carries no
	// protocol meaning.
	ID string

	Text     string
	Language string
	Rate     float64
	Pitch    float64
	Volume   float64

	// Category is an audio-session hint for platforms that mix speech with
	// other audio (e.g. "playback").
	Category string

	Queue QueueStrategy
}

// EventKind enumerates the lifecycle notifications a backend emits.
type EventKind int

const (
	// EventStarted is emitted when the platform begins audible playback.
	// Backends that cannot observe this may omit it.
	EventStarted EventKind = iota

	// EventCompleted is terminal: the utterance finished.
	EventCompleted

	// EventFailed is terminal: the utterance could not be spoken. Err says why.
	EventFailed
)

// String returns a short lowercase name for k.
func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether k ends the utterance.
func (k EventKind) Terminal() bool {
	return k == EventCompleted || k == EventFailed
}

// Event is a lifecycle notification for one [Request].
type Event struct {
	Kind EventKind
	Err  error
}

// Voice describes a voice offered by the platform.
type Voice struct {
	Name    string `json:"name"`
	Lang    string `json:"lang"`
	Default bool   `json:"default,omitempty"`
}

// Backend is the abstraction over a platform speech engine.
type Backend interface {
	// Speak submits req for playback and returns immediately. The returned
	// channel emits at most one [EventStarted] followed by exactly one
	// terminal event, then closes. Cancelling ctx abandons the utterance; the
	// backend then emits [EventFailed] with [ErrCancelled] if it has not
	// already terminated.
	//
	// A non-nil error means the request was not submitted at all.
	Speak(ctx context.Context, req Request) (<-chan Event, error)

	// Stop asks the platform to silence everything it is currently
	// speaking. Returns [ErrNotSupported] where no such primitive exists.
	Stop(ctx context.Context) error

	// Name returns a short identifier such as "native" or "webspeech".
	Name() string
}

// ClampRate limits v to [MinRate, MaxRate].
func ClampRate(v float64) float64 { return clamp(v, MinRate, MaxRate) }

// ClampPitch limits v to [MinPitch, MaxPitch].
func ClampPitch(v float64) float64 { return clamp(v, MinPitch, MaxPitch) }

// ClampVolume limits v to [MinVolume, MaxVolume].
func ClampVolume(v float64) float64 { return clamp(v, MinVolume, MaxVolume) }

func clamp(v, lo, hi float64) float64 {
	if v != v { // NaN
		return lo
	}
	return min(max(v, lo), hi)
}

// Drain reads from ch until it is closed, discarding every event.
func Drain(ch <-chan Event) {
	for range ch {
	}
}
