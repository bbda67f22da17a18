package resilience

import (
	"context"
	"errors"
	"strings"

	"github.com/MrWong99/posecoach/pkg/speech"
)

// SpeechFallback implements [speech.Backend] with failover across several
// platform backends. Each backend has its own circuit breaker.
type SpeechFallback struct {
	group *FallbackGroup[speech.Backend]
}

// Compile-time interface assertion.
var _ speech.Backend = (*SpeechFallback)(nil)

// NewSpeechFallback creates a [SpeechFallback] with primary as the preferred
// backend.
func NewSpeechFallback(primary speech.Backend, cfg FallbackConfig) *SpeechFallback {
	return &SpeechFallback{
		group: NewFallbackGroup(primary, primary.Name(), cfg),
	}
}

// AddFallback registers an additional backend.
func (f *SpeechFallback) AddFallback(b speech.Backend) {
	f.group.AddFallback(b.Name(), b)
}

// Speak submits req to the first healthy backend. Only submission is covered
// by failover; an utterance that fails after submission is reported on the
// event channel and is not retried elsewhere.
func (f *SpeechFallback) Speak(ctx context.Context, req speech.Request) (<-chan speech.Event, error) {
	return ExecuteWithResult(f.group, func(b speech.Backend) (<-chan speech.Event, error) {
		return b.Speak(ctx, req)
	})
}

// Stop asks every backend to stop. It returns [speech.ErrNotSupported] only
// when no backend supports stopping.
func (f *SpeechFallback) Stop(ctx context.Context) error {
	unsupported := 0
	err := f.group.Each(func(_ string, b speech.Backend) error {
		err := b.Stop(ctx)
		if errors.Is(err, speech.ErrNotSupported) {
			unsupported++
			return nil
		}
		return err
	})
	if unsupported == len(f.group.entries) {
		return speech.ErrNotSupported
	}
	return err
}

// Name returns the backend names joined by "+", in failover order.
func (f *SpeechFallback) Name() string {
	return strings.Join(f.group.Names(), "+")
}

// States returns the breaker state of every backend, keyed by name.
func (f *SpeechFallback) States() map[string]State {
	return f.group.States()
}
