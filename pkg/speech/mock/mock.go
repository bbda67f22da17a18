// Package mock provides a test double for the speech.Backend interface.
//
// Backend records every Speak and Stop call. Utterances stay in flight until
// the test resolves them with Complete, Fail or by cancelling the context the
// caller passed to Speak, which lets tests drive the scheduler step by step.
//
// Example:
//
//	b := &mock.Backend{}
//	s := scheduler.New(b)
//	s.Enqueue(scheduler.Utterance{Text: "Go deeper"})
//	b.Complete(0)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/posecoach/pkg/speech"
)

// Ensure Backend implements speech.Backend at compile time.
var _ speech.Backend = (*Backend)(nil)

// Call records a single invocation of Speak.
type Call struct {
	// Ctx is the context passed to Speak.
	Ctx context.Context
	// Request is the request passed to Speak.
	Request speech.Request

	mu       sync.Mutex
	events   chan speech.Event
	started  bool
	finished bool
	done     chan struct{}
}

// Finished reports whether a terminal event has been delivered.
func (c *Call) Finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}

func (c *Call) live() bool {
	return !c.Finished() && c.Ctx.Err() == nil
}

func (c *Call) start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished || c.started {
		return
	}
	c.started = true
	c.events <- speech.Event{Kind: speech.EventStarted}
}

func (c *Call) finish(ev speech.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return false
	}
	c.finished = true
	c.events <- ev
	close(c.events)
	close(c.done)
	return true
}

// Backend is a mock implementation of speech.Backend.
type Backend struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// NameValue is returned by Name. Defaults to "mock".
	NameValue string

	// SpeakErr, if non-nil, is returned from Speak and nothing is submitted.
	SpeakErr error

	// StopErr is returned from Stop.
	StopErr error

	// AutoComplete makes every accepted utterance start and complete
	// immediately.
	AutoComplete bool

	// SpeakBlock, if non-nil, holds every Speak call until it is closed or
	// the caller's context is done, like a backend whose transport stalled.
	SpeakBlock chan struct{}

	// --- Call records ---

	calls     []*Call
	stopCalls int
	overlaps  int
}

// Speak records the call and returns an event channel that stays open until
// the test resolves the utterance or ctx is cancelled.
func (b *Backend) Speak(ctx context.Context, req speech.Request) (<-chan speech.Event, error) {
	b.mu.Lock()
	block := b.SpeakBlock
	b.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	if b.SpeakErr != nil {
		err := b.SpeakErr
		b.calls = append(b.calls, &Call{Ctx: ctx, Request: req, finished: true})
		b.mu.Unlock()
		return nil, err
	}
	for _, prev := range b.calls {
		if prev.live() {
			b.overlaps++
			break
		}
	}
	c := &Call{
		Ctx:     ctx,
		Request: req,
		events:  make(chan speech.Event, 2),
		done:    make(chan struct{}),
	}
	b.calls = append(b.calls, c)
	auto := b.AutoComplete
	b.mu.Unlock()

	if auto {
		c.start()
		c.finish(speech.Event{Kind: speech.EventCompleted})
		return c.events, nil
	}

	go func() {
		select {
		case <-ctx.Done():
			c.finish(speech.Event{Kind: speech.EventFailed, Err: speech.ErrCancelled})
		case <-c.done:
		}
	}()
	return c.events, nil
}

// Stop records the call and returns StopErr.
func (b *Backend) Stop(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopCalls++
	return b.StopErr
}

// Name returns NameValue, or "mock" when unset.
func (b *Backend) Name() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.NameValue == "" {
		return "mock"
	}
	return b.NameValue
}

// Start emits EventStarted for call i. It is a no-op for finished calls.
func (b *Backend) Start(i int) {
	b.call(i).start()
}

// Complete emits EventCompleted for call i. It returns false if the call had
// already terminated.
func (b *Backend) Complete(i int) bool {
	return b.call(i).finish(speech.Event{Kind: speech.EventCompleted})
}

// Fail emits EventFailed with err for call i. It returns false if the call
// had already terminated.
func (b *Backend) Fail(i int, err error) bool {
	return b.call(i).finish(speech.Event{Kind: speech.EventFailed, Err: err})
}

// Call returns the i-th recorded Speak call. It panics if i is out of range.
func (b *Backend) Call(i int) *Call {
	return b.call(i)
}

// CallCount returns the number of Speak calls so far.
func (b *Backend) CallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

// Texts returns the text of every Speak call in order.
func (b *Backend) Texts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.calls))
	for i, c := range b.calls {
		out[i] = c.Request.Text
	}
	return out
}

// StopCount returns the number of Stop calls so far.
func (b *Backend) StopCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopCalls
}

// Overlaps returns how many Speak calls arrived while a previous utterance
// was still live (neither terminated nor cancelled by its caller).
func (b *Backend) Overlaps() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overlaps
}

// Reset clears all recorded calls. Thread-safe.
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = nil
	b.stopCalls = 0
	b.overlaps = 0
}

func (b *Backend) call(i int) *Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[i]
}
