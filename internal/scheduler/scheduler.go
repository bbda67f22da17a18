// Package scheduler owns the single audio output channel. It decides which
// coaching phrase is spoken, when, and which ones are dropped.
//
// A [Scheduler] holds at most one utterance in flight on its [speech.Backend]
// and queues the rest in three priority buckets. Urgent utterances flush the
// queue and interrupt whatever is speaking. Identical text spoken again
// within a short window is suppressed.
//
// Every dispatch is tagged with a fresh session id. Backend signals that
// arrive for a session that is no longer current are discarded, so a late
// completion from a flushed utterance can never release a newer one. A
// watchdog bounds how long a dispatch may stay unresolved.
//
// All exported methods are safe for concurrent use.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/posecoach/internal/observe"
	"github.com/MrWong99/posecoach/internal/resilience"
	"github.com/MrWong99/posecoach/pkg/speech"
)

// ErrClosed is reported by [Outcome.Err] once the scheduler has been closed.
var ErrClosed = errors.New("scheduler: closed")

// ErrWatchdog is recorded when a backend does not resolve an utterance
// within the watchdog timeout.
var ErrWatchdog = errors.New("scheduler: speech watchdog expired")

// ErrSubmitTimeout is recorded when a backend does not accept an utterance
// within the submit timeout.
var ErrSubmitTimeout = errors.New("scheduler: speech submit timed out")

const (
	// DefaultRealtimeWindow is the de-duplication window for real-time pose
	// cues.
	DefaultRealtimeWindow = 800 * time.Millisecond

	// DefaultWindow is the de-duplication window for every other cue.
	DefaultWindow = 3 * time.Second

	// DefaultWatchdog bounds how long a dispatch may stay unresolved.
	DefaultWatchdog = 15 * time.Second

	// DefaultStopTimeout bounds a best-effort backend stop request.
	DefaultStopTimeout = time.Second

	// DefaultSubmitTimeout bounds how long [speech.Backend.Speak] may take to
	// accept an utterance.
	DefaultSubmitTimeout = 2 * time.Second

	defaultQueueCap = 8
)

// Priority orders utterances in the queue.
type Priority int

const (
	// Normal utterances are appended behind everything already queued.
	Normal Priority = iota

	// High utterances jump ahead of queued Normal ones, never ahead of the
	// utterance already speaking.
	High

	// Urgent utterances flush the queue and interrupt current speech.
	Urgent
)

// String returns the lowercase priority name.
func (p Priority) String() string {
	switch p {
	case Normal:
		return "normal"
	case High:
		return "high"
	case Urgent:
		return "urgent"
	}
	return "unknown"
}

// Utterance is one phrase to be spoken.
type Utterance struct {
	Text     string
	Priority Priority

	// Realtime marks cues derived from the live analysis stream. They use
	// the short de-duplication window, and at most one of them waits in the
	// queue: a newer real-time cue replaces the queued one.
	Realtime bool

	// Accuracy is the form score the phrase was derived from, if any.
	Accuracy float64

	// CreatedAt defaults to the scheduler clock on enqueue.
	CreatedAt time.Time
}

// Spoken describes the most recently dispatched utterance.
type Spoken struct {
	Text     string
	Accuracy float64
	At       time.Time
}

// IsZero reports whether nothing has been spoken yet.
func (s Spoken) IsZero() bool { return s.At.IsZero() }

// State is the scheduler's externally visible state.
type State int

const (
	StateIdle State = iota
	StateSpeaking
)

// String returns "idle" or "speaking".
func (s State) String() string {
	if s == StateSpeaking {
		return "speaking"
	}
	return "idle"
}

// Outcome reports what [Scheduler.Enqueue] did with an utterance.
type Outcome int

const (
	// OutcomeSpoken means the utterance was dispatched to the backend.
	OutcomeSpoken Outcome = iota
	// OutcomeQueued means the utterance waits behind current speech.
	OutcomeQueued
	// OutcomeSuppressed means the utterance was empty or a recent duplicate.
	OutcomeSuppressed
	// OutcomeDisabled means voice feedback is switched off.
	OutcomeDisabled
	// OutcomeClosed means the scheduler has been closed.
	OutcomeClosed
	// OutcomeFailed means the backend refused the dispatch.
	OutcomeFailed
)

var outcomeNames = [...]string{"spoken", "queued", "suppressed", "disabled", "closed", "failed"}

// String returns the lowercase outcome name.
func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return "unknown"
}

// Err returns [ErrClosed] for [OutcomeClosed] and nil otherwise.
func (o Outcome) Err() error {
	if o == OutcomeClosed {
		return ErrClosed
	}
	return nil
}

// Option configures a [Scheduler] during construction.
type Option func(*Scheduler)

// WithClock replaces the time source used for de-duplication and
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithWindows sets the de-duplication windows for real-time and other cues.
// Non-positive values keep the defaults.
func WithWindows(realtime, other time.Duration) Option {
	return func(s *Scheduler) {
		if realtime > 0 {
			s.realtimeWindow = realtime
		}
		if other > 0 {
			s.defaultWindow = other
		}
	}
}

// WithWatchdog sets how long a dispatch may stay unresolved before it is
// treated as failed. Zero disables the watchdog.
func WithWatchdog(d time.Duration) Option {
	return func(s *Scheduler) {
		s.watchdog = d
	}
}

// WithStopTimeout bounds best-effort backend stop requests.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.stopTimeout = d
		}
	}
}

// WithSubmitTimeout bounds how long the backend may take to accept an
// utterance. A backend that does not return in time has the utterance
// cancelled and counts as a failed dispatch.
func WithSubmitTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.submitTimeout = d
		}
	}
}

// WithVoice sets the initial rate, pitch and volume. Values are clamped.
func WithVoice(rate, pitch, volume float64) Option {
	return func(s *Scheduler) {
		s.rate = speech.ClampRate(rate)
		s.pitch = speech.ClampPitch(pitch)
		s.volume = speech.ClampVolume(volume)
	}
}

// WithLanguage sets the language tag sent with every request.
func WithLanguage(lang string) Option {
	return func(s *Scheduler) {
		s.language = lang
	}
}

// WithCategory sets the audio category hint sent with every request.
func WithCategory(category string) Option {
	return func(s *Scheduler) {
		s.category = category
	}
}

// WithQueueStrategy sets the platform queue strategy for non-urgent
// utterances. Urgent utterances always use [speech.QueueFlush].
func WithQueueStrategy(q speech.QueueStrategy) Option {
	return func(s *Scheduler) {
		if q.Valid() {
			s.queueStrategy = q
		}
	}
}

// WithMetrics replaces the default metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithBreaker guards backend dispatch with cb. While the breaker is open,
// utterances fail fast instead of reaching the backend.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(s *Scheduler) {
		s.breaker = cb
	}
}

// WithEnabled sets the initial enabled state. Defaults to true.
func WithEnabled(enabled bool) Option {
	return func(s *Scheduler) {
		s.enabled = enabled
	}
}

// dispatch is the in-flight utterance. Its id is the session id.
type dispatch struct {
	id      string
	utt     Utterance
	ctx     context.Context
	cancel  context.CancelFunc
	span    trace.Span
	ticket  resilience.Ticket
	guarded bool
	sentAt  time.Time
}

// Scheduler serialises utterances onto a single [speech.Backend].
type Scheduler struct {
	backend        speech.Backend
	now            func() time.Time
	realtimeWindow time.Duration
	defaultWindow  time.Duration
	watchdog       time.Duration
	stopTimeout    time.Duration
	submitTimeout  time.Duration
	language       string
	category       string
	queueStrategy  speech.QueueStrategy
	metrics        *observe.Metrics
	breaker        *resilience.CircuitBreaker

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu         sync.Mutex
	queue      utteranceHeap
	seq        uint64
	current    *dispatch
	lastSpoken Spoken
	enabled    bool
	rate       float64
	pitch      float64
	volume     float64
	closed     bool
}

// New creates a Scheduler that speaks through backend.
//
// Call [Scheduler.Close] to cancel in-flight speech and release resources.
func New(backend speech.Backend, opts ...Option) *Scheduler {
	s := &Scheduler{
		backend:        backend,
		now:            time.Now,
		realtimeWindow: DefaultRealtimeWindow,
		defaultWindow:  DefaultWindow,
		watchdog:       DefaultWatchdog,
		stopTimeout:    DefaultStopTimeout,
		submitTimeout:  DefaultSubmitTimeout,
		language:       "en-US",
		category:       "playback",
		queueStrategy:  speech.QueueFlush,
		queue:          make(utteranceHeap, 0, defaultQueueCap),
		enabled:        true,
		rate:           speech.DefaultRate,
		pitch:          speech.DefaultPitch,
		volume:         speech.DefaultVolume,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.baseCtx, s.baseCancel = context.WithCancel(context.Background())
	heap.Init(&s.queue)
	return s
}

// Enqueue schedules u. Normal and High utterances are spoken immediately
// when the scheduler is idle and queued otherwise. Urgent utterances flush
// the queue, interrupt current speech and are spoken immediately.
func (s *Scheduler) Enqueue(u Utterance) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	outcome := s.enqueueLocked(u)
	s.metrics.RecordUtterance(context.Background(), outcome.String(), u.Priority.String())
	s.metrics.QueueDepth.Record(context.Background(), int64(s.queue.Len()))
	return outcome
}

// FlushAndSpeak is Enqueue with u's priority forced to [Urgent].
func (s *Scheduler) FlushAndSpeak(u Utterance) Outcome {
	u.Priority = Urgent
	return s.Enqueue(u)
}

func (s *Scheduler) enqueueLocked(u Utterance) Outcome {
	if s.closed {
		return OutcomeClosed
	}
	if !s.enabled {
		return OutcomeDisabled
	}
	u.Text = strings.TrimSpace(u.Text)
	if u.Text == "" {
		return OutcomeSuppressed
	}
	now := s.now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if s.duplicateLocked(u, now) {
		slog.Debug("scheduler: suppressed duplicate", "text", u.Text, "since_last", now.Sub(s.lastSpoken.At))
		return OutcomeSuppressed
	}

	if u.Priority >= Urgent {
		s.flushLocked(s.current != nil)
		if err := s.startLocked(u); err != nil {
			return OutcomeFailed
		}
		return OutcomeSpoken
	}

	if s.current == nil && s.queue.Len() == 0 {
		if err := s.startLocked(u); err != nil {
			return OutcomeFailed
		}
		return OutcomeSpoken
	}

	if u.Realtime {
		if i := s.queuedRealtimeLocked(); i >= 0 {
			slog.Debug("scheduler: replaced queued real-time cue", "old", s.queue[i].utt.Text, "new", u.Text)
			s.queue[i].utt = u
			heap.Fix(&s.queue, i)
			return OutcomeQueued
		}
	}

	s.seq++
	heap.Push(&s.queue, entry{utt: u, seq: s.seq})
	return OutcomeQueued
}

// queuedRealtimeLocked returns the heap index of the queued real-time cue,
// or -1.
func (s *Scheduler) queuedRealtimeLocked() int {
	for i, e := range s.queue {
		if e.utt.Realtime {
			return i
		}
	}
	return -1
}

func (s *Scheduler) duplicateLocked(u Utterance, now time.Time) bool {
	if s.lastSpoken.IsZero() || s.lastSpoken.Text != u.Text {
		return false
	}
	window := s.defaultWindow
	if u.Realtime {
		window = s.realtimeWindow
	}
	return now.Sub(s.lastSpoken.At) < window
}

// StopAll clears the queue, abandons current speech and asks the backend to
// stop. The scheduler is idle afterwards.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.flushLocked(true)
	s.metrics.QueueDepth.Record(context.Background(), 0)
}

// SetEnabled switches voice feedback on or off. Disabling stops all speech.
func (s *Scheduler) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enabled == enabled {
		return
	}
	s.enabled = enabled
	slog.Info("scheduler: voice feedback toggled", "enabled", enabled)
	if !enabled && !s.closed {
		s.flushLocked(true)
	}
}

// Enabled reports whether voice feedback is on.
func (s *Scheduler) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// SetRate sets the speaking rate for subsequent utterances, clamped to the
// backend range.
func (s *Scheduler) SetRate(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate = speech.ClampRate(v)
}

// SetVolume sets the volume for subsequent utterances, clamped to [0, 1].
func (s *Scheduler) SetVolume(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = speech.ClampVolume(v)
}

// SetPitch sets the pitch for subsequent utterances, clamped to the backend
// range.
func (s *Scheduler) SetPitch(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pitch = speech.ClampPitch(v)
}

// Voice returns the current rate, pitch and volume.
func (s *Scheduler) Voice() (rate, pitch, volume float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate, s.pitch, s.volume
}

// LastSpoken returns the most recently dispatched utterance.
func (s *Scheduler) LastSpoken() Spoken {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSpoken
}

// State reports whether an utterance is in flight.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return StateSpeaking
	}
	return StateIdle
}

// Pending returns the queued utterances in the order they will be spoken.
func (s *Scheduler) Pending() []Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make(utteranceHeap, len(s.queue))
	copy(cp, s.queue)
	out := make([]Utterance, 0, len(cp))
	for cp.Len() > 0 {
		out = append(out, heap.Pop(&cp).(entry).utt)
	}
	return out
}

// Backend returns the name of the backend in use.
func (s *Scheduler) Backend() string {
	return s.backend.Name()
}

// Close abandons current speech, drops the queue and waits for internal
// goroutines to exit. Close is idempotent.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.flushLocked(s.current != nil)
	s.baseCancel()
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// startLocked dispatches u to the backend and makes it current. Must be
// called with s.mu held and no utterance in flight.
func (s *Scheduler) startLocked(u Utterance) error {
	var (
		ticket  resilience.Ticket
		guarded bool
	)
	if s.breaker != nil {
		t, err := s.breaker.Allow()
		if err != nil {
			slog.Warn("scheduler: speech backend unavailable", "backend", s.backend.Name(), "err", err)
			s.metrics.RecordBackendRequest(context.Background(), s.backend.Name(), "rejected")
			return err
		}
		ticket, guarded = t, true
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(s.baseCtx)
	ctx, span := observe.StartSpan(ctx, "speech.speak")
	span.SetAttributes(
		attribute.String("speech.session_id", id),
		attribute.String("speech.backend", s.backend.Name()),
		attribute.String("speech.priority", u.Priority.String()),
	)

	queue := s.queueStrategy
	if u.Priority >= Urgent {
		queue = speech.QueueFlush
	}
	req := speech.Request{
		ID:       id,
		Text:     u.Text,
		Language: s.language,
		Rate:     s.rate,
		Pitch:    s.pitch,
		Volume:   s.volume,
		Category: s.category,
		Queue:    queue,
	}

	events, err := s.submitLocked(ctx, cancel, req)
	if err != nil {
		observe.Logger(ctx).Warn("scheduler: speech dispatch failed", "backend", s.backend.Name(), "text", u.Text, "err", err)
		s.metrics.RecordBackendRequest(ctx, s.backend.Name(), "error")
		s.metrics.RecordBackendError(ctx, s.backend.Name(), "dispatch")
		if guarded {
			s.breaker.Record(ticket, err)
		}
		observe.EndSpan(span, err)
		cancel()
		return err
	}

	now := s.now()
	d := &dispatch{
		id:      id,
		utt:     u,
		ctx:     ctx,
		cancel:  cancel,
		span:    span,
		ticket:  ticket,
		guarded: guarded,
		sentAt:  now,
	}
	s.current = d
	s.lastSpoken = Spoken{Text: u.Text, Accuracy: u.Accuracy, At: now}
	observe.Logger(ctx).Debug("scheduler: speaking", "text", u.Text, "priority", u.Priority.String(), "session", id)

	s.wg.Add(1)
	go s.watch(d, events)
	return nil
}

type submitResult struct {
	events <-chan speech.Event
	err    error
}

// submitLocked hands req to the backend, bounded by the submit timeout. On
// timeout the utterance context is cancelled and a late acceptance is
// drained in the background.
func (s *Scheduler) submitLocked(ctx context.Context, cancel context.CancelFunc, req speech.Request) (<-chan speech.Event, error) {
	done := make(chan submitResult, 1)
	go func() {
		events, err := s.backend.Speak(ctx, req)
		done <- submitResult{events: events, err: err}
	}()

	timer := time.NewTimer(s.submitTimeout)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.events, r.err
	case <-timer.C:
		cancel()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if r := <-done; r.err == nil {
				speech.Drain(r.events)
			}
		}()
		return nil, ErrSubmitTimeout
	}
}

// watch waits for d's terminal event, the watchdog, or d's cancellation.
func (s *Scheduler) watch(d *dispatch, events <-chan speech.Event) {
	defer s.wg.Done()

	var expired <-chan time.Time
	if s.watchdog > 0 {
		timer := time.NewTimer(s.watchdog)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				s.finish(d.id, errors.New("scheduler: backend closed event stream without a result"))
				return
			}
			switch ev.Kind {
			case speech.EventStarted:
				d.span.AddEvent("started")
				continue
			case speech.EventCompleted:
				s.finish(d.id, nil)
			case speech.EventFailed:
				err := ev.Err
				if err == nil {
					err = errors.New("scheduler: backend reported failure")
				}
				s.finish(d.id, err)
			}
			go speech.Drain(events)
			return
		case <-expired:
			s.expire(d.id)
			go speech.Drain(events)
			return
		case <-d.ctx.Done():
			go speech.Drain(events)
			return
		}
	}
}

// finish resolves session id with err and advances the queue. Signals for a
// session that is no longer current are discarded.
func (s *Scheduler) finish(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.current
	if d == nil || d.id != id {
		slog.Debug("scheduler: discarding stale completion", "session", id, "err", err)
		return
	}

	elapsed := s.now().Sub(d.sentAt)
	status := "ok"
	switch {
	case errors.Is(err, speech.ErrCancelled):
		status = "cancelled"
		observe.Logger(d.ctx).Debug("scheduler: utterance cancelled by platform", "text", d.utt.Text)
	case err != nil:
		status = "error"
		observe.Logger(d.ctx).Warn("scheduler: utterance failed", "text", d.utt.Text, "err", err)
		s.metrics.RecordBackendError(d.ctx, s.backend.Name(), "speak")
	default:
		s.metrics.SpeechDuration.Record(d.ctx, elapsed.Seconds())
	}
	s.metrics.RecordBackendRequest(d.ctx, s.backend.Name(), status)
	if d.guarded {
		if errors.Is(err, speech.ErrCancelled) {
			s.breaker.Record(d.ticket, nil)
		} else {
			s.breaker.Record(d.ticket, err)
		}
	}
	s.releaseLocked(d, err)
	s.advanceLocked()
}

// expire treats session id as failed after the watchdog fired.
func (s *Scheduler) expire(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.current
	if d == nil || d.id != id {
		return
	}
	observe.Logger(d.ctx).Warn("scheduler: backend did not resolve utterance in time",
		"text", d.utt.Text,
		"watchdog", s.watchdog,
		"session", id)
	s.metrics.RecordBackendRequest(d.ctx, s.backend.Name(), "timeout")
	s.metrics.RecordBackendError(d.ctx, s.backend.Name(), "timeout")
	if d.guarded {
		s.breaker.Record(d.ticket, ErrWatchdog)
	}
	s.releaseLocked(d, ErrWatchdog)
	s.stopBackendLocked()
	s.advanceLocked()
}

// releaseLocked clears current and cancels its context.
func (s *Scheduler) releaseLocked(d *dispatch, err error) {
	s.current = nil
	observe.EndSpan(d.span, err)
	d.cancel()
}

// advanceLocked starts the next queued utterance. Utterances the backend
// refuses are dropped so the queue never stalls.
func (s *Scheduler) advanceLocked() {
	for s.current == nil && !s.closed && s.queue.Len() > 0 {
		e := heap.Pop(&s.queue).(entry)
		_ = s.startLocked(e.utt)
	}
	s.metrics.QueueDepth.Record(context.Background(), int64(s.queue.Len()))
}

// flushLocked drops the queue and abandons the current utterance. When stop
// is set the backend is asked to silence itself.
func (s *Scheduler) flushLocked(stop bool) {
	for s.queue.Len() > 0 {
		heap.Pop(&s.queue)
	}
	if d := s.current; d != nil {
		s.metrics.RecordBackendRequest(d.ctx, s.backend.Name(), "flushed")
		if d.guarded {
			s.breaker.Record(d.ticket, nil)
		}
		s.releaseLocked(d, nil)
	}
	if stop {
		s.stopBackendLocked()
	}
}

// stopBackendLocked asks the backend to stop, bounded by the stop timeout.
// Unsupported stop degrades to ignoring the abandoned session's signals.
func (s *Scheduler) stopBackendLocked() {
	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()

	err := s.backend.Stop(ctx)
	switch {
	case err == nil:
	case errors.Is(err, speech.ErrNotSupported):
		slog.Debug("scheduler: backend cannot stop speech", "backend", s.backend.Name())
	default:
		slog.Warn("scheduler: backend stop failed", "backend", s.backend.Name(), "err", err)
	}
}
