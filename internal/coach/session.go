// Package coach wires one live coaching session together: inbound events from
// the transport are routed to the normalizer, classifications are composed
// into cues, filtered by the significance gate and handed to the speech
// scheduler. Landmark frames are forwarded to registered observers.
package coach

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/posecoach/internal/feedback"
	"github.com/MrWong99/posecoach/internal/normalize"
	"github.com/MrWong99/posecoach/internal/observe"
	"github.com/MrWong99/posecoach/internal/scheduler"
	"github.com/MrWong99/posecoach/internal/transport"
	"github.com/MrWong99/posecoach/pkg/pose"
)

// Transport is the subset of [transport.Client] a Session drives.
type Transport interface {
	OnMessage(fn func(channel string, payload []byte))
	OnConnection(fn func(connected bool, reason string))
	Connect(ctx context.Context) error
	Run(ctx context.Context) error
	Disconnect()
	Connected() bool
	SendFrame(ctx context.Context, f transport.Frame) error
	SetTestingMode(ctx context.Context, enabled bool) error
}

// Compile-time interface assertion.
var _ Transport = (*transport.Client)(nil)

// Option configures a [Session].
type Option func(*Session)

// WithFeedbackConfig sets the composer and gate thresholds.
func WithFeedbackConfig(cfg feedback.Config) Option {
	return func(s *Session) {
		s.fbCfg = cfg
	}
}

// WithExercise sets the exercise id sent with every frame. Defaults to
// "squat".
func WithExercise(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.exercise = id
		}
	}
}

// WithUserID sets the user id sent with every frame.
func WithUserID(id string) Option {
	return func(s *Session) {
		s.userID = id
	}
}

// WithDebug sets the debug flag sent with every frame.
func WithDebug(debug bool) Option {
	return func(s *Session) {
		s.debug = debug
	}
}

// WithRand sets the source for motivational phrase selection.
func WithRand(rng *rand.Rand) Option {
	return func(s *Session) {
		s.rng = rng
	}
}

// WithClock sets the time source for the significance gate.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// WithMetrics replaces the default metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) {
		if m != nil {
			s.metrics = m
		}
	}
}

// Session is one coaching session. It is safe for concurrent use.
type Session struct {
	transport  Transport
	sched      *scheduler.Scheduler
	router     *Router
	normalizer *normalize.Normalizer
	composer   *feedback.Composer
	gate       *feedback.Gate
	metrics    *observe.Metrics
	fbCfg      feedback.Config
	rng        *rand.Rand
	now        func() time.Time

	mu           sync.Mutex
	exercise     string
	userID       string
	debug        bool
	lastClass    pose.PoseClassification
	haveClass    bool
	frames       uint64
	analysisErrs uint64
}

// NewSession wires t and sched together. The scheduler is borrowed; the
// caller closes it.
func NewSession(t Transport, sched *scheduler.Scheduler, opts ...Option) *Session {
	s := &Session{
		transport: t,
		sched:     sched,
		router:    NewRouter(),
		exercise:  transport.DefaultExerciseID,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.normalizer = normalize.New(normalize.WithMetrics(s.metrics))
	s.composer = feedback.NewComposer(s.fbCfg)
	s.gate = feedback.NewGate(s.fbCfg, s.now)

	s.normalizer.Subscribe(s.router)
	s.normalizer.OnClassification(s.onClassification)
	s.normalizer.OnFrame(s.onFrame)
	s.normalizer.OnAnalysisError(s.onAnalysisError)
	t.OnMessage(func(channel string, payload []byte) { s.router.Dispatch(channel, payload) })
	t.OnConnection(s.onConnection)
	return s
}

// OnFrame registers a landmark observer, e.g. an overlay renderer.
func (s *Session) OnFrame(fn func(pose.PoseFrame)) {
	s.normalizer.OnFrame(fn)
}

// OnClassification registers an additional classification observer.
func (s *Session) OnClassification(fn func(pose.PoseClassification)) {
	s.normalizer.OnClassification(fn)
}

// OnAnalysisError registers an observer for inference errors.
func (s *Session) OnAnalysisError(fn func(normalize.AnalysisError)) {
	s.normalizer.OnAnalysisError(fn)
}

// Router returns the session's event router.
func (s *Session) Router() *Router { return s.router }

// Scheduler returns the speech scheduler.
func (s *Session) Scheduler() *scheduler.Scheduler { return s.sched }

// Run connects if needed and reads events until the connection closes or
// ctx is cancelled. When frames is non-nil, frames from it are submitted
// concurrently until it is closed.
func (s *Session) Run(ctx context.Context, frames <-chan transport.Frame) error {
	if !s.transport.Connected() {
		if err := s.transport.Connect(ctx); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return s.transport.Run(gctx)
	})
	if frames != nil {
		g.Go(func() error {
			return s.pump(gctx, frames)
		})
	}
	return g.Wait()
}

// pump submits frames until frames is closed or ctx is done. Send failures
// are logged and skipped.
func (s *Session) pump(ctx context.Context, frames <-chan transport.Frame) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			if err := s.SendFrame(ctx, f); err != nil && !errors.Is(err, context.Canceled) {
				slog.Debug("coach: frame not sent", "err", err)
			}
		}
	}
}

// SendFrame submits f, filling exercise, user and debug from the session.
func (s *Session) SendFrame(ctx context.Context, f transport.Frame) error {
	s.mu.Lock()
	if f.ExerciseID == "" {
		f.ExerciseID = s.exercise
	}
	if f.UserID == "" {
		f.UserID = s.userID
	}
	f.Debug = f.Debug || s.debug
	s.mu.Unlock()
	return s.transport.SendFrame(ctx, f)
}

// SetExercise changes the exercise id for subsequent frames.
func (s *Session) SetExercise(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" {
		s.exercise = id
	}
}

// Exercise returns the current exercise id.
func (s *Session) Exercise() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exercise
}

// SetTestingMode asks the service to send synthetic results.
func (s *Session) SetTestingMode(ctx context.Context, enabled bool) error {
	return s.transport.SetTestingMode(ctx, enabled)
}

// Countdown speaks the countdown cue for n. It is a no-op for counts
// outside 0 to 5.
func (s *Session) Countdown(n int) scheduler.Outcome {
	u, ok := feedback.Countdown(n)
	if !ok {
		return scheduler.OutcomeSuppressed
	}
	return s.sched.FlushAndSpeak(u)
}

// Motivate speaks an encouragement for the current exercise.
func (s *Session) Motivate() scheduler.Outcome {
	s.mu.Lock()
	u := s.composer.Motivational(s.exercise, s.rng)
	s.mu.Unlock()
	return s.sched.Enqueue(u)
}

// TestVoice speaks the voice check phrase.
func (s *Session) TestVoice() scheduler.Outcome {
	return s.sched.Enqueue(feedback.TestPhrase())
}

// LastClassification returns the most recent classification.
func (s *Session) LastClassification() (pose.PoseClassification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastClass, s.haveClass
}

// Stats returns the number of frames and analysis errors observed.
func (s *Session) Stats() (frames, analysisErrors uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames, s.analysisErrs
}

// Close disconnects the transport and silences speech.
func (s *Session) Close() {
	s.transport.Disconnect()
	s.sched.StopAll()
}

func (s *Session) onClassification(c pose.PoseClassification) {
	s.mu.Lock()
	s.lastClass, s.haveClass = c, true
	s.mu.Unlock()

	u := s.composer.Compose(c)
	if !s.gate.Allow(u, s.sched.LastSpoken()) {
		slog.Debug("coach: cue not significant", "text", u.Text, "accuracy", u.Accuracy)
		return
	}
	outcome := s.sched.Enqueue(u)
	slog.Debug("coach: cue", "exercise", c.ExerciseName, "accuracy", c.Accuracy, "text", u.Text, "outcome", outcome.String())
}

func (s *Session) onFrame(pose.PoseFrame) {
	s.mu.Lock()
	s.frames++
	s.mu.Unlock()
}

func (s *Session) onAnalysisError(normalize.AnalysisError) {
	s.mu.Lock()
	s.analysisErrs++
	s.mu.Unlock()
}

func (s *Session) onConnection(connected bool, reason string) {
	if connected {
		s.metrics.ActiveSessions.Add(context.Background(), 1)
		slog.Info("coach: session connected")
		return
	}
	s.metrics.ActiveSessions.Add(context.Background(), -1)
	slog.Info("coach: session disconnected", "reason", reason)
}
