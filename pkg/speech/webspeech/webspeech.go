// Package webspeech provides a speech.Backend that drives the browser's Web
// Speech API through a small host page connected over WebSocket.
//
// The host page owns a SpeechSynthesis instance and speaks what it is told.
// Messages are JSON objects discriminated by "type":
//
//	→ {"type":"voices"}
//	← {"type":"voices","voices":[{"name":"Alex","lang":"en-US"}]}
//	→ {"type":"speak","id":"…","text":"…","lang":"en-US","rate":0.9,"pitch":1,"volume":0.8,"voice":"Alex"}
//	← {"type":"start","id":"…"}
//	← {"type":"end","id":"…"}
//	← {"type":"error","id":"…","error":"interrupted"}
//	→ {"type":"cancel"}
//
// A voice is chosen once, right after Dial: the first voice whose name
// contains a name from the preferred list, otherwise the first voice for the configured locale,
// otherwise the first voice at all.
package webspeech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/posecoach/pkg/speech"
)

// Compile-time interface assertion.
var _ speech.Backend = (*Backend)(nil)

// DefaultPreferredVoices is the ranked list of voice names tried first.
var DefaultPreferredVoices = []string{
	"Google US English",
	"Microsoft David",
	"Alex",
	"Samantha",
	"Karen",
}

const (
	defaultLocale       = "en"
	defaultProbeTimeout = 2 * time.Second
)

// Option is a functional option for configuring a Backend.
type Option func(*Backend)

// WithPreferredVoices replaces the ranked list of voice names.
func WithPreferredVoices(names []string) Option {
	return func(b *Backend) {
		b.preferred = names
	}
}

// WithLocale sets the language prefix used for the fallback voice match
// (e.g. "en" or "de"). Defaults to "en".
func WithLocale(locale string) Option {
	return func(b *Backend) {
		if locale != "" {
			b.locale = locale
		}
	}
}

// WithVoiceProbeTimeout bounds how long Dial waits for the voice list.
// Defaults to 2 s. A late voice list still selects a voice if none was
// chosen yet.
func WithVoiceProbeTimeout(d time.Duration) Option {
	return func(b *Backend) {
		b.probeTimeout = d
	}
}

// WithDialOptions passes options through to [websocket.Dial].
func WithDialOptions(o *websocket.DialOptions) Option {
	return func(b *Backend) {
		b.dialOpts = o
	}
}

// Backend implements speech.Backend over a Web Speech host page connection.
// It is safe for concurrent use.
type Backend struct {
	conn         *websocket.Conn
	preferred    []string
	locale       string
	probeTimeout time.Duration
	dialOpts     *websocket.DialOptions

	mu      sync.Mutex
	voice   *speech.Voice
	voices  []speech.Voice
	pending map[string]*utterance

	voicesReady chan struct{}
	voicesOnce  sync.Once

	cancel    context.CancelFunc
	readDone  chan struct{}
	closeOnce sync.Once
}

// Dial connects to the host page at url, requests the voice list and selects
// a voice. It returns once a voice was chosen or the probe timeout elapsed.
func Dial(ctx context.Context, url string, opts ...Option) (*Backend, error) {
	if url == "" {
		return nil, errors.New("webspeech: url must not be empty")
	}
	b := &Backend{
		preferred:    DefaultPreferredVoices,
		locale:       defaultLocale,
		probeTimeout: defaultProbeTimeout,
		pending:      make(map[string]*utterance),
		voicesReady:  make(chan struct{}),
		readDone:     make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}

	conn, _, err := websocket.Dial(ctx, url, b.dialOpts)
	if err != nil {
		return nil, fmt.Errorf("webspeech: dial %s: %w", url, err)
	}
	b.conn = conn

	readCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	go b.readLoop(readCtx)

	if err := b.send(ctx, message{Type: typeVoices}); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("webspeech: request voices: %w", err)
	}

	timer := time.NewTimer(b.probeTimeout)
	defer timer.Stop()
	select {
	case <-b.voicesReady:
	case <-timer.C:
		slog.Warn("webspeech: no voice list received, using platform default voice", "timeout", b.probeTimeout)
	case <-ctx.Done():
		_ = b.Close()
		return nil, fmt.Errorf("webspeech: waiting for voices: %w", ctx.Err())
	}
	return b, nil
}

// Name returns "webspeech".
func (b *Backend) Name() string { return "webspeech" }

// Voice returns the selected voice, if any.
func (b *Backend) Voice() (speech.Voice, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.voice == nil {
		return speech.Voice{}, false
	}
	return *b.voice, true
}

// Voices returns the voice list reported by the host page.
func (b *Backend) Voices() []speech.Voice {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]speech.Voice, len(b.voices))
	copy(out, b.voices)
	return out
}

// Speak submits req to the host page. The returned channel receives the
// page's start and end or error notifications for this utterance.
func (b *Backend) Speak(ctx context.Context, req speech.Request) (<-chan speech.Event, error) {
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	u := &utterance{
		events: make(chan speech.Event, 2),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.pending == nil {
		b.mu.Unlock()
		return nil, errors.New("webspeech: backend closed")
	}
	b.pending[id] = u
	var voiceName string
	if b.voice != nil {
		voiceName = b.voice.Name
	}
	b.mu.Unlock()

	msg := speakMessage{
		Type:   typeSpeak,
		ID:     id,
		Text:   req.Text,
		Lang:   req.Language,
		Rate:   speech.ClampRate(req.Rate),
		Pitch:  speech.ClampPitch(req.Pitch),
		Volume: speech.ClampVolume(req.Volume),
		Voice:  voiceName,
		Queue:  string(req.Queue),
	}
	if err := b.send(ctx, msg); err != nil {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
		return nil, fmt.Errorf("webspeech: submit: %w", err)
	}

	go func() {
		select {
		case <-ctx.Done():
			b.resolve(id, speech.Event{Kind: speech.EventFailed, Err: speech.ErrCancelled})
		case <-u.done:
		}
	}()
	return u.events, nil
}

// Stop cancels everything the page is speaking or has queued.
func (b *Backend) Stop(ctx context.Context) error {
	if err := b.send(ctx, message{Type: typeCancel}); err != nil {
		return fmt.Errorf("webspeech: cancel: %w", err)
	}
	return nil
}

// Close closes the connection and fails every pending utterance. Close is
// idempotent.
func (b *Backend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		err = b.conn.Close(websocket.StatusNormalClosure, "closing")
		b.cancel()
		<-b.readDone
	})
	return err
}

// SelectVoice picks a voice from voices: the first voice whose name contains
// a name from preferred, tried in rank order, otherwise the first voice whose language tag starts with locale,
// otherwise the first voice. ok is false only when voices is empty.
func SelectVoice(voices []speech.Voice, preferred []string, locale string) (v speech.Voice, ok bool) {
	if len(voices) == 0 {
		return speech.Voice{}, false
	}
	for _, name := range preferred {
		for _, v := range voices {
			if name != "" && strings.Contains(v.Name, name) {
				return v, true
			}
		}
	}
	locale = strings.ToLower(locale)
	for _, v := range voices {
		if strings.HasPrefix(strings.ToLower(v.Lang), locale) {
			return v, true
		}
	}
	return voices[0], true
}

// ---- wire protocol ----

const (
	typeVoices = "voices"
	typeSpeak  = "speak"
	typeCancel = "cancel"
	typeStart  = "start"
	typeEnd    = "end"
	typeError  = "error"
)

type message struct {
	Type   string         `json:"type"`
	ID     string         `json:"id,omitempty"`
	Voices []speech.Voice `json:"voices,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// speakMessage always carries rate, pitch and volume: zero is a valid
// setting, and an absent field makes the page fall back to its defaults.
type speakMessage struct {
	Type   string  `json:"type"`
	ID     string  `json:"id"`
	Text   string  `json:"text"`
	Lang   string  `json:"lang,omitempty"`
	Rate   float64 `json:"rate"`
	Pitch  float64 `json:"pitch"`
	Volume float64 `json:"volume"`
	Voice  string  `json:"voice,omitempty"`
	Queue  string  `json:"queue,omitempty"`
}

func (b *Backend) send(ctx context.Context, m any) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return b.conn.Write(ctx, websocket.MessageText, data)
}

func (b *Backend) readLoop(ctx context.Context) {
	defer close(b.readDone)
	for {
		_, data, err := b.conn.Read(ctx)
		if err != nil {
			b.failAll(fmt.Errorf("webspeech: connection lost: %w", err))
			return
		}
		var m message
		if err := json.Unmarshal(data, &m); err != nil {
			slog.Warn("webspeech: malformed message from host page", "err", err)
			continue
		}
		switch m.Type {
		case typeVoices:
			b.setVoices(m.Voices)
		case typeStart:
			b.resolve(m.ID, speech.Event{Kind: speech.EventStarted})
		case typeEnd:
			b.resolve(m.ID, speech.Event{Kind: speech.EventCompleted})
		case typeError:
			reason := m.Error
			if reason == "" {
				reason = "unknown error"
			}
			err := fmt.Errorf("webspeech: %s", reason)
			if reason == "interrupted" || reason == "canceled" {
				err = speech.ErrCancelled
			}
			b.resolve(m.ID, speech.Event{Kind: speech.EventFailed, Err: err})
		default:
			slog.Debug("webspeech: ignoring message", "type", m.Type)
		}
	}
}

func (b *Backend) setVoices(voices []speech.Voice) {
	b.mu.Lock()
	b.voices = voices
	if b.voice == nil {
		if v, ok := SelectVoice(voices, b.preferred, b.locale); ok {
			b.voice = &v
			slog.Info("webspeech: selected voice", "name", v.Name, "lang", v.Lang)
		}
	}
	b.mu.Unlock()
	b.voicesOnce.Do(func() { close(b.voicesReady) })
}

// resolve delivers ev to the pending utterance id. Unknown ids are ignored.
func (b *Backend) resolve(id string, ev speech.Event) {
	b.mu.Lock()
	u, ok := b.pending[id]
	if ok && ev.Kind.Terminal() {
		delete(b.pending, id)
	}
	b.mu.Unlock()
	if ok {
		u.deliver(ev)
	}
}

func (b *Backend) failAll(err error) {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()
	for _, u := range pending {
		u.deliver(speech.Event{Kind: speech.EventFailed, Err: err})
	}
}

// utterance is the per-request event sink.
type utterance struct {
	mu       sync.Mutex
	events   chan speech.Event
	started  bool
	finished bool
	done     chan struct{}
}

func (u *utterance) deliver(ev speech.Event) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.finished {
		return
	}
	if !ev.Kind.Terminal() {
		if !u.started {
			u.started = true
			u.events <- ev
		}
		return
	}
	u.finished = true
	u.events <- ev
	close(u.events)
	close(u.done)
}
