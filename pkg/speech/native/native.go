// Package native provides a speech.Backend for embedded devices that ship an
// on-device speech daemon with a small REST API.
//
// The daemon is expected to expose:
//
//   - POST /speak with a JSON body; the response arrives when the phrase has
//     been spoken (or, on daemons that only queue, when it was accepted)
//   - POST /stop to silence current speech; daemons without a stop
//     primitive answer 404, 405 or 501
//   - GET /voices listing installed voices
//
// Typical usage:
//
//	b, err := native.New("http://127.0.0.1:5310",
//	    native.WithTimeout(10*time.Second),
//	)
//	events, err := b.Speak(ctx, speech.Request{Text: "Go deeper"})
package native

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/posecoach/pkg/speech"
)

// Compile-time interface assertion.
var _ speech.Backend = (*Backend)(nil)

const (
	defaultTimeout = 30 * time.Second
	speakEndpoint  = "/speak"
	stopEndpoint   = "/stop"
	voicesEndpoint = "/voices"

	// maxErrorBody bounds how much of an error response is kept for logs.
	maxErrorBody = 512
)

// Option is a functional option for configuring a native Backend.
type Option func(*Backend)

// WithTimeout sets the per-request HTTP timeout. It bounds how long a single
// phrase may take to be spoken. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client used for all requests.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) {
		if c != nil {
			b.httpClient = c
		}
	}
}

// WithQueueStrategy sets the strategy used when a request does not carry one.
// Defaults to [speech.QueueFlush].
func WithQueueStrategy(q speech.QueueStrategy) Option {
	return func(b *Backend) {
		if q.Valid() {
			b.queue = q
		}
	}
}

// Backend implements speech.Backend on top of the device's speech daemon.
// It is safe for concurrent use.
type Backend struct {
	serverURL  string
	httpClient *http.Client
	queue      speech.QueueStrategy
}

// New creates a Backend that talks to the daemon at serverURL. serverURL must
// be non-empty.
func New(serverURL string, opts ...Option) (*Backend, error) {
	if serverURL == "" {
		return nil, errors.New("native: serverURL must not be empty")
	}
	b := &Backend{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		queue:      speech.QueueFlush,
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// speakRequest is the JSON body sent to POST /speak.
type speakRequest struct {
	ID            string  `json:"id,omitempty"`
	Text          string  `json:"text"`
	Language      string  `json:"language,omitempty"`
	Rate          float64 `json:"rate"`
	Pitch         float64 `json:"pitch"`
	Volume        float64 `json:"volume"`
	Category      string  `json:"category,omitempty"`
	QueueStrategy string  `json:"queue_strategy"`
}

// Name returns "native".
func (b *Backend) Name() string { return "native" }

// Speak posts req to the daemon on a background goroutine. The returned
// channel emits [speech.EventStarted] once the request is on its way and a
// terminal event when the daemon answers.
func (b *Backend) Speak(ctx context.Context, req speech.Request) (<-chan speech.Event, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("native: text must not be empty")
	}
	q := req.Queue
	if !q.Valid() {
		q = b.queue
	}
	data, err := json.Marshal(speakRequest{
		ID:            req.ID,
		Text:          req.Text,
		Language:      req.Language,
		Rate:          speech.ClampRate(req.Rate),
		Pitch:         speech.ClampPitch(req.Pitch),
		Volume:        speech.ClampVolume(req.Volume),
		Category:      req.Category,
		QueueStrategy: string(q),
	})
	if err != nil {
		return nil, fmt.Errorf("native: marshal speak request: %w", err)
	}

	events := make(chan speech.Event, 2)
	go func() {
		defer close(events)
		events <- speech.Event{Kind: speech.EventStarted}
		if err := b.post(ctx, speakEndpoint, data); err != nil {
			if ctx.Err() != nil {
				err = speech.ErrCancelled
			}
			events <- speech.Event{Kind: speech.EventFailed, Err: err}
			return
		}
		events <- speech.Event{Kind: speech.EventCompleted}
	}()
	return events, nil
}

// Stop asks the daemon to silence current speech.
func (b *Backend) Stop(ctx context.Context) error {
	err := b.post(ctx, stopEndpoint, nil)
	var se *statusError
	if errors.As(err, &se) {
		switch se.code {
		case http.StatusNotFound, http.StatusMethodNotAllowed, http.StatusNotImplemented:
			return speech.ErrNotSupported
		}
	}
	return err
}

// Voices returns the voices installed on the device.
func (b *Backend) Voices(ctx context.Context) ([]speech.Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.serverURL+voicesEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("native: create voices request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("native: GET %s: %w", voicesEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newStatusError(http.MethodGet, voicesEndpoint, resp)
	}
	var voices []speech.Voice
	if err := json.NewDecoder(resp.Body).Decode(&voices); err != nil {
		return nil, fmt.Errorf("native: decode voices: %w", err)
	}
	return voices, nil
}

func (b *Backend) post(ctx context.Context, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.serverURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("native: create %s request: %w", endpoint, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("native: POST %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newStatusError(http.MethodPost, endpoint, resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// statusError reports a non-2xx answer from the daemon.
type statusError struct {
	method   string
	endpoint string
	code     int
	body     string
}

func newStatusError(method, endpoint string, resp *http.Response) *statusError {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &statusError{method: method, endpoint: endpoint, code: resp.StatusCode, body: strings.TrimSpace(string(msg))}
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("native: %s %s returned status %d", e.method, e.endpoint, e.code)
	}
	return fmt.Sprintf("native: %s %s returned status %d: %s", e.method, e.endpoint, e.code, e.body)
}
