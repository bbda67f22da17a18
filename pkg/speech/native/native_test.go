package native

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/posecoach/pkg/speech"
)

// mustNew is a test helper that calls New and fails the test on error.
func mustNew(t *testing.T, serverURL string, opts ...Option) *Backend {
	t.Helper()
	b, err := New(serverURL, opts...)
	if err != nil {
		t.Fatalf("New(%q): unexpected error: %v", serverURL, err)
	}
	return b
}

// collect reads events until the channel closes or the deadline passes.
func collect(t *testing.T, ch <-chan speech.Event) []speech.Event {
	t.Helper()
	var out []speech.Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatal("timed out waiting for event channel to close")
			return out
		}
	}
}

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		b := mustNew(t, "http://127.0.0.1:5310/")
		if b.serverURL != "http://127.0.0.1:5310" {
			t.Errorf("serverURL = %q, want trailing slash stripped", b.serverURL)
		}
		if b.httpClient.Timeout != defaultTimeout {
			t.Errorf("timeout = %v, want %v", b.httpClient.Timeout, defaultTimeout)
		}
		if b.queue != speech.QueueFlush {
			t.Errorf("queue = %q, want flush", b.queue)
		}
	})

	t.Run("empty URL returns error", func(t *testing.T) {
		if _, err := New(""); err == nil {
			t.Fatal("expected error for empty URL, got nil")
		}
	})

	t.Run("with options", func(t *testing.T) {
		b := mustNew(t, "http://x", WithTimeout(2*time.Second), WithQueueStrategy(speech.QueueAppend))
		if b.httpClient.Timeout != 2*time.Second {
			t.Errorf("timeout = %v, want 2s", b.httpClient.Timeout)
		}
		if b.queue != speech.QueueAppend {
			t.Errorf("queue = %q, want append", b.queue)
		}
	})
}

func TestSpeak_PostsRequest(t *testing.T) {
	var (
		mu  sync.Mutex
		got speakRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != speakEndpoint || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	b := mustNew(t, srv.URL, WithQueueStrategy(speech.QueueAppend))
	ch, err := b.Speak(context.Background(), speech.Request{
		Text:     "Go deeper",
		Language: "en-US",
		Rate:     9,
		Pitch:    1,
		Volume:   0.8,
		Category: "playback",
	})
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	events := collect(t, ch)
	if len(events) != 2 || events[0].Kind != speech.EventStarted || events[1].Kind != speech.EventCompleted {
		t.Fatalf("events = %+v, want started then completed", events)
	}

	mu.Lock()
	defer mu.Unlock()
	if got.Text != "Go deeper" || got.Language != "en-US" || got.Category != "playback" {
		t.Errorf("request = %+v", got)
	}
	if got.Rate != speech.MaxRate {
		t.Errorf("rate = %v, want clamped to %v", got.Rate, speech.MaxRate)
	}
	if got.QueueStrategy != string(speech.QueueAppend) {
		t.Errorf("queue_strategy = %q, want backend default append", got.QueueStrategy)
	}
}

func TestSpeak_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "engine busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ch, err := mustNew(t, srv.URL).Speak(context.Background(), speech.Request{Text: "hi"})
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	events := collect(t, ch)
	last := events[len(events)-1]
	if last.Kind != speech.EventFailed {
		t.Fatalf("last event = %v, want failed", last.Kind)
	}
	if !strings.Contains(last.Err.Error(), "503") || !strings.Contains(last.Err.Error(), "engine busy") {
		t.Errorf("error %q should carry status and body", last.Err)
	}
}

func TestSpeak_Cancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := mustNew(t, srv.URL).Speak(ctx, speech.Request{Text: "hold it"})
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	cancel()
	events := collect(t, ch)
	last := events[len(events)-1]
	if last.Kind != speech.EventFailed || !errors.Is(last.Err, speech.ErrCancelled) {
		t.Fatalf("last event = %+v, want failed with ErrCancelled", last)
	}
}

func TestSpeak_EmptyText(t *testing.T) {
	if _, err := mustNew(t, "http://x").Speak(context.Background(), speech.Request{Text: "  "}); err == nil {
		t.Fatal("expected error for empty text")
	}
}

func TestStop(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
		anyErr  bool
	}{
		{"ok", http.StatusOK, nil, false},
		{"not found", http.StatusNotFound, speech.ErrNotSupported, true},
		{"not implemented", http.StatusNotImplemented, speech.ErrNotSupported, true},
		{"server error", http.StatusInternalServerError, nil, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != stopEndpoint {
					t.Errorf("path = %q, want %q", r.URL.Path, stopEndpoint)
				}
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			err := mustNew(t, srv.URL).Stop(context.Background())
			if (err != nil) != tc.anyErr {
				t.Fatalf("Stop err = %v, want error=%v", err, tc.anyErr)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("Stop err = %v, want %v", err, tc.wantErr)
			}
			if tc.name == "server error" && errors.Is(err, speech.ErrNotSupported) {
				t.Error("500 must not be reported as unsupported")
			}
		})
	}
}

func TestVoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != voicesEndpoint {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"name":"en-us-x-sfg","lang":"en-US","default":true},{"name":"de-de","lang":"de-DE"}]`))
	}))
	defer srv.Close()

	voices, err := mustNew(t, srv.URL).Voices(context.Background())
	if err != nil {
		t.Fatalf("Voices: %v", err)
	}
	if len(voices) != 2 || voices[0].Lang != "en-US" || !voices[0].Default {
		t.Errorf("voices = %+v", voices)
	}
}
