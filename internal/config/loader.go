package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidQueueStrategies lists the accepted speech.native.queue_strategy values.
var ValidQueueStrategies = []string{"flush", "append"}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. Call it after
// [Config.ApplyDefaults]. It returns a joined error listing all validation
// failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Transport
	if cfg.Transport.URL == "" {
		errs = append(errs, errors.New("transport.url is required"))
	} else if err := validateWSURL(cfg.Transport.URL); err != nil {
		errs = append(errs, fmt.Errorf("transport.url: %w", err))
	}
	if cfg.Transport.DialTimeout < 0 {
		errs = append(errs, fmt.Errorf("transport.dial_timeout %s must not be negative", cfg.Transport.DialTimeout))
	}

	// Speech
	s := cfg.Speech
	if !s.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("speech.backend %q is invalid; valid values: auto, native, webspeech", s.Backend))
	}
	if s.Fallback != "" {
		switch {
		case s.Fallback == BackendAuto || !s.Fallback.IsValid():
			errs = append(errs, fmt.Errorf("speech.fallback %q is invalid; valid values: native, webspeech", s.Fallback))
		case s.Fallback == s.Backend:
			errs = append(errs, fmt.Errorf("speech.fallback %q duplicates speech.backend", s.Fallback))
		}
	}
	if s.Rate < 0.1 || s.Rate > 2.0 {
		errs = append(errs, fmt.Errorf("speech.rate %.2f is out of range [0.1, 2.0]", s.Rate))
	}
	if s.Pitch < 0 || s.Pitch > 2.0 {
		errs = append(errs, fmt.Errorf("speech.pitch %.2f is out of range [0, 2.0]", s.Pitch))
	}
	if s.Volume < 0 || s.Volume > 1.0 {
		errs = append(errs, fmt.Errorf("speech.volume %.2f is out of range [0, 1.0]", s.Volume))
	}
	if s.Watchdog < 0 || s.RealtimeWindow < 0 || s.DefaultWindow < 0 {
		errs = append(errs, errors.New("speech durations must not be negative"))
	}
	if s.FailureThreshold < 0 {
		errs = append(errs, fmt.Errorf("speech.failure_threshold %d must not be negative", s.FailureThreshold))
	}
	if !slices.Contains(ValidQueueStrategies, s.Native.QueueStrategy) {
		errs = append(errs, fmt.Errorf("speech.native.queue_strategy %q is invalid; valid values: flush, append", s.Native.QueueStrategy))
	}
	if uses(s, BackendNative) && s.Native.URL == "" {
		errs = append(errs, errors.New("speech.native.url is required when the native backend is selected"))
	}
	if uses(s, BackendWebSpeech) && s.WebSpeech.URL == "" {
		errs = append(errs, errors.New("speech.webspeech.url is required when the webspeech backend is selected"))
	}
	if s.WebSpeech.URL != "" {
		if err := validateWSURL(s.WebSpeech.URL); err != nil {
			errs = append(errs, fmt.Errorf("speech.webspeech.url: %w", err))
		}
	}
	if s.Backend == BackendAuto && s.Native.URL == "" && s.WebSpeech.URL == "" {
		errs = append(errs, errors.New("speech.backend auto needs speech.native.url or speech.webspeech.url"))
	}

	// Feedback
	f := cfg.Feedback
	if f.RefineBelow < 0 || f.RefineBelow > 100 {
		errs = append(errs, fmt.Errorf("feedback.refine_below %.1f is out of range [0, 100]", f.RefineBelow))
	}
	if f.OverrideBelow < 0 || f.OverrideBelow > 100 {
		errs = append(errs, fmt.Errorf("feedback.override_below %.1f is out of range [0, 100]", f.OverrideBelow))
	}
	if f.OverrideBelow > f.RefineBelow {
		slog.Warn("feedback.override_below is above feedback.refine_below; refinements will always win below it",
			"override_below", f.OverrideBelow,
			"refine_below", f.RefineBelow,
		)
	}
	if f.AccuracyDelta < 0 {
		errs = append(errs, fmt.Errorf("feedback.accuracy_delta %.1f must not be negative", f.AccuracyDelta))
	}
	if f.RepeatAfter < 0 {
		errs = append(errs, fmt.Errorf("feedback.repeat_after %s must not be negative", f.RepeatAfter))
	}

	return errors.Join(errs...)
}

// uses reports whether s explicitly selects backend b as primary or fallback.
func uses(s SpeechConfig, b BackendName) bool {
	return s.Backend == b || s.Fallback == b
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("scheme %q is not supported; use ws, wss, http or https", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("host is required")
	}
	return nil
}
