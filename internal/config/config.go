// Package config provides the configuration schema, loader, backend registry
// and hot-reload watcher for the posecoach client.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to the matching [slog.Level]. Unknown values map to Info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// BackendName selects the platform speech backend.
type BackendName string

const (
	// BackendAuto picks a backend from the runtime platform. See [ResolveBackend].
	BackendAuto BackendName = "auto"

	// BackendNative uses the on-device speech daemon.
	BackendNative BackendName = "native"

	// BackendWebSpeech uses the Web Speech host page.
	BackendWebSpeech BackendName = "webspeech"
)

// IsValid reports whether b is a recognised backend name.
func (b BackendName) IsValid() bool {
	switch b {
	case BackendAuto, BackendNative, BackendWebSpeech:
		return true
	}
	return false
}

// Defaults applied by [Config.ApplyDefaults].
const (
	DefaultLogLevel         = LogInfo
	DefaultExerciseID       = "squat"
	DefaultUserID           = "anonymous"
	DefaultDialTimeout      = 20 * time.Second
	DefaultLanguage         = "en-US"
	DefaultRate             = 0.9
	DefaultPitch            = 1.0
	DefaultVolume           = 0.8
	DefaultCategory         = "playback"
	DefaultWatchdog         = 15 * time.Second
	DefaultRealtimeWindow   = 800 * time.Millisecond
	DefaultWindow           = 3 * time.Second
	DefaultFailureThreshold = 5
	DefaultNativeTimeout    = 30 * time.Second
	DefaultQueueStrategy    = "append"
	DefaultVoiceProbe       = 2 * time.Second
	DefaultRefineBelow      = 65
	DefaultOverrideBelow    = 50
	DefaultAccuracyDelta    = 10
	DefaultRepeatAfter      = 2 * time.Second
	DefaultServiceName      = "posecoach"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Transport TransportConfig `yaml:"transport"`
	Speech    SpeechConfig    `yaml:"speech"`
	Feedback  FeedbackConfig  `yaml:"feedback"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds process-level settings.
type ServerConfig struct {
	// LogLevel sets the minimum log level. Default: info.
	LogLevel LogLevel `yaml:"log_level"`

	// ListenAddr is the address of the health and metrics endpoint
	// (e.g. ":9090"). Empty disables it.
	ListenAddr string `yaml:"listen_addr"`
}

// TransportConfig configures the connection to the pose inference service.
type TransportConfig struct {
	// URL is the WebSocket URL of the inference service. Required.
	URL string `yaml:"url"`

	// Token is sent as a bearer token when non-empty.
	Token string `yaml:"token"`

	// UserID is attached to every frame. Default: anonymous.
	UserID string `yaml:"user_id"`

	// ExerciseID is the initial exercise. Default: squat.
	ExerciseID string `yaml:"exercise_id"`

	// DialTimeout bounds the connection handshake. Default: 20s.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// TestingMode asks the service for synthetic results after connecting.
	TestingMode bool `yaml:"testing_mode"`

	// Debug sets the debug flag on every frame.
	Debug bool `yaml:"debug"`
}

// SpeechConfig configures the speech scheduler and its backend.
type SpeechConfig struct {
	// Backend is auto, native or webspeech. Default: auto.
	Backend BackendName `yaml:"backend"`

	// Fallback optionally names a second backend used while the primary's
	// circuit breaker is open.
	Fallback BackendName `yaml:"fallback"`

	// Enabled toggles spoken feedback. Default: true.
	Enabled *bool `yaml:"enabled"`

	// Language is the BCP 47 tag for utterances. Default: en-US.
	Language string `yaml:"language"`

	// Rate, Pitch and Volume are the initial voice parameters. Zero selects
	// the default; mute with enabled: false.
	Rate   float64 `yaml:"rate"`
	Pitch  float64 `yaml:"pitch"`
	Volume float64 `yaml:"volume"`

	// Category is the audio session category hint. Default: playback.
	Category string `yaml:"category"`

	// Watchdog bounds how long an utterance may stay unresolved. Default: 15s.
	Watchdog time.Duration `yaml:"watchdog"`

	// RealtimeWindow is the de-duplication window for real-time cues.
	// Default: 800ms.
	RealtimeWindow time.Duration `yaml:"realtime_window"`

	// DefaultWindow is the de-duplication window for other cues. Default: 3s.
	DefaultWindow time.Duration `yaml:"default_window"`

	// FailureThreshold is the number of consecutive backend failures that
	// open the circuit breaker. Default: 5.
	FailureThreshold int `yaml:"failure_threshold"`

	Native    NativeConfig    `yaml:"native"`
	WebSpeech WebSpeechConfig `yaml:"webspeech"`
}

// IsEnabled reports whether speech is enabled, treating an unset value as true.
func (s SpeechConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// NativeConfig configures the on-device speech daemon backend.
type NativeConfig struct {
	// URL is the daemon base URL. Required when the native backend is used.
	URL string `yaml:"url"`

	// Timeout bounds a single request. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`

	// QueueStrategy is flush or append. Default: append.
	QueueStrategy string `yaml:"queue_strategy"`
}

// WebSpeechConfig configures the Web Speech host backend.
type WebSpeechConfig struct {
	// URL is the WebSocket URL of the host page bridge. Required when the
	// webspeech backend is used.
	URL string `yaml:"url"`

	// PreferredVoices overrides the ranked voice names.
	PreferredVoices []string `yaml:"preferred_voices"`

	// VoiceProbeTimeout bounds the voice list request at connect. Default: 2s.
	VoiceProbeTimeout time.Duration `yaml:"voice_probe_timeout"`
}

// FeedbackConfig holds the cue thresholds.
type FeedbackConfig struct {
	// RefineBelow is the accuracy below which an exercise refinement may
	// replace the band phrase. Default: 65.
	RefineBelow float64 `yaml:"refine_below"`

	// OverrideBelow is the accuracy below which a refinement always wins.
	// Default: 50.
	OverrideBelow float64 `yaml:"override_below"`

	// AccuracyDelta is the accuracy change that makes a repeated phrase
	// worth speaking again. Default: 10.
	AccuracyDelta float64 `yaml:"accuracy_delta"`

	// RepeatAfter is the interval after which a repeated phrase is spoken
	// again regardless of accuracy. Default: 2s.
	RepeatAfter time.Duration `yaml:"repeat_after"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	// ServiceName is reported in telemetry. Default: posecoach.
	ServiceName string `yaml:"service_name"`
}

// ApplyDefaults replaces zero values with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = DefaultLogLevel
	}

	t := &c.Transport
	if t.UserID == "" {
		t.UserID = DefaultUserID
	}
	if t.ExerciseID == "" {
		t.ExerciseID = DefaultExerciseID
	}
	if t.DialTimeout == 0 {
		t.DialTimeout = DefaultDialTimeout
	}

	s := &c.Speech
	if s.Backend == "" {
		s.Backend = BackendAuto
	}
	if s.Language == "" {
		s.Language = DefaultLanguage
	}
	if s.Rate == 0 {
		s.Rate = DefaultRate
	}
	if s.Pitch == 0 {
		s.Pitch = DefaultPitch
	}
	if s.Volume == 0 {
		s.Volume = DefaultVolume
	}
	if s.Category == "" {
		s.Category = DefaultCategory
	}
	if s.Watchdog == 0 {
		s.Watchdog = DefaultWatchdog
	}
	if s.RealtimeWindow == 0 {
		s.RealtimeWindow = DefaultRealtimeWindow
	}
	if s.DefaultWindow == 0 {
		s.DefaultWindow = DefaultWindow
	}
	if s.FailureThreshold == 0 {
		s.FailureThreshold = DefaultFailureThreshold
	}
	if s.Native.Timeout == 0 {
		s.Native.Timeout = DefaultNativeTimeout
	}
	if s.Native.QueueStrategy == "" {
		s.Native.QueueStrategy = DefaultQueueStrategy
	}
	if s.WebSpeech.VoiceProbeTimeout == 0 {
		s.WebSpeech.VoiceProbeTimeout = DefaultVoiceProbe
	}

	f := &c.Feedback
	if f.RefineBelow == 0 {
		f.RefineBelow = DefaultRefineBelow
	}
	if f.OverrideBelow == 0 {
		f.OverrideBelow = DefaultOverrideBelow
	}
	if f.AccuracyDelta == 0 {
		f.AccuracyDelta = DefaultAccuracyDelta
	}
	if f.RepeatAfter == 0 {
		f.RepeatAfter = DefaultRepeatAfter
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}
}
