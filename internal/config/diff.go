package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	SpeechEnabledChanged bool
	NewSpeechEnabled     bool

	// VoiceChanged is true if rate, pitch or volume changed.
	VoiceChanged bool
	NewRate      float64
	NewPitch     float64
	NewVolume    float64

	// RestartRequired is true if a field outside the hot-reloadable set
	// changed.
	RestartRequired bool
}

// Empty reports whether d carries no changes.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.SpeechEnabledChanged && !d.VoiceChanged && !d.RestartRequired
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Speech toggle
	if old.Speech.IsEnabled() != new.Speech.IsEnabled() {
		d.SpeechEnabledChanged = true
		d.NewSpeechEnabled = new.Speech.IsEnabled()
	}

	// Voice parameters
	if old.Speech.Rate != new.Speech.Rate || old.Speech.Pitch != new.Speech.Pitch || old.Speech.Volume != new.Speech.Volume {
		d.VoiceChanged = true
		d.NewRate = new.Speech.Rate
		d.NewPitch = new.Speech.Pitch
		d.NewVolume = new.Speech.Volume
	}

	d.RestartRequired = restartRequired(old, new)
	return d
}

// restartRequired compares everything outside the hot-reloadable set.
func restartRequired(old, new *Config) bool {
	if old.Server.ListenAddr != new.Server.ListenAddr {
		return true
	}
	if old.Transport != new.Transport || old.Feedback != new.Feedback || old.Telemetry != new.Telemetry {
		return true
	}

	a, b := old.Speech, new.Speech
	if a.Backend != b.Backend || a.Fallback != b.Fallback ||
		a.Language != b.Language || a.Category != b.Category ||
		a.Watchdog != b.Watchdog || a.RealtimeWindow != b.RealtimeWindow ||
		a.DefaultWindow != b.DefaultWindow || a.FailureThreshold != b.FailureThreshold ||
		a.Native != b.Native {
		return true
	}
	return a.WebSpeech.URL != b.WebSpeech.URL ||
		a.WebSpeech.VoiceProbeTimeout != b.WebSpeech.VoiceProbeTimeout ||
		!slices.Equal(a.WebSpeech.PreferredVoices, b.WebSpeech.PreferredVoices)
}
