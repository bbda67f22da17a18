package config_test

import (
	"testing"

	"github.com/MrWong99/posecoach/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	d := config.Diff(cfg, cfg)
	if !d.Empty() {
		t.Errorf("expected an empty diff for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := validConfig()
	new := validConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if d.RestartRequired {
		t.Error("log level change should not require a restart")
	}
}

func TestDiff_SpeechEnabledChanged(t *testing.T) {
	t.Parallel()
	old := validConfig()
	new := validConfig()
	off := false
	new.Speech.Enabled = &off

	d := config.Diff(old, new)
	if !d.SpeechEnabledChanged || d.NewSpeechEnabled {
		t.Errorf("expected speech disabled change, got %+v", d)
	}

	// An explicit true equals the unset default.
	on := true
	old.Speech.Enabled = &on
	if d := config.Diff(old, validConfig()); d.SpeechEnabledChanged {
		t.Error("explicit true and unset should compare equal")
	}
}

func TestDiff_VoiceChanged(t *testing.T) {
	t.Parallel()
	old := validConfig()
	new := validConfig()
	new.Speech.Rate = 1.5
	new.Speech.Volume = 0.3

	d := config.Diff(old, new)
	if !d.VoiceChanged {
		t.Fatal("expected VoiceChanged=true")
	}
	if d.NewRate != 1.5 || d.NewVolume != 0.3 || d.NewPitch != old.Speech.Pitch {
		t.Errorf("new voice: rate=%v pitch=%v volume=%v", d.NewRate, d.NewPitch, d.NewVolume)
	}
	if d.RestartRequired {
		t.Error("voice change should not require a restart")
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"transport url", func(c *config.Config) { c.Transport.URL = "ws://other:5000/ws" }},
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = ":9999" }},
		{"backend", func(c *config.Config) { c.Speech.Backend = config.BackendNative }},
		{"language", func(c *config.Config) { c.Speech.Language = "es-ES" }},
		{"watchdog", func(c *config.Config) { c.Speech.Watchdog *= 2 }},
		{"native", func(c *config.Config) { c.Speech.Native.QueueStrategy = "flush" }},
		{"preferred voices", func(c *config.Config) { c.Speech.WebSpeech.PreferredVoices = []string{"Alex"} }},
		{"feedback", func(c *config.Config) { c.Feedback.RefineBelow = 80 }},
		{"telemetry", func(c *config.Config) { c.Telemetry.ServiceName = "other" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old := validConfig()
			new := validConfig()
			tt.mutate(new)
			d := config.Diff(old, new)
			if !d.RestartRequired {
				t.Errorf("expected RestartRequired for %s", tt.name)
			}
			if d.Empty() {
				t.Error("diff should not be empty")
			}
		})
	}
}
