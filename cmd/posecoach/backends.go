package main

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/MrWong99/posecoach/internal/config"
	"github.com/MrWong99/posecoach/internal/resilience"
	"github.com/MrWong99/posecoach/pkg/speech"
	"github.com/MrWong99/posecoach/pkg/speech/native"
	"github.com/MrWong99/posecoach/pkg/speech/webspeech"
)

// registerBuiltinBackends wires the speech backends that ship with posecoach
// into reg.
func registerBuiltinBackends(reg *config.Registry) {
	reg.Register(config.BackendNative, func(_ context.Context, cfg config.SpeechConfig) (speech.Backend, error) {
		return native.New(cfg.Native.URL,
			native.WithTimeout(cfg.Native.Timeout),
			native.WithQueueStrategy(speech.QueueStrategy(cfg.Native.QueueStrategy)),
		)
	})
	reg.Register(config.BackendWebSpeech, func(ctx context.Context, cfg config.SpeechConfig) (speech.Backend, error) {
		opts := []webspeech.Option{
			webspeech.WithLocale(cfg.Language),
			webspeech.WithVoiceProbeTimeout(cfg.WebSpeech.VoiceProbeTimeout),
		}
		if len(cfg.WebSpeech.PreferredVoices) > 0 {
			opts = append(opts, webspeech.WithPreferredVoices(cfg.WebSpeech.PreferredVoices))
		}
		return webspeech.Dial(ctx, cfg.WebSpeech.URL, opts...)
	})
}

// buildBackend creates the configured backend, wrapped in a
// [resilience.SpeechFallback] when a fallback is configured. The returned
// close function releases every backend that holds a connection.
func buildBackend(ctx context.Context, cfg config.SpeechConfig, reg *config.Registry) (speech.Backend, func(), error) {
	var created []speech.Backend
	closeAll := func() {
		for _, b := range created {
			if c, ok := b.(io.Closer); ok {
				if err := c.Close(); err != nil {
					slog.Warn("speech backend close error", "backend", b.Name(), "err", err)
				}
			}
		}
	}

	primary, err := reg.Create(ctx, cfg.Backend, cfg)
	if err != nil {
		return nil, nil, err
	}
	created = append(created, primary)
	slog.Info("speech backend ready", "backend", primary.Name(), "requested", cfg.Backend)
	if v, ok := primary.(interface{ Voice() (speech.Voice, bool) }); ok {
		if voice, found := v.Voice(); found {
			slog.Info("speech voice selected", "voice", voice.Name, "language", voice.Lang)
		}
	}

	if cfg.Fallback == "" {
		return primary, closeAll, nil
	}

	secondary, err := reg.Create(ctx, cfg.Fallback, cfg)
	if err != nil {
		// The primary alone is still usable.
		if errors.Is(err, context.Canceled) {
			closeAll()
			return nil, nil, err
		}
		slog.Warn("speech fallback unavailable", "backend", cfg.Fallback, "err", err)
		return primary, closeAll, nil
	}
	created = append(created, secondary)

	fb := resilience.NewSpeechFallback(primary, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: cfg.FailureThreshold},
	})
	fb.AddFallback(secondary)
	slog.Info("speech fallback configured", "order", fb.Name())
	return fb, closeAll, nil
}
