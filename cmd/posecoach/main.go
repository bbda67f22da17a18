// Command posecoach connects a camera frame source to the pose inference
// service and speaks form feedback for the classifications it returns.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/posecoach/internal/coach"
	"github.com/MrWong99/posecoach/internal/config"
	"github.com/MrWong99/posecoach/internal/feedback"
	"github.com/MrWong99/posecoach/internal/health"
	"github.com/MrWong99/posecoach/internal/observe"
	"github.com/MrWong99/posecoach/internal/resilience"
	"github.com/MrWong99/posecoach/internal/scheduler"
	"github.com/MrWong99/posecoach/internal/transport"
	"github.com/MrWong99/posecoach/pkg/speech"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	framesDir := flag.String("frames", "", "replay image frames from this directory instead of waiting for a capture source")
	fps := flag.Float64("fps", 10, "frame rate for -frames")
	loop := flag.Bool("loop", false, "replay -frames until interrupted")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "posecoach: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "posecoach: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("posecoach starting",
		"version", version,
		"config", *configPath,
		"transport_url", cfg.Transport.URL,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// ── Speech backend ────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	backend, closeBackend, err := buildBackend(ctx, cfg.Speech, reg)
	if err != nil {
		slog.Error("failed to build speech backend", "err", err)
		return 1
	}

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:        "speech",
		MaxFailures: cfg.Speech.FailureThreshold,
	})
	sched := scheduler.New(backend,
		scheduler.WithWindows(cfg.Speech.RealtimeWindow, cfg.Speech.DefaultWindow),
		scheduler.WithWatchdog(cfg.Speech.Watchdog),
		scheduler.WithVoice(cfg.Speech.Rate, cfg.Speech.Pitch, cfg.Speech.Volume),
		scheduler.WithLanguage(cfg.Speech.Language),
		scheduler.WithCategory(cfg.Speech.Category),
		scheduler.WithQueueStrategy(speech.QueueStrategy(cfg.Speech.Native.QueueStrategy)),
		scheduler.WithEnabled(cfg.Speech.IsEnabled()),
		scheduler.WithBreaker(breaker),
		scheduler.WithMetrics(metrics),
	)

	// ── Transport and session ─────────────────────────────────────────────────
	client, err := transport.New(cfg.Transport.URL,
		transport.WithToken(cfg.Transport.Token),
		transport.WithDialTimeout(cfg.Transport.DialTimeout),
		transport.WithMetrics(metrics),
	)
	if err != nil {
		slog.Error("failed to create transport", "err", err)
		return 1
	}

	fbCfg := feedback.DefaultConfig()
	fbCfg.RefineBelow = cfg.Feedback.RefineBelow
	fbCfg.OverrideBelow = cfg.Feedback.OverrideBelow
	fbCfg.AccuracyDelta = cfg.Feedback.AccuracyDelta
	fbCfg.RepeatAfter = cfg.Feedback.RepeatAfter

	session := coach.NewSession(client, sched,
		coach.WithFeedbackConfig(fbCfg),
		coach.WithExercise(cfg.Transport.ExerciseID),
		coach.WithUserID(cfg.Transport.UserID),
		coach.WithDebug(cfg.Transport.Debug),
		coach.WithMetrics(metrics),
	)

	if err := client.Connect(ctx); err != nil {
		slog.Error("failed to connect to inference service", "url", cfg.Transport.URL, "err", err)
		_ = sched.Close()
		closeBackend()
		return 1
	}
	if cfg.Transport.TestingMode {
		if err := session.SetTestingMode(ctx, true); err != nil {
			slog.Warn("failed to enable testing mode", "err", err)
		}
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyDiff(config.Diff(old, new), &level, sched)
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	var frames <-chan transport.Frame
	if *framesDir != "" {
		frames, err = replayFrames(ctx, *framesDir, *fps, *loop)
		if err != nil {
			slog.Error("failed to open frame directory", "dir", *framesDir, "err", err)
			session.Close()
			_ = sched.Close()
			closeBackend()
			return 1
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := session.Run(gctx, frames)
		// The session ending is the end of the process either way.
		stop()
		return err
	})
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}

	var srv *http.Server
	if cfg.Server.ListenAddr != "" {
		srv = newHTTPServer(cfg.Server.ListenAddr, metrics,
			health.Connected("transport", client.Connected),
			health.Breaker("speech", breaker),
		)
		g.Go(func() error {
			slog.Info("health endpoint listening", "addr", cfg.Server.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("health server: %w", err)
			}
			return nil
		})
	}

	slog.Info("session ready; press Ctrl+C to stop",
		"client_id", client.ID(),
		"speech_backend", sched.Backend(),
		"exercise", session.Exercise(),
	)

	<-gctx.Done()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	slog.Info("shutting down")
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("health server shutdown error", "err", err)
		}
	}
	if watcher != nil {
		watcher.Stop()
	}
	session.Close()

	exit := 0
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		exit = 1
	}
	if err := sched.Close(); err != nil {
		slog.Warn("scheduler close error", "err", err)
	}
	closeBackend()
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}

	sent, errs := session.Stats()
	slog.Info("goodbye", "frames_received", sent, "analysis_errors", errs, "frames_sent", client.FramesSent())
	return exit
}

// newHTTPServer serves the health, readiness and metrics endpoints.
func newHTTPServer(addr string, metrics *observe.Metrics, checkers ...health.Checker) *http.Server {
	mux := http.NewServeMux()
	health.New(checkers).Register(mux)
	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// applyDiff applies the hot-reloadable part of a config change.
func applyDiff(d config.ConfigDiff, level *slog.LevelVar, sched *scheduler.Scheduler) {
	if d.LogLevelChanged {
		level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SpeechEnabledChanged {
		sched.SetEnabled(d.NewSpeechEnabled)
		slog.Info("speech toggled", "enabled", d.NewSpeechEnabled)
	}
	if d.VoiceChanged {
		sched.SetRate(d.NewRate)
		sched.SetPitch(d.NewPitch)
		sched.SetVolume(d.NewVolume)
		slog.Info("voice changed", "rate", d.NewRate, "pitch", d.NewPitch, "volume", d.NewVolume)
	}
	if d.RestartRequired {
		slog.Warn("config changed in fields that need a restart to take effect")
	}
}
