// Package normalize turns loosely typed analysis messages from the inference
// service into canonical [pose.PoseFrame] and [pose.PoseClassification]
// records.
//
// Each message goes through a tagged-union decode step ([Decode]) followed
// by a fixed dispatch: known channels are decoded field by field, the
// analysis-error channel is forwarded as an [AnalysisError], and every other
// channel falls through to a single wildcard branch that probes for
// landmark-bearing properties. Malformed input never surfaces as an error to
// the caller; it is logged and dropped.
//
// A [Normalizer] holds no state across messages other than its observer
// lists. Observers run synchronously on the goroutine that delivered the
// message.
package normalize

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/posecoach/internal/observe"
	"github.com/MrWong99/posecoach/pkg/pose"
)

// Router delivers raw messages by channel name. Handle registers a handler
// for one channel; HandleAny registers the handler for every channel without
// a dedicated one.
type Router interface {
	Handle(channel string, fn func(payload []byte))
	HandleAny(fn func(channel string, payload []byte))
}

// AnalysisError is an inference failure reported by the service.
type AnalysisError struct {
	Message string
	Raw     json.RawMessage
}

// Option configures a [Normalizer].
type Option func(*Normalizer)

// WithMetrics replaces the default metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(n *Normalizer) {
		if m != nil {
			n.metrics = m
		}
	}
}

// Normalizer decodes messages and notifies observers.
type Normalizer struct {
	metrics *observe.Metrics

	mu             sync.RWMutex
	frameObs       []func(pose.PoseFrame)
	classObs       []func(pose.PoseClassification)
	analysisErrObs []func(AnalysisError)
}

// New creates a Normalizer with no observers.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{}
	for _, o := range opts {
		o(n)
	}
	if n.metrics == nil {
		n.metrics = observe.DefaultMetrics()
	}
	return n
}

// OnFrame registers fn for every non-empty frame.
func (n *Normalizer) OnFrame(fn func(pose.PoseFrame)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.frameObs = append(n.frameObs, fn)
}

// OnClassification registers fn for every message that names an exercise.
func (n *Normalizer) OnClassification(fn func(pose.PoseClassification)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.classObs = append(n.classObs, fn)
}

// OnAnalysisError registers fn for messages on [AnalysisErrorChannel].
func (n *Normalizer) OnAnalysisError(fn func(AnalysisError)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.analysisErrObs = append(n.analysisErrObs, fn)
}

// Subscribe registers a handler for every known channel and the analysis
// error channel on r, plus one wildcard handler for everything else.
func (n *Normalizer) Subscribe(r Router) {
	for _, ch := range KnownChannels {
		r.Handle(ch, func(payload []byte) { n.handleMessage(ch, payload) })
	}
	r.Handle(AnalysisErrorChannel, n.handleAnalysisError)
	r.HandleAny(n.handleWildcard)
}

// Handle processes one message without a router, applying the same dispatch
// Subscribe sets up.
func (n *Normalizer) Handle(channel string, payload []byte) {
	switch {
	case IsKnownChannel(channel):
		n.handleMessage(channel, payload)
	case channel == AnalysisErrorChannel:
		n.handleAnalysisError(payload)
	default:
		n.handleWildcard(channel, payload)
	}
}

func (n *Normalizer) handleWildcard(channel string, payload []byte) {
	if IsIgnoredChannel(channel) || IsKnownChannel(channel) {
		return
	}
	n.handleMessage(channel, payload)
}

func (n *Normalizer) handleMessage(channel string, payload []byte) {
	kind := "known"
	if !IsKnownChannel(channel) {
		kind = "wildcard"
	}
	ctx, span := observe.StartSpan(context.Background(), "normalize.message")
	span.SetAttributes(
		attribute.String("message.channel", channel),
		attribute.String("message.kind", kind),
	)
	defer span.End()

	d, err := Decode(channel, payload)
	if err != nil {
		// Wildcard traffic is arbitrary; only known channels are worth a warning.
		if kind == "known" {
			slog.Warn("normalize: dropping malformed message", "channel", channel, "err", err)
		} else {
			slog.Debug("normalize: ignoring non-object message", "channel", channel, "err", err)
		}
		n.metrics.RecordMessage(ctx, kind, "malformed")
		return
	}
	if d.LandmarkErr != nil {
		slog.Warn("normalize: landmarks treated as absent", "channel", channel, "err", d.LandmarkErr)
	}
	if d.TestData {
		slog.Info("normalize: received test data, not real pose data", "channel", channel)
	}
	span.SetAttributes(attribute.String("message.outcome", d.Kind.String()))
	n.metrics.RecordMessage(ctx, kind, d.Kind.String())

	n.dispatch(ctx, channel, d)
}

func (n *Normalizer) dispatch(ctx context.Context, channel string, d Decoded) {
	if d.Kind.Has(KindFrame) {
		valid := d.Frame.NonZeroCount()
		n.metrics.LandmarkCount.Record(ctx, int64(valid))
		if valid < pose.MinUsableLandmarks {
			slog.Debug("normalize: few valid landmarks, frame may not render", "channel", channel, "valid", valid, "total", len(d.Frame.Landmarks))
		}
		if d.Property != "" {
			slog.Debug("normalize: wildcard found landmarks", "channel", channel, "property", d.Property, "count", len(d.Frame.Landmarks))
		}
		n.mu.RLock()
		obs := n.frameObs
		n.mu.RUnlock()
		for _, fn := range obs {
			fn(d.Frame)
		}
	}
	if d.Kind.Has(KindClassification) {
		n.mu.RLock()
		obs := n.classObs
		n.mu.RUnlock()
		for _, fn := range obs {
			fn(d.Classification)
		}
	}
}

func (n *Normalizer) handleAnalysisError(payload []byte) {
	ae := AnalysisError{Raw: json.RawMessage(payload), Message: analysisErrorMessage(payload)}
	slog.Warn("normalize: inference service reported an error", "message", ae.Message)
	n.metrics.RecordMessage(context.Background(), "analysis_error", "error")

	n.mu.RLock()
	obs := n.analysisErrObs
	n.mu.RUnlock()
	for _, fn := range obs {
		fn(ae)
	}
}

// analysisErrorMessage extracts a human-readable message from a string
// payload or an object with "error" or "message".
func analysisErrorMessage(payload []byte) string {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return strings.TrimSpace(string(payload))
	}
	switch e := v.(type) {
	case string:
		return e
	case map[string]any:
		for _, k := range []string{"error", "message"} {
			if s, ok := e[k].(string); ok && s != "" {
				return s
			}
		}
	}
	return strings.TrimSpace(string(payload))
}
