// Package transport is the duplex channel to the pose inference service.
//
// A [Client] holds one WebSocket connection. Inbound frames are decoded from
// the event envelope ([DecodeEnvelope]) and handed to message handlers;
// outbound events are written in the array form. Connection state changes
// are reported to connection handlers.
//
// Reconnection is not handled here. When the connection drops, [Client.Run]
// returns and the caller decides whether to [Client.Connect] again.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/posecoach/internal/observe"
)

// ErrNotConnected is returned when sending without an open connection.
var ErrNotConnected = errors.New("transport: not connected")

// Outbound event names.
const (
	FrameEvent       = "analyze_pose_frame"
	TestingModeEvent = "set_testing_mode"
)

// Defaults applied by [Client.SendFrame] to empty fields.
const (
	DefaultExerciseID = "squat"
	DefaultUserID     = "anonymous"
)

const (
	defaultDialTimeout = 20 * time.Second
	frameLogEvery      = 50
	readLimit          = 4 << 20
)

// Frame is one captured video frame submitted for analysis.
type Frame struct {
	ExerciseID     string `json:"exercise_id"`
	Image          string `json:"image"`
	UserID         string `json:"user_id"`
	Timestamp      int64  `json:"timestamp"`
	ForceDetection bool   `json:"force_detection"`
	Debug          bool   `json:"debug"`
}

// Option configures a [Client].
type Option func(*Client)

// WithToken sets the bearer token sent with the connection request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithDialTimeout bounds [Client.Connect]. Defaults to 20 s.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// WithHTTPClient sets the HTTP client used for the WebSocket handshake.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithMetrics replaces the default metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithClock replaces the time source for default frame timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// Client is a WebSocket client for the inference service. It is safe for
// concurrent use; handlers should be registered before [Client.Run].
type Client struct {
	url         string
	id          string
	token       string
	dialTimeout time.Duration
	httpClient  *http.Client
	metrics     *observe.Metrics
	now         func() time.Time

	mu           sync.Mutex
	conn         *websocket.Conn
	msgHandlers  []func(channel string, payload []byte)
	connHandlers []func(connected bool, reason string)
	framesSent   uint64
	testingMode  bool
}

// New creates a Client for url. It does not connect.
func New(url string, opts ...Option) (*Client, error) {
	if url == "" {
		return nil, errors.New("transport: url must not be empty")
	}
	c := &Client{
		url:         url,
		id:          uuid.NewString(),
		dialTimeout: defaultDialTimeout,
		now:         time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c, nil
}

// ID returns the client id sent in the X-Client-ID handshake header.
func (c *Client) ID() string { return c.id }

// OnMessage registers fn for every inbound event.
func (c *Client) OnMessage(fn func(channel string, payload []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgHandlers = append(c.msgHandlers, fn)
}

// OnConnection registers fn for connection state changes. reason is empty
// on connect.
func (c *Client) OnConnection(fn func(connected bool, reason string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connHandlers = append(c.connHandlers, fn)
}

// Connected reports whether a connection is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// TestingMode reports the last requested testing mode.
func (c *Client) TestingMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.testingMode
}

// Connect dials the service. An existing connection is closed first.
func (c *Client) Connect(ctx context.Context) error {
	if c.Connected() {
		slog.Info("transport: already connected, reconnecting")
		c.Disconnect()
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("X-Client-ID", c.id)
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, _, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{
		HTTPClient: c.httpClient,
		HTTPHeader: header,
	})
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", c.url, err)
	}
	conn.SetReadLimit(readLimit)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	slog.Info("transport: connected", "url", c.url, "client_id", c.id)
	c.notifyConnection(true, "")
	return nil
}

// Disconnect closes the connection. It is a no-op when not connected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	c.markDisconnected(conn, "client disconnect")
}

// Run reads from the current connection until it closes or ctx is
// cancelled, dispatching each event to the message handlers. It returns nil
// on a normal closure or cancellation.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			reason := err.Error()
			status := websocket.CloseStatus(err)
			if status != -1 {
				reason = fmt.Sprintf("closed: %d", status)
			}
			if ctx.Err() != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "shutting down")
				reason = "shutting down"
			}
			c.markDisconnected(conn, reason)
			if ctx.Err() != nil || status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return nil
			}
			return fmt.Errorf("transport: read: %w", err)
		}

		event, payload, err := DecodeEnvelope(data)
		if err != nil {
			slog.Warn("transport: dropping undecodable frame", "err", err)
			continue
		}
		c.mu.Lock()
		handlers := c.msgHandlers
		c.mu.Unlock()
		for _, fn := range handlers {
			fn(event, payload)
		}
	}
}

// Emit sends event with data in the array envelope.
func (c *Client) Emit(ctx context.Context, event string, data any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	msg, err := EncodeEnvelope(event, data)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
		return fmt.Errorf("transport: emit %s: %w", event, err)
	}
	return nil
}

// SendFrame submits f on [FrameEvent]. Empty ExerciseID, UserID and
// Timestamp take their defaults; Timestamp is Unix milliseconds.
func (c *Client) SendFrame(ctx context.Context, f Frame) error {
	if f.ExerciseID == "" {
		f.ExerciseID = DefaultExerciseID
	}
	if f.UserID == "" {
		f.UserID = DefaultUserID
	}
	if f.Timestamp == 0 {
		f.Timestamp = c.now().UnixMilli()
	}
	if err := c.Emit(ctx, FrameEvent, f); err != nil {
		if errors.Is(err, ErrNotConnected) {
			slog.Warn("transport: cannot send frame, not connected")
		}
		c.metrics.FramesSent.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "error")))
		return err
	}

	c.mu.Lock()
	c.framesSent++
	n := c.framesSent
	c.mu.Unlock()
	if n == 1 || n%frameLogEvery == 0 {
		slog.Info("transport: sending frame", "n", n, "kb", len(f.Image)/1024, "exercise", f.ExerciseID)
	}
	c.metrics.FramesSent.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "ok")))
	return nil
}

// FramesSent returns how many frames were submitted successfully.
func (c *Client) FramesSent() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.framesSent
}

// SetTestingMode records the testing mode and tells the service when
// connected. The mode is kept even if the send fails.
func (c *Client) SetTestingMode(ctx context.Context, enabled bool) error {
	c.mu.Lock()
	c.testingMode = enabled
	c.mu.Unlock()

	err := c.Emit(ctx, TestingModeEvent, map[string]bool{"enabled": enabled})
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

// markDisconnected clears conn if it is still current and notifies handlers.
func (c *Client) markDisconnected(conn *websocket.Conn, reason string) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()

	slog.Info("transport: disconnected", "reason", reason)
	c.notifyConnection(false, reason)
}

func (c *Client) notifyConnection(connected bool, reason string) {
	c.mu.Lock()
	handlers := c.connHandlers
	c.mu.Unlock()
	for _, fn := range handlers {
		fn(connected, reason)
	}
}
