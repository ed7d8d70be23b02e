// Package bridge talks to vehicles through a radio bridge over WebSocket.
// One connection carries traffic for every vehicle the bridge can reach;
// frames are addressed by vehicle URI.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aerolab/flighttrials/internal/dispatcher"
	"github.com/aerolab/flighttrials/internal/link"
	"github.com/aerolab/flighttrials/internal/logging"
	"github.com/aerolab/flighttrials/pkg/core"
	"github.com/aerolab/flighttrials/pkg/streaming"
	ws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	sendChSize             = 1024
	writeWait              = 10 * time.Second
	defaultTelemetryBuffer = 256
	unsubscribeTimeout     = 2 * time.Second
)

// ErrClosed is the cause reported after Close.
var ErrClosed = errors.New("bridge connection closed")

// Options configures a bridge client.
type Options struct {
	// AckTimeout bounds the wait for each command's ack. Zero waits until
	// the context is done or the connection breaks.
	AckTimeout time.Duration
	// TelemetryBuffer sizes the inbound telemetry queue and each
	// subscription's sample channel.
	TelemetryBuffer int
	Logger          *slog.Logger
	// TraceLogger receives per-frame dispatch logs.
	TraceLogger dispatcher.Logger
}

// Client is a connection to a radio bridge. It never reconnects: once the
// connection breaks every pending and future call fails with
// link.ErrTransport.
type Client struct {
	conn   *ws.Conn
	sendCh chan []byte
	done   chan struct{} // closed when the connection is down

	mu      sync.Mutex
	closed  bool
	cause   error
	pending map[uint64]chan streaming.AckPayload
	subs    map[uint64]*subscription

	nextID  atomic.Uint64
	nextSub atomic.Uint64

	ackTimeout time.Duration
	bufferSize int
	dispatcher *dispatcher.Dispatcher
	logger     *slog.Logger
}

// Dial connects to the bridge at rawURL and starts the read and write loops.
func Dial(ctx context.Context, rawURL string, opts Options) (*Client, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.TraceLogger == nil {
		opts.TraceLogger = logging.NewDispatcherLogger(zerolog.Nop())
	}
	if opts.TelemetryBuffer <= 0 {
		opts.TelemetryBuffer = defaultTelemetryBuffer
	}

	d, err := dispatcher.New(opts.TraceLogger)
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}

	conn, _, err := ws.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("%w: websocket dial failed: %w", link.ErrTransport, err)
	}

	c := &Client{
		conn:       conn,
		sendCh:     make(chan []byte, sendChSize),
		done:       make(chan struct{}),
		pending:    make(map[uint64]chan streaming.AckPayload),
		subs:       make(map[uint64]*subscription),
		ackTimeout: opts.AckTimeout,
		bufferSize: opts.TelemetryBuffer,
		dispatcher: d,
		logger:     opts.Logger,
	}

	// acks resolve requests inline so a slow telemetry consumer never
	// delays a command
	d.Register(streaming.TypeAck, c.handleAck)
	d.Register(streaming.TypeTelemetry, c.handleTelemetry, dispatcher.Buffered(opts.TelemetryBuffer), dispatcher.Logged())

	go c.writeLoop()
	go c.readLoop()

	return c, nil
}

// Link returns the link to the vehicle at uri. Links share the connection.
func (c *Client) Link(uri string) *Vehicle {
	return &Vehicle{client: c, uri: uri}
}

// Close sends a close frame, fails outstanding calls and waits for queued
// telemetry to drain.
func (c *Client) Close() error {
	var err error
	if c.markDown(ErrClosed) {
		_ = c.conn.WriteControl(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		err = c.conn.Close()
	}
	c.dispatcher.Close()
	return err
}

// shutdown marks the connection broken with cause and closes the socket.
func (c *Client) shutdown(cause error) {
	if c.markDown(cause) {
		_ = c.conn.Close()
	}
}

// markDown records cause, wakes every waiter and closes all subscriptions.
// Only the first call has an effect; it reports whether this call was it.
func (c *Client) markDown(cause error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	c.cause = cause
	close(c.done)
	for id, sub := range c.subs {
		sub.stopped = true
		close(sub.samples)
		delete(c.subs, id)
	}
	return true
}

func (c *Client) brokenErr(op string) error {
	c.mu.Lock()
	cause := c.cause
	c.mu.Unlock()
	if cause == nil {
		cause = ErrClosed
	}
	return fmt.Errorf("%w: %s: %w", link.ErrTransport, op, cause)
}

// writeLoop drains sendCh and writes messages to the WebSocket.
func (c *Client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.sendCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("WebSocket SetWriteDeadline error", "error", err)
				c.shutdown(err)
				return
			}
			if err := c.conn.WriteMessage(ws.TextMessage, data); err != nil {
				c.logger.Warn("WebSocket write error", "error", err)
				c.shutdown(err)
				return
			}
		}
	}
}

// readLoop decodes incoming envelopes and hands them to the dispatcher.
func (c *Client) readLoop() {
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Warn("WebSocket read error", "error", err)
			c.shutdown(err)
			return
		}

		var env streaming.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.logger.Debug("Undecodable frame received", "raw", string(message))
			continue
		}

		err = c.dispatcher.Dispatch(dispatcher.Event{
			Type:     env.Type,
			ID:       env.ID,
			URI:      env.URI,
			Payload:  env.Payload,
			Received: time.Now(),
		})
		if err != nil {
			c.logger.Debug("Frame not handled", "type", env.Type, "uri", env.URI, "error", err)
		}
	}
}

// request sends one command and waits for its ack.
func (c *Client) request(ctx context.Context, msgType, uri string, payload any) (streaming.AckPayload, error) {
	if err := ctx.Err(); err != nil {
		return streaming.AckPayload{}, fmt.Errorf("%w: %s: %w", link.ErrTransport, msgType, err)
	}

	id := c.nextID.Add(1)
	env, err := streaming.NewEnvelope(msgType, id, uri, payload)
	if err != nil {
		return streaming.AckPayload{}, fmt.Errorf("encoding %s: %w", msgType, err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return streaming.AckPayload{}, fmt.Errorf("encoding %s: %w", msgType, err)
	}

	ackCh := make(chan streaming.AckPayload, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return streaming.AckPayload{}, c.brokenErr(msgType)
	}
	c.pending[id] = ackCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	select {
	case c.sendCh <- data:
	case <-c.done:
		return streaming.AckPayload{}, c.brokenErr(msgType)
	case <-ctx.Done():
		return streaming.AckPayload{}, fmt.Errorf("%w: %s: %w", link.ErrTransport, msgType, ctx.Err())
	}

	var timeout <-chan time.Time
	if c.ackTimeout > 0 {
		timer := time.NewTimer(c.ackTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case ack := <-ackCh:
		if !ack.OK {
			return ack, fmt.Errorf("%w: %s rejected by bridge: %s", link.ErrTransport, msgType, ack.Error)
		}
		return ack, nil
	case <-timeout:
		return streaming.AckPayload{}, fmt.Errorf("%w: %s: no ack within %s", link.ErrTransport, msgType, c.ackTimeout)
	case <-c.done:
		return streaming.AckPayload{}, c.brokenErr(msgType)
	case <-ctx.Done():
		return streaming.AckPayload{}, fmt.Errorf("%w: %s: %w", link.ErrTransport, msgType, ctx.Err())
	}
}

// handleAck resolves the pending request with the ack's ID. Acks for
// requests that already gave up are ignored.
func (c *Client) handleAck(e dispatcher.Event) error {
	var ack streaming.AckPayload
	if err := json.Unmarshal(e.Payload, &ack); err != nil {
		return fmt.Errorf("decoding ack %d: %w", e.ID, err)
	}

	c.mu.Lock()
	ackCh, ok := c.pending[e.ID]
	c.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case ackCh <- ack:
	default:
	}
	return nil
}

// handleTelemetry routes a telemetry frame to its subscription. A full
// subscription channel drops the sample.
func (c *Client) handleTelemetry(e dispatcher.Event) error {
	var t streaming.TelemetryPayload
	if err := json.Unmarshal(e.Payload, &t); err != nil {
		return fmt.Errorf("decoding telemetry: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subs[t.Subscription]
	if !ok || sub.uri != e.URI {
		return nil
	}

	select {
	case sub.samples <- core.Sample{URI: e.URI, Timestamp: t.Timestamp, Data: t.Data}:
	default:
		sub.dropped++
	}
	return nil
}

// subscribe registers a subscription before asking the bridge for it so
// that no early frame is lost.
func (c *Client) subscribe(ctx context.Context, uri string, channels []string, period time.Duration) (*subscription, error) {
	sub := &subscription{
		client:  c,
		id:      c.nextSub.Add(1),
		uri:     uri,
		samples: make(chan core.Sample, c.bufferSize),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, c.brokenErr(streaming.TypeSubscribe)
	}
	c.subs[sub.id] = sub
	c.mu.Unlock()

	_, err := c.request(ctx, streaming.TypeSubscribe, uri, streaming.SubscribePayload{
		Subscription: sub.id,
		Channels:     channels,
		PeriodMs:     streaming.Millis(period),
	})
	if err != nil {
		sub.release()
		return nil, err
	}
	return sub, nil
}

// subscription is a telemetry feed from one vehicle.
type subscription struct {
	client  *Client
	id      uint64
	uri     string
	samples chan core.Sample

	// guarded by client.mu
	stopped bool
	dropped uint64
}

func (s *subscription) Samples() <-chan core.Sample {
	return s.samples
}

// Stop closes the sample channel and asks the bridge to stop the feed.
func (s *subscription) Stop() {
	if !s.release() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
	defer cancel()
	if _, err := s.client.request(ctx, streaming.TypeUnsubscribe, s.uri, streaming.UnsubscribePayload{Subscription: s.id}); err != nil {
		s.client.logger.Debug("Unsubscribe failed", "uri", s.uri, "subscription", s.id, "error", err)
	}
}

// Dropped returns how many samples were discarded because the consumer
// fell behind.
func (s *subscription) Dropped() uint64 {
	s.client.mu.Lock()
	defer s.client.mu.Unlock()
	return s.dropped
}

// release removes the subscription and closes its channel. It reports
// whether the bridge still needs to be told.
func (s *subscription) release() bool {
	c := s.client
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.stopped {
		return false
	}
	s.stopped = true
	delete(c.subs, s.id)
	close(s.samples)
	return !c.closed
}
