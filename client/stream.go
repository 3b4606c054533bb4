package client

import (
	"context"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	jww "github.com/spf13/jwalterweatherman"

	"github.com/limeechian/parenting-app-sub004/internal/protocol"
)

// StreamState is the connection state of the push stream.
type StreamState string

const (
	StreamConnecting StreamState = "connecting"
	StreamOpen       StreamState = "open"
	StreamClosed     StreamState = "closed"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 30 * time.Second
	streamReadLimit  = 1 << 20
)

// StreamConfig bounds the reconnect behavior.
type StreamConfig struct {
	// InitialBackoff is the first reconnect delay. Default 500ms.
	InitialBackoff time.Duration
	// MaxBackoff caps the delay between attempts. Default 30s.
	MaxBackoff time.Duration
	// MaxElapsed bounds the total time spent reconnecting before the stream
	// is declared terminally closed. Default 5m.
	MaxElapsed time.Duration
}

func (c *StreamConfig) applyDefaults() {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.MaxElapsed <= 0 {
		c.MaxElapsed = 5 * time.Minute
	}
}

// StreamClient maintains the single long-lived push connection to the
// backend. Decoded envelopes and state transitions are handed to callbacks
// which must route them into the session loop; the client itself never
// touches store state.
//
// Transient errors reconnect under bounded exponential backoff. Once the
// backoff budget is exhausted the stream reports a terminal close, which is
// the session's cue for one polling-style fallback refresh.
type StreamClient struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	cfg    StreamConfig

	onEnvelope func(*protocol.Envelope)
	onState    func(state StreamState, terminal bool)
}

// NewStreamClient creates a stream client. onEnvelope receives every decoded
// push envelope; onState receives connection state changes, with terminal
// set when reconnecting has been given up.
func NewStreamClient(url string, header http.Header, cfg StreamConfig,
	onEnvelope func(*protocol.Envelope), onState func(StreamState, bool)) *StreamClient {
	cfg.applyDefaults()
	return &StreamClient{
		url:    url,
		header: header,
		dialer: &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		cfg:    cfg,
		onEnvelope: onEnvelope,
		onState:    onState,
	}
}

// Run connects and keeps the stream alive until ctx is canceled or the
// reconnect budget runs out. Blocking; callers run it in its own goroutine.
func (s *StreamClient) Run(ctx context.Context) {
	for {
		s.onState(StreamConnecting, false)

		conn, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.onState(StreamClosed, false)
				return
			}
			jww.ERROR.Printf("[STREAM] giving up reconnecting: %v", err)
			s.onState(StreamClosed, true)
			return
		}

		s.onState(StreamOpen, false)
		s.readLoop(ctx, conn)
		conn.Close()

		if ctx.Err() != nil {
			s.onState(StreamClosed, false)
			return
		}
		jww.INFO.Printf("[STREAM] connection lost, reconnecting")
		s.onState(StreamClosed, false)
	}
}

func (s *StreamClient) dial(ctx context.Context) (*websocket.Conn, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.InitialBackoff
	bo.MaxInterval = s.cfg.MaxBackoff
	bo.MaxElapsedTime = s.cfg.MaxElapsed

	var conn *websocket.Conn
	op := func() error {
		c, resp, err := s.dialer.DialContext(ctx, s.url, s.header)
		if err != nil {
			if resp != nil {
				jww.WARN.Printf("[STREAM] dial %s failed (%d): %v", s.url, resp.StatusCode, err)
			} else {
				jww.WARN.Printf("[STREAM] dial %s failed: %v", s.url, err)
			}
			return err
		}
		conn = c
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *StreamClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go s.pingLoop(ctx, conn, done)

	conn.SetReadLimit(streamReadLimit)
	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && ctx.Err() == nil {
				jww.WARN.Printf("[STREAM] read error: %v", err)
			}
			return
		}

		env, err := protocol.ParseEnvelope(data)
		if err != nil {
			// Malformed envelopes are dropped; the stream must never die
			// over one bad payload.
			jww.WARN.Printf("[STREAM] dropping malformed envelope: %v", err)
			continue
		}
		s.onEnvelope(env)
	}
}

func (s *StreamClient) pingLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			// Unblock the read loop.
			conn.Close()
			return
		}
	}
}
