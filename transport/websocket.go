package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/hashicorp/go-multierror"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

var (
	ErrNotStarted   = errors.New("transport is not started")
	ErrNotConnected = errors.New("not connected")
)

// Client is the websocket Transport. It keeps one connection per relay URI
// and runs a read loop per connection that dispatches inbound text frames to
// the handler registered with Receive.
type Client struct {
	connections *xsync.MapOf[string, *connection]
	handlers    *xsync.MapOf[string, MessageHandler]
	dialTimeout time.Duration
	log         *zap.SugaredLogger

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

type ClientOption func(*Client)

func WithDialTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.dialTimeout = d }
}

func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) { c.log = logger.Sugar() }
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		connections: xsync.NewMapOf[string, *connection](),
		handlers:    xsync.NewMapOf[string, MessageHandler](),
		dialTimeout: 7 * time.Second,
		log:         zap.NewNop().Sugar(),
	}
	for _, apply := range opts {
		apply(c)
	}
	return c
}

func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.started = true
	return nil
}

// Stop closes every open connection. Errors are aggregated; the client can
// be started again afterwards.
func (c *Client) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	cancel := c.cancel
	c.mu.Unlock()

	var result *multierror.Error
	c.connections.Range(func(uri string, conn *connection) bool {
		if err := conn.close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", uri, err))
		}
		c.connections.Delete(uri)
		return true
	})
	cancel()
	return result.ErrorOrNil()
}

func (c *Client) Open(ctx context.Context, uri string) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return ErrNotStarted
	}
	clientCtx := c.ctx
	c.mu.Unlock()

	if existing, ok := c.connections.Load(uri); ok && !existing.isClosed() {
		return nil
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.dialTimeout)
		defer cancel()
	}

	dialer := ws.Dialer{}
	netConn, _, _, err := dialer.Dial(ctx, uri)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", uri, err)
	}

	conn := newConnection(netConn)
	c.connections.Store(uri, conn)

	go c.readLoop(clientCtx, uri, conn)
	return nil
}

func (c *Client) Close(uri string) error {
	conn, ok := c.connections.LoadAndDelete(uri)
	if !ok {
		return ErrNotConnected
	}
	return conn.close()
}

func (c *Client) IsConnected(uri string) bool {
	conn, ok := c.connections.Load(uri)
	return ok && !conn.isClosed()
}

func (c *Client) Send(uri string, message []byte) error {
	conn, ok := c.connections.Load(uri)
	if !ok || conn.isClosed() {
		return ErrNotConnected
	}
	return conn.writeMessage(message)
}

// Receive registers the handler invoked for every inbound text frame from
// uri. A second call replaces the handler.
func (c *Client) Receive(uri string, onMessage MessageHandler) {
	c.handlers.Store(uri, onMessage)
}

func (c *Client) readLoop(ctx context.Context, uri string, conn *connection) {
	for {
		message, err := conn.readMessage(ctx)
		if err != nil {
			if !conn.isClosed() {
				c.log.Debugw("read loop ended", "uri", uri, "error", err)
				conn.close()
			}
			c.connections.Compute(uri, func(cur *connection, loaded bool) (*connection, bool) {
				// delete only if a reconnect hasn't replaced us
				if !loaded {
					return nil, true
				}
				return cur, cur == conn
			})
			return
		}

		if handler, ok := c.handlers.Load(uri); ok {
			handler(uri, message)
		}
	}
}

// connection wraps a single websocket connection with locked writes and a
// frame-at-a-time reader.
type connection struct {
	conn           net.Conn
	controlHandler wsutil.FrameHandlerFunc
	reader         *wsutil.Reader
	writer         *wsutil.Writer

	writeMu sync.Mutex

	closedMu sync.Mutex
	closed   bool
}

func newConnection(netConn net.Conn) *connection {
	controlHandler := wsutil.ControlFrameHandler(netConn, ws.StateClientSide)
	reader := &wsutil.Reader{
		Source:         netConn,
		State:          ws.StateClientSide,
		OnIntermediate: controlHandler,
	}
	writer := wsutil.NewWriter(netConn, ws.StateClientSide, ws.OpText)

	return &connection{
		conn:           netConn,
		controlHandler: controlHandler,
		reader:         reader,
		writer:         writer,
	}
}

func (c *connection) writeMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := io.Copy(c.writer, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := c.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}
	return nil
}

func (c *connection) readMessage(ctx context.Context) ([]byte, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		h, err := c.reader.NextFrame()
		if err != nil {
			c.conn.Close()
			return nil, fmt.Errorf("failed to advance frame: %w", err)
		}

		if h.OpCode.IsControl() {
			if err := c.controlHandler(h, c.reader); err != nil {
				return nil, fmt.Errorf("failed to handle control frame: %w", err)
			}
			continue
		}

		if h.OpCode == ws.OpText || h.OpCode == ws.OpBinary {
			break
		}

		if err := c.reader.Discard(); err != nil {
			return nil, fmt.Errorf("failed to discard frame: %w", err)
		}
	}

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, c.reader); err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	return buf.Bytes(), nil
}

// close sends a "going away" close frame and tears the connection down. Safe
// to call more than once.
func (c *connection) close() error {
	c.closedMu.Lock()
	if c.closed {
		c.closedMu.Unlock()
		return nil
	}
	c.closed = true
	c.closedMu.Unlock()

	c.writeMu.Lock()
	body := ws.NewCloseFrameBody(ws.StatusGoingAway, "")
	wsutil.WriteClientMessage(c.conn, ws.OpClose, body)
	c.writeMu.Unlock()

	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}

func (c *connection) isClosed() bool {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()
	return c.closed
}
