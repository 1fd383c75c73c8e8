package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chainfetch/internal/jsonrpc"
)

// ErrConnectionClosed is returned to callers waiting on a response when the socket drops
var ErrConnectionClosed = errors.New("connection closed")

// WSClient owns a single WebSocket connection to a node.
// It multiplexes concurrent RPC requests on the connection by request id.
type WSClient struct {
	wsURL             string
	messageTimeout    time.Duration
	reconnectInterval time.Duration
	pingInterval      time.Duration
	requests          *atomic.Uint64
	logger            zerolog.Logger

	conn    *websocket.Conn
	connMu  sync.RWMutex
	writeMu sync.Mutex

	pending   map[int64]chan *jsonrpc.Response
	pendingMu sync.Mutex
	reqID     atomic.Int64

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewWSClient creates a new WebSocket client. requests, if non-nil, is incremented per written request.
func NewWSClient(wsURL string, messageTimeout time.Duration, reconnectInterval time.Duration, requests *atomic.Uint64, logger zerolog.Logger) *WSClient {
	if messageTimeout <= 0 {
		messageTimeout = 60 * time.Second
	}
	if requests == nil {
		requests = &atomic.Uint64{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WSClient{
		wsURL:             wsURL,
		messageTimeout:    messageTimeout,
		reconnectInterval: reconnectInterval,
		pingInterval:      messageTimeout / 2,
		requests:          requests,
		logger:            logger,
		pending:           make(map[int64]chan *jsonrpc.Response),
		ctx:               ctx,
		cancel:            cancel,
	}
}

// Connect establishes the WebSocket connection and starts the reader goroutine
func (c *WSClient) Connect(ctx context.Context) error {
	c.connMu.Lock()
	if c.conn != nil {
		c.connMu.Unlock()
		return nil
	}
	c.connMu.Unlock()

	c.logger.Info().Msg("WebSocket connecting")
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return errors.Wrap(err, "failed to connect WebSocket")
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.setPongHandler(conn)
	c.logger.Info().Msg("WebSocket connected")
	c.wg.Add(1)
	go c.readLoop()
	c.wg.Add(1)
	go c.pingLoop()
	return nil
}

func (c *WSClient) setPongHandler(conn *websocket.Conn) {
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.messageTimeout))
	})
}

func (c *WSClient) pingLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.connMu.RLock()
			conn := c.conn
			c.connMu.RUnlock()
			if conn == nil {
				continue
			}
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug().Err(err).Msg("ping write failed")
			}
		}
	}
}

// Connected returns true if the WebSocket connection is established
func (c *WSClient) Connected() bool {
	c.connMu.RLock()
	ok := c.conn != nil
	c.connMu.RUnlock()
	return ok
}

// Close closes the connection and stops the reader; later calls are no-ops
func (c *WSClient) Close() {
	c.closeOnce.Do(func() {
		c.logger.Info().Msg("WebSocket closing")
		c.cancel()
		c.connMu.Lock()
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.connMu.Unlock()

		c.failPending()
		c.wg.Wait()
		c.logger.Info().Msg("WebSocket disconnected")
	})
}

// SendRequest sends an RPC request and waits for the response.
// The request id is rewritten on the wire and restored on the response.
func (c *WSClient) SendRequest(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	reqID := c.reqID.Add(1)
	respChan := make(chan *jsonrpc.Response, 1)

	wsReq := *req
	wsReq.ID = jsonrpc.NewIDInt(reqID)

	reqBytes, err := wsReq.Bytes()
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	// register under the conn read lock: reconnect and Close clear conn before failPending
	c.connMu.RLock()
	conn := c.conn
	if conn != nil {
		c.pendingMu.Lock()
		c.pending[reqID] = respChan
		c.pendingMu.Unlock()
	}
	c.connMu.RUnlock()

	if conn == nil {
		return nil, errors.New("WebSocket not connected")
	}

	c.writeMu.Lock()
	writeErr := conn.WriteMessage(websocket.TextMessage, reqBytes)
	c.writeMu.Unlock()
	if writeErr != nil {
		c.dropPending(reqID)
		return nil, errors.Wrap(writeErr, "failed to send request")
	}

	c.requests.Add(1)

	select {
	case resp := <-respChan:
		if resp != nil {
			resp.ID = req.ID
			return resp, nil
		}
		return nil, ErrConnectionClosed
	case <-ctx.Done():
		c.dropPending(reqID)
		return nil, ctx.Err()
	}
}

func (c *WSClient) dropPending(reqID int64) {
	c.pendingMu.Lock()
	delete(c.pending, reqID)
	c.pendingMu.Unlock()
}

// failPending wakes every waiting caller with a nil response
func (c *WSClient) failPending() {
	c.pendingMu.Lock()
	for _, ch := range c.pending {
		select {
		case ch <- nil:
		default:
		}
	}
	c.pending = make(map[int64]chan *jsonrpc.Response)
	c.pendingMu.Unlock()
}

func (c *WSClient) readLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.connMu.RLock()
		conn := c.conn
		c.connMu.RUnlock()

		if conn == nil {
			c.logger.Info().Msg("WebSocket reader stopped (no connection)")
			return
		}

		conn.SetReadDeadline(time.Now().Add(c.messageTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.ctx.Done():
				c.logger.Info().Msg("WebSocket reader stopped (shutdown)")
				return
			default:
			}

			c.logger.Warn().Err(err).Msg("WebSocket connection lost, reconnecting")
			if c.reconnect() {
				continue
			}
			c.logger.Info().Msg("WebSocket reader stopped (shutdown)")
			return
		}

		c.dispatchMessage(data)
	}
}

func (c *WSClient) dispatchMessage(data []byte) {
	resp, err := jsonrpc.ParseResponse(data)
	if err != nil {
		c.logger.Warn().
			Err(err).
			Int("len", len(data)).
			Msg("ws message parse error")
		return
	}

	reqID, ok := resp.ID.Int64()
	if !ok {
		c.logger.Debug().Msg("ws message without numeric id ignored")
		return
	}

	c.pendingMu.Lock()
	ch, exists := c.pending[reqID]
	if exists {
		delete(c.pending, reqID)
	}
	c.pendingMu.Unlock()

	if exists {
		select {
		case ch <- resp:
		default:
		}
	}
}

func (c *WSClient) reconnect() bool {
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	c.failPending()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	interval := c.reconnectInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	for {
		select {
		case <-c.ctx.Done():
			c.logger.Info().Msg("WebSocket reconnection stopped (shutdown)")
			return false
		case <-time.After(interval):
		}

		c.logger.Info().Dur("interval", interval).Msg("WebSocket reconnection attempt")

		ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
		conn, _, err := dialer.DialContext(ctx, c.wsURL, nil)
		cancel()
		if err != nil {
			c.logger.Warn().Err(err).Dur("nextRetry", interval).Msg("WebSocket reconnection failed, will retry")
			continue
		}

		c.connMu.Lock()
		if c.ctx.Err() != nil {
			c.connMu.Unlock()
			conn.Close()
			return false
		}
		c.conn = conn
		c.connMu.Unlock()

		c.setPongHandler(conn)
		c.logger.Info().Msg("WebSocket reconnected successfully")
		return true
	}
}
