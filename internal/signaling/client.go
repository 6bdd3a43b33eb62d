package signaling

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vibesync/vibesync/signaling-relay/internal/metrics"
	"github.com/vibesync/vibesync/signaling-relay/internal/ratelimit"
)

const wsWriteWait = 5 * time.Second

// client pumps frames between one WebSocket and the Hub. readPump runs on
// the HTTP handler goroutine and writePump on its own.
type client struct {
	hub     *Hub
	conn    *websocket.Conn
	handle  Handle
	codec   codec
	log     *slog.Logger
	metrics *metrics.Metrics

	limiter         *ratelimit.Limiter
	maxMessageBytes int64
	pingInterval    time.Duration
	idleTimeout     time.Duration
	strictPayloads  bool

	// sendCh is written and closed only by the Hub.
	sendCh    chan Outbound
	closeOnce sync.Once
}

func (c *client) Handle() Handle { return c.handle }

func (c *client) send(msg Outbound) bool {
	select {
	case c.sendCh <- msg:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.sendCh) })
}

func (c *client) readPump() {
	defer func() {
		c.hub.Unregister(c.handle)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(c.maxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
	})

	for {
		frameType, data, err := c.conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				// gorilla has already sent close 1009.
				c.metrics.Inc(metrics.FramesOversize)
				c.log.Info("signaling message too large", "connection_handle", c.handle, "max_bytes", c.maxMessageBytes)
			case isTimeout(err):
				c.log.Info("signaling connection idle timeout", "connection_handle", c.handle)
				writeClose(c.conn, websocket.CloseGoingAway, "idle timeout")
			case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				c.log.Debug("signaling read failed", "connection_handle", c.handle, "err", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))

		// Consume the frame before enforcing the rate limit so the peer sees the
		// close frame rather than a reset.
		if !c.limiter.Allow() {
			c.metrics.Inc(metrics.FramesRateLimited)
			c.log.Info("signaling rate limit exceeded", "connection_handle", c.handle)
			writeClose(c.conn, websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		c.metrics.Inc(metrics.FramesReceived)

		msg, err := c.decode(frameType, data)
		if err != nil {
			c.log.Debug("signaling message dropped", "connection_handle", c.handle, "err", err)
			continue
		}
		c.hub.Deliver(c.handle, msg)
	}
}

var errFrameType = errors.New("frame type does not match negotiated codec")

func (c *client) decode(frameType int, data []byte) (inbound, error) {
	if frameType != c.codec.frameType() {
		c.metrics.Inc(metrics.FramesMalformed)
		return nil, errFrameType
	}
	env, err := c.codec.decode(data)
	if err != nil {
		c.metrics.Inc(metrics.FramesMalformed)
		return nil, err
	}
	msg, err := parseInbound(env)
	if err != nil {
		c.metrics.Inc(metrics.FramesMalformed)
		return nil, err
	}
	if c.strictPayloads {
		if err := checkPayload(msg); err != nil {
			c.metrics.Inc(metrics.PayloadsRejected)
			return nil, err
		}
	}
	return msg, nil
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.sendCh:
			if !ok {
				code, reason := websocket.CloseNormalClosure, ""
				if c.hub.stopped() {
					code, reason = websocket.CloseGoingAway, "server shutting down"
				}
				writeClose(c.conn, code, reason)
				return
			}

			frame, err := c.codec.encode(msg)
			if err != nil {
				c.log.Error("signaling encode failed", "connection_handle", c.handle, "event", msg.Event, "err", err)
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(c.codec.frameType(), frame); err != nil {
				return
			}
			c.metrics.Inc(metrics.FramesSent)

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
