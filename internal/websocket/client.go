package chatws

import (
	"context"
	"encoding/json"
	"time"

	websocket "github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Matar-GTB/CarnetdeSante-sub000/internal/metrics"
	"github.com/Matar-GTB/CarnetdeSante-sub000/internal/models"
)

const (
	sendBufferSize = 64
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameBytes  = 64 * 1024
)

type socketConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

type Client struct {
	hub     *Hub
	conn    socketConn
	UserID  int64
	Role    string
	send    chan []byte
	limiter *rate.Limiter
	logger  *zap.Logger

	// owned by the hub goroutine
	rooms  map[int64]struct{}
	closed bool

	info *models.UserInfo
}

func NewClient(hub *Hub, conn socketConn, userID int64, role string, limiter *rate.Limiter, logger *zap.Logger) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		UserID:  userID,
		Role:    role,
		send:    make(chan []byte, sendBufferSize),
		limiter: limiter,
		logger:  logger.With(zap.Int64("user_id", userID)),
		rooms:   make(map[int64]struct{}),
	}
}

// ReadPump decodes inbound envelopes and hands them to the dispatcher until
// the connection fails or ctx ends.
func (c *Client) ReadPump(ctx context.Context, dispatcher *Dispatcher) {
	c.conn.SetReadLimit(maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if ctx.Err() != nil {
			return
		}

		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("socket read failed", zap.Error(err))
			}
			return
		}

		if c.limiter != nil && !c.limiter.Allow() {
			metrics.SocketEvents.WithLabelValues("unknown", "rate_limited").Inc()
			continue
		}

		var envelope inboundEvent
		if err := json.Unmarshal(payload, &envelope); err != nil || envelope.Name == "" {
			metrics.SocketEvents.WithLabelValues("unknown", "malformed").Inc()
			c.logger.Debug("malformed socket event", zap.Error(err))
			continue
		}

		dispatcher.Dispatch(ctx, c, envelope)
	}
}

// WritePump drains the send channel and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type inboundEvent struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}
