package handlers

import (
	"context"
	"strconv"
	"strings"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Matar-GTB/CarnetdeSante-sub000/internal/middleware"
	chatws "github.com/Matar-GTB/CarnetdeSante-sub000/internal/websocket"
	"github.com/Matar-GTB/CarnetdeSante-sub000/pkg/utils"
)

type presenceTracker interface {
	Connected(ctx context.Context, userID int64)
	Disconnected(ctx context.Context, userID int64)
}

// SocketLimits bounds inbound events per connection.
type SocketLimits struct {
	EventsPerSecond float64
	Burst           int
}

type SocketHandler struct {
	baseCtx    context.Context
	hub        *chatws.Hub
	dispatcher *chatws.Dispatcher
	presence   presenceTracker
	jwtSecret  string
	limits     SocketLimits
	logger     *zap.Logger
}

// NewSocketHandler binds socket sessions to baseCtx so they end on shutdown.
func NewSocketHandler(
	baseCtx context.Context,
	hub *chatws.Hub,
	dispatcher *chatws.Dispatcher,
	presence presenceTracker,
	jwtSecret string,
	limits SocketLimits,
	logger *zap.Logger,
) *SocketHandler {
	return &SocketHandler{
		baseCtx:    baseCtx,
		hub:        hub,
		dispatcher: dispatcher,
		presence:   presence,
		jwtSecret:  jwtSecret,
		limits:     limits,
		logger:     logger,
	}
}

func (h *SocketHandler) WebSocketAuth(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": "WebSocket upgrade required"})
	}

	claims, err := h.parseWSClaims(c)
	if err != nil {
		h.logger.Debug("socket handshake rejected", zap.String("ip", c.IP()), zap.Error(err))
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired token"})
	}

	userID, err := strconv.ParseInt(claims.UserID, 10, 64)
	if err != nil || userID <= 0 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired token"})
	}

	c.Locals("user_id", userID)
	c.Locals("role", claims.Role)
	return c.Next()
}

func (h *SocketHandler) HandleWebSocket(conn *websocket.Conn) {
	userID, _ := conn.Locals("user_id").(int64)
	role, _ := conn.Locals("role").(string)

	var limiter *rate.Limiter
	if h.limits.EventsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(h.limits.EventsPerSecond), max(h.limits.Burst, 1))
	}

	client := chatws.NewClient(h.hub, conn, userID, role, limiter, h.logger)
	if replaced := h.hub.Register(client); replaced == nil {
		h.presence.Connected(h.baseCtx, userID)
	}

	go client.WritePump()
	client.ReadPump(h.baseCtx, h.dispatcher)

	if h.hub.Unregister(client) {
		// the session context may already be cancelled
		h.presence.Disconnected(context.WithoutCancel(h.baseCtx), userID)
	}
}

func (h *SocketHandler) parseWSClaims(c *fiber.Ctx) (*utils.Claims, error) {
	tokenString := strings.TrimSpace(c.Query("token"))
	if tokenString == "" {
		if bearer, ok := middleware.BearerToken(c.Get("Authorization")); ok {
			tokenString = bearer
		}
	}

	if tokenString == "" {
		return nil, chatws.ErrTransportAuth
	}

	claims, err := utils.ValidateToken(tokenString, h.jwtSecret)
	if err != nil {
		return nil, chatws.ErrTransportAuth
	}
	return claims, nil
}
