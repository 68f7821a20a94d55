package routes

import (
	"context"
	"fmt"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Matar-GTB/CarnetdeSante-sub000/internal/config"
	"github.com/Matar-GTB/CarnetdeSante-sub000/internal/handlers"
	"github.com/Matar-GTB/CarnetdeSante-sub000/internal/media"
	"github.com/Matar-GTB/CarnetdeSante-sub000/internal/metrics"
	"github.com/Matar-GTB/CarnetdeSante-sub000/internal/middleware"
	"github.com/Matar-GTB/CarnetdeSante-sub000/internal/repository"
	"github.com/Matar-GTB/CarnetdeSante-sub000/internal/services"
	chatws "github.com/Matar-GTB/CarnetdeSante-sub000/internal/websocket"
)

// RegisterRoutes wires the chat stack onto app. The hub runs until ctx ends.
func RegisterRoutes(ctx context.Context, app *fiber.App, cfg *config.Config, db *pgxpool.Pool, logger *zap.Logger) error {
	storageService, err := newStorage(cfg)
	if err != nil {
		return err
	}

	store := repository.NewChatStore(db)
	chatHub := chatws.NewHub(logger.Named("hub"))
	go chatHub.Run(ctx)

	chatService := services.NewChatService(store, chatHub, chatHub, logger.Named("chat"))
	presenceService := services.NewPresenceService(store, chatHub, logger.Named("presence"))
	transcoder := media.NewTranscoder(cfg.ImageMaxDimension, cfg.ImageJPEGQuality)
	if cfg.ImageMaxPixels > 0 {
		transcoder.MaxPixels = cfg.ImageMaxPixels
	}
	mediaService := services.NewMediaService(
		chatService,
		storageService,
		media.Policy{MaxBytes: cfg.MediaMaxBytes},
		transcoder,
		logger.Named("media"),
	)

	chatHandler := handlers.NewChatHandler(chatService, mediaService, logger.Named("http"))
	socketHandler := handlers.NewSocketHandler(
		ctx,
		chatHub,
		chatws.NewDispatcher(chatHub, chatService, logger.Named("socket")),
		presenceService,
		cfg.JWTSecret,
		handlers.SocketLimits{EventsPerSecond: cfg.WSEventsPerSecond, Burst: cfg.WSEventBurst},
		logger.Named("socket"),
	)

	if cfg.MetricsEnabled {
		app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	}
	if local, ok := storageService.(*services.LocalStorageService); ok {
		app.Static(cfg.MediaURLPrefix, local.Root())
	}

	api := app.Group("/api")

	api.Use("/v1/ws", socketHandler.WebSocketAuth)
	api.Get("/v1/ws", websocket.New(socketHandler.HandleWebSocket))

	authProtected := api.Group("/v1", middleware.AuthRequired(cfg.JWTSecret))

	conversations := authProtected.Group("/conversations")
	conversations.Get("", chatHandler.ListConversations)
	conversations.Get("/:id/messages", chatHandler.GetMessages)
	conversations.Put("/:id/read", chatHandler.MarkRead)
	conversations.Put("/:id/status", chatHandler.UpdateStatus)
	conversations.Get("/:otherUserId", chatHandler.GetOrCreateConversation)

	messages := authProtected.Group("/messages")
	messages.Post("", chatHandler.SendMessage)
	messages.Post("/media", chatHandler.UploadMedia)
	messages.Put("/:id", chatHandler.EditMessage)
	messages.Delete("/:id", chatHandler.DeleteMessage)
	messages.Post("/:id/reactions", chatHandler.AddReaction)
	messages.Delete("/:id/reactions", chatHandler.RemoveReaction)

	return nil
}

func newStorage(cfg *config.Config) (services.StorageService, error) {
	switch cfg.StorageDriver {
	case config.StorageSupabase:
		return services.NewSupabaseStorageService(cfg.SupabaseURL, cfg.SupabaseBucket, cfg.SupabaseServiceKey), nil
	case config.StorageLocal, "":
		local, err := services.NewLocalStorageService(cfg.MediaDir, cfg.MediaURLPrefix)
		if err != nil {
			return nil, fmt.Errorf("init local storage: %w", err)
		}
		return local, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}
