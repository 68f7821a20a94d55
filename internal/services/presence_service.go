package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Matar-GTB/CarnetdeSante-sub000/internal/models"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

type presenceStore interface {
	SetPresence(ctx context.Context, userID int64, online bool, at time.Time) error
}

// PresenceService mirrors socket presence into participant rows and announces
// status changes to every connection.
type PresenceService struct {
	store       presenceStore
	broadcaster Broadcaster
	logger      *zap.Logger
	now         func() time.Time
}

func NewPresenceService(store presenceStore, broadcaster Broadcaster, logger *zap.Logger) *PresenceService {
	return &PresenceService{
		store:       store,
		broadcaster: broadcaster,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *PresenceService) Connected(ctx context.Context, userID int64) {
	s.change(ctx, userID, true)
}

func (s *PresenceService) Disconnected(ctx context.Context, userID int64) {
	s.change(ctx, userID, false)
}

func (s *PresenceService) change(ctx context.Context, userID int64, online bool) {
	at := s.now().UTC()
	status := StatusOffline
	if online {
		status = StatusOnline
	}

	// the event still fires when the row update fails; presence is advisory
	if err := s.store.SetPresence(ctx, userID, online, at); err != nil {
		s.logger.Error("update participant presence",
			zap.Int64("user_id", userID),
			zap.String("status", status),
			zap.Error(err),
		)
	}

	s.broadcaster.BroadcastAll(models.Event{
		Name: models.EventUserStatusChanged,
		Data: models.StatusChangedPayload{UserID: userID, Status: status, Timestamp: at},
	})
}
