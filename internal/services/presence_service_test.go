package services

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/Matar-GTB/CarnetdeSante-sub000/internal/models"
)

func TestPresenceServiceAnnouncesStatusChanges(t *testing.T) {
	store := newMemoryStore()
	broadcaster := &recordingBroadcaster{}
	service := NewPresenceService(store, broadcaster, zap.NewNop())

	service.Connected(context.Background(), doctorID)
	if !store.presence[doctorID] {
		t.Fatalf("expected doctor to be marked online")
	}

	event := broadcaster.last()
	payload, ok := event.event.Data.(models.StatusChangedPayload)
	if !event.global || event.event.Name != models.EventUserStatusChanged || !ok {
		t.Fatalf("unexpected event: %+v", event)
	}
	if payload.UserID != doctorID || payload.Status != StatusOnline {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	service.Disconnected(context.Background(), doctorID)
	if store.presence[doctorID] {
		t.Fatalf("expected doctor to be marked offline")
	}
	payload, _ = broadcaster.last().event.Data.(models.StatusChangedPayload)
	if payload.Status != StatusOffline || payload.Timestamp.IsZero() {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}
