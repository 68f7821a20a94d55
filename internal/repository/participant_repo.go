package repository

import (
	"context"
	"time"

	"github.com/Matar-GTB/CarnetdeSante-sub000/internal/models"
)

type ParticipantRepository struct {
	db DBTX
}

func NewParticipantRepository(db DBTX) *ParticipantRepository {
	return &ParticipantRepository{db: db}
}

func (r *ParticipantRepository) Create(ctx context.Context, conversationID int64, userID int64) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO conversation_participants (conversation_id, user_id, can_write, membership_status, unread_count)
		VALUES ($1, $2, TRUE, 'active', 0)
		ON CONFLICT (conversation_id, user_id) DO NOTHING
	`, conversationID, userID)
	return err
}

func (r *ParticipantRepository) Get(
	ctx context.Context,
	conversationID int64,
	userID int64,
) (*models.ConversationParticipant, error) {
	query := `
		SELECT conversation_id, user_id, can_write, online, last_seen_at,
		       notifications_enabled, membership_status, unread_count, joined_at
		FROM conversation_participants
		WHERE conversation_id = $1 AND user_id = $2
	`

	var participant models.ConversationParticipant
	err := r.db.QueryRow(ctx, query, conversationID, userID).Scan(
		&participant.ConversationID,
		&participant.UserID,
		&participant.CanWrite,
		&participant.Online,
		&participant.LastSeenAt,
		&participant.NotificationsEnabled,
		&participant.MembershipStatus,
		&participant.UnreadCount,
		&participant.JoinedAt,
	)
	if err != nil {
		return nil, err
	}
	return &participant, nil
}

func (r *ParticipantRepository) IncrementUnread(ctx context.Context, conversationID int64, userID int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversation_participants
		SET unread_count = unread_count + 1
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID)
	return err
}

func (r *ParticipantRepository) ResetUnread(ctx context.Context, conversationID int64, userID int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversation_participants
		SET unread_count = 0
		WHERE conversation_id = $1 AND user_id = $2 AND unread_count <> 0
	`, conversationID, userID)
	return err
}

// SetPresence updates every participant row of the user.
func (r *ParticipantRepository) SetPresence(ctx context.Context, userID int64, online bool, at time.Time) error {
	if online {
		_, err := r.db.Exec(ctx, `
			UPDATE conversation_participants
			SET online = TRUE
			WHERE user_id = $1
		`, userID)
		return err
	}

	_, err := r.db.Exec(ctx, `
		UPDATE conversation_participants
		SET online = FALSE, last_seen_at = $2
		WHERE user_id = $1
	`, userID, at)
	return err
}
