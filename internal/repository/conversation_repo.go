package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Matar-GTB/CarnetdeSante-sub000/internal/models"
)

const conversationColumns = `
	c.id, c.patient_id, c.doctor_id, c.status, c.last_message_id,
	c.last_message_at, c.encryption_key, c.created_at, c.updated_at
`

type ConversationRepository struct {
	db DBTX
}

func NewConversationRepository(db DBTX) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// InsertIfAbsent creates the conversation for the pair. It returns
// pgx.ErrNoRows when another writer already owns the pair.
func (r *ConversationRepository) InsertIfAbsent(
	ctx context.Context,
	patientID int64,
	doctorID int64,
	encryptionKey []byte,
) (*models.Conversation, error) {
	query := `
		INSERT INTO conversations AS c (patient_id, doctor_id, status, encryption_key)
		VALUES ($1, $2, 'active', $3)
		ON CONFLICT (patient_id, doctor_id) DO NOTHING
		RETURNING ` + conversationColumns

	return scanConversation(r.db.QueryRow(ctx, query, patientID, doctorID, encryptionKey))
}

func (r *ConversationRepository) GetByPair(ctx context.Context, userA int64, userB int64) (*models.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations c
		WHERE (c.patient_id = $1 AND c.doctor_id = $2)
		   OR (c.patient_id = $2 AND c.doctor_id = $1)
	`
	return scanConversation(r.db.QueryRow(ctx, query, userA, userB))
}

func (r *ConversationRepository) GetByID(ctx context.Context, conversationID int64) (*models.Conversation, error) {
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations c
		WHERE c.id = $1
	`
	return scanConversation(r.db.QueryRow(ctx, query, conversationID))
}

// ListForParticipant annotates each conversation with the newest message that
// has not been deleted.
func (r *ConversationRepository) ListForParticipant(
	ctx context.Context,
	participantID int64,
	status models.ConversationStatus,
) ([]models.ConversationSummary, error) {
	query := `
		SELECT ` + conversationColumns + `,
			p.unread_count,
			` + prefixedMessageColumns("lm") + `
		FROM conversations c
		JOIN conversation_participants p
		  ON p.conversation_id = c.id
		 AND p.user_id = $1
		 AND p.membership_status = 'active'
		LEFT JOIN LATERAL (
			SELECT *
			FROM messages m
			WHERE m.conversation_id = c.id AND m.is_deleted = FALSE
			ORDER BY m.id DESC
			LIMIT 1
		) lm ON TRUE
		WHERE c.status = $2
		ORDER BY c.last_message_at DESC NULLS LAST, c.id DESC
	`

	rows, err := r.db.Query(ctx, query, participantID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]models.ConversationSummary, 0)
	for rows.Next() {
		var summary models.ConversationSummary
		var last nullableMessage
		dest := append(conversationScanTargets(&summary.Conversation), &summary.UnreadCount)
		dest = append(dest, last.targets()...)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		summary.LastMessage = last.message()
		if other, ok := summary.Conversation.OtherParticipant(participantID); ok {
			summary.OtherUserID = other
		}
		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return summaries, nil
}

func (r *ConversationRepository) SetLastMessage(
	ctx context.Context,
	conversationID int64,
	messageID int64,
	at time.Time,
) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversations
		SET last_message_id = $2,
		    last_message_at = $3,
		    updated_at = NOW()
		WHERE id = $1
	`, conversationID, messageID, at)
	return err
}

func (r *ConversationRepository) SetStatus(
	ctx context.Context,
	conversationID int64,
	status models.ConversationStatus,
) (*models.Conversation, error) {
	query := `
		UPDATE conversations AS c
		SET status = $2, updated_at = NOW()
		WHERE c.id = $1
		RETURNING ` + conversationColumns
	return scanConversation(r.db.QueryRow(ctx, query, conversationID, status))
}

func conversationScanTargets(conversation *models.Conversation) []any {
	return []any{
		&conversation.ID,
		&conversation.PatientID,
		&conversation.DoctorID,
		&conversation.Status,
		&conversation.LastMessageID,
		&conversation.LastMessageAt,
		&conversation.EncryptionKey,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
	}
}

func scanConversation(row pgx.Row) (*models.Conversation, error) {
	var conversation models.Conversation
	if err := row.Scan(conversationScanTargets(&conversation)...); err != nil {
		return nil, err
	}
	return &conversation, nil
}
