package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Matar-GTB/CarnetdeSante-sub000/internal/models"
)

var messageColumnNames = []string{
	"id", "conversation_id", "sender_id", "recipient_id", "kind", "content",
	"ciphertext", "media_url", "media_original_name", "media_size_bytes",
	"parent_id", "is_read", "read_at", "is_deleted", "is_edited", "edited_at",
	"created_at",
}

func prefixedMessageColumns(alias string) string {
	cols := make([]string, len(messageColumnNames))
	for i, name := range messageColumnNames {
		cols[i] = alias + "." + name
	}
	return strings.Join(cols, ", ")
}

type CreateMessageInput struct {
	ConversationID int64
	SenderID       int64
	RecipientID    int64
	ParentID       *int64
	Content        models.MessageContent
}

type MessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(ctx context.Context, input CreateMessageInput) (*models.Message, error) {
	var (
		content      *string
		ciphertext   []byte
		mediaURL     *string
		originalName *string
		sizeBytes    *int64
	)

	switch c := input.Content.(type) {
	case models.TextContent:
		content = &c.Text
	case models.EncryptedContent:
		ciphertext = c.Ciphertext
	case models.MediaContent:
		mediaURL = &c.Media.URL
		originalName = &c.Media.OriginalName
		sizeBytes = &c.Media.SizeBytes
	default:
		return nil, fmt.Errorf("unsupported message content %T", input.Content)
	}

	query := `
		INSERT INTO messages AS m (
			conversation_id, sender_id, recipient_id, kind, content, ciphertext,
			media_url, media_original_name, media_size_bytes, parent_id, is_read
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, FALSE)
		RETURNING ` + prefixedMessageColumns("m")

	return scanMessage(r.db.QueryRow(
		ctx,
		query,
		input.ConversationID,
		input.SenderID,
		input.RecipientID,
		input.Content.Kind(),
		content,
		ciphertext,
		mediaURL,
		originalName,
		sizeBytes,
		input.ParentID,
	))
}

func (r *MessageRepository) GetByID(ctx context.Context, messageID int64) (*models.Message, error) {
	query := `
		SELECT ` + prefixedMessageColumns("m") + `
		FROM messages m
		WHERE m.id = $1
	`
	return scanMessage(r.db.QueryRow(ctx, query, messageID))
}

// ListByConversation returns one page of live messages, newest first.
func (r *MessageRepository) ListByConversation(
	ctx context.Context,
	conversationID int64,
	limit int,
	offset int,
) ([]models.Message, int, error) {
	totalQuery := `
		SELECT COUNT(*)
		FROM messages
		WHERE conversation_id = $1 AND is_deleted = FALSE
	`

	var total int
	if err := r.db.QueryRow(ctx, totalQuery, conversationID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + prefixedMessageColumns("m") + `
		FROM messages m
		WHERE m.conversation_id = $1 AND m.is_deleted = FALSE
		ORDER BY m.id DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, conversationID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		messages = append(messages, *message)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return messages, total, nil
}

// MarkConversationRead flags every unread message addressed to the reader.
func (r *MessageRepository) MarkConversationRead(
	ctx context.Context,
	conversationID int64,
	readerID int64,
	readAt time.Time,
) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE messages
		SET is_read = TRUE, read_at = $3
		WHERE conversation_id = $1
		  AND recipient_id = $2
		  AND is_read = FALSE
	`, conversationID, readerID, readAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *MessageRepository) SoftDelete(ctx context.Context, messageID int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE messages
		SET is_deleted = TRUE, deleted_at = NOW()
		WHERE id = $1 AND is_deleted = FALSE
	`, messageID)
	return err
}

func (r *MessageRepository) UpdateText(ctx context.Context, messageID int64, text string) (*models.Message, error) {
	query := `
		UPDATE messages AS m
		SET content = $2, is_edited = TRUE, edited_at = NOW()
		WHERE m.id = $1
		RETURNING ` + prefixedMessageColumns("m")
	return scanMessage(r.db.QueryRow(ctx, query, messageID, text))
}

// nullableMessage receives a LEFT JOINed message row.
type nullableMessage struct {
	id             *int64
	conversationID *int64
	senderID       *int64
	recipientID    *int64
	kind           *string
	content        *string
	ciphertext     []byte
	mediaURL       *string
	originalName   *string
	sizeBytes      *int64
	parentID       *int64
	isRead         *bool
	readAt         *time.Time
	isDeleted      *bool
	isEdited       *bool
	editedAt       *time.Time
	createdAt      *time.Time
}

func (n *nullableMessage) targets() []any {
	return []any{
		&n.id, &n.conversationID, &n.senderID, &n.recipientID, &n.kind,
		&n.content, &n.ciphertext, &n.mediaURL, &n.originalName, &n.sizeBytes,
		&n.parentID, &n.isRead, &n.readAt, &n.isDeleted, &n.isEdited,
		&n.editedAt, &n.createdAt,
	}
}

func (n *nullableMessage) message() *models.Message {
	if n.id == nil {
		return nil
	}

	message := &models.Message{
		ID:             *n.id,
		ConversationID: deref(n.conversationID),
		SenderID:       deref(n.senderID),
		RecipientID:    deref(n.recipientID),
		ParentID:       n.parentID,
		IsRead:         deref(n.isRead),
		ReadAt:         n.readAt,
		IsDeleted:      deref(n.isDeleted),
		IsEdited:       deref(n.isEdited),
		EditedAt:       n.editedAt,
		CreatedAt:      deref(n.createdAt),
	}
	hydrateContent(message, models.MessageKind(deref(n.kind)), n.content, n.ciphertext, n.mediaURL, n.originalName, n.sizeBytes)
	return message
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var n nullableMessage
	if err := row.Scan(n.targets()...); err != nil {
		return nil, err
	}
	return n.message(), nil
}

func hydrateContent(
	message *models.Message,
	kind models.MessageKind,
	content *string,
	ciphertext []byte,
	mediaURL *string,
	originalName *string,
	sizeBytes *int64,
) {
	switch {
	case len(ciphertext) > 0:
		message.ApplyContent(models.EncryptedContent{Ciphertext: ciphertext})
	case mediaURL != nil:
		message.ApplyContent(models.MediaContent{Media: models.MediaAttachment{
			Kind:         kind,
			URL:          *mediaURL,
			OriginalName: deref(originalName),
			SizeBytes:    deref(sizeBytes),
		}})
	default:
		message.ApplyContent(models.TextContent{Text: deref(content)})
	}
}

func deref[T any](value *T) T {
	var zero T
	if value == nil {
		return zero
	}
	return *value
}
