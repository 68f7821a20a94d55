package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Matar-GTB/CarnetdeSante-sub000/internal/models"
)

const pgUniqueViolation = "23505"

// ChatStore groups the chat repositories and runs the multi-row writes of the
// messaging core inside a single transaction.
type ChatStore struct {
	db            *pgxpool.Pool
	users         *UserRepository
	conversations *ConversationRepository
	participants  *ParticipantRepository
	messages      *MessageRepository
	reactions     *ReactionRepository
}

func NewChatStore(db *pgxpool.Pool) *ChatStore {
	return &ChatStore{
		db:            db,
		users:         NewUserRepository(db),
		conversations: NewConversationRepository(db),
		participants:  NewParticipantRepository(db),
		messages:      NewMessageRepository(db),
		reactions:     NewReactionRepository(db),
	}
}

func (s *ChatStore) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	return s.users.GetByID(ctx, userID)
}

func (s *ChatStore) FindConversationByPair(ctx context.Context, userA int64, userB int64) (*models.Conversation, error) {
	return s.conversations.GetByPair(ctx, userA, userB)
}

// CreateConversation inserts the conversation and both participant rows. When
// a concurrent writer wins the pair, the existing conversation is returned.
func (s *ChatStore) CreateConversation(
	ctx context.Context,
	patientID int64,
	doctorID int64,
	encryptionKey []byte,
) (*models.Conversation, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txConversationRepo := NewConversationRepository(tx)
	txParticipantRepo := NewParticipantRepository(tx)

	conversation, err := txConversationRepo.InsertIfAbsent(ctx, patientID, doctorID, encryptionKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
			_ = tx.Rollback(ctx)
			return s.conversations.GetByPair(ctx, patientID, doctorID)
		}
		return nil, err
	}

	if err := txParticipantRepo.Create(ctx, conversation.ID, patientID); err != nil {
		return nil, err
	}
	if err := txParticipantRepo.Create(ctx, conversation.ID, doctorID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return s.conversations.GetByPair(ctx, patientID, doctorID)
		}
		return nil, err
	}

	return conversation, nil
}

func (s *ChatStore) GetConversation(ctx context.Context, conversationID int64) (*models.Conversation, error) {
	return s.conversations.GetByID(ctx, conversationID)
}

func (s *ChatStore) GetParticipant(
	ctx context.Context,
	conversationID int64,
	userID int64,
) (*models.ConversationParticipant, error) {
	return s.participants.Get(ctx, conversationID, userID)
}

func (s *ChatStore) ListConversations(
	ctx context.Context,
	userID int64,
	status models.ConversationStatus,
) ([]models.ConversationSummary, error) {
	return s.conversations.ListForParticipant(ctx, userID, status)
}

func (s *ChatStore) SetConversationStatus(
	ctx context.Context,
	conversationID int64,
	status models.ConversationStatus,
) (*models.Conversation, error) {
	return s.conversations.SetStatus(ctx, conversationID, status)
}

// AppendMessage stores the message, moves the conversation pointer and bumps
// the recipient's unread counter.
func (s *ChatStore) AppendMessage(ctx context.Context, input CreateMessageInput) (*models.Message, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txMessageRepo := NewMessageRepository(tx)
	txConversationRepo := NewConversationRepository(tx)
	txParticipantRepo := NewParticipantRepository(tx)

	message, err := txMessageRepo.Create(ctx, input)
	if err != nil {
		return nil, err
	}

	if err := txConversationRepo.SetLastMessage(ctx, input.ConversationID, message.ID, message.CreatedAt); err != nil {
		return nil, err
	}

	if err := txParticipantRepo.IncrementUnread(ctx, input.ConversationID, input.RecipientID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	message.Reactions = models.ReactionMap{}
	return message, nil
}

func (s *ChatStore) GetMessage(ctx context.Context, messageID int64) (*models.Message, error) {
	message, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}

	reactions, err := s.reactions.ForMessages(ctx, []int64{messageID})
	if err != nil {
		return nil, err
	}
	message.Reactions = reactionsOrEmpty(reactions[messageID])
	return message, nil
}

func (s *ChatStore) ListMessages(
	ctx context.Context,
	conversationID int64,
	limit int,
	offset int,
) ([]models.Message, int, error) {
	messages, total, err := s.messages.ListByConversation(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	ids := make([]int64, 0, len(messages))
	for _, message := range messages {
		ids = append(ids, message.ID)
	}

	reactions, err := s.reactions.ForMessages(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range messages {
		messages[i].Reactions = reactionsOrEmpty(reactions[messages[i].ID])
	}

	return messages, total, nil
}

// MarkConversationRead flags the reader's messages and zeroes the counter.
func (s *ChatStore) MarkConversationRead(
	ctx context.Context,
	conversationID int64,
	readerID int64,
	readAt time.Time,
) (int64, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	updated, err := NewMessageRepository(tx).MarkConversationRead(ctx, conversationID, readerID, readAt)
	if err != nil {
		return 0, err
	}

	if err := NewParticipantRepository(tx).ResetUnread(ctx, conversationID, readerID); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	return updated, nil
}

func (s *ChatStore) SoftDeleteMessage(ctx context.Context, messageID int64) error {
	return s.messages.SoftDelete(ctx, messageID)
}

func (s *ChatStore) EditMessage(ctx context.Context, messageID int64, text string) (*models.Message, error) {
	message, err := s.messages.UpdateText(ctx, messageID, text)
	if err != nil {
		return nil, err
	}

	reactions, err := s.reactions.ForMessages(ctx, []int64{messageID})
	if err != nil {
		return nil, err
	}
	message.Reactions = reactionsOrEmpty(reactions[messageID])
	return message, nil
}

func (s *ChatStore) AddReaction(ctx context.Context, messageID int64, userID int64, emoji string) (models.ReactionMap, error) {
	if err := s.reactions.Add(ctx, messageID, userID, emoji); err != nil {
		return nil, err
	}
	return s.reactionMap(ctx, messageID)
}

func (s *ChatStore) RemoveReaction(ctx context.Context, messageID int64, userID int64, emoji string) (models.ReactionMap, error) {
	if err := s.reactions.Remove(ctx, messageID, userID, emoji); err != nil {
		return nil, err
	}
	return s.reactionMap(ctx, messageID)
}

func (s *ChatStore) SetPresence(ctx context.Context, userID int64, online bool, at time.Time) error {
	return s.participants.SetPresence(ctx, userID, online, at)
}

func (s *ChatStore) reactionMap(ctx context.Context, messageID int64) (models.ReactionMap, error) {
	reactions, err := s.reactions.ForMessages(ctx, []int64{messageID})
	if err != nil {
		return nil, err
	}
	return reactionsOrEmpty(reactions[messageID]), nil
}

func reactionsOrEmpty(reactions models.ReactionMap) models.ReactionMap {
	if reactions == nil {
		return models.ReactionMap{}
	}
	return reactions
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
