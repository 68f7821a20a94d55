package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/Matar-GTB/CarnetdeSante-sub000/internal/metrics"
	"github.com/Matar-GTB/CarnetdeSante-sub000/internal/models"
	"github.com/Matar-GTB/CarnetdeSante-sub000/internal/repository"
)

const (
	DefaultMessagePageSize = 50
	maxMessageLength       = 10000
)

type chatStore interface {
	GetUser(ctx context.Context, userID int64) (*models.User, error)
	FindConversationByPair(ctx context.Context, userA int64, userB int64) (*models.Conversation, error)
	CreateConversation(ctx context.Context, patientID int64, doctorID int64, encryptionKey []byte) (*models.Conversation, error)
	GetConversation(ctx context.Context, conversationID int64) (*models.Conversation, error)
	GetParticipant(ctx context.Context, conversationID int64, userID int64) (*models.ConversationParticipant, error)
	ListConversations(ctx context.Context, userID int64, status models.ConversationStatus) ([]models.ConversationSummary, error)
	SetConversationStatus(ctx context.Context, conversationID int64, status models.ConversationStatus) (*models.Conversation, error)
	AppendMessage(ctx context.Context, input repository.CreateMessageInput) (*models.Message, error)
	GetMessage(ctx context.Context, messageID int64) (*models.Message, error)
	ListMessages(ctx context.Context, conversationID int64, limit int, offset int) ([]models.Message, int, error)
	MarkConversationRead(ctx context.Context, conversationID int64, readerID int64, readAt time.Time) (int64, error)
	SoftDeleteMessage(ctx context.Context, messageID int64) error
	EditMessage(ctx context.Context, messageID int64, text string) (*models.Message, error)
	AddReaction(ctx context.Context, messageID int64, userID int64, emoji string) (models.ReactionMap, error)
	RemoveReaction(ctx context.Context, messageID int64, userID int64, emoji string) (models.ReactionMap, error)
}

// Broadcaster fans events out to socket connections.
type Broadcaster interface {
	BroadcastToRoom(conversationID int64, event models.Event, notify ...int64)
	BroadcastAll(event models.Event)
}

type presenceLookup interface {
	IsOnline(userID int64) bool
}

type ChatService struct {
	store       chatStore
	broadcaster Broadcaster
	presence    presenceLookup
	logger      *zap.Logger
	now         func() time.Time
}

type SendMessageInput struct {
	ConversationID int64
	Content        string
	ParentID       *int64
	Encrypt        bool
}

func NewChatService(
	store chatStore,
	broadcaster Broadcaster,
	presence presenceLookup,
	logger *zap.Logger,
) *ChatService {
	return &ChatService{
		store:       store,
		broadcaster: broadcaster,
		presence:    presence,
		logger:      logger,
		now:         time.Now,
	}
}

// GetOrCreateConversation resolves the single conversation between the actor
// and another user, creating it on first contact.
func (s *ChatService) GetOrCreateConversation(
	ctx context.Context,
	actorID int64,
	otherUserID int64,
) (*models.Conversation, error) {
	if actorID <= 0 || otherUserID <= 0 {
		return nil, ErrInvalidInput
	}
	if actorID == otherUserID {
		return nil, fmt.Errorf("%w: cannot start a conversation with yourself", ErrInvalidInput)
	}

	conversation, err := s.store.FindConversationByPair(ctx, actorID, otherUserID)
	if err == nil {
		return conversation, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	actor, err := s.loadUser(ctx, actorID)
	if err != nil {
		return nil, err
	}
	other, err := s.loadUser(ctx, otherUserID)
	if err != nil {
		return nil, err
	}

	patientID, doctorID, ok := pairRoles(actor, other)
	if !ok {
		return nil, fmt.Errorf("%w: a conversation needs one patient and one doctor", ErrInvalidInput)
	}

	key, err := newConversationKey()
	if err != nil {
		return nil, err
	}

	conversation, err = s.store.CreateConversation(ctx, patientID, doctorID, key)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("conversation resolved",
		zap.Int64("conversation_id", conversation.ID),
		zap.Int64("patient_id", patientID),
		zap.Int64("doctor_id", doctorID),
	)
	return conversation, nil
}

func (s *ChatService) ListConversations(
	ctx context.Context,
	actorID int64,
	status string,
) ([]models.ConversationSummary, error) {
	if actorID <= 0 {
		return nil, ErrInvalidInput
	}

	filter := models.ConversationActive
	if status != "" {
		filter = models.ConversationStatus(status)
		if !filter.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
		}
	}

	summaries, err := s.store.ListConversations(ctx, actorID, filter)
	if err != nil {
		return nil, err
	}

	if s.presence != nil {
		for i := range summaries {
			summaries[i].OtherUserOnline = s.presence.IsOnline(summaries[i].OtherUserID)
		}
	}
	return summaries, nil
}

// UpdateConversationStatus moves a conversation between active and archived.
func (s *ChatService) UpdateConversationStatus(
	ctx context.Context,
	actorID int64,
	conversationID int64,
	status string,
) (*models.Conversation, error) {
	target := models.ConversationStatus(status)
	if target != models.ConversationActive && target != models.ConversationArchived {
		return nil, fmt.Errorf("%w: status must be active or archived", ErrInvalidInput)
	}

	conversation, err := s.authorizeReader(ctx, conversationID, actorID)
	if err != nil {
		return nil, err
	}
	if conversation.Status == models.ConversationBlocked {
		return nil, fmt.Errorf("%w: conversation is blocked", ErrForbidden)
	}
	if conversation.Status == target {
		return conversation, nil
	}

	return s.store.SetConversationStatus(ctx, conversationID, target)
}

// AuthorizeParticipant reports whether the user may observe the conversation.
func (s *ChatService) AuthorizeParticipant(ctx context.Context, conversationID int64, userID int64) error {
	_, err := s.authorizeReader(ctx, conversationID, userID)
	return err
}

func (s *ChatService) DescribeUser(ctx context.Context, userID int64) (*models.UserInfo, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &models.UserInfo{ID: user.ID, Role: user.Role, FullName: user.FullName}, nil
}

func (s *ChatService) SendMessage(
	ctx context.Context,
	actorID int64,
	input SendMessageInput,
) (*models.Message, error) {
	if input.ConversationID <= 0 {
		return nil, ErrInvalidInput
	}

	text := strings.TrimSpace(input.Content)
	if text == "" {
		return nil, fmt.Errorf("%w: message content is empty", ErrInvalidInput)
	}
	if utf8.RuneCountInString(text) > maxMessageLength {
		return nil, fmt.Errorf("%w: message exceeds %d characters", ErrInvalidInput, maxMessageLength)
	}

	conversation, recipientID, err := s.authorizeWriter(ctx, input.ConversationID, actorID)
	if err != nil {
		return nil, err
	}
	if err := s.validateParent(ctx, conversation.ID, input.ParentID); err != nil {
		return nil, err
	}

	var content models.MessageContent = models.TextContent{Text: text}
	if input.Encrypt && len(conversation.EncryptionKey) > 0 {
		sealed, err := sealMessage(conversation.EncryptionKey, conversation.ID, []byte(text))
		if err != nil {
			return nil, err
		}
		content = models.EncryptedContent{Ciphertext: sealed}
	}

	return s.appendAndPublish(ctx, repository.CreateMessageInput{
		ConversationID: conversation.ID,
		SenderID:       actorID,
		RecipientID:    recipientID,
		ParentID:       input.ParentID,
		Content:        content,
	})
}

// ListMessages returns one page in chronological order. Page 1 holds the most
// recent messages.
func (s *ChatService) ListMessages(
	ctx context.Context,
	actorID int64,
	conversationID int64,
	page int,
	limit int,
) ([]models.Message, int, error) {
	if conversationID <= 0 || page <= 0 || limit <= 0 {
		return nil, 0, ErrInvalidInput
	}

	if _, err := s.authorizeReader(ctx, conversationID, actorID); err != nil {
		return nil, 0, err
	}

	messages, total, err := s.store.ListMessages(ctx, conversationID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, total, nil
}

// MarkRead flags every message addressed to the reader as read, zeroes the
// reader's unread counter and announces the receipt to the room.
func (s *ChatService) MarkRead(
	ctx context.Context,
	actorID int64,
	conversationID int64,
) (*models.ReadReceipt, error) {
	conversation, err := s.authorizeReader(ctx, conversationID, actorID)
	if err != nil {
		return nil, err
	}

	readAt := s.now().UTC()
	updated, err := s.store.MarkConversationRead(ctx, conversationID, actorID, readAt)
	if err != nil {
		return nil, err
	}

	receipt := &models.ReadReceipt{
		ConversationID: conversationID,
		ReadBy:         actorID,
		ReadAt:         readAt,
		Updated:        updated,
	}

	var notify []int64
	if other, ok := conversation.OtherParticipant(actorID); ok {
		notify = append(notify, other)
	}
	s.publish(conversationID, models.Event{Name: models.EventMessagesRead, Data: receipt}, notify...)
	return receipt, nil
}

func (s *ChatService) AddReaction(
	ctx context.Context,
	actorID int64,
	messageID int64,
	emoji string,
) (*models.ReactionUpdatedPayload, error) {
	emoji, err := validateReaction(emoji)
	if err != nil {
		return nil, err
	}

	message, err := s.reactableMessage(ctx, actorID, messageID)
	if err != nil {
		return nil, err
	}

	reactions, err := s.store.AddReaction(ctx, message.ID, actorID, emoji)
	if err != nil {
		return nil, err
	}
	return s.publishReactions(message, reactions), nil
}

// RemoveReaction drops the actor's reaction. Removing an absent reaction is not
// an error.
func (s *ChatService) RemoveReaction(
	ctx context.Context,
	actorID int64,
	messageID int64,
	emoji string,
) (*models.ReactionUpdatedPayload, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return nil, fmt.Errorf("%w: reaction is required", ErrInvalidInput)
	}

	message, err := s.reactableMessage(ctx, actorID, messageID)
	if err != nil {
		return nil, err
	}

	reactions, err := s.store.RemoveReaction(ctx, message.ID, actorID, emoji)
	if err != nil {
		return nil, err
	}
	return s.publishReactions(message, reactions), nil
}

// DeleteMessage soft-deletes a message. Only its sender may do so.
func (s *ChatService) DeleteMessage(ctx context.Context, actorID int64, messageID int64) error {
	message, err := s.ownMessage(ctx, actorID, messageID)
	if err != nil {
		return err
	}

	if err := s.store.SoftDeleteMessage(ctx, message.ID); err != nil {
		return err
	}

	s.publish(message.ConversationID, models.Event{
		Name: models.EventMessageDeleted,
		Data: models.MessageDeletedPayload{MessageID: message.ID, ConversationID: message.ConversationID},
	}, message.RecipientID)
	return nil
}

func (s *ChatService) EditMessage(
	ctx context.Context,
	actorID int64,
	messageID int64,
	content string,
) (*models.Message, error) {
	text := strings.TrimSpace(content)
	if text == "" || utf8.RuneCountInString(text) > maxMessageLength {
		return nil, ErrInvalidInput
	}

	message, err := s.ownMessage(ctx, actorID, messageID)
	if err != nil {
		return nil, err
	}
	if message.Kind != models.KindText || message.Encrypted {
		return nil, fmt.Errorf("%w: only plaintext messages can be edited", ErrInvalidInput)
	}

	edited, err := s.store.EditMessage(ctx, message.ID, text)
	if err != nil {
		return nil, err
	}

	s.publish(edited.ConversationID, models.Event{
		Name: models.EventMessageEdited,
		Data: models.MessageEditedPayload{Message: edited},
	}, edited.RecipientID)
	return edited, nil
}

// appendAndPublish persists a validated message and notifies the room. It is
// shared by text sends and media uploads.
func (s *ChatService) appendAndPublish(
	ctx context.Context,
	input repository.CreateMessageInput,
) (*models.Message, error) {
	message, err := s.store.AppendMessage(ctx, input)
	if err != nil {
		return nil, err
	}

	metrics.MessagesSent.WithLabelValues(string(message.Kind)).Inc()
	s.publish(message.ConversationID, models.Event{
		Name: models.EventNewMessage,
		Data: models.NewMessagePayload{Message: message},
	}, message.RecipientID)
	return message, nil
}

func (s *ChatService) publish(conversationID int64, event models.Event, notify ...int64) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.BroadcastToRoom(conversationID, event, notify...)
}

func (s *ChatService) publishReactions(
	message *models.Message,
	reactions models.ReactionMap,
) *models.ReactionUpdatedPayload {
	payload := &models.ReactionUpdatedPayload{
		MessageID:      message.ID,
		ConversationID: message.ConversationID,
		Reactions:      reactions,
	}
	s.publish(message.ConversationID, models.Event{Name: models.EventReactionUpdated, Data: payload})
	return payload
}

func (s *ChatService) authorizeReader(
	ctx context.Context,
	conversationID int64,
	actorID int64,
) (*models.Conversation, error) {
	conversation, _, err := s.authorizeMember(ctx, conversationID, actorID)
	return conversation, err
}

// authorizeMember loads the conversation and the actor's active membership.
func (s *ChatService) authorizeMember(
	ctx context.Context,
	conversationID int64,
	actorID int64,
) (*models.Conversation, *models.ConversationParticipant, error) {
	if conversationID <= 0 || actorID <= 0 {
		return nil, nil, ErrInvalidInput
	}

	conversation, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, fmt.Errorf("%w: conversation %d", ErrNotFound, conversationID)
		}
		return nil, nil, err
	}

	participant, err := s.store.GetParticipant(ctx, conversationID, actorID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, fmt.Errorf("%w: not a participant", ErrForbidden)
		}
		return nil, nil, err
	}
	if !participant.Active() {
		return nil, nil, fmt.Errorf("%w: membership is %s", ErrForbidden, participant.MembershipStatus)
	}

	return conversation, participant, nil
}

func (s *ChatService) authorizeWriter(
	ctx context.Context,
	conversationID int64,
	actorID int64,
) (*models.Conversation, int64, error) {
	conversation, participant, err := s.authorizeMember(ctx, conversationID, actorID)
	if err != nil {
		return nil, 0, err
	}
	if !participant.CanWrite {
		return nil, 0, fmt.Errorf("%w: participant cannot write", ErrForbidden)
	}
	if conversation.Status == models.ConversationBlocked {
		return nil, 0, fmt.Errorf("%w: conversation is blocked", ErrForbidden)
	}

	recipientID, ok := conversation.OtherParticipant(actorID)
	if !ok {
		return nil, 0, ErrForbidden
	}
	return conversation, recipientID, nil
}

func (s *ChatService) validateParent(ctx context.Context, conversationID int64, parentID *int64) error {
	if parentID == nil {
		return nil
	}
	if *parentID <= 0 {
		return ErrInvalidInput
	}

	parent, err := s.store.GetMessage(ctx, *parentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: parent message %d does not exist", ErrInvalidInput, *parentID)
		}
		return err
	}
	if parent.ConversationID != conversationID {
		return fmt.Errorf("%w: parent message belongs to another conversation", ErrInvalidInput)
	}
	return nil
}

func (s *ChatService) reactableMessage(ctx context.Context, actorID int64, messageID int64) (*models.Message, error) {
	message, err := s.liveMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorizeReader(ctx, message.ConversationID, actorID); err != nil {
		return nil, err
	}
	return message, nil
}

func (s *ChatService) ownMessage(ctx context.Context, actorID int64, messageID int64) (*models.Message, error) {
	message, err := s.liveMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if message.SenderID != actorID {
		return nil, fmt.Errorf("%w: only the sender can change a message", ErrForbidden)
	}
	if _, _, err := s.authorizeWriter(ctx, message.ConversationID, actorID); err != nil {
		return nil, err
	}
	return message, nil
}

func (s *ChatService) liveMessage(ctx context.Context, messageID int64) (*models.Message, error) {
	if messageID <= 0 {
		return nil, ErrInvalidInput
	}

	message, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: message %d", ErrNotFound, messageID)
		}
		return nil, err
	}
	if message.IsDeleted {
		return nil, fmt.Errorf("%w: message %d", ErrNotFound, messageID)
	}
	return message, nil
}

func (s *ChatService) loadUser(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: user %d", ErrNotFound, userID)
		}
		return nil, err
	}
	return user, nil
}

// pairRoles orders two users into the patient and doctor slots.
func pairRoles(a *models.User, b *models.User) (patientID int64, doctorID int64, ok bool) {
	switch {
	case a.Role == models.RolePatient && b.Role == models.RoleDoctor:
		return a.ID, b.ID, true
	case a.Role == models.RoleDoctor && b.Role == models.RolePatient:
		return b.ID, a.ID, true
	default:
		return 0, 0, false
	}
}
