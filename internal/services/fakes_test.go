package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Matar-GTB/CarnetdeSante-sub000/internal/models"
	"github.com/Matar-GTB/CarnetdeSante-sub000/internal/repository"
)

type participantKey struct {
	conversationID int64
	userID         int64
}

// memoryStore mirrors ChatStore semantics in memory, including the
// one-conversation-per-pair rule and the unread counters.
type memoryStore struct {
	mu               sync.Mutex
	users            map[int64]*models.User
	conversations    map[int64]*models.Conversation
	participants     map[participantKey]*models.ConversationParticipant
	messages         []*models.Message
	reactions        map[int64]models.ReactionMap
	presence         map[int64]bool
	appendErr        error
	createCalls      int
	participantReads int
}

func newMemoryStore(users ...models.User) *memoryStore {
	store := &memoryStore{
		users:         make(map[int64]*models.User),
		conversations: make(map[int64]*models.Conversation),
		participants:  make(map[participantKey]*models.ConversationParticipant),
		reactions:     make(map[int64]models.ReactionMap),
		presence:      make(map[int64]bool),
	}
	for i := range users {
		user := users[i]
		store.users[user.ID] = &user
	}
	return store
}

func (s *memoryStore) GetUser(_ context.Context, userID int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *user
	return &copied, nil
}

func (s *memoryStore) findByPair(userA int64, userB int64) *models.Conversation {
	for _, conversation := range s.conversations {
		if (conversation.PatientID == userA && conversation.DoctorID == userB) ||
			(conversation.PatientID == userB && conversation.DoctorID == userA) {
			return conversation
		}
	}
	return nil
}

func (s *memoryStore) FindConversationByPair(_ context.Context, userA int64, userB int64) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conversation := s.findByPair(userA, userB); conversation != nil {
		copied := *conversation
		return &copied, nil
	}
	return nil, pgx.ErrNoRows
}

func (s *memoryStore) CreateConversation(_ context.Context, patientID int64, doctorID int64, key []byte) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.createCalls++
	if existing := s.findByPair(patientID, doctorID); existing != nil {
		copied := *existing
		return &copied, nil
	}

	now := time.Now().UTC()
	conversation := &models.Conversation{
		ID:            int64(len(s.conversations) + 1),
		PatientID:     patientID,
		DoctorID:      doctorID,
		Status:        models.ConversationActive,
		EncryptionKey: key,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.conversations[conversation.ID] = conversation
	for _, userID := range []int64{patientID, doctorID} {
		s.participants[participantKey{conversation.ID, userID}] = &models.ConversationParticipant{
			ConversationID:       conversation.ID,
			UserID:               userID,
			CanWrite:             true,
			NotificationsEnabled: true,
			MembershipStatus:     models.MembershipActive,
			JoinedAt:             now,
		}
	}

	copied := *conversation
	return &copied, nil
}

func (s *memoryStore) GetConversation(_ context.Context, conversationID int64) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conversation, ok := s.conversations[conversationID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *conversation
	return &copied, nil
}

func (s *memoryStore) GetParticipant(_ context.Context, conversationID int64, userID int64) (*models.ConversationParticipant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.participantReads++
	participant, ok := s.participants[participantKey{conversationID, userID}]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *participant
	return &copied, nil
}

func (s *memoryStore) ListConversations(_ context.Context, userID int64, status models.ConversationStatus) ([]models.ConversationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var summaries []models.ConversationSummary
	for _, conversation := range s.conversations {
		participant, ok := s.participants[participantKey{conversation.ID, userID}]
		if !ok || !participant.Active() || conversation.Status != status {
			continue
		}
		other, _ := conversation.OtherParticipant(userID)
		summary := models.ConversationSummary{
			Conversation: *conversation,
			UnreadCount:  participant.UnreadCount,
			OtherUserID:  other,
		}
		for i := len(s.messages) - 1; i >= 0; i-- {
			if message := s.messages[i]; message.ConversationID == conversation.ID && !message.IsDeleted {
				last := *message
				summary.LastMessage = &last
				break
			}
		}
		summaries = append(summaries, summary)
	}

	sort.Slice(summaries, func(i, j int) bool {
		a, b := summaries[i].LastMessageAt, summaries[j].LastMessageAt
		switch {
		case a == nil && b == nil:
			return summaries[i].ID > summaries[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.After(*b)
		default:
			return summaries[i].ID > summaries[j].ID
		}
	})
	return summaries, nil
}

func (s *memoryStore) SetConversationStatus(_ context.Context, conversationID int64, status models.ConversationStatus) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conversation, ok := s.conversations[conversationID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	conversation.Status = status
	copied := *conversation
	return &copied, nil
}

func (s *memoryStore) AppendMessage(_ context.Context, input repository.CreateMessageInput) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.appendErr != nil {
		return nil, s.appendErr
	}

	// strictly increasing timestamps keep ordering assertions deterministic
	createdAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(len(s.messages)) * time.Second)
	message := &models.Message{
		ID:             int64(len(s.messages) + 1),
		ConversationID: input.ConversationID,
		SenderID:       input.SenderID,
		RecipientID:    input.RecipientID,
		ParentID:       input.ParentID,
		Reactions:      models.ReactionMap{},
		CreatedAt:      createdAt,
	}
	message.ApplyContent(input.Content)
	s.messages = append(s.messages, message)

	conversation := s.conversations[input.ConversationID]
	conversation.LastMessageID = &message.ID
	conversation.LastMessageAt = &message.CreatedAt
	s.participants[participantKey{input.ConversationID, input.RecipientID}].UnreadCount++

	copied := *message
	return &copied, nil
}

func (s *memoryStore) GetMessage(_ context.Context, messageID int64) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if messageID <= 0 || int(messageID) > len(s.messages) {
		return nil, pgx.ErrNoRows
	}
	copied := *s.messages[messageID-1]
	copied.Reactions = s.reactionsFor(messageID)
	return &copied, nil
}

func (s *memoryStore) ListMessages(_ context.Context, conversationID int64, limit int, offset int) ([]models.Message, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var newestFirst []models.Message
	for i := len(s.messages) - 1; i >= 0; i-- {
		message := s.messages[i]
		if message.ConversationID != conversationID || message.IsDeleted {
			continue
		}
		copied := *message
		copied.Reactions = s.reactionsFor(message.ID)
		newestFirst = append(newestFirst, copied)
	}

	total := len(newestFirst)
	if offset >= total {
		return []models.Message{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return newestFirst[offset:end], total, nil
}

func (s *memoryStore) MarkConversationRead(_ context.Context, conversationID int64, readerID int64, readAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var updated int64
	for _, message := range s.messages {
		if message.ConversationID == conversationID && message.RecipientID == readerID && !message.IsRead {
			message.IsRead = true
			at := readAt
			message.ReadAt = &at
			updated++
		}
	}
	if participant, ok := s.participants[participantKey{conversationID, readerID}]; ok {
		participant.UnreadCount = 0
	}
	return updated, nil
}

func (s *memoryStore) SoftDeleteMessage(_ context.Context, messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages[messageID-1].IsDeleted = true
	return nil
}

func (s *memoryStore) EditMessage(_ context.Context, messageID int64, text string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	message := s.messages[messageID-1]
	message.Content = text
	message.IsEdited = true
	now := time.Now().UTC()
	message.EditedAt = &now
	copied := *message
	return &copied, nil
}

func (s *memoryStore) AddReaction(_ context.Context, messageID int64, userID int64, emoji string) (models.ReactionMap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reactions, ok := s.reactions[messageID]
	if !ok {
		reactions = models.ReactionMap{}
		s.reactions[messageID] = reactions
	}
	reactions.Add(emoji, userID)
	return reactions.Clone(), nil
}

func (s *memoryStore) RemoveReaction(_ context.Context, messageID int64, userID int64, emoji string) (models.ReactionMap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if reactions, ok := s.reactions[messageID]; ok {
		reactions.Remove(emoji, userID)
	}
	return s.reactionsFor(messageID), nil
}

func (s *memoryStore) SetPresence(_ context.Context, userID int64, online bool, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.presence[userID] = online
	return nil
}

func (s *memoryStore) reactionsFor(messageID int64) models.ReactionMap {
	if reactions, ok := s.reactions[messageID]; ok {
		return reactions.Clone()
	}
	return models.ReactionMap{}
}

func (s *memoryStore) unread(conversationID int64, userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.participants[participantKey{conversationID, userID}].UnreadCount
}

func (s *memoryStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.messages)
}

type sentEvent struct {
	conversationID int64
	event          models.Event
	notify         []int64
	global         bool
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []sentEvent
	online map[int64]bool
}

func (b *recordingBroadcaster) BroadcastToRoom(conversationID int64, event models.Event, notify ...int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, sentEvent{conversationID: conversationID, event: event, notify: notify})
}

func (b *recordingBroadcaster) BroadcastAll(event models.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, sentEvent{event: event, global: true})
}

func (b *recordingBroadcaster) IsOnline(userID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.online[userID]
}

func (b *recordingBroadcaster) sent() []sentEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]sentEvent(nil), b.events...)
}

func (b *recordingBroadcaster) last() sentEvent {
	events := b.sent()
	if len(events) == 0 {
		return sentEvent{}
	}
	return events[len(events)-1]
}
