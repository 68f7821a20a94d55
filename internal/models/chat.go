package models

import (
	"sort"
	"time"
)

type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "active"
	ConversationArchived ConversationStatus = "archived"
	ConversationBlocked  ConversationStatus = "blocked"
)

func (s ConversationStatus) Valid() bool {
	switch s {
	case ConversationActive, ConversationArchived, ConversationBlocked:
		return true
	default:
		return false
	}
}

type MembershipStatus string

const (
	MembershipActive  MembershipStatus = "active"
	MembershipLeft    MembershipStatus = "left"
	MembershipRemoved MembershipStatus = "removed"
)

// Conversation is the single thread between a patient (role A) and a doctor
// (role B).
type Conversation struct {
	ID            int64              `json:"id"`
	PatientID     int64              `json:"patient_id"`
	DoctorID      int64              `json:"doctor_id"`
	Status        ConversationStatus `json:"status"`
	LastMessageID *int64             `json:"last_message_id,omitempty"`
	LastMessageAt *time.Time         `json:"last_message_at,omitempty"`
	EncryptionKey []byte             `json:"encryption_key,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// OtherParticipant returns the counterpart of userID, or false when userID is
// not part of the conversation.
func (c *Conversation) OtherParticipant(userID int64) (int64, bool) {
	switch {
	case c == nil:
		return 0, false
	case c.PatientID == userID:
		return c.DoctorID, true
	case c.DoctorID == userID:
		return c.PatientID, true
	default:
		return 0, false
	}
}

type ConversationParticipant struct {
	ConversationID       int64            `json:"conversation_id"`
	UserID               int64            `json:"user_id"`
	CanWrite             bool             `json:"can_write"`
	Online               bool             `json:"online"`
	LastSeenAt           *time.Time       `json:"last_seen_at,omitempty"`
	NotificationsEnabled bool             `json:"notifications_enabled"`
	MembershipStatus     MembershipStatus `json:"membership_status"`
	UnreadCount          int              `json:"unread_count"`
	JoinedAt             time.Time        `json:"joined_at"`
}

func (p *ConversationParticipant) Active() bool {
	return p != nil && p.MembershipStatus == MembershipActive
}

type ConversationSummary struct {
	Conversation
	LastMessage     *Message `json:"last_message,omitempty"`
	UnreadCount     int      `json:"unread_count"`
	OtherUserID     int64    `json:"other_user_id"`
	OtherUserOnline bool     `json:"other_user_online"`
}

// ReactionMap maps an emoji to the ids of the users who applied it. Each set
// is kept sorted and free of duplicates.
type ReactionMap map[string][]int64

func (m ReactionMap) Add(emoji string, userID int64) {
	users := m[emoji]
	idx := sort.Search(len(users), func(i int) bool { return users[i] >= userID })
	if idx < len(users) && users[idx] == userID {
		return
	}
	users = append(users, 0)
	copy(users[idx+1:], users[idx:])
	users[idx] = userID
	m[emoji] = users
}

func (m ReactionMap) Remove(emoji string, userID int64) {
	users, ok := m[emoji]
	if !ok {
		return
	}
	idx := sort.Search(len(users), func(i int) bool { return users[i] >= userID })
	if idx >= len(users) || users[idx] != userID {
		return
	}
	users = append(users[:idx], users[idx+1:]...)
	if len(users) == 0 {
		delete(m, emoji)
		return
	}
	m[emoji] = users
}

func (m ReactionMap) Clone() ReactionMap {
	out := make(ReactionMap, len(m))
	for emoji, users := range m {
		out[emoji] = append([]int64(nil), users...)
	}
	return out
}

type ReadReceipt struct {
	ConversationID int64     `json:"conversationId"`
	ReadBy         int64     `json:"readBy"`
	ReadAt         time.Time `json:"readAt"`
	Updated        int64     `json:"-"`
}
