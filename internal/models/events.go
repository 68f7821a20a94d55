package models

import "time"

const (
	EventNewMessage        = "new_message"
	EventMessagesRead      = "messages_read"
	EventReactionUpdated   = "reaction_updated"
	EventUserTyping        = "user_typing"
	EventUserStopTyping    = "user_stop_typing"
	EventUserStatusChanged = "user_status_changed"
	EventMessageDeleted    = "message_deleted"
	EventMessageEdited     = "message_edited"
)

// Event is a server to client notification as written on the socket.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

type NewMessagePayload struct {
	Message *Message `json:"message"`
}

type ReactionUpdatedPayload struct {
	MessageID      int64       `json:"messageId"`
	ConversationID int64       `json:"conversationId"`
	Reactions      ReactionMap `json:"reactions"`
}

type UserInfo struct {
	ID       int64   `json:"id"`
	Role     string  `json:"role"`
	FullName *string `json:"fullName,omitempty"`
}

type TypingPayload struct {
	UserID         int64     `json:"userId"`
	UserInfo       *UserInfo `json:"userInfo,omitempty"`
	ConversationID int64     `json:"conversationId"`
}

type StatusChangedPayload struct {
	UserID    int64     `json:"userId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type MessageDeletedPayload struct {
	MessageID      int64 `json:"messageId"`
	ConversationID int64 `json:"conversationId"`
}

type MessageEditedPayload struct {
	Message *Message `json:"message"`
}
