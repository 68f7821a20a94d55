package models

import "time"

type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindVideo    MessageKind = "video"
	KindAudio    MessageKind = "audio"
	KindDocument MessageKind = "document"
)

const EncryptedPlaceholder = "[encrypted message]"

type MediaAttachment struct {
	Kind         MessageKind `json:"kind"`
	URL          string      `json:"url"`
	OriginalName string      `json:"original_name"`
	SizeBytes    int64       `json:"size_bytes"`
}

// MessageContent is the payload written for a new message. Each variant
// carries only the fields its kind needs.
type MessageContent interface {
	Kind() MessageKind
}

type TextContent struct {
	Text string
}

func (TextContent) Kind() MessageKind { return KindText }

// EncryptedContent holds a sealed text body; the plaintext is never stored.
type EncryptedContent struct {
	Ciphertext []byte
}

func (EncryptedContent) Kind() MessageKind { return KindText }

type MediaContent struct {
	Media MediaAttachment
}

func (c MediaContent) Kind() MessageKind { return c.Media.Kind }

type Message struct {
	ID             int64            `json:"id"`
	ConversationID int64            `json:"conversation_id"`
	SenderID       int64            `json:"sender_id"`
	RecipientID    int64            `json:"recipient_id"`
	Kind           MessageKind      `json:"kind"`
	Content        string           `json:"content"`
	Encrypted      bool             `json:"encrypted"`
	Ciphertext     []byte           `json:"ciphertext,omitempty"`
	Media          *MediaAttachment `json:"media,omitempty"`
	ParentID       *int64           `json:"parent_id,omitempty"`
	IsRead         bool             `json:"is_read"`
	ReadAt         *time.Time       `json:"read_at,omitempty"`
	IsDeleted      bool             `json:"is_deleted"`
	IsEdited       bool             `json:"is_edited"`
	EditedAt       *time.Time       `json:"edited_at,omitempty"`
	Reactions      ReactionMap      `json:"reactions"`
	CreatedAt      time.Time        `json:"created_at"`
}

// ApplyContent fills the read model from a write variant.
func (m *Message) ApplyContent(content MessageContent) {
	m.Kind = content.Kind()
	m.Content = ""
	m.Ciphertext = nil
	m.Encrypted = false
	m.Media = nil

	switch c := content.(type) {
	case TextContent:
		m.Content = c.Text
	case EncryptedContent:
		m.Content = EncryptedPlaceholder
		m.Ciphertext = c.Ciphertext
		m.Encrypted = true
	case MediaContent:
		media := c.Media
		m.Media = &media
	}
}
