package chatws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/Matar-GTB/CarnetdeSante-sub000/internal/metrics"
	"github.com/Matar-GTB/CarnetdeSante-sub000/internal/models"
	"github.com/Matar-GTB/CarnetdeSante-sub000/internal/services"
)

var (
	ErrTransportAuth = errors.New("socket authentication failed")
	errNotInRoom     = errors.New("client has not joined the conversation")
	errUnknownEvent  = errors.New("unknown socket event")
)

const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
	EventSendMessage       = "send_message"
	EventMessageRead       = "message_read"
	EventAddReaction       = "add_reaction"
	EventRemoveReaction    = "remove_reaction"
)

type chatActions interface {
	AuthorizeParticipant(ctx context.Context, conversationID int64, userID int64) error
	DescribeUser(ctx context.Context, userID int64) (*models.UserInfo, error)
	SendMessage(ctx context.Context, actorID int64, input services.SendMessageInput) (*models.Message, error)
	MarkRead(ctx context.Context, actorID int64, conversationID int64) (*models.ReadReceipt, error)
	AddReaction(ctx context.Context, actorID int64, messageID int64, emoji string) (*models.ReactionUpdatedPayload, error)
	RemoveReaction(ctx context.Context, actorID int64, messageID int64, emoji string) (*models.ReactionUpdatedPayload, error)
}

type EventHandler func(ctx context.Context, client *Client, data json.RawMessage) error

// Dispatcher routes inbound socket events to chat operations. Failures are
// logged and never answered on the socket.
type Dispatcher struct {
	hub      *Hub
	chat     chatActions
	handlers map[string]EventHandler
	logger   *zap.Logger
}

func NewDispatcher(hub *Hub, chat chatActions, logger *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		hub:    hub,
		chat:   chat,
		logger: logger,
	}
	d.handlers = map[string]EventHandler{
		EventJoinConversation:  d.handleJoin,
		EventLeaveConversation: d.handleLeave,
		EventTypingStart:       d.handleTypingStart,
		EventTypingStop:        d.handleTypingStop,
		EventSendMessage:       d.handleSendMessage,
		EventMessageRead:       d.handleMessageRead,
		EventAddReaction:       d.handleAddReaction,
		EventRemoveReaction:    d.handleRemoveReaction,
	}
	return d
}

func (d *Dispatcher) Dispatch(ctx context.Context, client *Client, event inboundEvent) {
	handler, ok := d.handlers[event.Name]
	if !ok {
		metrics.SocketEvents.WithLabelValues("unknown", "unknown_event").Inc()
		d.logger.Debug("ignoring socket event",
			zap.String("event", event.Name),
			zap.Int64("user_id", client.UserID),
			zap.Error(errUnknownEvent),
		)
		return
	}

	if err := handler(ctx, client, event.Data); err != nil {
		metrics.SocketEvents.WithLabelValues(event.Name, "error").Inc()
		d.logger.Warn("socket event failed",
			zap.String("event", event.Name),
			zap.Int64("user_id", client.UserID),
			zap.Error(err),
		)
		return
	}
	metrics.SocketEvents.WithLabelValues(event.Name, "ok").Inc()
}

// flexibleID accepts 12 and "12".
type flexibleID int64

func (id *flexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		if raw == "" {
			*id = 0
			return nil
		}
		data = []byte(raw)
	}
	value, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid id %q", services.ErrInvalidInput, data)
	}
	*id = flexibleID(value)
	return nil
}

type conversationPayload struct {
	ConversationID flexibleID `json:"conversationId"`
}

type sendMessagePayload struct {
	ConversationID flexibleID  `json:"conversationId"`
	Content        string      `json:"content"`
	ParentID       *flexibleID `json:"parentId"`
	Encrypt        bool        `json:"encrypt"`
}

type messageReadPayload struct {
	MessageID      flexibleID `json:"messageId"`
	ConversationID flexibleID `json:"conversationId"`
}

type reactionPayload struct {
	MessageID      flexibleID `json:"messageId"`
	ConversationID flexibleID `json:"conversationId"`
	Emoji          string     `json:"emoji"`
}

func decode(data json.RawMessage, target any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing event data", services.ErrInvalidInput)
	}
	if err := json.Unmarshal(data, target); err != nil {
		if errors.Is(err, services.ErrInvalidInput) {
			return err
		}
		return fmt.Errorf("%w: %v", services.ErrInvalidInput, err)
	}
	return nil
}

func (d *Dispatcher) handleJoin(ctx context.Context, client *Client, data json.RawMessage) error {
	var payload conversationPayload
	if err := decode(data, &payload); err != nil {
		return err
	}
	conversationID := int64(payload.ConversationID)
	if err := d.chat.AuthorizeParticipant(ctx, conversationID, client.UserID); err != nil {
		return err
	}
	d.hub.Join(client, conversationID)
	return nil
}

func (d *Dispatcher) handleLeave(_ context.Context, client *Client, data json.RawMessage) error {
	var payload conversationPayload
	if err := decode(data, &payload); err != nil {
		return err
	}
	d.hub.Leave(client, int64(payload.ConversationID))
	return nil
}

func (d *Dispatcher) handleTypingStart(ctx context.Context, client *Client, data json.RawMessage) error {
	var payload conversationPayload
	if err := decode(data, &payload); err != nil {
		return err
	}
	conversationID := int64(payload.ConversationID)
	if !d.hub.InRoom(client, conversationID) {
		return errNotInRoom
	}

	info, err := d.userInfo(ctx, client)
	if err != nil {
		return err
	}
	d.hub.BroadcastExcept(conversationID, models.Event{
		Name: models.EventUserTyping,
		Data: models.TypingPayload{UserID: client.UserID, UserInfo: info, ConversationID: conversationID},
	}, client)
	return nil
}

func (d *Dispatcher) handleTypingStop(_ context.Context, client *Client, data json.RawMessage) error {
	var payload conversationPayload
	if err := decode(data, &payload); err != nil {
		return err
	}
	conversationID := int64(payload.ConversationID)
	if !d.hub.InRoom(client, conversationID) {
		return errNotInRoom
	}

	d.hub.BroadcastExcept(conversationID, models.Event{
		Name: models.EventUserStopTyping,
		Data: models.TypingPayload{UserID: client.UserID, ConversationID: conversationID},
	}, client)
	return nil
}

func (d *Dispatcher) handleSendMessage(ctx context.Context, client *Client, data json.RawMessage) error {
	var payload sendMessagePayload
	if err := decode(data, &payload); err != nil {
		return err
	}

	input := services.SendMessageInput{
		ConversationID: int64(payload.ConversationID),
		Content:        payload.Content,
		Encrypt:        payload.Encrypt,
	}
	if payload.ParentID != nil && *payload.ParentID != 0 {
		parentID := int64(*payload.ParentID)
		input.ParentID = &parentID
	}

	_, err := d.chat.SendMessage(ctx, client.UserID, input)
	return err
}

// handleMessageRead marks the whole conversation read; messageId only
// identifies what the client saw last.
func (d *Dispatcher) handleMessageRead(ctx context.Context, client *Client, data json.RawMessage) error {
	var payload messageReadPayload
	if err := decode(data, &payload); err != nil {
		return err
	}
	_, err := d.chat.MarkRead(ctx, client.UserID, int64(payload.ConversationID))
	return err
}

func (d *Dispatcher) handleAddReaction(ctx context.Context, client *Client, data json.RawMessage) error {
	var payload reactionPayload
	if err := decode(data, &payload); err != nil {
		return err
	}
	_, err := d.chat.AddReaction(ctx, client.UserID, int64(payload.MessageID), payload.Emoji)
	return err
}

func (d *Dispatcher) handleRemoveReaction(ctx context.Context, client *Client, data json.RawMessage) error {
	var payload reactionPayload
	if err := decode(data, &payload); err != nil {
		return err
	}
	_, err := d.chat.RemoveReaction(ctx, client.UserID, int64(payload.MessageID), payload.Emoji)
	return err
}

// userInfo is loaded once per connection; only the read goroutine touches it.
func (d *Dispatcher) userInfo(ctx context.Context, client *Client) (*models.UserInfo, error) {
	if client.info != nil {
		return client.info, nil
	}
	info, err := d.chat.DescribeUser(ctx, client.UserID)
	if err != nil {
		return nil, err
	}
	client.info = info
	return info, nil
}
