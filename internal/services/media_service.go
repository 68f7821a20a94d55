package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Matar-GTB/CarnetdeSante-sub000/internal/media"
	"github.com/Matar-GTB/CarnetdeSante-sub000/internal/metrics"
	"github.com/Matar-GTB/CarnetdeSante-sub000/internal/models"
	"github.com/Matar-GTB/CarnetdeSante-sub000/internal/repository"
)

const mediaFolder = "chat"

type imageTranscoder interface {
	Transcode(data []byte) ([]byte, string, error)
}

// MediaService turns an uploaded file into a media message. Every check and
// the image pass run before anything is stored.
type MediaService struct {
	chat       *ChatService
	storage    StorageService
	policy     media.Policy
	transcoder imageTranscoder
	logger     *zap.Logger
}

type MediaUploadInput struct {
	ConversationID int64
	ParentID       *int64
	Filename       string
	ContentType    string
	Size           int64
	File           io.Reader
}

func NewMediaService(
	chat *ChatService,
	storage StorageService,
	policy media.Policy,
	transcoder imageTranscoder,
	logger *zap.Logger,
) *MediaService {
	return &MediaService{
		chat:       chat,
		storage:    storage,
		policy:     policy,
		transcoder: transcoder,
		logger:     logger,
	}
}

func (s *MediaService) AcceptUpload(
	ctx context.Context,
	actorID int64,
	input MediaUploadInput,
) (*models.Message, error) {
	if s.storage == nil {
		return nil, ErrStorageUnavailable
	}
	if input.ConversationID <= 0 || input.File == nil {
		return nil, ErrInvalidInput
	}

	conversation, recipientID, err := s.chat.authorizeWriter(ctx, input.ConversationID, actorID)
	if err != nil {
		return nil, err
	}

	ext, err := s.policy.Check(input.Filename, input.Size)
	if err != nil {
		return nil, s.reject(err)
	}

	if err := s.chat.validateParent(ctx, conversation.ID, input.ParentID); err != nil {
		return nil, err
	}

	// the declared size is not trusted; read at most one byte past the limit
	limit := s.policy.MaxBytes
	if limit <= 0 {
		limit = media.DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(input.File, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if _, err := s.policy.Check(input.Filename, int64(len(data))); err != nil {
		return nil, s.reject(err)
	}

	kind := media.Classify(media.DetectMIME(input.ContentType, data))
	if kind == models.KindImage {
		data, ext, err = s.transcoder.Transcode(data)
		if err != nil {
			metrics.MediaRejected.WithLabelValues("transcoding").Inc()
			s.logger.Warn("image transcoding failed",
				zap.Int64("conversation_id", conversation.ID),
				zap.Int64("sender_id", actorID),
				zap.String("filename", input.Filename),
				zap.Error(err),
			)
			return nil, fmt.Errorf("%w: %v", ErrTranscoding, err)
		}
	}

	fileURL, err := s.storage.UploadFile(ctx, bytes.NewReader(data), uuid.NewString()+ext, mediaFolder)
	if err != nil {
		return nil, err
	}

	message, err := s.chat.appendAndPublish(ctx, repository.CreateMessageInput{
		ConversationID: conversation.ID,
		SenderID:       actorID,
		RecipientID:    recipientID,
		ParentID:       input.ParentID,
		Content: models.MediaContent{Media: models.MediaAttachment{
			Kind:         kind,
			URL:          fileURL,
			OriginalName: originalName(input.Filename),
			SizeBytes:    int64(len(data)),
		}},
	})
	if err != nil {
		cleanupErr := s.storage.DeleteFile(ctx, fileURL)
		if cleanupErr != nil {
			return nil, errors.Join(err, fmt.Errorf("cleanup failed: %w", cleanupErr))
		}
		return nil, err
	}

	return message, nil
}

func (s *MediaService) reject(err error) error {
	reason := "invalid"
	switch {
	case errors.Is(err, media.ErrTooLarge):
		reason = "too_large"
	case errors.Is(err, media.ErrDisallowedExtension):
		reason = "extension"
	case errors.Is(err, media.ErrEmpty):
		reason = "empty"
	}
	metrics.MediaRejected.WithLabelValues(reason).Inc()
	return fmt.Errorf("%w: %v", ErrUnsupportedMedia, err)
}

func originalName(filename string) string {
	name := filepath.Base(strings.ReplaceAll(strings.TrimSpace(filename), `\`, "/"))
	if name == "." || name == "/" {
		return "upload"
	}
	return name
}
