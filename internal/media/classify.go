// Package media validates, classifies and transcodes chat attachments.
package media

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"

	"github.com/Matar-GTB/CarnetdeSante-sub000/internal/models"
)

const DefaultMaxBytes int64 = 50 * 1024 * 1024

var (
	ErrDisallowedExtension = errors.New("file type is not allowed")
	ErrTooLarge            = errors.New("file exceeds the size limit")
	ErrEmpty               = errors.New("file is empty")
)

var allowedExtensions = map[string]struct{}{
	".jpeg": {}, ".jpg": {}, ".png": {}, ".gif": {},
	".mp4": {}, ".avi": {}, ".mov": {},
	".mp3": {}, ".wav": {},
	".pdf": {}, ".doc": {}, ".docx": {},
}

// Policy bounds what an upload may be before any bytes are processed.
type Policy struct {
	MaxBytes int64
}

// Check validates the declared name and size and returns the normalized
// extension.
func (p Policy) Check(filename string, size int64) (string, error) {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(filename)))
	if _, ok := allowedExtensions[ext]; !ok {
		return "", fmt.Errorf("%w: %q", ErrDisallowedExtension, ext)
	}
	if size <= 0 {
		return "", ErrEmpty
	}
	if max := p.maxBytes(); size > max {
		return "", fmt.Errorf("%w: %s is over %s", ErrTooLarge, humanize.IBytes(uint64(size)), humanize.IBytes(uint64(max)))
	}
	return ext, nil
}

func (p Policy) maxBytes() int64 {
	if p.MaxBytes <= 0 {
		return DefaultMaxBytes
	}
	return p.MaxBytes
}

// DetectMIME trusts the declared type unless it is missing or generic, in
// which case the content is sniffed.
func DetectMIME(declared string, content []byte) string {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if idx := strings.IndexByte(declared, ';'); idx >= 0 {
		declared = strings.TrimSpace(declared[:idx])
	}
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return mimetype.Detect(content).String()
}

// Classify maps a MIME type onto a message kind. Unknown types are documents.
func Classify(mimeType string) models.MessageKind {
	major, _, _ := strings.Cut(strings.ToLower(mimeType), "/")
	switch major {
	case "image":
		return models.KindImage
	case "video":
		return models.KindVideo
	case "audio":
		return models.KindAudio
	default:
		return models.KindDocument
	}
}
