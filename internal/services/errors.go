package services

import "errors"

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrUnsupportedMedia   = errors.New("unsupported media")
	ErrTranscoding        = errors.New("media transcoding failed")
	ErrStorageUnavailable = errors.New("storage service is not configured")
)
