package chat

import "errors"

var (
	// ErrValidation is returned when message content breaks the content rules.
	ErrValidation = errors.New("chat: invalid content")
	// ErrMediaUpload is returned when an image could not be stored.
	ErrMediaUpload = errors.New("chat: media upload failed")
	// ErrNotFound is returned for unknown receivers and messages.
	ErrNotFound = errors.New("chat: not found")
	// ErrPersistence is returned when the store rejects a read or write.
	ErrPersistence = errors.New("chat: persistence failed")
)
