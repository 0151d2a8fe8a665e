package service

import "errors"

var (
	// ErrThreadNotFound indicates the requested thread does not exist.
	ErrThreadNotFound = errors.New("thread not found")
	// ErrMessageNotFound indicates the requested message does not exist.
	ErrMessageNotFound = errors.New("message not found")
	// ErrForbidden indicates the caller may not act on the thread or message.
	ErrForbidden = errors.New("forbidden")
	// ErrAttachmentTooLarge indicates a decoded attachment exceeded the configured limit.
	ErrAttachmentTooLarge = errors.New("file too large")
	// ErrInvalidAttachment indicates an attachment body could not be decoded.
	ErrInvalidAttachment = errors.New("invalid attachment payload")
	// ErrEmptyContent indicates the message carried no visible text.
	ErrEmptyContent = errors.New("message content is empty")
	// ErrMissingUserID indicates an operation was attempted without a user id.
	ErrMissingUserID = errors.New("user id required")
)
