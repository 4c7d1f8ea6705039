package protocol

import "errors"

var (
	// ErrMalformedMessage marks bytes that fail structural or per-type validity.
	ErrMalformedMessage = errors.New("malformed BASP message")
	// ErrSerializationFailed marks a payload writer or reader failure.
	ErrSerializationFailed = errors.New("BASP payload serialization failed")
)
