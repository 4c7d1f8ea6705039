package broker

import "errors"

var (
	// ErrClosed is returned by operations on a closed broker.
	ErrClosed = errors.New("broker closed")
	// ErrUnknownActor: no local actor with that id.
	ErrUnknownActor = errors.New("unknown actor")
	// ErrHandshakeFailed: the connection ended before the server handshake completed.
	ErrHandshakeFailed = errors.New("handshake failed")
)
