package basp

import (
	"errors"

	"basp/pkg/protocol"
)

var (
	// ErrMalformedMessage: header or payload failed validity checks. Connection-fatal.
	ErrMalformedMessage = protocol.ErrMalformedMessage
	// ErrSerializationFailed: a payload writer failed. Local to the caller.
	ErrSerializationFailed = protocol.ErrSerializationFailed
	// ErrIncompatibleAppIDs: the peer shares no application identifier with us.
	ErrIncompatibleAppIDs = errors.New("incompatible application ids")
	// ErrIncompatibleVersion: the peer speaks another protocol version.
	ErrIncompatibleVersion = errors.New("incompatible BASP version")
	// ErrRedundantConnection: the peer is ourselves or already connected over this handle.
	ErrRedundantConnection = errors.New("redundant connection")
	// ErrNoRoute: no direct or indirect path to the destination node.
	ErrNoRoute = errors.New("no route to destination node")
)
