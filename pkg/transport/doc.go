// Package transport defines the byte-stream interfaces BASP runs over and
// provides implementations (tcp, quic, mem, winpipe) plus a session manager
// that hands out connection handles.
//
// Key concepts:
//   - Transport: dials/listens for Sessions of a specific Kind
//   - Session: an ordered byte stream; BASP frames are read from it by size
//   - Manager: assigns a ConnID to every live session and closes them on shutdown
package transport
