//go:build !windows

package netstack

import (
	"errors"

	"basp/pkg/transport"
)

var errWinPipeUnsupported = errors.New("winpipe transport is not supported on this platform")

func newWinPipeTransport() (transport.Transport, error) { return nil, errWinPipeUnsupported }
