//go:build windows

package netstack

import (
	"basp/pkg/transport"
	"basp/pkg/transport/winpipe"
)

func newWinPipeTransport() (transport.Transport, error) { return winpipe.New(), nil }
