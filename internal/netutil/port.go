package netutil

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"
)

// ErrNoFreePort is returned when every port in the scanned range is taken.
var ErrNoFreePort = errors.New("no free port found")

// ListenFirstFree binds a TCP listener on the first port in [start, start+span)
// that is not already in use. The listener found by the scan is the one served
// on, so no other process can take the port after the scan. Ports refused with
// EADDRINUSE or EACCES are skipped; any other bind error stops the scan.
func ListenFirstFree(host string, start, span int) (net.Listener, error) {
	if span <= 0 {
		span = 1
	}
	for port := start; port < start+span && port <= 65535; port++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err == nil {
			return ln, nil
		}
		if !isPortBusy(err) {
			return nil, fmt.Errorf("listen on port %d: %w", port, err)
		}
	}
	return nil, fmt.Errorf("%w in %d-%d", ErrNoFreePort, start, start+span-1)
}

func isPortBusy(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE) || errors.Is(err, syscall.EACCES)
}
