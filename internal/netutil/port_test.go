package netutil

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func occupy(t *testing.T) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return ln, ln.Addr().(*net.TCPAddr).Port
}

func TestListenFirstFreeSkipsBusyPort(t *testing.T) {
	_, busy := occupy(t)

	ln, err := ListenFirstFree("127.0.0.1", busy, 20)
	require.NoError(t, err)
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port
	require.Greater(t, port, busy)
	require.Less(t, port, busy+20)
}

func TestListenFirstFreeExhaustedRange(t *testing.T) {
	_, busy := occupy(t)

	_, err := ListenFirstFree("127.0.0.1", busy, 1)
	require.ErrorIs(t, err, ErrNoFreePort)
}
