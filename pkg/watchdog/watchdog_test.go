// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package watchdog

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithoutNotifySocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	n := New()
	assert.False(t, n.Enabled())
	assert.NoError(t, n.Ready())
	assert.NoError(t, n.Ping())
}

func TestNewAndPingOverUnixgram(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "notify.sock")

	addr, err := net.ResolveUnixAddr("unixgram", sockPath)
	require.NoError(t, err)
	conn, err := net.ListenUnixgram("unixgram", addr)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	t.Setenv("NOTIFY_SOCKET", sockPath)
	n := New()
	require.True(t, n.Enabled())

	require.NoError(t, n.Ready())

	buf := make([]byte, 64)
	readLen, _, err := conn.ReadFromUnix(buf)
	require.NoError(t, err)
	assert.Equal(t, "READY=1", string(buf[:readLen]))

	require.NoError(t, n.Ping())
	readLen, _, err = conn.ReadFromUnix(buf)
	require.NoError(t, err)
	assert.Equal(t, "WATCHDOG=1", string(buf[:readLen]))
}

func TestAbstractSocketRewrite(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "@sensorpushd/notify")
	n := New()
	require.True(t, n.Enabled())
	assert.Equal(t, "\x00sensorpushd/notify", n.addr.Name)
}
