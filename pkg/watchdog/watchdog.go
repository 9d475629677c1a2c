// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package watchdog implements the systemd sd_notify wire protocol: READY=1
// and WATCHDOG=1 datagrams sent to the socket named by NOTIFY_SOCKET.
//
// There is no supervisor process when NOTIFY_SOCKET is unset (e.g. running
// outside a systemd unit); Notifier.Ready and Notifier.Ping become silent no-ops in that
// case so the daemon behaves identically with or without systemd.
package watchdog

import (
	"net"
	"os"
	"strings"

	"github.com/bolausson/SensorPush/pkg/logger"
)

// Notifier sends sd_notify datagrams to the socket named by NOTIFY_SOCKET.
type Notifier struct {
	addr *net.UnixAddr
}

// New reads NOTIFY_SOCKET and returns a Notifier. If the environment
// variable is unset, the returned Notifier's methods are no-ops.
func New() *Notifier {
	path := os.Getenv("NOTIFY_SOCKET")
	if path == "" {
		return &Notifier{}
	}

	// Abstract sockets are addressed with a leading '@' on the command
	// line/environment but require a leading NUL byte on the wire.
	if strings.HasPrefix(path, "@") {
		path = "\x00" + path[1:]
	}

	return &Notifier{addr: &net.UnixAddr{Name: path, Net: "unixgram"}}
}

// Enabled reports whether NOTIFY_SOCKET was configured.
func (n *Notifier) Enabled() bool {
	return n != nil && n.addr != nil
}

// Ready sends READY=1.
func (n *Notifier) Ready() error {
	return n.send("READY=1")
}

// Ping sends WATCHDOG=1.
func (n *Notifier) Ping() error {
	return n.send("WATCHDOG=1")
}

func (n *Notifier) send(state string) error {
	if !n.Enabled() {
		return nil
	}

	conn, err := net.DialUnix("unixgram", nil, n.addr)
	if err != nil {
		logger.Debug().Err(err).Str("state", state).Msg("watchdog notify dial failed")
		return err
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.Write([]byte(state)); err != nil {
		logger.Debug().Err(err).Str("state", state).Msg("watchdog notify write failed")
		return err
	}
	return nil
}
