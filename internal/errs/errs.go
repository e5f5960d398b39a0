// Package errs defines the error taxonomy shared by the daemon, the RPC
// client and the sync engines.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthRequired means the credential has no valid session material.
	// Fatal for that credential until an operator re-authenticates; other
	// credentials keep serving.
	ErrAuthRequired = errors.New("authentication required")

	// ErrDaemonUnavailable means the RPC server could not be reached. Sync
	// entry points catch this once per run and fall back to a direct session.
	ErrDaemonUnavailable = errors.New("daemon unavailable")

	// ErrSessionLost means the remote terminated the session and the single
	// transparent reconnect attempt did not help.
	ErrSessionLost = errors.New("session lost")

	// ErrConnectFailed means a connection to Telegram could not be established.
	ErrConnectFailed = errors.New("connect failed")
)

// FloodWait is a remote-imposed rate limit. The caller must sleep at least
// Seconds before retrying the identical call; never a permanent failure.
type FloodWait struct {
	Seconds int
}

func (e *FloodWait) Error() string {
	return fmt.Sprintf("flood wait: must wait %d seconds", e.Seconds)
}

// AsFloodWait reports whether err carries a flood wait and its duration.
func AsFloodWait(err error) (int, bool) {
	var fw *FloodWait
	if errors.As(err, &fw) {
		return fw.Seconds, true
	}
	return 0, false
}

// Remote wraps any other failure reported by the daemon or by Telegram.
type Remote struct {
	Msg string
}

func (e *Remote) Error() string {
	return "remote error: " + e.Msg
}
