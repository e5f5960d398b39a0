package sync

import (
	"context"

	"go.uber.org/zap"

	"tgmirror/internal/database"
	"tgmirror/internal/rpc"
	"tgmirror/internal/telegram"
)

// Dial picks the transport for a sync run: the daemon when it answers a
// ping, otherwise a direct session on the primary credential. The returned
// closer releases the direct session; for the daemon it is a no-op.
func Dial(ctx context.Context, db *database.DB, host string, port int, sessionDir, mediaDir string, log *zap.Logger) (Transport, func(), error) {
	if rpc.IsDaemonRunning(host, port) {
		log.Info("daemon is running, using rpc transport",
			zap.String("host", host), zap.Int("port", port))
		return rpc.NewClient(host, port), func() {}, nil
	}

	log.Info("daemon not reachable, connecting directly")
	sess, err := telegram.DirectSession(ctx, db, sessionDir, mediaDir, log)
	if err != nil {
		return nil, nil, err
	}
	return sess, sess.Stop, nil
}
