package media

import (
	"context"

	"go.uber.org/zap"

	"tgmirror/internal/database"
	"tgmirror/internal/models"
)

// Fetcher is the slice of the transport the resolver needs: byte transfer
// and the partial-hash probe. Implemented by both the daemon RPC client and
// a direct session.
type Fetcher interface {
	// DownloadMedia fetches the message's media into the media directory
	// and returns the media-relative path ("<channelID>/<filename>").
	DownloadMedia(ctx context.Context, ch models.ChannelRef, msgID int) (string, error)
	// MediaHash returns the partial content hash and total size of the
	// message's media. needsHash is false when the file is too small to
	// have a hash.
	MediaHash(ctx context.Context, ch models.ChannelRef, msgID int) (hash string, size int64, needsHash bool, err error)
}

// Resolver turns a message with pending media into a message with a local
// file, preferring a local backup copy over a network download.
type Resolver struct {
	DB       *database.DB
	MediaDir string
	Log      *zap.Logger
}

// Resolve fetches media for one message and records the outcome on the row.
// Returns the stored relative path, or "" when the media stays pending.
func (r *Resolver) Resolve(ctx context.Context, fetcher Fetcher, ch *models.Channel, msg *models.Message) (string, error) {
	path, err := r.locate(ctx, fetcher, ch, msg)
	if err != nil {
		// Keep the row pending so a later run retries.
		if dbErr := r.DB.UpdateMessageMedia(ch.ID, msg.ID, "", true); dbErr != nil {
			r.Log.Error("mark media pending", zap.Int64("channel", ch.ID), zap.Int("msg", msg.ID), zap.Error(dbErr))
		}
		return "", err
	}
	if err := r.DB.UpdateMessageMedia(ch.ID, msg.ID, path, false); err != nil {
		return "", err
	}
	return path, nil
}

func (r *Resolver) locate(ctx context.Context, fetcher Fetcher, ch *models.Channel, msg *models.Message) (string, error) {
	if ch.BackupPath != "" {
		path, found, err := r.fromBackup(ctx, fetcher, ch, msg)
		if err != nil {
			return "", err
		}
		if found {
			return path, nil
		}
	}
	return fetcher.DownloadMedia(ctx, ch.Ref(), msg.ID)
}

// fromBackup probes the remote file's leading bytes and looks the hash up
// in the channel's backup index. Small files skip the index entirely.
func (r *Resolver) fromBackup(ctx context.Context, fetcher Fetcher, ch *models.Channel, msg *models.Message) (string, bool, error) {
	hash, size, needsHash, err := fetcher.MediaHash(ctx, ch.Ref(), msg.ID)
	if err != nil {
		return "", false, err
	}
	if !needsHash || hash == "" {
		return "", false, nil
	}

	backupFile, found, err := r.DB.FindBackupByHash(ch.ID, hash)
	if err != nil || !found {
		return "", false, err
	}

	path, err := CopyFromBackup(backupFile, r.MediaDir, ch.ID)
	if err != nil {
		r.Log.Warn("copy from backup failed, falling back to download",
			zap.String("file", backupFile), zap.Error(err))
		return "", false, nil
	}
	r.Log.Info("recovered media from backup",
		zap.Int64("channel", ch.ID), zap.Int("msg", msg.ID),
		zap.Int64("size", size), zap.String("path", path))
	return path, true, nil
}
