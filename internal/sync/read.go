package sync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tgmirror/internal/database"
	"tgmirror/internal/errs"
	"tgmirror/internal/models"
)

// ReadEngine reconciles read state in both directions: locally-read
// messages are acknowledged to Telegram, and the remote read position is
// pulled down onto local rows.
type ReadEngine struct {
	DB        *database.DB
	Transport Transport
	Log       *zap.Logger
}

func (e *ReadEngine) Run(ctx context.Context) error {
	channels, err := e.DB.ActiveChannels()
	if err != nil {
		return err
	}

	for i := range channels {
		ch := &channels[i]
		if err := e.DB.EnsureMessagesTable(ch.ID); err != nil {
			return err
		}
		if err := e.syncChannel(ctx, ch.ID, ch.Ref()); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if seconds, ok := errs.AsFloodWait(err); ok {
				e.Log.Warn("flood wait, skipping channel",
					zap.Int64("channel", ch.ID), zap.Int("seconds", seconds))
				continue
			}
			e.Log.Error("read sync failed", zap.Int64("channel", ch.ID), zap.Error(err))
		}
	}
	return nil
}

func (e *ReadEngine) syncChannel(ctx context.Context, chID int64, ref models.ChannelRef) error {
	// Push: acknowledge local reads the remote has not seen.
	maxID, count, err := e.DB.UnackedReadMaxID(chID)
	if err != nil {
		return err
	}
	if count > 0 {
		if err := e.Transport.SendReadAck(ctx, ref, maxID); err != nil {
			return err
		}
		acked, err := e.DB.MarkReadAcked(chID, maxID)
		if err != nil {
			return err
		}
		e.Log.Info("acknowledged local reads",
			zap.Int64("channel", chID), zap.Int("max_id", maxID), zap.Int64("rows", acked))
	}

	// Pull: mirror the remote read position.
	remote, err := e.Transport.ReadState(ctx, ref)
	if err != nil {
		return err
	}
	if remote > 0 {
		marked, err := e.DB.MarkReadFromRemote(chID, remote, time.Now().Unix())
		if err != nil {
			return err
		}
		if marked > 0 {
			e.Log.Info("imported remote read state",
				zap.Int64("channel", chID), zap.Int("max_id", remote), zap.Int64("rows", marked))
		}
	}
	return nil
}
