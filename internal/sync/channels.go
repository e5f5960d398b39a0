package sync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tgmirror/internal/database"
	"tgmirror/internal/errs"
	"tgmirror/internal/models"
)

// ChannelEngine reconciles the channel list with the account's dialogs:
// new subscriptions appear, vanished ones are marked unsubscribed (rows
// and mirrored data are never dropped), metadata and profile photos are
// refreshed.
type ChannelEngine struct {
	DB        *database.DB
	Transport Transport
	Log       *zap.Logger
}

func (e *ChannelEngine) Run(ctx context.Context) error {
	dialogs, err := e.iterDialogs(ctx)
	if err != nil {
		return err
	}

	known, err := e.DB.SubscribedChannelIDs()
	if err != nil {
		return err
	}

	added, updated := 0, 0
	for i := range dialogs {
		ch := &dialogs[i]

		prior, err := e.DB.GetChannel(ch.ID)
		if err != nil {
			return err
		}
		inserted, err := e.DB.UpsertChannel(ch)
		if err != nil {
			return err
		}
		delete(known, ch.ID)
		if inserted {
			added++
		} else {
			updated++
		}

		if ch.PhotoID != 0 && (prior == nil || prior.PhotoID != ch.PhotoID) {
			if _, err := e.Transport.DownloadProfilePhoto(ctx, ch.Ref()); err != nil {
				if _, ok := errs.AsFloodWait(err); ok {
					return err
				}
				e.Log.Warn("profile photo download failed",
					zap.Int64("channel", ch.ID), zap.Error(err))
			}
		}
	}

	// Whatever is left was subscribed before but absent from the dialog
	// list now.
	if len(known) > 0 {
		ids := make([]int64, 0, len(known))
		for id := range known {
			ids = append(ids, id)
		}
		marked, err := e.DB.MarkUnsubscribed(ids, time.Now().Unix())
		if err != nil {
			return err
		}
		e.Log.Info("marked unsubscribed channels", zap.Int64("count", marked))
	}

	e.Log.Info("channel sync done",
		zap.Int("dialogs", len(dialogs)), zap.Int("added", added), zap.Int("updated", updated))
	return nil
}

// iterDialogs fetches the dialog list, absorbing one flood wait by
// sleeping it out and retrying once. Dialog listing is cheap and the whole
// run is pointless without it.
func (e *ChannelEngine) iterDialogs(ctx context.Context) ([]models.Channel, error) {
	dialogs, err := e.Transport.IterDialogs(ctx)
	if err == nil {
		return dialogs, nil
	}
	seconds, ok := errs.AsFloodWait(err)
	if !ok {
		return nil, err
	}

	e.Log.Warn("flood wait on dialog list, sleeping", zap.Int("seconds", seconds))
	timer := time.NewTimer(time.Duration(seconds+1) * time.Second)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}
	return e.Transport.IterDialogs(ctx)
}
