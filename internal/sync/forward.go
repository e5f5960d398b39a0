package sync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tgmirror/internal/database"
	"tgmirror/internal/errs"
	"tgmirror/internal/media"
	"tgmirror/internal/models"
)

const (
	// defaultRetryLimit caps pending-media retries per channel per run so
	// a poisoned attachment cannot monopolize the run.
	defaultRetryLimit = 5
	// firstSyncFetch is how many newest messages are examined on a
	// channel's very first sync; only one of them is kept.
	firstSyncFetch = 10
)

// ForwardEngine pulls new messages for every active channel: everything
// newer than the locally newest id, oldest first, so the local newest id
// only ever grows and an interrupted run resumes for free.
type ForwardEngine struct {
	DB         *database.DB
	Transport  Transport
	Resolver   *media.Resolver
	Log        *zap.Logger
	RetryLimit int
}

func (e *ForwardEngine) retryLimit() int {
	if e.RetryLimit > 0 {
		return e.RetryLimit
	}
	return defaultRetryLimit
}

// Run syncs every active channel once. A flood wait on one channel skips
// that channel and moves on; the next run picks it up again.
func (e *ForwardEngine) Run(ctx context.Context) error {
	channels, err := e.DB.ActiveChannels()
	if err != nil {
		return err
	}
	for i := range channels {
		ch := &channels[i]
		if err := e.SyncChannel(ctx, ch); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if seconds, ok := errs.AsFloodWait(err); ok {
				e.Log.Warn("flood wait, skipping channel",
					zap.Int64("channel", ch.ID), zap.Int("seconds", seconds))
				continue
			}
			e.Log.Error("channel sync failed", zap.Int64("channel", ch.ID), zap.Error(err))
		}
	}
	return nil
}

// SyncChannel fetches and stores everything new for one channel, then
// retries a bounded number of earlier failed media downloads and imports
// the remote read state.
func (e *ForwardEngine) SyncChannel(ctx context.Context, ch *models.Channel) error {
	if err := e.DB.EnsureMessagesTable(ch.ID); err != nil {
		return err
	}

	latest, haveAny, err := e.DB.LatestMessageID(ch.ID)
	if err != nil {
		return err
	}

	var fetched []models.Message
	if !haveAny {
		fetched, err = e.firstSync(ctx, ch)
	} else {
		fetched, err = e.Transport.IterMessages(ctx, ch.Ref(), models.MessageQuery{MinID: latest})
	}
	if err != nil {
		return err
	}
	fetched = dropPolls(fetched)

	for i := range fetched {
		msg := &fetched[i]
		msg.MediaPending = media.WantDownload(ch, msg.MediaType)
	}
	inserted, err := e.DB.InsertMessages(ch.ID, fetched)
	if err != nil {
		return err
	}
	if len(fetched) > 0 {
		e.Log.Info("forward sync",
			zap.Int64("channel", ch.ID),
			zap.Int("fetched", len(fetched)), zap.Int("inserted", inserted))
		if err := e.DB.UpdateChannelLastActive(ch.ID, time.Now().Unix()); err != nil {
			return err
		}
	}

	// New media first, one at a time: forward sync favors latency of the
	// text mirror over download throughput.
	for i := range fetched {
		msg := &fetched[i]
		if !msg.MediaPending {
			continue
		}
		if _, err := e.Resolver.Resolve(ctx, e.Transport, ch, msg); err != nil {
			if _, ok := errs.AsFloodWait(err); ok {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.Log.Warn("media download failed, left pending",
				zap.Int64("channel", ch.ID), zap.Int("msg", msg.ID), zap.Error(err))
		}
	}

	if err := e.retryPending(ctx, ch); err != nil {
		return err
	}
	return e.importReadState(ctx, ch)
}

// dropPolls filters poll messages out: they carry nothing to mirror.
func dropPolls(msgs []models.Message) []models.Message {
	out := msgs[:0]
	for _, m := range msgs {
		if m.MediaType == "poll" {
			continue
		}
		out = append(out, m)
	}
	return out
}

// firstSync seeds an empty channel with exactly one message, the newest
// real one, so backward sync has a boundary to grow from. Polls are passed
// over: they carry nothing to mirror.
func (e *ForwardEngine) firstSync(ctx context.Context, ch *models.Channel) ([]models.Message, error) {
	page, err := e.Transport.IterMessages(ctx, ch.Ref(), models.MessageQuery{Limit: firstSyncFetch})
	if err != nil {
		return nil, err
	}
	for i := range page {
		if page[i].MediaType != "poll" {
			return page[i : i+1], nil
		}
	}
	return nil, nil
}

// retryPending re-attempts at most RetryLimit earlier media failures. Each
// message is re-fetched first: the media may have been edited or the
// message deleted since the failure.
func (e *ForwardEngine) retryPending(ctx context.Context, ch *models.Channel) error {
	pending, err := e.DB.PendingMedia(ch.ID, e.retryLimit())
	if err != nil || len(pending) == 0 {
		return err
	}
	e.Log.Info("retrying pending media",
		zap.Int64("channel", ch.ID), zap.Int("count", len(pending)))

	ids := make([]int, len(pending))
	for i, msg := range pending {
		ids[i] = msg.ID
	}
	current, err := e.Transport.GetMessages(ctx, ch.Ref(), ids)
	if err != nil {
		return err
	}
	byID := make(map[int]*models.Message, len(current))
	for i := range current {
		byID[current[i].ID] = &current[i]
	}

	for i := range pending {
		msg := &pending[i]
		fresh, exists := byID[msg.ID]
		if !exists || !media.Downloadable(fresh.MediaType) {
			// Gone or stripped remotely; stop retrying it.
			if err := e.DB.UpdateMessageMedia(ch.ID, msg.ID, "", false); err != nil {
				return err
			}
			continue
		}
		if _, err := e.Resolver.Resolve(ctx, e.Transport, ch, msg); err != nil {
			if _, ok := errs.AsFloodWait(err); ok {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.Log.Warn("pending media retry failed",
				zap.Int64("channel", ch.ID), zap.Int("msg", msg.ID), zap.Error(err))
		}
	}
	return nil
}

// importReadState mirrors the remote read position into local rows.
func (e *ForwardEngine) importReadState(ctx context.Context, ch *models.Channel) error {
	maxID, err := e.Transport.ReadState(ctx, ch.Ref())
	if err != nil {
		if _, ok := errs.AsFloodWait(err); ok {
			return err
		}
		e.Log.Warn("read state fetch failed", zap.Int64("channel", ch.ID), zap.Error(err))
		return nil
	}
	if maxID <= 0 {
		return nil
	}
	marked, err := e.DB.MarkReadFromRemote(ch.ID, maxID, time.Now().Unix())
	if err != nil {
		return err
	}
	if marked > 0 {
		e.Log.Debug("imported read state",
			zap.Int64("channel", ch.ID), zap.Int("max_id", maxID), zap.Int64("marked", marked))
	}
	return nil
}
