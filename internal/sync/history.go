package sync

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"go.uber.org/zap"

	"tgmirror/internal/database"
	"tgmirror/internal/errs"
	"tgmirror/internal/media"
	"tgmirror/internal/models"
)

const (
	defaultBatchSize        = 10
	defaultMediaConcurrency = 5
	defaultPause            = 60 * time.Second
)

// HistoryEngine walks channel history backwards in small batches, pausing
// between rounds. It only serves channels with download_all set: history
// without its media is not an archive. A channel whose oldest stored id
// reaches 1 is exhausted and drops out of the rotation.
type HistoryEngine struct {
	DB          *database.DB
	Transport   Transport
	Resolver    *media.Resolver
	Log         *zap.Logger
	BatchSize   int
	Concurrency int
	Pause       time.Duration
}

func (e *HistoryEngine) batchSize() int {
	if e.BatchSize > 0 {
		return e.BatchSize
	}
	return defaultBatchSize
}

func (e *HistoryEngine) concurrency() int64 {
	if e.Concurrency > 0 {
		return int64(e.Concurrency)
	}
	return defaultMediaConcurrency
}

func (e *HistoryEngine) pause() time.Duration {
	if e.Pause > 0 {
		return e.Pause
	}
	return defaultPause
}

// Run loops over rounds until every channel is exhausted or the context
// ends.
func (e *HistoryEngine) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		allDone, err := e.RunOnce(ctx)
		if err != nil {
			return err
		}
		if allDone {
			e.Log.Info("all channels exhausted, history sync complete")
			return nil
		}

		timer.Reset(e.pause())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RunOnce pulls one batch per channel and reports whether every channel is
// exhausted.
func (e *HistoryEngine) RunOnce(ctx context.Context) (bool, error) {
	channels, err := e.DB.DownloadAllChannels()
	if err != nil {
		return false, err
	}
	if len(channels) == 0 {
		return true, nil
	}

	allDone := true
	for i := range channels {
		ch := &channels[i]
		done, err := e.syncBatch(ctx, ch)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			if seconds, ok := errs.AsFloodWait(err); ok {
				e.Log.Warn("flood wait, channel waits for next round",
					zap.Int64("channel", ch.ID), zap.Int("seconds", seconds))
				allDone = false
				continue
			}
			e.Log.Error("history batch failed", zap.Int64("channel", ch.ID), zap.Error(err))
			allDone = false
			continue
		}
		if !done {
			allDone = false
		}
	}
	return allDone, nil
}

// syncBatch extends one channel's history by one batch. Returns done=true
// once the channel is exhausted.
func (e *HistoryEngine) syncBatch(ctx context.Context, ch *models.Channel) (bool, error) {
	if err := e.DB.EnsureMessagesTable(ch.ID); err != nil {
		return false, err
	}
	if _, err := media.RefreshBackupIndex(e.DB, ch.ID, ch.BackupPath, e.Log); err != nil {
		return false, err
	}

	oldest, haveAny, err := e.DB.OldestMessageID(ch.ID)
	if err != nil {
		return false, err
	}
	if haveAny && oldest <= 1 {
		return true, nil
	}

	// Without any rows the forward engine has not seeded the channel yet;
	// start from the newest page so both directions can proceed.
	maxID := 0
	if haveAny {
		maxID = oldest
	}

	// Over-fetch so that dropped polls still leave a full batch. A page of
	// nothing but polls yields no rows to store, so the offset moves past
	// it and the next page is fetched right away.
	size := e.batchSize()
	batch := make([]models.Message, 0, size)
	for {
		page, err := e.Transport.IterMessages(ctx, ch.Ref(), models.MessageQuery{
			MaxID: maxID,
			Limit: size * 2,
		})
		if err != nil {
			return false, err
		}
		if len(page) == 0 {
			// Nothing older exists; the channel starts past id 1.
			return true, nil
		}

		pageOldest := page[0].ID
		for _, msg := range page {
			if msg.ID < pageOldest {
				pageOldest = msg.ID
			}
			if msg.MediaType == "poll" {
				continue
			}
			// History is read by definition.
			msg.Read = true
			msg.MediaPending = media.WantDownload(ch, msg.MediaType)
			if len(batch) < size {
				batch = append(batch, msg)
			}
		}
		if len(batch) > 0 {
			break
		}
		if pageOldest <= 1 {
			return true, nil
		}
		maxID = pageOldest
	}

	inserted, err := e.DB.InsertMessages(ch.ID, batch)
	if err != nil {
		return false, err
	}

	newOldest := oldest
	for _, msg := range batch {
		if newOldest == 0 || msg.ID < newOldest {
			newOldest = msg.ID
		}
	}
	e.Log.Info("history batch",
		zap.Int64("channel", ch.ID), zap.Int("inserted", inserted),
		zap.Int("oldest", newOldest))

	if err := e.downloadBatchMedia(ctx, ch, batch); err != nil {
		return false, err
	}
	return newOldest <= 1, nil
}

// downloadBatchMedia resolves the batch's media with bounded concurrency.
// The semaphore limits simultaneous transfers; a flood wait cancels the
// rest of the batch, everything not yet resolved stays pending.
func (e *HistoryEngine) downloadBatchMedia(ctx context.Context, ch *models.Channel, batch []models.Message) error {
	sem := semaphore.NewWeighted(e.concurrency())
	g, gctx := errgroup.WithContext(ctx)

	for i := range batch {
		msg := &batch[i]
		if !msg.MediaPending {
			continue
		}
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			_, err := e.Resolver.Resolve(gctx, e.Transport, ch, msg)
			if err != nil {
				if _, ok := errs.AsFloodWait(err); ok {
					return err
				}
				e.Log.Warn("history media failed, left pending",
					zap.Int64("channel", ch.ID), zap.Int("msg", msg.ID), zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}
