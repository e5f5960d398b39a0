package sync

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tgmirror/internal/database"
	"tgmirror/internal/errs"
	"tgmirror/internal/models"
)

func newForwardEngine(t *testing.T, db *database.DB, transport Transport) *ForwardEngine {
	t.Helper()
	return &ForwardEngine{
		DB:        db,
		Transport: transport,
		Resolver:  testResolver(t, db),
		Log:       zap.NewNop(),
	}
}

func TestFirstSyncStoresOnlyNewestMessage(t *testing.T) {
	db := openTestDB(t)
	seedChannel(t, db, models.Channel{ID: 1, AccessHash: 5, Title: "ch", Active: true})

	transport := &fakeTransport{
		iterMessages: func(ch models.ChannelRef, q models.MessageQuery) ([]models.Message, error) {
			assert.Equal(t, int64(1), ch.ID)
			assert.Zero(t, q.MinID, "first sync must not use a cursor")
			// Newest first; the very newest is a poll.
			return []models.Message{
				{ID: 10, Date: 1000, MediaType: "poll"},
				{ID: 9, Date: 990, Text: "latest real post"},
				{ID: 8, Date: 980, Text: "older"},
			}, nil
		},
	}

	engine := newForwardEngine(t, db, transport)
	require.NoError(t, engine.Run(context.Background()))

	latest, haveAny, err := db.LatestMessageID(1)
	require.NoError(t, err)
	require.True(t, haveAny)
	assert.Equal(t, 9, latest)

	oldest, _, err := db.OldestMessageID(1)
	require.NoError(t, err)
	assert.Equal(t, 9, oldest, "exactly one message must be stored")

	ch, err := db.GetChannel(1)
	require.NoError(t, err)
	assert.NotZero(t, ch.LastActive)
}

func TestIncrementalSyncUsesLatestCursor(t *testing.T) {
	db := openTestDB(t)
	seedChannel(t, db, models.Channel{ID: 1, AccessHash: 5, Title: "ch", Active: true})
	require.NoError(t, db.EnsureMessagesTable(1))
	_, err := db.InsertMessages(1, []models.Message{{ID: 5, Date: 500, Text: "seed"}})
	require.NoError(t, err)

	transport := &fakeTransport{
		iterMessages: func(_ models.ChannelRef, q models.MessageQuery) ([]models.Message, error) {
			assert.Equal(t, 5, q.MinID)
			return []models.Message{
				{ID: 6, Date: 600, Text: "six"},
				{ID: 7, Date: 700, Text: "seven"},
			}, nil
		},
	}

	engine := newForwardEngine(t, db, transport)
	require.NoError(t, engine.Run(context.Background()))

	latest, _, err := db.LatestMessageID(1)
	require.NoError(t, err)
	assert.Equal(t, 7, latest)

	// Running again with nothing new is a no-op.
	transport.iterMessages = func(_ models.ChannelRef, q models.MessageQuery) ([]models.Message, error) {
		assert.Equal(t, 7, q.MinID)
		return nil, nil
	}
	require.NoError(t, engine.Run(context.Background()))
}

func TestIncrementalSyncSkipsPolls(t *testing.T) {
	db := openTestDB(t)
	seedChannel(t, db, models.Channel{ID: 1, AccessHash: 5, Title: "ch", Active: true})
	require.NoError(t, db.EnsureMessagesTable(1))
	_, err := db.InsertMessages(1, []models.Message{{ID: 5, Date: 500, Text: "seed"}})
	require.NoError(t, err)

	transport := &fakeTransport{
		iterMessages: func(_ models.ChannelRef, q models.MessageQuery) ([]models.Message, error) {
			assert.Equal(t, 5, q.MinID)
			return []models.Message{
				{ID: 6, Date: 600, Text: "real"},
				{ID: 7, Date: 700, MediaType: "poll"},
				{ID: 8, Date: 800, Text: "also real"},
			}, nil
		},
	}

	engine := newForwardEngine(t, db, transport)
	require.NoError(t, engine.Run(context.Background()))

	latest, _, err := db.LatestMessageID(1)
	require.NoError(t, err)
	assert.Equal(t, 8, latest)

	var polls int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM channel_1 WHERE media_type = 'poll'`).Scan(&polls))
	assert.Zero(t, polls)
}

func TestMediaFlagsGateDownloads(t *testing.T) {
	db := openTestDB(t)
	seedChannel(t, db, models.Channel{ID: 1, AccessHash: 5, Title: "ch", Active: true})
	require.NoError(t, db.EnsureMessagesTable(1))
	_, err := db.InsertMessages(1, []models.Message{{ID: 1, Date: 1}})
	require.NoError(t, err)
	// Operator wants photos but not videos.
	_, err = db.Exec(`UPDATE channels SET download_videos = 0 WHERE id = 1`)
	require.NoError(t, err)

	var downloaded []int
	transport := &fakeTransport{
		iterMessages: func(_ models.ChannelRef, _ models.MessageQuery) ([]models.Message, error) {
			return []models.Message{
				{ID: 2, Date: 2, MediaType: "photo"},
				{ID: 3, Date: 3, MediaType: "video"},
			}, nil
		},
		downloadMedia: func(_ models.ChannelRef, msgID int) (string, error) {
			downloaded = append(downloaded, msgID)
			return "1/2_photo.jpg", nil
		},
	}

	engine := newForwardEngine(t, db, transport)
	require.NoError(t, engine.Run(context.Background()))

	assert.Equal(t, []int{2}, downloaded)

	photo, err := db.GetMessage(1, 2)
	require.NoError(t, err)
	assert.Equal(t, "1/2_photo.jpg", photo.MediaPath)
	assert.False(t, photo.MediaPending)

	// The skipped video keeps its type but never becomes pending.
	video, err := db.GetMessage(1, 3)
	require.NoError(t, err)
	assert.Equal(t, "video", video.MediaType)
	assert.Empty(t, video.MediaPath)
	assert.False(t, video.MediaPending)
}

func TestPendingRetryCapAndDeletedMessages(t *testing.T) {
	db := openTestDB(t)
	seedChannel(t, db, models.Channel{ID: 1, AccessHash: 5, Title: "ch", Active: true})
	require.NoError(t, db.EnsureMessagesTable(1))

	// Seven earlier failures; only the newest five may be retried this run.
	var seed []models.Message
	for id := 1; id <= 7; id++ {
		seed = append(seed, models.Message{ID: id, Date: int64(id * 100), MediaType: "photo", MediaPending: true})
	}
	_, err := db.InsertMessages(1, seed)
	require.NoError(t, err)

	var requested []int
	transport := &fakeTransport{
		getMessages: func(_ models.ChannelRef, ids []int) ([]models.Message, error) {
			requested = append(requested, ids...)
			var fresh []models.Message
			for _, id := range ids {
				if id == 7 {
					continue // deleted remotely
				}
				fresh = append(fresh, models.Message{ID: id, MediaType: "photo"})
			}
			return fresh, nil
		},
		downloadMedia: func(_ models.ChannelRef, msgID int) (string, error) {
			return "1/photo.jpg", nil
		},
	}

	engine := newForwardEngine(t, db, transport)
	require.NoError(t, engine.Run(context.Background()))

	sort.Ints(requested)
	assert.Equal(t, []int{3, 4, 5, 6, 7}, requested, "retry is capped at five, newest first")

	// The deleted message stopped being pending without gaining a path.
	gone, err := db.GetMessage(1, 7)
	require.NoError(t, err)
	assert.False(t, gone.MediaPending)
	assert.Empty(t, gone.MediaPath)

	// Messages 1 and 2 wait for the next run.
	pending, err := db.PendingMedia(1, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, 2, pending[0].ID)
	assert.Equal(t, 1, pending[1].ID)
}

func TestFloodWaitSkipsChannelNotRun(t *testing.T) {
	db := openTestDB(t)
	seedChannel(t, db, models.Channel{ID: 1, AccessHash: 5, Title: "limited", Active: true})
	seedChannel(t, db, models.Channel{ID: 2, AccessHash: 6, Title: "fine", Active: true})

	transport := &fakeTransport{
		iterMessages: func(ch models.ChannelRef, _ models.MessageQuery) ([]models.Message, error) {
			if ch.ID == 1 {
				return nil, &errs.FloodWait{Seconds: 30}
			}
			return []models.Message{{ID: 1, Date: 1, Text: "hello"}}, nil
		},
	}

	engine := newForwardEngine(t, db, transport)
	require.NoError(t, engine.Run(context.Background()))

	_, haveAny, err := db.LatestMessageID(2)
	require.NoError(t, err)
	assert.True(t, haveAny, "the healthy channel must still sync")
}

func TestImportReadStateAfterSync(t *testing.T) {
	db := openTestDB(t)
	seedChannel(t, db, models.Channel{ID: 1, AccessHash: 5, Title: "ch", Active: true})
	require.NoError(t, db.EnsureMessagesTable(1))
	_, err := db.InsertMessages(1, []models.Message{
		{ID: 6, Date: 6}, {ID: 7, Date: 7}, {ID: 8, Date: 8},
	})
	require.NoError(t, err)

	transport := &fakeTransport{
		readState: func(_ models.ChannelRef) (int, error) { return 7, nil },
	}
	engine := newForwardEngine(t, db, transport)
	require.NoError(t, engine.Run(context.Background()))

	read, err := db.GetMessage(1, 7)
	require.NoError(t, err)
	assert.True(t, read.Read)
	unread, err := db.GetMessage(1, 8)
	require.NoError(t, err)
	assert.False(t, unread.Read)
}

func TestFirstSyncEmptyChannel(t *testing.T) {
	db := openTestDB(t)
	seedChannel(t, db, models.Channel{ID: 1, AccessHash: 5, Title: "empty", Active: true})

	transport := &fakeTransport{
		iterMessages: func(_ models.ChannelRef, _ models.MessageQuery) ([]models.Message, error) {
			return nil, nil
		},
	}
	engine := newForwardEngine(t, db, transport)
	require.NoError(t, engine.Run(context.Background()))

	_, haveAny, err := db.LatestMessageID(1)
	require.NoError(t, err)
	assert.False(t, haveAny)

	ch, err := db.GetChannel(1)
	require.NoError(t, err)
	assert.Zero(t, ch.LastActive, "no fetch, no activity bump")
}

func TestSyncChannelTransportError(t *testing.T) {
	db := openTestDB(t)
	seedChannel(t, db, models.Channel{ID: 1, AccessHash: 5, Title: "ch", Active: true})

	transport := &fakeTransport{
		iterMessages: func(_ models.ChannelRef, _ models.MessageQuery) ([]models.Message, error) {
			return nil, errors.New("connection reset")
		},
	}
	engine := newForwardEngine(t, db, transport)
	ch, err := db.GetChannel(1)
	require.NoError(t, err)
	assert.Error(t, engine.SyncChannel(context.Background(), ch))
}
