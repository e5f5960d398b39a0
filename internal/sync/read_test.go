package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tgmirror/internal/errs"
	"tgmirror/internal/models"
)

func TestReadSyncBothDirections(t *testing.T) {
	db := openTestDB(t)
	seedChannel(t, db, models.Channel{ID: 1, AccessHash: 5, Title: "ch", Active: true})
	require.NoError(t, db.EnsureMessagesTable(1))
	_, err := db.InsertMessages(1, []models.Message{
		{ID: 1, Date: 1}, {ID: 2, Date: 2}, {ID: 3, Date: 3}, {ID: 4, Date: 4},
	})
	require.NoError(t, err)

	// Operator read up to 2 locally; the remote read position is 3.
	_, err = db.MarkReadUpTo(1, 2, 1700000000)
	require.NoError(t, err)

	var acked []int
	transport := &fakeTransport{
		sendReadAck: func(_ models.ChannelRef, maxID int) error {
			acked = append(acked, maxID)
			return nil
		},
		readState: func(_ models.ChannelRef) (int, error) { return 3, nil },
	}

	engine := &ReadEngine{DB: db, Transport: transport, Log: zap.NewNop()}
	require.NoError(t, engine.Run(context.Background()))

	assert.Equal(t, []int{2}, acked)

	// Remote position pulled down onto row 3.
	row3, err := db.GetMessage(1, 3)
	require.NoError(t, err)
	assert.True(t, row3.Read)
	row4, err := db.GetMessage(1, 4)
	require.NoError(t, err)
	assert.False(t, row4.Read)

	// Everything is reconciled; a second run acknowledges nothing.
	acked = nil
	require.NoError(t, engine.Run(context.Background()))
	assert.Empty(t, acked)
}

func TestReadSyncNothingToAck(t *testing.T) {
	db := openTestDB(t)
	seedChannel(t, db, models.Channel{ID: 1, AccessHash: 5, Title: "ch", Active: true})

	called := false
	transport := &fakeTransport{
		sendReadAck: func(_ models.ChannelRef, _ int) error {
			called = true
			return nil
		},
	}
	engine := &ReadEngine{DB: db, Transport: transport, Log: zap.NewNop()}
	require.NoError(t, engine.Run(context.Background()))
	assert.False(t, called)
}

func TestReadSyncFloodWaitSkipsChannel(t *testing.T) {
	db := openTestDB(t)
	seedChannel(t, db, models.Channel{ID: 1, AccessHash: 5, Title: "limited", Active: true})
	seedChannel(t, db, models.Channel{ID: 2, AccessHash: 6, Title: "fine", Active: true})
	for _, id := range []int64{1, 2} {
		require.NoError(t, db.EnsureMessagesTable(id))
		_, err := db.InsertMessages(id, []models.Message{{ID: 1, Date: 1}})
		require.NoError(t, err)
		_, err = db.MarkReadUpTo(id, 1, 1700000000)
		require.NoError(t, err)
	}

	var acked []int64
	transport := &fakeTransport{
		sendReadAck: func(ch models.ChannelRef, _ int) error {
			if ch.ID == 1 {
				return &errs.FloodWait{Seconds: 10}
			}
			acked = append(acked, ch.ID)
			return nil
		},
	}
	engine := &ReadEngine{DB: db, Transport: transport, Log: zap.NewNop()}
	require.NoError(t, engine.Run(context.Background()))
	assert.Equal(t, []int64{2}, acked)

	// Channel 1 still owes its acknowledgement.
	_, count, err := db.UnackedReadMaxID(1)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
