package sync

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tgmirror/internal/database"
	"tgmirror/internal/media"
	"tgmirror/internal/models"
)

// fakeTransport scripts the remote side per test via function fields.
// Unset methods succeed with zero values.
type fakeTransport struct {
	iterDialogs          func(context.Context) ([]models.Channel, error)
	iterMessages         func(models.ChannelRef, models.MessageQuery) ([]models.Message, error)
	getMessages          func(models.ChannelRef, []int) ([]models.Message, error)
	downloadMedia        func(models.ChannelRef, int) (string, error)
	downloadProfilePhoto func(models.ChannelRef) (string, error)
	mediaHash            func(models.ChannelRef, int) (string, int64, bool, error)
	sendReadAck          func(models.ChannelRef, int) error
	readState            func(models.ChannelRef) (int, error)
}

func (f *fakeTransport) IterDialogs(ctx context.Context) ([]models.Channel, error) {
	if f.iterDialogs == nil {
		return nil, nil
	}
	return f.iterDialogs(ctx)
}

func (f *fakeTransport) IterMessages(_ context.Context, ch models.ChannelRef, q models.MessageQuery) ([]models.Message, error) {
	if f.iterMessages == nil {
		return nil, nil
	}
	return f.iterMessages(ch, q)
}

func (f *fakeTransport) GetMessages(_ context.Context, ch models.ChannelRef, ids []int) ([]models.Message, error) {
	if f.getMessages == nil {
		return nil, nil
	}
	return f.getMessages(ch, ids)
}

func (f *fakeTransport) DownloadMedia(_ context.Context, ch models.ChannelRef, msgID int) (string, error) {
	if f.downloadMedia == nil {
		return "", nil
	}
	return f.downloadMedia(ch, msgID)
}

func (f *fakeTransport) DownloadProfilePhoto(_ context.Context, ch models.ChannelRef) (string, error) {
	if f.downloadProfilePhoto == nil {
		return "", nil
	}
	return f.downloadProfilePhoto(ch)
}

func (f *fakeTransport) MediaHash(_ context.Context, ch models.ChannelRef, msgID int) (string, int64, bool, error) {
	if f.mediaHash == nil {
		return "", 0, false, nil
	}
	return f.mediaHash(ch, msgID)
}

func (f *fakeTransport) SendReadAck(_ context.Context, ch models.ChannelRef, maxID int) error {
	if f.sendReadAck == nil {
		return nil
	}
	return f.sendReadAck(ch, maxID)
}

func (f *fakeTransport) ReadState(_ context.Context, ch models.ChannelRef) (int, error) {
	if f.readState == nil {
		return 0, nil
	}
	return f.readState(ch)
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedChannel(t *testing.T, db *database.DB, ch models.Channel) {
	t.Helper()
	_, err := db.UpsertChannel(&ch)
	require.NoError(t, err)
	require.NoError(t, db.SetChannelActive(ch.ID, ch.Active))
	require.NoError(t, db.SetChannelDownloadAll(ch.ID, ch.DownloadAll))
	if ch.BackupPath != "" {
		require.NoError(t, db.SetChannelBackupPath(ch.ID, ch.BackupPath))
	}
}

func testResolver(t *testing.T, db *database.DB) *media.Resolver {
	t.Helper()
	return &media.Resolver{DB: db, MediaDir: t.TempDir(), Log: zap.NewNop()}
}
