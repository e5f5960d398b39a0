package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgmirror/internal/models"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAddCredentialSinglePrimary(t *testing.T) {
	db := openTest(t)

	first, err := db.AddCredential(&models.Credential{
		APIID: 111, APIHash: "aaa", PhoneNumber: "+100", Primary: true,
	})
	require.NoError(t, err)

	second, err := db.AddCredential(&models.Credential{
		APIID: 222, APIHash: "bbb", PhoneNumber: "+200", Primary: true,
	})
	require.NoError(t, err)

	creds, err := db.Credentials()
	require.NoError(t, err)
	require.Len(t, creds, 2)
	for _, c := range creds {
		if c.ID == first {
			assert.False(t, c.Primary, "first credential should lose primary")
		}
		if c.ID == second {
			assert.True(t, c.Primary)
		}
	}

	primary, err := db.PrimaryCredential()
	require.NoError(t, err)
	assert.Equal(t, second, primary.ID)
}

func TestPrimaryCredentialFallsBackToLowestID(t *testing.T) {
	db := openTest(t)

	first, err := db.AddCredential(&models.Credential{APIID: 111, APIHash: "aaa", PhoneNumber: "+100"})
	require.NoError(t, err)
	_, err = db.AddCredential(&models.Credential{APIID: 222, APIHash: "bbb", PhoneNumber: "+200"})
	require.NoError(t, err)

	primary, err := db.PrimaryCredential()
	require.NoError(t, err)
	assert.Equal(t, first, primary.ID)
}

func TestUpsertChannelPreservesOperatorFields(t *testing.T) {
	db := openTest(t)

	ch := &models.Channel{ID: 42, AccessHash: 7, Title: "News", Username: "news", Broadcast: true}
	inserted, err := db.UpsertChannel(ch)
	require.NoError(t, err)
	assert.True(t, inserted)

	require.NoError(t, db.SetChannelActive(42, true))
	require.NoError(t, db.SetChannelDownloadAll(42, true))
	require.NoError(t, db.SetChannelBackupPath(42, "/backups/news"))

	// Dialog sync sees new metadata and upserts again.
	ch.Title = "News Renamed"
	ch.PhotoID = 999
	inserted, err = db.UpsertChannel(ch)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := db.GetChannel(42)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "News Renamed", got.Title)
	assert.Equal(t, int64(999), got.PhotoID)
	assert.True(t, got.Active, "active must survive dialog sync")
	assert.True(t, got.DownloadAll)
	assert.Equal(t, "/backups/news", got.BackupPath)
}

func TestGetChannelUnknown(t *testing.T) {
	db := openTest(t)
	got, err := db.GetChannel(12345)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMarkUnsubscribedKeepsRow(t *testing.T) {
	db := openTest(t)

	_, err := db.UpsertChannel(&models.Channel{ID: 1, Title: "a", Broadcast: true})
	require.NoError(t, err)
	_, err = db.UpsertChannel(&models.Channel{ID: 2, Title: "b", Broadcast: true})
	require.NoError(t, err)

	marked, err := db.MarkUnsubscribed([]int64{2}, 1700000000)
	require.NoError(t, err)
	assert.Equal(t, int64(1), marked)

	ids, err := db.SubscribedChannelIDs()
	require.NoError(t, err)
	assert.Equal(t, map[int64]bool{1: true}, ids)

	// The row and its data stay.
	got, err := db.GetChannel(2)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.Subscribed)

	// Resubscribing flips it back.
	_, err = db.UpsertChannel(&models.Channel{ID: 2, Title: "b", Broadcast: true})
	require.NoError(t, err)
	got, err = db.GetChannel(2)
	require.NoError(t, err)
	assert.True(t, got.Subscribed)
}

func TestChannelSelections(t *testing.T) {
	db := openTest(t)

	for id := int64(1); id <= 3; id++ {
		_, err := db.UpsertChannel(&models.Channel{ID: id, Title: "ch", Broadcast: true})
		require.NoError(t, err)
	}
	require.NoError(t, db.SetChannelActive(1, true))
	require.NoError(t, db.SetChannelActive(2, true))
	require.NoError(t, db.SetChannelDownloadAll(2, true))
	// Channel 3 has download_all but is inactive, so no engine serves it.
	require.NoError(t, db.SetChannelDownloadAll(3, true))

	active, err := db.ActiveChannels()
	require.NoError(t, err)
	assert.Len(t, active, 2)

	full, err := db.DownloadAllChannels()
	require.NoError(t, err)
	require.Len(t, full, 1)
	assert.Equal(t, int64(2), full[0].ID)
}
