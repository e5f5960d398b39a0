package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"tgmirror/internal/models"
)

// DB wraps the sqlite store. WAL journaling plus a generous busy timeout let
// the daemon, the sync processes and the web UI reader operate concurrently.
type DB struct {
	*sql.DB
}

func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=10000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging sqlite database: %w", err)
	}

	wrapper := &DB{db}
	if err := wrapper.createTables(); err != nil {
		return nil, err
	}

	return wrapper, nil
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS channels (
			id INTEGER PRIMARY KEY,
			access_hash INTEGER,
			title TEXT NOT NULL,
			username TEXT,
			photo_id INTEGER,
			date INTEGER,
			participants_count INTEGER,
			broadcast INTEGER DEFAULT 0,
			megagroup INTEGER DEFAULT 0,
			subscribed INTEGER DEFAULT 1,
			active INTEGER DEFAULT 0,
			download_all INTEGER DEFAULT 0,
			download_images INTEGER DEFAULT 1,
			download_videos INTEGER DEFAULT 1,
			download_audio INTEGER DEFAULT 1,
			download_other INTEGER DEFAULT 1,
			backup_path TEXT,
			last_active INTEGER,
			created_at INTEGER,
			updated_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_channels_subscribed ON channels(subscribed)`,
		`CREATE TABLE IF NOT EXISTS tg_creds (
			id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
			api_id INTEGER NOT NULL,
			api_hash TEXT NOT NULL,
			phone_number TEXT NOT NULL,
			"primary" INTEGER DEFAULT 0 NOT NULL
		)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("creating tables: %w", err)
		}
	}

	return nil
}

// Credentials

func (db *DB) AddCredential(cred *models.Credential) (int64, error) {
	if cred.Primary {
		// Only one credential may be primary at a time.
		if _, err := db.Exec(`UPDATE tg_creds SET "primary" = 0`); err != nil {
			return 0, err
		}
	}

	res, err := db.Exec(
		`INSERT INTO tg_creds (api_id, api_hash, phone_number, "primary") VALUES (?, ?, ?, ?)`,
		cred.APIID, cred.APIHash, cred.PhoneNumber, cred.Primary,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (db *DB) Credentials() ([]models.Credential, error) {
	rows, err := db.Query(`SELECT id, api_id, api_hash, phone_number, "primary" FROM tg_creds ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []models.Credential
	for rows.Next() {
		var c models.Credential
		if err := rows.Scan(&c.ID, &c.APIID, &c.APIHash, &c.PhoneNumber, &c.Primary); err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

func (db *DB) PrimaryCredential() (*models.Credential, error) {
	var c models.Credential
	err := db.QueryRow(
		`SELECT id, api_id, api_hash, phone_number, "primary" FROM tg_creds ORDER BY "primary" DESC, id LIMIT 1`,
	).Scan(&c.ID, &c.APIID, &c.APIHash, &c.PhoneNumber, &c.Primary)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Channels

const channelColumns = `id, COALESCE(access_hash, 0), title, COALESCE(username, ''),
	COALESCE(photo_id, 0), COALESCE(date, 0), COALESCE(participants_count, 0),
	broadcast, megagroup, subscribed, active, download_all,
	COALESCE(download_images, 1), COALESCE(download_videos, 1),
	COALESCE(download_audio, 1), COALESCE(download_other, 1),
	COALESCE(backup_path, ''), COALESCE(last_active, 0),
	COALESCE(created_at, 0), COALESCE(updated_at, 0)`

func scanChannel(row interface{ Scan(...any) error }) (models.Channel, error) {
	var ch models.Channel
	err := row.Scan(&ch.ID, &ch.AccessHash, &ch.Title, &ch.Username,
		&ch.PhotoID, &ch.Date, &ch.ParticipantsCount,
		&ch.Broadcast, &ch.Megagroup, &ch.Subscribed, &ch.Active, &ch.DownloadAll,
		&ch.DownloadImages, &ch.DownloadVideos, &ch.DownloadAudio, &ch.DownloadOther,
		&ch.BackupPath, &ch.LastActive, &ch.CreatedAt, &ch.UpdatedAt)
	return ch, err
}

// UpsertChannel inserts or refreshes dialog-sync-owned metadata. Operator
// owned fields (active, download flags, backup_path) are left untouched on
// update. Returns true when the row was newly inserted.
func (db *DB) UpsertChannel(ch *models.Channel) (bool, error) {
	var exists bool
	err := db.QueryRow(`SELECT EXISTS(SELECT 1 FROM channels WHERE id = ?)`, ch.ID).Scan(&exists)
	if err != nil {
		return false, err
	}

	if exists {
		_, err = db.Exec(`UPDATE channels SET
			access_hash = ?, title = ?, username = ?, photo_id = ?, date = ?,
			participants_count = ?, broadcast = ?, megagroup = ?, subscribed = 1,
			updated_at = ?
			WHERE id = ?`,
			ch.AccessHash, ch.Title, ch.Username, ch.PhotoID, ch.Date,
			ch.ParticipantsCount, ch.Broadcast, ch.Megagroup,
			time.Now().Unix(), ch.ID)
		return false, err
	}

	now := time.Now().Unix()
	_, err = db.Exec(`INSERT INTO channels
		(id, access_hash, title, username, photo_id, date, participants_count,
		broadcast, megagroup, subscribed, active, download_all, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, 0, 0, ?, ?)`,
		ch.ID, ch.AccessHash, ch.Title, ch.Username, ch.PhotoID, ch.Date,
		ch.ParticipantsCount, ch.Broadcast, ch.Megagroup, now, now)
	return true, err
}

func (db *DB) SubscribedChannelIDs() (map[int64]bool, error) {
	rows, err := db.Query(`SELECT id FROM channels WHERE subscribed = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

func (db *DB) MarkUnsubscribed(ids []int64, now int64) (int64, error) {
	var total int64
	for _, id := range ids {
		res, err := db.Exec(`UPDATE channels SET subscribed = 0, updated_at = ? WHERE id = ?`, now, id)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func (db *DB) channelsWhere(clause string) ([]models.Channel, error) {
	rows, err := db.Query(`SELECT ` + channelColumns + ` FROM channels WHERE ` + clause)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []models.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// ActiveChannels returns channels the operator enabled for forward sync.
func (db *DB) ActiveChannels() ([]models.Channel, error) {
	return db.channelsWhere(`active = 1`)
}

// DownloadAllChannels returns channels flagged for full history backfill.
func (db *DB) DownloadAllChannels() ([]models.Channel, error) {
	return db.channelsWhere(`active = 1 AND download_all = 1`)
}

// GetChannel returns nil without error when the channel is unknown.
func (db *DB) GetChannel(id int64) (*models.Channel, error) {
	ch, err := scanChannel(db.QueryRow(`SELECT `+channelColumns+` FROM channels WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func (db *DB) UpdateChannelLastActive(id int64, ts int64) error {
	_, err := db.Exec(`UPDATE channels SET last_active = ? WHERE id = ?`, ts, id)
	return err
}

func (db *DB) SetChannelActive(id int64, active bool) error {
	_, err := db.Exec(`UPDATE channels SET active = ? WHERE id = ?`, active, id)
	return err
}

func (db *DB) SetChannelDownloadAll(id int64, downloadAll bool) error {
	_, err := db.Exec(`UPDATE channels SET download_all = ? WHERE id = ?`, downloadAll, id)
	return err
}

func (db *DB) SetChannelBackupPath(id int64, path string) error {
	if path == "" {
		_, err := db.Exec(`UPDATE channels SET backup_path = NULL WHERE id = ?`, id)
		return err
	}
	_, err := db.Exec(`UPDATE channels SET backup_path = ? WHERE id = ?`, path, id)
	return err
}
