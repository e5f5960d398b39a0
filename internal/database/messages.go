package database

import (
	"database/sql"
	"errors"
	"fmt"

	"tgmirror/internal/models"
)

// Each channel mirrors into its own table. The message id is the primary
// key, so re-inserting a fetched message is a no-op (INSERT OR IGNORE) and
// the sync cursors fall out of MAX(id)/MIN(id).
func messagesTable(channelID int64) string {
	return fmt.Sprintf("channel_%d", channelID)
}

func (db *DB) EnsureMessagesTable(channelID int64) error {
	table := messagesTable(channelID)
	queries := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY,
			date INTEGER,
			message TEXT,
			entities TEXT,
			from_id INTEGER,
			fwd_from_id INTEGER,
			fwd_from_name TEXT,
			reply_to_msg_id INTEGER,
			media_type TEXT,
			media_path TEXT,
			media_pending INTEGER DEFAULT 0,
			views INTEGER,
			forwards INTEGER,
			grouped_id INTEGER,
			post_author TEXT,
			edit_date INTEGER,
			created_at INTEGER,
			read INTEGER DEFAULT 0,
			read_at INTEGER,
			read_in_tg INTEGER DEFAULT 0,
			rating INTEGER DEFAULT 0,
			bookmarked INTEGER DEFAULT 0
		)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_date ON %s (date)`, table, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_read_date ON %s (read, date)`, table, table),
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("creating messages table for channel %d: %w", channelID, err)
		}
	}
	return nil
}

// LatestMessageID returns the forward sync boundary, or ok=false when the
// channel has no rows yet.
func (db *DB) LatestMessageID(channelID int64) (int, bool, error) {
	return db.boundaryID(channelID, "MAX")
}

// OldestMessageID returns the backward sync boundary.
func (db *DB) OldestMessageID(channelID int64) (int, bool, error) {
	return db.boundaryID(channelID, "MIN")
}

func (db *DB) boundaryID(channelID int64, agg string) (int, bool, error) {
	var id sql.NullInt64
	query := fmt.Sprintf(`SELECT %s(id) FROM %s`, agg, messagesTable(channelID))
	if err := db.QueryRow(query).Scan(&id); err != nil {
		return 0, false, err
	}
	if !id.Valid {
		return 0, false, nil
	}
	return int(id.Int64), true, nil
}

// InsertMessages upserts a batch in one transaction. Existing ids are left
// untouched so concurrent or repeated runs stay idempotent. Returns the
// number of rows actually inserted.
func (db *DB) InsertMessages(channelID int64, msgs []models.Message) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}

	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	// Rows inserted as already read come from history the remote has read
	// long ago, so read_in_tg mirrors read and no acknowledgement is owed.
	stmt, err := tx.Prepare(fmt.Sprintf(`INSERT OR IGNORE INTO %s (
		id, date, message, entities, from_id, fwd_from_id, fwd_from_name,
		reply_to_msg_id, media_type, media_path, media_pending, views,
		forwards, grouped_id, post_author, edit_date, created_at, read, read_in_tg
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, messagesTable(channelID)))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, m := range msgs {
		res, err := stmt.Exec(
			m.ID, m.Date, m.Text, nullString(m.Entities), nullInt64(m.FromID),
			nullInt64(m.FwdFromID), nullString(m.FwdFromName), nullInt(m.ReplyToMsgID),
			nullString(m.MediaType), nullString(m.MediaPath), m.MediaPending,
			m.Views, m.Forwards, nullInt64(m.GroupedID), nullString(m.PostAuthor),
			nullInt64(m.EditDate), m.CreatedAt, m.Read, m.Read,
		)
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

func (db *DB) GetMessage(channelID int64, id int) (*models.Message, error) {
	var m models.Message
	var entities, mediaType, mediaPath, fwdName, postAuthor sql.NullString
	var fromID, fwdID, groupedID, editDate sql.NullInt64
	var replyTo sql.NullInt64

	err := db.QueryRow(fmt.Sprintf(`SELECT id, COALESCE(date, 0), COALESCE(message, ''),
		entities, from_id, fwd_from_id, fwd_from_name, reply_to_msg_id,
		media_type, media_path, media_pending, COALESCE(views, 0),
		COALESCE(forwards, 0), grouped_id, post_author, edit_date,
		COALESCE(created_at, 0), read
		FROM %s WHERE id = ?`, messagesTable(channelID)), id).Scan(
		&m.ID, &m.Date, &m.Text, &entities, &fromID, &fwdID, &fwdName, &replyTo,
		&mediaType, &mediaPath, &m.MediaPending, &m.Views, &m.Forwards,
		&groupedID, &postAuthor, &editDate, &m.CreatedAt, &m.Read)
	if err != nil {
		return nil, err
	}

	m.Entities = entities.String
	m.FromID = fromID.Int64
	m.FwdFromID = fwdID.Int64
	m.FwdFromName = fwdName.String
	m.ReplyToMsgID = int(replyTo.Int64)
	m.MediaType = mediaType.String
	m.MediaPath = mediaPath.String
	m.GroupedID = groupedID.Int64
	m.PostAuthor = postAuthor.String
	m.EditDate = editDate.Int64
	return &m, nil
}

// PendingMedia lists messages whose media download failed and is eligible
// for retry, newest first.
func (db *DB) PendingMedia(channelID int64, limit int) ([]models.Message, error) {
	rows, err := db.Query(fmt.Sprintf(`SELECT id, COALESCE(media_type, '')
		FROM %s
		WHERE media_pending = 1 AND media_path IS NULL
		ORDER BY date DESC LIMIT ?`, messagesTable(channelID)), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.MediaType); err != nil {
			return nil, err
		}
		m.MediaPending = true
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// UpdateMessageMedia records the outcome of a media fetch for one message.
func (db *DB) UpdateMessageMedia(channelID int64, id int, path string, pending bool) error {
	_, err := db.Exec(fmt.Sprintf(`UPDATE %s SET media_path = ?, media_pending = ? WHERE id = ?`,
		messagesTable(channelID)), nullString(path), pending, id)
	return err
}

// MarkReadUpTo marks every message at or below maxID as read locally.
// Rows already read keep their read_at.
func (db *DB) MarkReadUpTo(channelID int64, maxID int, now int64) (int64, error) {
	res, err := db.Exec(fmt.Sprintf(`UPDATE %s SET read = 1, read_at = ?
		WHERE id <= ? AND read = 0`, messagesTable(channelID)), now, maxID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkReadFromRemote applies the remote read position locally. Rows it
// touches are acknowledged by definition, so they never flow back out
// through the read-ack path.
func (db *DB) MarkReadFromRemote(channelID int64, maxID int, now int64) (int64, error) {
	res, err := db.Exec(fmt.Sprintf(`UPDATE %s SET read = 1,
		read_at = COALESCE(read_at, ?), read_in_tg = 1
		WHERE id <= ? AND (read = 0 OR read_in_tg = 0)`, messagesTable(channelID)), now, maxID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UnackedReadMaxID returns the highest locally-read message id that has not
// been acknowledged to Telegram yet, with the number of such rows.
func (db *DB) UnackedReadMaxID(channelID int64) (int, int, error) {
	var maxID sql.NullInt64
	var count int
	err := db.QueryRow(fmt.Sprintf(`SELECT MAX(id), COUNT(*) FROM %s
		WHERE read = 1 AND read_in_tg = 0`, messagesTable(channelID))).Scan(&maxID, &count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	if !maxID.Valid {
		return 0, 0, nil
	}
	return int(maxID.Int64), count, nil
}

// MarkReadAcked flags locally-read messages up to maxID as acknowledged.
func (db *DB) MarkReadAcked(channelID int64, maxID int) (int64, error) {
	res, err := db.Exec(fmt.Sprintf(`UPDATE %s SET read_in_tg = 1
		WHERE id <= ? AND read = 1 AND read_in_tg = 0`, messagesTable(channelID)), maxID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}
