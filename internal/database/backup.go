package database

import (
	"database/sql"
	"errors"
	"fmt"

	"tgmirror/internal/models"
)

// Per-channel index of operator-supplied backup files, keyed by the partial
// content hash. Files at or below the hash threshold carry a NULL hash and
// are never matched.
func backupTable(channelID int64) string {
	return fmt.Sprintf("channel_backup_hash_%d", channelID)
}

func (db *DB) EnsureBackupIndex(channelID int64) error {
	table := backupTable(channelID)
	queries := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			file_path TEXT PRIMARY KEY,
			file_size INTEGER NOT NULL,
			hash TEXT
		)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_hash ON %s (hash)`, table, table),
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("creating backup index for channel %d: %w", channelID, err)
		}
	}
	return nil
}

// IndexedBackupPaths returns the already-indexed file paths so a rescan only
// hashes new files.
func (db *DB) IndexedBackupPaths(channelID int64) (map[string]bool, error) {
	rows, err := db.Query(fmt.Sprintf(`SELECT file_path FROM %s`, backupTable(channelID)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	paths := make(map[string]bool)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths[p] = true
	}
	return paths, rows.Err()
}

func (db *DB) InsertBackupFiles(channelID int64, files []models.BackupFile) error {
	if len(files) == 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(fmt.Sprintf(
		`INSERT OR REPLACE INTO %s (file_path, file_size, hash) VALUES (?, ?, ?)`,
		backupTable(channelID)))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range files {
		if _, err := stmt.Exec(f.Path, f.Size, nullString(f.Hash)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// FindBackupByHash looks up a backup file by its partial content hash. The
// index table is created on demand: a channel whose backup dir was never
// scanned simply has no matches.
func (db *DB) FindBackupByHash(channelID int64, hash string) (string, bool, error) {
	if hash == "" {
		return "", false, nil
	}
	if err := db.EnsureBackupIndex(channelID); err != nil {
		return "", false, err
	}
	var path string
	err := db.QueryRow(fmt.Sprintf(`SELECT file_path FROM %s WHERE hash = ? LIMIT 1`,
		backupTable(channelID)), hash).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return path, true, nil
}

func (db *DB) BackupIndexSize(channelID int64) (int, error) {
	var n int
	err := db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %s`, backupTable(channelID))).Scan(&n)
	return n, err
}
