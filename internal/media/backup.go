package media

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"tgmirror/internal/database"
	"tgmirror/internal/models"
)

const (
	// HashSizeThreshold: files at or below this size are never hash-indexed
	// and always fetched directly; the hash round-trip is not worth it.
	HashSizeThreshold = 64 * 1024
	// HashChunkSize: the partial hash covers the first 64KB of larger files.
	HashChunkSize = 64 * 1024
)

// Subfolders of an exported backup directory that hold media files.
var backupSubfolders = []string{"photos", "files", "video_files"}

// FileHash computes the partial content hash of a local file. Returns ""
// for files at or below the threshold.
func FileHash(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.Size() <= HashSizeThreshold {
		return "", nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.CopyN(h, f, HashChunkSize); err != nil && err != io.EOF {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes computes the partial hash over already-fetched leading bytes.
func HashBytes(data []byte) string {
	if len(data) > HashChunkSize {
		data = data[:HashChunkSize]
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// ScanBackupDir walks the known subfolders of an operator-supplied backup
// directory and returns entries for files not in skip. The directory is
// read-only to us.
func ScanBackupDir(dir string, skip map[string]bool, log *zap.Logger) []models.BackupFile {
	var files []models.BackupFile

	for _, sub := range backupSubfolders {
		root := filepath.Join(dir, sub)
		if _, err := os.Stat(root); err != nil {
			continue
		}

		filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if skip[path] {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				log.Warn("stat backup file", zap.String("path", path), zap.Error(err))
				return nil
			}
			hash, err := FileHash(path)
			if err != nil {
				log.Warn("hash backup file", zap.String("path", path), zap.Error(err))
				return nil
			}
			files = append(files, models.BackupFile{Path: path, Size: info.Size(), Hash: hash})
			return nil
		})
	}

	return files
}

// RefreshBackupIndex scans the channel's backup directory and indexes files
// not seen before. Returns the number of newly indexed files.
func RefreshBackupIndex(db *database.DB, channelID int64, backupPath string, log *zap.Logger) (int, error) {
	if backupPath == "" {
		return 0, nil
	}
	if _, err := os.Stat(backupPath); err != nil {
		log.Warn("backup path does not exist", zap.String("path", backupPath))
		return 0, nil
	}

	if err := db.EnsureBackupIndex(channelID); err != nil {
		return 0, err
	}
	existing, err := db.IndexedBackupPaths(channelID)
	if err != nil {
		return 0, err
	}

	files := ScanBackupDir(backupPath, existing, log)
	if len(files) == 0 {
		return 0, nil
	}
	if err := db.InsertBackupFiles(channelID, files); err != nil {
		return 0, err
	}
	log.Info("indexed backup files",
		zap.Int64("channel", channelID), zap.Int("new", len(files)))
	return len(files), nil
}

// CopyFromBackup copies a matched backup file into the channel's media
// directory and returns the media-relative path stored on the message row.
func CopyFromBackup(backupFile, mediaDir string, channelID int64) (string, error) {
	destDir := filepath.Join(mediaDir, fmt.Sprintf("%d", channelID))
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", err
	}

	name := filepath.Base(backupFile)
	dest := filepath.Join(destDir, name)
	if _, err := os.Stat(dest); err == nil {
		return fmt.Sprintf("%d/%s", channelID, name), nil
	}

	src, err := os.Open(backupFile)
	if err != nil {
		return "", err
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		os.Remove(dest)
		return "", err
	}
	return fmt.Sprintf("%d/%s", channelID, name), nil
}
