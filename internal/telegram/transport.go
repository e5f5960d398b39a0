package telegram

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"

	"tgmirror/internal/media"
	"tgmirror/internal/models"
)

const historyBatchSize = 100

func inputChannel(ch models.ChannelRef) *tg.InputChannel {
	return &tg.InputChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}
}

func inputPeerChannel(ch models.ChannelRef) *tg.InputPeerChannel {
	return &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}
}

// IterDialogs walks the whole dialog list and returns every broadcast
// channel the account is subscribed to.
func (s *Session) IterDialogs(ctx context.Context) ([]models.Channel, error) {
	var channels []models.Channel
	err := s.WithSession(ctx, func(ctx context.Context, api *tg.Client) error {
		seen := make(map[int64]bool)
		offsetDate, offsetID := 0, 0
		var offsetPeer tg.InputPeerClass = &tg.InputPeerEmpty{}

		for {
			res, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
				OffsetDate: offsetDate,
				OffsetID:   offsetID,
				OffsetPeer: offsetPeer,
				Limit:      historyBatchSize,
			})
			if err != nil {
				return err
			}

			var dialogs []tg.DialogClass
			var chats []tg.ChatClass
			var messages []tg.MessageClass
			switch d := res.(type) {
			case *tg.MessagesDialogs:
				dialogs, chats, messages = d.Dialogs, d.Chats, d.Messages
			case *tg.MessagesDialogsSlice:
				dialogs, chats, messages = d.Dialogs, d.Chats, d.Messages
			default:
				return nil
			}

			for _, c := range chats {
				ch, ok := c.(*tg.Channel)
				if !ok || !ch.Broadcast || ch.Left || seen[ch.ID] {
					continue
				}
				seen[ch.ID] = true
				channels = append(channels, parseChannel(ch))
			}

			if len(dialogs) < historyBatchSize {
				return nil
			}
			last, ok := dialogs[len(dialogs)-1].(*tg.Dialog)
			if !ok {
				return nil
			}
			offsetPeer = dialogOffsetPeer(last.Peer, chats)
			offsetID = last.TopMessage
			offsetDate = topMessageDate(messages, last.TopMessage)
			if offsetDate == 0 {
				return nil
			}
		}
	})
	return channels, err
}

func dialogOffsetPeer(peer tg.PeerClass, chats []tg.ChatClass) tg.InputPeerClass {
	if p, ok := peer.(*tg.PeerChannel); ok {
		for _, c := range chats {
			if ch, ok := c.(*tg.Channel); ok && ch.ID == p.ChannelID {
				return &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}
			}
		}
	}
	return &tg.InputPeerEmpty{}
}

func topMessageDate(messages []tg.MessageClass, id int) int {
	for _, m := range messages {
		if msg, ok := m.(*tg.Message); ok && msg.ID == id {
			return msg.Date
		}
	}
	return 0
}

// IterMessages fetches message history for a channel. With MinID set it
// pages through everything newer than MinID and returns it in ascending
// id order; otherwise it returns one page older than MaxID (or the newest
// page when MaxID is zero), newest first, as the API delivers it.
func (s *Session) IterMessages(ctx context.Context, ch models.ChannelRef, q models.MessageQuery) ([]models.Message, error) {
	var out []models.Message
	err := s.WithSession(ctx, func(ctx context.Context, api *tg.Client) error {
		peer := inputPeerChannel(ch)

		if q.MinID > 0 {
			offsetID := 0
			for {
				res, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
					Peer:     peer,
					OffsetID: offsetID,
					MinID:    q.MinID,
					Limit:    historyBatchSize,
				})
				if err != nil {
					return err
				}
				raw := historyMessages(res)
				if len(raw) == 0 {
					break
				}
				for _, m := range raw {
					if msg, ok := m.(*tg.Message); ok {
						out = append(out, parseMessage(msg))
					}
				}
				offsetID = oldestID(raw)
				if offsetID <= q.MinID+1 || len(raw) < historyBatchSize {
					break
				}
			}
			sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
			if q.Limit > 0 && len(out) > q.Limit {
				out = out[:q.Limit]
			}
			return nil
		}

		limit := q.Limit
		if limit == 0 {
			limit = historyBatchSize
		}
		res, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:     peer,
			OffsetID: q.MaxID,
			Limit:    limit,
		})
		if err != nil {
			return err
		}
		out = parseHistory(res)
		return nil
	})
	return out, err
}

func oldestID(raw []tg.MessageClass) int {
	oldest := 0
	for _, m := range raw {
		if msg, ok := m.(*tg.Message); ok {
			if oldest == 0 || msg.ID < oldest {
				oldest = msg.ID
			}
		}
	}
	return oldest
}

// GetMessages re-fetches specific messages by id. Deleted ids are simply
// absent from the result.
func (s *Session) GetMessages(ctx context.Context, ch models.ChannelRef, ids []int) ([]models.Message, error) {
	var out []models.Message
	err := s.WithSession(ctx, func(ctx context.Context, api *tg.Client) error {
		reqIDs := make([]tg.InputMessageClass, len(ids))
		for i, id := range ids {
			reqIDs[i] = &tg.InputMessageID{ID: id}
		}
		res, err := api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
			Channel: inputChannel(ch),
			ID:      reqIDs,
		})
		if err != nil {
			return err
		}
		out = parseHistory(res)
		return nil
	})
	return out, err
}

func fetchMessage(ctx context.Context, api *tg.Client, ch models.ChannelRef, id int) (*tg.Message, error) {
	res, err := api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
		Channel: inputChannel(ch),
		ID:      []tg.InputMessageClass{&tg.InputMessageID{ID: id}},
	})
	if err != nil {
		return nil, err
	}
	for _, m := range historyMessages(res) {
		if msg, ok := m.(*tg.Message); ok && msg.ID == id {
			return msg, nil
		}
	}
	return nil, fmt.Errorf("message %d not found in channel %d", id, ch.ID)
}

// mediaLocation resolves a message's media to a file location, a suggested
// filename and the total size. The message must be freshly fetched: file
// references go stale.
func mediaLocation(msg *tg.Message) (tg.InputFileLocationClass, string, int64, error) {
	switch m := msg.Media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return nil, "", 0, fmt.Errorf("message %d: photo unavailable", msg.ID)
		}
		thumb, size := largestPhotoSize(photo)
		if thumb == "" {
			return nil, "", 0, fmt.Errorf("message %d: photo has no sizes", msg.ID)
		}
		loc := &tg.InputPhotoFileLocation{
			ID:            photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
			ThumbSize:     thumb,
		}
		return loc, "photo.jpg", size, nil
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return nil, "", 0, fmt.Errorf("message %d: document unavailable", msg.ID)
		}
		loc := &tg.InputDocumentFileLocation{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		}
		return loc, documentFilename(doc), doc.Size, nil
	}
	return nil, "", 0, fmt.Errorf("message %d: media is not downloadable", msg.ID)
}

func largestPhotoSize(photo *tg.Photo) (string, int64) {
	var thumb string
	var size int64
	maxArea := 0
	for _, s := range photo.Sizes {
		switch ps := s.(type) {
		case *tg.PhotoSize:
			if area := ps.W * ps.H; area > maxArea {
				maxArea = area
				thumb = ps.Type
				size = int64(ps.Size)
			}
		case *tg.PhotoSizeProgressive:
			if area := ps.W * ps.H; area > maxArea {
				maxArea = area
				thumb = ps.Type
				if n := len(ps.Sizes); n > 0 {
					size = int64(ps.Sizes[n-1])
				}
			}
		}
	}
	return thumb, size
}

func documentFilename(doc *tg.Document) string {
	for _, attr := range doc.Attributes {
		if fn, ok := attr.(*tg.DocumentAttributeFilename); ok && fn.FileName != "" {
			return filepath.Base(fn.FileName)
		}
	}
	return "file" + extensionForMime(doc.MimeType)
}

func extensionForMime(mime string) string {
	switch mime {
	case "video/mp4":
		return ".mp4"
	case "audio/mpeg":
		return ".mp3"
	case "audio/ogg":
		return ".ogg"
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "application/pdf":
		return ".pdf"
	}
	return ".bin"
}

// DownloadMedia fetches a message's media into the media directory and
// returns the media-relative path. The message is re-fetched under the
// session lock for a fresh file reference; the byte transfer itself runs
// unlocked, on the client captured while the lock was held.
func (s *Session) DownloadMedia(ctx context.Context, ch models.ChannelRef, msgID int) (string, error) {
	var loc tg.InputFileLocationClass
	var name string
	var transfer *tg.Client
	err := s.WithSession(ctx, func(ctx context.Context, api *tg.Client) error {
		msg, err := fetchMessage(ctx, api, ch, msgID)
		if err != nil {
			return err
		}
		loc, name, _, err = mediaLocation(msg)
		transfer = api
		return err
	})
	if err != nil {
		return "", err
	}

	name = fmt.Sprintf("%d_%s", msgID, name)
	rel := fmt.Sprintf("%d/%s", ch.ID, name)
	dest := filepath.Join(s.mediaDir, fmt.Sprintf("%d", ch.ID), name)
	if err := s.streamTo(ctx, transfer, loc, dest); err != nil {
		return "", err
	}
	return rel, nil
}

// DownloadProfilePhoto stores the channel's current profile photo under
// avatars/ and returns the media-relative path.
func (s *Session) DownloadProfilePhoto(ctx context.Context, ch models.ChannelRef) (string, error) {
	var photoID int64
	var transfer *tg.Client
	err := s.WithSession(ctx, func(ctx context.Context, api *tg.Client) error {
		transfer = api
		res, err := api.ChannelsGetChannels(ctx, []tg.InputChannelClass{inputChannel(ch)})
		if err != nil {
			return err
		}
		var chats []tg.ChatClass
		switch r := res.(type) {
		case *tg.MessagesChats:
			chats = r.Chats
		case *tg.MessagesChatsSlice:
			chats = r.Chats
		}
		for _, c := range chats {
			if channel, ok := c.(*tg.Channel); ok && channel.ID == ch.ID {
				if photo, ok := channel.Photo.(*tg.ChatPhoto); ok {
					photoID = photo.PhotoID
				}
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if photoID == 0 {
		return "", fmt.Errorf("channel %d has no profile photo", ch.ID)
	}

	loc := &tg.InputPeerPhotoFileLocation{
		Big:     true,
		Peer:    inputPeerChannel(ch),
		PhotoID: photoID,
	}
	rel := fmt.Sprintf("avatars/%d.jpg", ch.ID)
	if err := s.streamTo(ctx, transfer, loc, filepath.Join(s.mediaDir, "avatars", fmt.Sprintf("%d.jpg", ch.ID))); err != nil {
		return "", err
	}
	return rel, nil
}

func (s *Session) streamTo(ctx context.Context, api *tg.Client, loc tg.InputFileLocationClass, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	_, err = downloader.NewDownloader().Download(api, loc).Stream(ctx, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return wrapErr(err)
	}
	return os.Rename(tmp, dest)
}

// MediaHash probes the leading bytes of a message's media and returns the
// partial content hash plus the total size. Files at or below the hash
// threshold report needsHash false and skip the probe entirely.
func (s *Session) MediaHash(ctx context.Context, ch models.ChannelRef, msgID int) (string, int64, bool, error) {
	var loc tg.InputFileLocationClass
	var size int64
	var transfer *tg.Client
	err := s.WithSession(ctx, func(ctx context.Context, api *tg.Client) error {
		msg, err := fetchMessage(ctx, api, ch, msgID)
		if err != nil {
			return err
		}
		loc, _, size, err = mediaLocation(msg)
		transfer = api
		return err
	})
	if err != nil {
		return "", 0, false, err
	}
	if size <= media.HashSizeThreshold {
		return "", size, false, nil
	}

	res, err := transfer.UploadGetFile(ctx, &tg.UploadGetFileRequest{
		Precise:  true,
		Location: loc,
		Offset:   0,
		Limit:    media.HashChunkSize,
	})
	if err != nil {
		return "", 0, false, wrapErr(err)
	}
	file, ok := res.(*tg.UploadFile)
	if !ok {
		return "", 0, false, fmt.Errorf("unexpected upload response %T", res)
	}
	return media.HashBytes(file.Bytes), size, true, nil
}

// SendReadAck marks the channel as read on the remote side up to maxID.
func (s *Session) SendReadAck(ctx context.Context, ch models.ChannelRef, maxID int) error {
	return s.WithSession(ctx, func(ctx context.Context, api *tg.Client) error {
		_, err := api.ChannelsReadHistory(ctx, &tg.ChannelsReadHistoryRequest{
			Channel: inputChannel(ch),
			MaxID:   maxID,
		})
		return err
	})
}

// ReadState returns the remote read_inbox_max_id for the channel.
func (s *Session) ReadState(ctx context.Context, ch models.ChannelRef) (int, error) {
	maxID := 0
	err := s.WithSession(ctx, func(ctx context.Context, api *tg.Client) error {
		res, err := api.MessagesGetPeerDialogs(ctx, []tg.InputDialogPeerClass{
			&tg.InputDialogPeer{Peer: inputPeerChannel(ch)},
		})
		if err != nil {
			return err
		}
		for _, d := range res.Dialogs {
			if dlg, ok := d.(*tg.Dialog); ok {
				maxID = dlg.ReadInboxMaxID
				return nil
			}
		}
		return fmt.Errorf("no dialog state for channel %d", ch.ID)
	})
	return maxID, err
}
