package telegram

import (
	"encoding/json"
	"time"

	"github.com/gotd/td/tg"

	"tgmirror/internal/models"
)

func parseChannel(ch *tg.Channel) models.Channel {
	out := models.Channel{
		ID:                ch.ID,
		AccessHash:        ch.AccessHash,
		Title:             ch.Title,
		Username:          ch.Username,
		Date:              int64(ch.Date),
		ParticipantsCount: ch.ParticipantsCount,
		Broadcast:         ch.Broadcast,
		Megagroup:         ch.Megagroup,
		Subscribed:        true,
	}
	if photo, ok := ch.Photo.(*tg.ChatPhoto); ok {
		out.PhotoID = photo.PhotoID
	}
	return out
}

func parseMessage(m *tg.Message) models.Message {
	out := models.Message{
		ID:         m.ID,
		Date:       int64(m.Date),
		Text:       m.Message,
		MediaType:  mediaType(m.Media),
		Views:      m.Views,
		Forwards:   m.Forwards,
		GroupedID:  m.GroupedID,
		PostAuthor: m.PostAuthor,
		EditDate:   int64(m.EditDate),
		CreatedAt:  time.Now().Unix(),
	}
	out.FromID = peerID(m.FromID)
	if fwd, ok := m.GetFwdFrom(); ok {
		out.FwdFromID = peerID(fwd.FromID)
		out.FwdFromName = fwd.FromName
	}
	if reply, ok := m.GetReplyTo(); ok {
		if h, ok := reply.(*tg.MessageReplyHeader); ok {
			out.ReplyToMsgID = h.ReplyToMsgID
		}
	}
	out.Entities = encodeEntities(m.Entities)
	return out
}

func peerID(peer tg.PeerClass) int64 {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return p.UserID
	case *tg.PeerChat:
		return p.ChatID
	case *tg.PeerChannel:
		return p.ChannelID
	}
	return 0
}

// mediaType names the media attached to a message. The media package maps
// these names onto download categories; names it does not know are kept
// for the record but never downloaded.
func mediaType(media tg.MessageMediaClass) string {
	switch m := media.(type) {
	case nil:
		return ""
	case *tg.MessageMediaPhoto:
		return "photo"
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return "document"
		}
		kind := "document"
		for _, attr := range doc.Attributes {
			switch a := attr.(type) {
			case *tg.DocumentAttributeVideo:
				kind = "video"
			case *tg.DocumentAttributeAudio:
				if a.Voice {
					kind = "voice"
				} else {
					kind = "audio"
				}
			case *tg.DocumentAttributeAnimated:
				kind = "animation"
			case *tg.DocumentAttributeSticker:
				kind = "sticker"
			}
		}
		return kind
	case *tg.MessageMediaWebPage:
		return "webpage"
	case *tg.MessageMediaPoll:
		return "poll"
	case *tg.MessageMediaGeo:
		return "geo"
	case *tg.MessageMediaContact:
		return "contact"
	case *tg.MessageMediaVenue:
		return "venue"
	case *tg.MessageMediaDice:
		return "dice"
	}
	return "unsupported"
}

type entityJSON struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
	URL    string `json:"url,omitempty"`
}

type entityBounds interface {
	GetOffset() int
	GetLength() int
}

// encodeEntities flattens formatting entities into a JSON list. Only the
// shape needed to re-render text is kept.
func encodeEntities(entities []tg.MessageEntityClass) string {
	if len(entities) == 0 {
		return ""
	}
	out := make([]entityJSON, 0, len(entities))
	for _, e := range entities {
		b, ok := e.(entityBounds)
		if !ok {
			continue
		}
		item := entityJSON{Offset: b.GetOffset(), Length: b.GetLength()}
		switch t := e.(type) {
		case *tg.MessageEntityBold:
			item.Type = "bold"
		case *tg.MessageEntityItalic:
			item.Type = "italic"
		case *tg.MessageEntityUnderline:
			item.Type = "underline"
		case *tg.MessageEntityStrike:
			item.Type = "strike"
		case *tg.MessageEntityCode:
			item.Type = "code"
		case *tg.MessageEntityPre:
			item.Type = "pre"
		case *tg.MessageEntityURL:
			item.Type = "url"
		case *tg.MessageEntityTextURL:
			item.Type = "text_url"
			item.URL = t.URL
		case *tg.MessageEntityMention:
			item.Type = "mention"
		case *tg.MessageEntityHashtag:
			item.Type = "hashtag"
		case *tg.MessageEntityBlockquote:
			item.Type = "blockquote"
		case *tg.MessageEntitySpoiler:
			item.Type = "spoiler"
		case *tg.MessageEntityCustomEmoji:
			item.Type = "custom_emoji"
		default:
			item.Type = "other"
		}
		out = append(out, item)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return ""
	}
	return string(data)
}

// historyMessages extracts the raw message list from any history response
// shape. Service messages and holes are handled by the callers.
func historyMessages(res tg.MessagesMessagesClass) []tg.MessageClass {
	switch m := res.(type) {
	case *tg.MessagesMessages:
		return m.Messages
	case *tg.MessagesMessagesSlice:
		return m.Messages
	case *tg.MessagesChannelMessages:
		return m.Messages
	}
	return nil
}

func parseHistory(res tg.MessagesMessagesClass) []models.Message {
	raw := historyMessages(res)
	out := make([]models.Message, 0, len(raw))
	for _, m := range raw {
		if msg, ok := m.(*tg.Message); ok {
			out = append(out, parseMessage(msg))
		}
	}
	return out
}
