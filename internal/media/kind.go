// Package media decides, per message, whether an attachment is fetched now,
// substituted from a local backup, deferred as pending, or skipped by
// operator flag.
package media

import "tgmirror/internal/models"

// Kind is the closed set of attachment categories the download flags gate.
type Kind int

const (
	KindNone Kind = iota
	KindImage
	KindVideo
	KindAudio
	KindOther
)

// KindOf maps a stored media_type tag to its flag category. Types that are
// not downloadable (webpage previews, polls, geo and the like) map to
// KindNone.
func KindOf(mediaType string) Kind {
	switch mediaType {
	case "photo":
		return KindImage
	case "video":
		return KindVideo
	case "audio", "voice":
		return KindAudio
	case "document", "sticker", "animation":
		return KindOther
	default:
		return KindNone
	}
}

// Downloadable reports whether the media type carries fetchable bytes.
func Downloadable(mediaType string) bool {
	return KindOf(mediaType) != KindNone
}

// WantDownload applies the per-channel type flags. download_all overrides
// every per-type flag.
func WantDownload(ch *models.Channel, mediaType string) bool {
	kind := KindOf(mediaType)
	if kind == KindNone {
		return false
	}
	if ch.DownloadAll {
		return true
	}
	switch kind {
	case KindImage:
		return ch.DownloadImages
	case KindVideo:
		return ch.DownloadVideos
	case KindAudio:
		return ch.DownloadAudio
	default:
		return ch.DownloadOther
	}
}
