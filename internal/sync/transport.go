// Package sync holds the engines that move channel data: dialog sync,
// forward message sync, backward history sync and read-state sync. Engines
// are transport-agnostic: they run identically over the daemon RPC client
// and over a direct session.
package sync

import (
	"context"

	"tgmirror/internal/models"
)

// Transport is everything an engine needs from the Telegram side. Both
// rpc.Client and telegram.Session implement it.
type Transport interface {
	IterDialogs(ctx context.Context) ([]models.Channel, error)
	IterMessages(ctx context.Context, ch models.ChannelRef, q models.MessageQuery) ([]models.Message, error)
	GetMessages(ctx context.Context, ch models.ChannelRef, ids []int) ([]models.Message, error)
	DownloadMedia(ctx context.Context, ch models.ChannelRef, msgID int) (string, error)
	DownloadProfilePhoto(ctx context.Context, ch models.ChannelRef) (string, error)
	MediaHash(ctx context.Context, ch models.ChannelRef, msgID int) (string, int64, bool, error)
	SendReadAck(ctx context.Context, ch models.ChannelRef, maxID int) error
	ReadState(ctx context.Context, ch models.ChannelRef) (int, error)
}
