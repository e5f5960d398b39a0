// Package rpc is the boundary between the connection daemon and the sync
// processes. The daemon serves a small fixed method set over local HTTP;
// the client side exposes those methods with the same signatures as a
// direct session, so sync code never cares which one it holds.
package rpc

import (
	"encoding/json"

	"tgmirror/internal/models"
)

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 9876
)

// Method names. Unknown methods are rejected, never forwarded.
const (
	MethodPing                 = "ping"
	MethodGetClients           = "get_clients"
	MethodIterDialogs          = "iter_dialogs"
	MethodIterMessages         = "iter_messages"
	MethodGetMessages          = "get_messages"
	MethodDownloadMedia        = "download_media"
	MethodDownloadProfilePhoto = "download_profile_photo"
	MethodGetMediaHash         = "get_media_hash"
	MethodSendReadAcknowledge  = "send_read_acknowledge"
	MethodGetReadState         = "get_read_state"
)

// Request is one RPC call. Params is method-specific.
type Request struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response carries either Result or Error, echoing the request id. A flood
// wait travels as a dedicated field so the client can rebuild the typed
// error instead of parsing a message string.
type Response struct {
	ID               int64           `json:"id"`
	Result           json.RawMessage `json:"result,omitempty"`
	Error            string          `json:"error,omitempty"`
	FloodWaitSeconds int             `json:"flood_wait_seconds,omitempty"`
	AuthRequired     bool            `json:"auth_required,omitempty"`
}

// SessionParams selects which daemon session serves the call. Zero means
// the primary credential.
type SessionParams struct {
	CredentialID int64 `json:"credential_id,omitempty"`
}

type ChannelParams struct {
	SessionParams
	Channel models.ChannelRef `json:"channel"`
}

type IterMessagesParams struct {
	ChannelParams
	Query models.MessageQuery `json:"query"`
}

type GetMessagesParams struct {
	ChannelParams
	IDs []int `json:"ids"`
}

type MessageParams struct {
	ChannelParams
	MessageID int `json:"message_id"`
}

type ReadAckParams struct {
	ChannelParams
	MaxID int `json:"max_id"`
}

type ClientsResult struct {
	Clients []models.ClientStatus `json:"clients"`
}

type ChannelsResult struct {
	Channels []models.Channel `json:"channels"`
}

type MessagesResult struct {
	Messages []models.Message `json:"messages"`
}

type PathResult struct {
	Path string `json:"path"`
}

// MediaHashResult reports the partial hash probe. NeedsHash false means
// the file is small enough that hashing is skipped and Hash is empty.
type MediaHashResult struct {
	Hash      string `json:"hash,omitempty"`
	Size      int64  `json:"size"`
	NeedsHash bool   `json:"needs_hash"`
}

type ReadStateResult struct {
	MaxID int `json:"max_id"`
}

type OKResult struct {
	OK bool `json:"ok"`
}
