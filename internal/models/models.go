package models

// Credential is one (api_id, api_hash, phone) tuple owned by the daemon.
// Immutable once loaded for a run.
type Credential struct {
	ID          int64  `json:"id"`
	APIID       int    `json:"api_id"`
	APIHash     string `json:"api_hash"`
	PhoneNumber string `json:"phone_number"`
	Primary     bool   `json:"primary"`
}

// ChannelRef addresses a channel on the remote API. The access hash is
// required for every channel-scoped call.
type ChannelRef struct {
	ID         int64 `json:"channel_id"`
	AccessHash int64 `json:"access_hash"`
}

// Channel is a local row for a broadcast channel. Dialog sync owns the
// metadata fields; the operator UI owns active, the download flags and
// backup_path, which the core only reads.
type Channel struct {
	ID                int64  `json:"id"`
	AccessHash        int64  `json:"access_hash"`
	Title             string `json:"title"`
	Username          string `json:"username"`
	PhotoID           int64  `json:"photo_id"`
	Date              int64  `json:"date"`
	ParticipantsCount int    `json:"participants_count"`
	Broadcast         bool   `json:"broadcast"`
	Megagroup         bool   `json:"megagroup"`
	Subscribed        bool   `json:"subscribed"`
	Active            bool   `json:"active"`
	DownloadAll       bool   `json:"download_all"`
	DownloadImages    bool   `json:"download_images"`
	DownloadVideos    bool   `json:"download_videos"`
	DownloadAudio     bool   `json:"download_audio"`
	DownloadOther     bool   `json:"download_other"`
	BackupPath        string `json:"backup_path,omitempty"`
	LastActive        int64  `json:"last_active"`
	CreatedAt         int64  `json:"created_at"`
	UpdatedAt         int64  `json:"updated_at"`
}

func (c *Channel) Ref() ChannelRef {
	return ChannelRef{ID: c.ID, AccessHash: c.AccessHash}
}

// Message is one mirrored message. (channel, id) is the stable unique key;
// re-fetching the same id upserts, never duplicates. MediaPath empty with
// MediaPending false means the operator opted out by flag; MediaPending true
// means a download was attempted and failed and is eligible for retry.
type Message struct {
	ID           int    `json:"id"`
	Date         int64  `json:"date"`
	Text         string `json:"message"`
	Entities     string `json:"entities,omitempty"` // JSON-encoded entity list
	FromID       int64  `json:"from_id,omitempty"`
	FwdFromID    int64  `json:"fwd_from_id,omitempty"`
	FwdFromName  string `json:"fwd_from_name,omitempty"`
	ReplyToMsgID int    `json:"reply_to_msg_id,omitempty"`
	MediaType    string `json:"media_type,omitempty"`
	MediaPath    string `json:"media_path,omitempty"`
	MediaPending bool   `json:"media_pending,omitempty"`
	Views        int    `json:"views,omitempty"`
	Forwards     int    `json:"forwards,omitempty"`
	GroupedID    int64  `json:"grouped_id,omitempty"`
	PostAuthor   string `json:"post_author,omitempty"`
	EditDate     int64  `json:"edit_date,omitempty"`
	CreatedAt    int64  `json:"created_at,omitempty"`
	Read         bool   `json:"read,omitempty"`
}

// MessageQuery is an identifier window for message fetches. MinID selects
// messages strictly newer than MinID (returned in ascending order); MaxID
// selects messages strictly older than MaxID (descending order). Limit caps
// the total; zero means no cap for MinID queries.
type MessageQuery struct {
	MinID int `json:"min_id,omitempty"`
	MaxID int `json:"max_id,omitempty"`
	Limit int `json:"limit,omitempty"`
}

// BackupFile is one entry of a channel's backup index. Hash is empty for
// files at or below the hash size threshold; those are never hash-matched.
type BackupFile struct {
	Path string
	Size int64
	Hash string
}

// ClientStatus describes one daemon-managed credential connection.
type ClientStatus struct {
	ID        int64  `json:"id"`
	Phone     string `json:"phone"`
	Connected bool   `json:"connected"`
	Primary   bool   `json:"primary"`
	LastUsed  int64  `json:"last_used"`
}
