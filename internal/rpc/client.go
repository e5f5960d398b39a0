package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"tgmirror/internal/errs"
	"tgmirror/internal/models"
)

// Client talks to the daemon. It implements the same transport surface as
// a direct session. The HTTP client carries no timeout: download calls can
// legitimately run for minutes, and cancellation comes from the context.
type Client struct {
	base         string
	http         *http.Client
	CredentialID int64
	nextID       atomic.Int64
}

func NewClient(host string, port int) *Client {
	return &Client{
		base: fmt.Sprintf("http://%s:%d", host, port),
		http: &http.Client{},
	}
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	req := Request{ID: c.nextID.Add(1), Method: method}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode params: %w", err)
		}
		req.Params = data
	}

	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/rpc", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrDaemonUnavailable, err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: http %d", errs.ErrDaemonUnavailable, httpResp.StatusCode)
	}

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != "" {
		if resp.FloodWaitSeconds > 0 {
			return &errs.FloodWait{Seconds: resp.FloodWaitSeconds}
		}
		if resp.AuthRequired {
			return errs.ErrAuthRequired
		}
		return &errs.Remote{Msg: resp.Error}
	}
	if result != nil && len(resp.Result) > 0 {
		return json.Unmarshal(resp.Result, result)
	}
	return nil
}

func (c *Client) channelParams(ch models.ChannelRef) ChannelParams {
	return ChannelParams{
		SessionParams: SessionParams{CredentialID: c.CredentialID},
		Channel:       ch,
	}
}

func (c *Client) Ping(ctx context.Context) error {
	var res OKResult
	return c.call(ctx, MethodPing, nil, &res)
}

func (c *Client) GetClients(ctx context.Context) ([]models.ClientStatus, error) {
	var res ClientsResult
	if err := c.call(ctx, MethodGetClients, nil, &res); err != nil {
		return nil, err
	}
	return res.Clients, nil
}

func (c *Client) IterDialogs(ctx context.Context) ([]models.Channel, error) {
	var res ChannelsResult
	params := SessionParams{CredentialID: c.CredentialID}
	if err := c.call(ctx, MethodIterDialogs, params, &res); err != nil {
		return nil, err
	}
	return res.Channels, nil
}

func (c *Client) IterMessages(ctx context.Context, ch models.ChannelRef, q models.MessageQuery) ([]models.Message, error) {
	var res MessagesResult
	params := IterMessagesParams{ChannelParams: c.channelParams(ch), Query: q}
	if err := c.call(ctx, MethodIterMessages, params, &res); err != nil {
		return nil, err
	}
	return res.Messages, nil
}

func (c *Client) GetMessages(ctx context.Context, ch models.ChannelRef, ids []int) ([]models.Message, error) {
	var res MessagesResult
	params := GetMessagesParams{ChannelParams: c.channelParams(ch), IDs: ids}
	if err := c.call(ctx, MethodGetMessages, params, &res); err != nil {
		return nil, err
	}
	return res.Messages, nil
}

func (c *Client) DownloadMedia(ctx context.Context, ch models.ChannelRef, msgID int) (string, error) {
	var res PathResult
	params := MessageParams{ChannelParams: c.channelParams(ch), MessageID: msgID}
	if err := c.call(ctx, MethodDownloadMedia, params, &res); err != nil {
		return "", err
	}
	return res.Path, nil
}

func (c *Client) DownloadProfilePhoto(ctx context.Context, ch models.ChannelRef) (string, error) {
	var res PathResult
	if err := c.call(ctx, MethodDownloadProfilePhoto, c.channelParams(ch), &res); err != nil {
		return "", err
	}
	return res.Path, nil
}

func (c *Client) MediaHash(ctx context.Context, ch models.ChannelRef, msgID int) (string, int64, bool, error) {
	var res MediaHashResult
	params := MessageParams{ChannelParams: c.channelParams(ch), MessageID: msgID}
	if err := c.call(ctx, MethodGetMediaHash, params, &res); err != nil {
		return "", 0, false, err
	}
	return res.Hash, res.Size, res.NeedsHash, nil
}

func (c *Client) SendReadAck(ctx context.Context, ch models.ChannelRef, maxID int) error {
	var res OKResult
	params := ReadAckParams{ChannelParams: c.channelParams(ch), MaxID: maxID}
	return c.call(ctx, MethodSendReadAcknowledge, params, &res)
}

func (c *Client) ReadState(ctx context.Context, ch models.ChannelRef) (int, error) {
	var res ReadStateResult
	if err := c.call(ctx, MethodGetReadState, c.channelParams(ch), &res); err != nil {
		return 0, err
	}
	return res.MaxID, nil
}

// IsDaemonRunning probes the RPC port with a short deadline. Sync entry
// points use it once at startup to choose daemon or direct mode.
func IsDaemonRunning(host string, port int) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return NewClient(host, port).Ping(ctx) == nil
}
