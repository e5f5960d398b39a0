package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tgmirror/internal/errs"
	"tgmirror/internal/models"
)

func clientFor(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return NewClient(u.Hostname(), port)
}

// scriptedServer answers every /rpc call with the given response, echoing
// the request id, and hands the decoded request to inspect.
func scriptedServer(t *testing.T, inspect func(Request), respond func(Request) Response) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rpc", r.URL.Path)
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if inspect != nil {
			inspect(req)
		}
		resp := respond(req)
		resp.ID = req.ID
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func resultResponse(t *testing.T, result any) Response {
	t.Helper()
	data, err := json.Marshal(result)
	require.NoError(t, err)
	return Response{Result: data}
}

func TestClientRoundtrip(t *testing.T) {
	var got Request
	srv := scriptedServer(t,
		func(req Request) { got = req },
		func(req Request) Response {
			return resultResponse(t, MessagesResult{Messages: []models.Message{
				{ID: 11, Text: "hello"}, {ID: 12, Text: "world"},
			}})
		})
	defer srv.Close()

	client := clientFor(t, srv)
	client.CredentialID = 3

	msgs, err := client.IterMessages(context.Background(),
		models.ChannelRef{ID: 42, AccessHash: 7}, models.MessageQuery{MinID: 10})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, 11, msgs[0].ID)

	assert.Equal(t, MethodIterMessages, got.Method)
	var params IterMessagesParams
	require.NoError(t, json.Unmarshal(got.Params, &params))
	assert.Equal(t, int64(3), params.CredentialID)
	assert.Equal(t, int64(42), params.Channel.ID)
	assert.Equal(t, int64(7), params.Channel.AccessHash)
	assert.Equal(t, 10, params.Query.MinID)
}

func TestClientFloodWaitMapping(t *testing.T) {
	srv := scriptedServer(t, nil, func(Request) Response {
		return Response{Error: "flood_wait", FloodWaitSeconds: 30}
	})
	defer srv.Close()

	_, err := clientFor(t, srv).IterDialogs(context.Background())
	require.Error(t, err)
	seconds, ok := errs.AsFloodWait(err)
	require.True(t, ok)
	assert.Equal(t, 30, seconds)
}

func TestClientAuthRequiredMapping(t *testing.T) {
	srv := scriptedServer(t, nil, func(Request) Response {
		return Response{Error: "auth_required", AuthRequired: true}
	})
	defer srv.Close()

	_, err := clientFor(t, srv).ReadState(context.Background(), models.ChannelRef{ID: 1})
	assert.ErrorIs(t, err, errs.ErrAuthRequired)
}

func TestClientRemoteErrorMapping(t *testing.T) {
	srv := scriptedServer(t, nil, func(Request) Response {
		return Response{Error: "CHANNEL_PRIVATE"}
	})
	defer srv.Close()

	_, err := clientFor(t, srv).DownloadMedia(context.Background(), models.ChannelRef{ID: 1}, 5)
	require.Error(t, err)
	var remote *errs.Remote
	require.True(t, errors.As(err, &remote))
	assert.Contains(t, remote.Msg, "CHANNEL_PRIVATE")
}

func TestClientDaemonUnavailable(t *testing.T) {
	// Grab a free port and close it again so nothing listens there.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	client := NewClient("127.0.0.1", port)
	err = client.Ping(context.Background())
	assert.ErrorIs(t, err, errs.ErrDaemonUnavailable)
	assert.False(t, IsDaemonRunning("127.0.0.1", port))
}

func TestServerPingAndUnknownMethod(t *testing.T) {
	// Ping and method validation never touch a session, so no manager is
	// needed.
	server := NewServer(nil, zap.NewNop())
	srv := httptest.NewServer(server.router())
	defer srv.Close()

	client := clientFor(t, srv)
	require.NoError(t, client.Ping(context.Background()))

	err := client.call(context.Background(), "drop_tables", nil, nil)
	require.Error(t, err)
	var remote *errs.Remote
	require.True(t, errors.As(err, &remote))
	assert.Contains(t, remote.Msg, "unknown method")
}

func TestServerRejectsMalformedBody(t *testing.T) {
	server := NewServer(nil, zap.NewNop())
	srv := httptest.NewServer(server.router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/rpc", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
