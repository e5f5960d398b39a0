package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"tgmirror/internal/errs"
	"tgmirror/internal/telegram"
)

// Server exposes the daemon's sessions over local HTTP: POST /rpc for
// calls, GET /ws for a status stream.
type Server struct {
	manager  *telegram.Manager
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func NewServer(manager *telegram.Manager, log *zap.Logger) *Server {
	return &Server{
		manager: manager,
		log:     log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Loopback-only listener, origin checks add nothing.
				return true
			},
		},
	}
}

func (s *Server) router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.POST("/rpc", s.handleRPC)
	r.GET("/ws", s.handleWS)
	return cors.Default().Handler(r)
}

// Run serves until ctx is cancelled, then shuts down draining in-flight
// calls.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.router(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info("rpc server listening", zap.String("addr", addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleRPC(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request: " + err.Error()})
		return
	}

	result, err := s.dispatch(c.Request.Context(), &req)
	resp := Response{ID: req.ID}
	if err != nil {
		if seconds, ok := errs.AsFloodWait(err); ok {
			resp.Error = "flood_wait"
			resp.FloodWaitSeconds = seconds
		} else if errors.Is(err, errs.ErrAuthRequired) {
			resp.Error = "auth_required"
			resp.AuthRequired = true
		} else {
			resp.Error = err.Error()
		}
		s.log.Warn("rpc call failed",
			zap.String("method", req.Method), zap.Error(err))
		c.JSON(http.StatusOK, resp)
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		resp.Error = "encode result: " + err.Error()
		c.JSON(http.StatusOK, resp)
		return
	}
	resp.Result = data
	c.JSON(http.StatusOK, resp)
}

func (s *Server) dispatch(ctx context.Context, req *Request) (any, error) {
	switch req.Method {
	case MethodPing:
		return OKResult{OK: true}, nil

	case MethodGetClients:
		return ClientsResult{Clients: s.manager.Clients()}, nil

	case MethodIterDialogs:
		var p SessionParams
		sess, err := s.session(req.Params, &p, &p)
		if err != nil {
			return nil, err
		}
		channels, err := sess.IterDialogs(ctx)
		if err != nil {
			return nil, err
		}
		return ChannelsResult{Channels: channels}, nil

	case MethodIterMessages:
		var p IterMessagesParams
		sess, err := s.session(req.Params, &p, &p.SessionParams)
		if err != nil {
			return nil, err
		}
		msgs, err := sess.IterMessages(ctx, p.Channel, p.Query)
		if err != nil {
			return nil, err
		}
		return MessagesResult{Messages: msgs}, nil

	case MethodGetMessages:
		var p GetMessagesParams
		sess, err := s.session(req.Params, &p, &p.SessionParams)
		if err != nil {
			return nil, err
		}
		msgs, err := sess.GetMessages(ctx, p.Channel, p.IDs)
		if err != nil {
			return nil, err
		}
		return MessagesResult{Messages: msgs}, nil

	case MethodDownloadMedia:
		var p MessageParams
		sess, err := s.session(req.Params, &p, &p.SessionParams)
		if err != nil {
			return nil, err
		}
		path, err := sess.DownloadMedia(ctx, p.Channel, p.MessageID)
		if err != nil {
			return nil, err
		}
		return PathResult{Path: path}, nil

	case MethodDownloadProfilePhoto:
		var p ChannelParams
		sess, err := s.session(req.Params, &p, &p.SessionParams)
		if err != nil {
			return nil, err
		}
		path, err := sess.DownloadProfilePhoto(ctx, p.Channel)
		if err != nil {
			return nil, err
		}
		return PathResult{Path: path}, nil

	case MethodGetMediaHash:
		var p MessageParams
		sess, err := s.session(req.Params, &p, &p.SessionParams)
		if err != nil {
			return nil, err
		}
		hash, size, needsHash, err := sess.MediaHash(ctx, p.Channel, p.MessageID)
		if err != nil {
			return nil, err
		}
		return MediaHashResult{Hash: hash, Size: size, NeedsHash: needsHash}, nil

	case MethodSendReadAcknowledge:
		var p ReadAckParams
		sess, err := s.session(req.Params, &p, &p.SessionParams)
		if err != nil {
			return nil, err
		}
		if err := sess.SendReadAck(ctx, p.Channel, p.MaxID); err != nil {
			return nil, err
		}
		return OKResult{OK: true}, nil

	case MethodGetReadState:
		var p ChannelParams
		sess, err := s.session(req.Params, &p, &p.SessionParams)
		if err != nil {
			return nil, err
		}
		maxID, err := sess.ReadState(ctx, p.Channel)
		if err != nil {
			return nil, err
		}
		return ReadStateResult{MaxID: maxID}, nil
	}

	return nil, fmt.Errorf("unknown method %q", req.Method)
}

func (s *Server) session(raw json.RawMessage, params any, sel *SessionParams) (*telegram.Session, error) {
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, params); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
	}
	return s.manager.Get(sel.CredentialID)
}

// handleWS streams client status to the operator UI until the peer
// disconnects.
func (s *Server) handleWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		status := ClientsResult{Clients: s.manager.Clients()}
		if err := conn.WriteJSON(status); err != nil {
			return
		}
		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
