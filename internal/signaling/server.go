package signaling

import (
	"context"
	"net/http"
	"time"

	"chattrix-calls/internal/auth"
	"chattrix-calls/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type ServerOptions struct {
	SendBuffer int
	// CheckOrigin defaults to accepting every origin; tokens gate access.
	CheckOrigin func(r *http.Request) bool
}

// Server upgrades authenticated requests to websocket sessions.
type Server struct {
	hub      *Hub
	router   *Router
	calls    CallService
	upgrader websocket.Upgrader
	opts     ServerOptions
}

func NewServer(hub *Hub, router *Router, svc CallService, opts ServerOptions) *Server {
	check := opts.CheckOrigin
	if check == nil {
		check = func(*http.Request) bool { return true }
	}
	return &Server{
		hub:    hub,
		router: router,
		calls:  svc,
		opts:   opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     check,
		},
	}
}

// Handle must run behind auth.RequireAccessToken.
func (s *Server) Handle(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	log := logger.FromGin(c).With("user_id", userID)

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		log.Warn("websocket upgrade failed", "err", err)
		return
	}

	conn := newConn(ws, userID, s.opts.SendBuffer)
	s.hub.Register(conn)
	go conn.writePump()
	log.Info("websocket connected")

	ctx := logger.With(context.WithoutCancel(c.Request.Context()), log)
	s.readLoop(ctx, conn)

	conn.Close()
	if s.hub.Unregister(conn) == 0 {
		log.Info("websocket closed, no connections left")
		dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		s.calls.ForceDisconnect(dctx, userID)
		cancel()
	}
}

func (s *Server) readLoop(ctx context.Context, conn *Conn) {
	ws := conn.ws
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.From(ctx).Debug("websocket read ended", "user_id", conn.userID, "err", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		reply := s.router.Dispatch(ctx, conn.userID, data)
		if reply == nil {
			continue
		}
		frame, err := encode(reply.Type, reply.Payload, time.Now())
		if err != nil {
			continue
		}
		if !conn.enqueue(frame) {
			return
		}
	}
}
