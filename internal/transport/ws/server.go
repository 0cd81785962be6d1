// Package ws streams session events to watchers over WebSocket.
package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/xiaot623/pmpcs/internal/domain"
	"github.com/xiaot623/pmpcs/internal/hub"
	"github.com/xiaot623/pmpcs/internal/service"
)

const maxMessageSize = 4096

// Config holds connection timing.
type Config struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}

// Server handles session watch connections.
type Server struct {
	cfg      Config
	hub      *hub.Hub
	service  *service.Service
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewServer creates a new WebSocket server.
func NewServer(cfg Config, h *hub.Hub, svc *service.Service, logger zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg.withDefaults(),
		hub:     h,
		service: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger.With().Str("component", "ws").Logger(),
	}
}

// RegisterRoutes registers the watch endpoint.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/v1/session/:session_id/watch", s.HandleWatch)
}

// HandleWatch upgrades the connection, sends the current session snapshot and
// then every event published for the session until either side closes.
// GET /v1/session/:session_id/watch
func (s *Server) HandleWatch(c echo.Context) error {
	sessionID := c.Param("session_id")
	if _, err := s.service.GetStatus(c.Request().Context(), sessionID); err != nil {
		kind := domain.KindOf(err)
		status := http.StatusInternalServerError
		switch kind {
		case domain.KindNotFound:
			status = http.StatusNotFound
		case domain.KindStore:
			status = http.StatusServiceUnavailable
		}
		return c.JSON(status, map[string]string{
			"error": err.Error(),
			"code":  string(kind),
		})
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to upgrade websocket")
		return nil
	}
	defer conn.Close()

	// Subscribe before reading the snapshot so no transition can fall between them.
	sub := s.hub.Subscribe(sessionID)
	defer s.hub.Unsubscribe(sub)

	session, err := s.service.GetStatus(c.Request().Context(), sessionID)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to load snapshot")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "snapshot unavailable"),
			time.Now().Add(s.cfg.WriteTimeout))
		return nil
	}
	if err := s.writeJSON(conn, snapshot(session)); err != nil {
		return nil
	}

	s.logger.Debug().Str("session_id", sessionID).Str("subscriber_id", sub.ID).Msg("watcher connected")
	go s.readPump(conn, sub)
	s.writePump(conn, sub)
	s.logger.Debug().Str("session_id", sessionID).Str("subscriber_id", sub.ID).Msg("watcher disconnected")
	return nil
}

func snapshot(session *domain.Session) domain.SessionEvent {
	return domain.SessionEvent{
		Type:       domain.EventTypeSessionSnapshot,
		Ts:         time.Now().UnixMilli(),
		SessionID:  session.SessionID,
		To:         session.Status,
		PaidAmount: session.PaidAmount.String(),
	}
}

// readPump discards client frames so control messages are processed and a
// closed peer is noticed.
func (s *Server) readPump(conn *websocket.Conn, sub *hub.Subscriber) {
	defer s.hub.Unsubscribe(sub)

	readTimeout := 2 * s.cfg.PingInterval
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn().Err(err).Str("session_id", sub.SessionID).Msg("websocket read error")
			}
			return
		}
	}
}

// writePump forwards hub messages to the connection until the subscriber is closed.
func (s *Server) writePump(conn *websocket.Conn, sub *hub.Subscriber) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-sub.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Hub closed the channel
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Debug().Err(err).Str("session_id", sub.SessionID).Msg("failed to write message")
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeJSON(conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}
