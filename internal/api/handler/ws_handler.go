package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ngxpulse/pulse-api/internal/api/metrics"
	"github.com/ngxpulse/pulse-api/internal/api/middleware"
	"github.com/ngxpulse/pulse-api/internal/core/domain"
	"github.com/ngxpulse/pulse-api/internal/core/ports"
)

const (
	wsWriteWait    = 10 * time.Second
	wsReadLimit    = 64 << 10
	wsIdleTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

// LiveHandler serves the authenticated WebSocket channel. The bearer token
// travels as an "Authorization.Bearer.<token>" subprotocol.
type LiveHandler struct {
	auth     ports.AuthService
	upgrader websocket.Upgrader
}

func NewLiveHandler(auth ports.AuthService, allowedOrigins []string) *LiveHandler {
	return &LiveHandler{
		auth: auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || middleware.OriginAllowed(allowedOrigins, origin)
			},
		},
	}
}

type liveMessage struct {
	Type   string `json:"type"`
	UserID string `json:"user_id,omitempty"`
}

// Live handles GET /routes/ws/live. Authentication failures complete the
// handshake and then close with 1008 so browsers can see the reason.
func (h *LiveHandler) Live(c echo.Context) error {
	req := c.Request()
	log := zerolog.Ctx(req.Context())

	user, authErr := middleware.AuthenticateWebSocket(req.Context(), h.auth, req)

	// Echo the offered token subprotocol back so the client accepts the handshake.
	respHeader := http.Header{}
	if token := middleware.WebSocketToken(req); token != "" {
		respHeader.Set("Sec-WebSocket-Protocol", "Authorization.Bearer."+token)
	}

	conn, err := h.upgrader.Upgrade(c.Response(), req, respHeader)
	if err != nil {
		// Upgrade already wrote an HTTP error response.
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return nil
	}
	defer conn.Close()

	if authErr != nil {
		code := websocket.ClosePolicyViolation
		reason := "Not authenticated"
		if errors.Is(authErr, domain.ErrConfigMissing) {
			code = websocket.CloseInternalServerErr
			reason = domain.ErrConfigMissing.Message
		}
		log.Warn().Err(authErr).Int("close_code", code).Msg("websocket rejected")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(wsWriteWait))
		return nil
	}

	metrics.WebSocketConnections.Inc()
	defer metrics.WebSocketConnections.Dec()

	log.Info().Str("user_id", user.ID()).Msg("websocket connected")
	h.serve(conn, user, log)
	return nil
}

func (h *LiveHandler) serve(conn *websocket.Conn, user *domain.User, log *zerolog.Logger) {
	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
	})

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(liveMessage{Type: "connected", UserID: user.ID()}); err != nil {
		log.Debug().Err(err).Msg("websocket greeting failed")
		return
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			}
		}
	}()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("websocket closed")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteMessage(kind, data); err != nil {
			return
		}
	}
}
