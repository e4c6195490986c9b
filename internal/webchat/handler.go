package webchat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/wolfman30/patientpal/internal/auth"
	"github.com/wolfman30/patientpal/internal/history"
	"github.com/wolfman30/patientpal/internal/http/middleware"
	"github.com/wolfman30/patientpal/internal/session"
	"github.com/wolfman30/patientpal/pkg/logging"
)

const maxMessageBytes = 4 << 10

var errConnClosed = errors.New("webchat: connection closed")

// Sessions is the session manager surface the transport needs.
type Sessions interface {
	Connect(ctx context.Context, userID string, conn session.Conn) (*session.Session, error)
	Release(s *session.Session)
	HandleMessage(ctx context.Context, userID, text string) (string, error)
	FetchHistory(ctx context.Context, userID string) ([]history.DisplayMessage, error)
}

// Handler serves the chat WebSocket and its HTTP fallbacks. Every route
// expects the auth middleware to have placed the user id in the context.
type Handler struct {
	sessions Sessions
	origins  middleware.OriginPolicy
	logger   *logging.Logger
}

// InboundMessage is what the client sends.
type InboundMessage struct {
	Type string `json:"type"` // "message", "ping"
	Text string `json:"text"`
}

// OutboundMessage is what we send to the client.
type OutboundMessage struct {
	Type      string                   `json:"type"` // "history", "message", "typing", "error", "pong", "closed"
	Text      string                   `json:"text,omitempty"`
	Role      string                   `json:"role,omitempty"`
	Timestamp string                   `json:"timestamp,omitempty"`
	Messages  []history.DisplayMessage `json:"messages,omitempty"`
}

// NewHandler creates a chat handler. Browser origins are checked against
// allowedOrigins; clients that send no Origin are accepted.
func NewHandler(sessions Sessions, allowedOrigins []string, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		sessions: sessions,
		origins:  middleware.NewOriginPolicy(allowedOrigins),
		logger:   logger.Component("webchat"),
	}
}

// wsConn adapts a WebSocket to session.Conn. Writes are serialized because
// replies and close notices come from different goroutines.
type wsConn struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func (c *wsConn) send(msg OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	return websocket.JSON.Send(c.conn, msg)
}

func (c *wsConn) SendHistory(messages []history.DisplayMessage) error {
	if messages == nil {
		messages = []history.DisplayMessage{}
	}
	return c.send(OutboundMessage{Type: "history", Messages: messages})
}

func (c *wsConn) SendMessage(text string) error {
	return c.send(OutboundMessage{
		Type:      "message",
		Role:      "assistant",
		Text:      text,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Close tells the client why the session ended, then closes the socket.
func (c *wsConn) Close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	_ = websocket.JSON.Send(c.conn, OutboundMessage{Type: "closed", Text: reason})
	return c.conn.Close()
}

// HandleWebSocket upgrades to WebSocket and runs the user's session.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	server := websocket.Server{
		Handshake: h.handshake,
		Handler: func(conn *websocket.Conn) {
			conn.MaxPayloadBytes = maxMessageBytes
			h.serveWS(conn, r)
		},
	}
	server.ServeHTTP(w, r)
}

func (h *Handler) handshake(cfg *websocket.Config, r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return nil
	}
	if !h.origins.Allows(origin) {
		return fmt.Errorf("webchat: origin %q not allowed", origin)
	}
	var err error
	cfg.Origin, err = websocket.Origin(cfg, r)
	return err
}

func (h *Handler) serveWS(conn *websocket.Conn, r *http.Request) {
	ctx := r.Context()
	wsc := &wsConn{conn: conn}
	userID, ok := auth.UserIDFromContext(ctx)
	if !ok {
		_ = wsc.send(OutboundMessage{Type: "error", Text: "unauthorized"})
		_ = wsc.Close("unauthorized")
		return
	}

	sess, err := h.sessions.Connect(ctx, userID, wsc)
	if err != nil {
		h.logger.Error("webchat: failed to open session", "user_id", userID, "error", err)
		_ = wsc.send(OutboundMessage{Type: "error", Text: "Sorry, we couldn't load your conversation. Please try again."})
		_ = wsc.Close(session.ReasonStorageFailed)
		return
	}
	defer h.sessions.Release(sess)
	h.logger.Info("webchat: connection opened", "user_id", userID)

	for {
		var msg InboundMessage
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			h.logger.Debug("webchat: connection closed", "user_id", userID, "reason", sess.Reason(), "error", err)
			return
		}
		if sess.Reason() != "" {
			return
		}

		switch msg.Type {
		case "ping":
			_ = wsc.send(OutboundMessage{Type: "pong"})
		case "message":
			if strings.TrimSpace(msg.Text) == "" {
				continue
			}
			_ = wsc.send(OutboundMessage{Type: "typing"})
			// The reply itself is delivered by the session.
			_, err := h.sessions.HandleMessage(ctx, userID, msg.Text)
			switch {
			case err == nil:
			case errors.Is(err, session.ErrSessionClosed), errors.Is(err, session.ErrNotConnected), errors.Is(err, history.ErrStorage):
				return
			default:
				h.logger.Error("webchat: message failed", "user_id", userID, "error", err)
				_ = wsc.send(OutboundMessage{Type: "error", Text: "Sorry, something went wrong. Please try again."})
			}
		}
	}
}

// HandleMessage is the HTTP fallback for sending a message to the caller's
// live session.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	reply, err := h.sessions.HandleMessage(r.Context(), userID, req.Text)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
	case errors.Is(err, session.ErrNotConnected), errors.Is(err, session.ErrSessionClosed):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "no active chat session"})
	case errors.Is(err, session.ErrEmptyMessage):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
	case errors.Is(err, history.ErrStorage):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "storage unavailable", "reply": reply})
	default:
		h.logger.Error("webchat: message failed", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

// HandleHistory returns the caller's transcript.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	msgs, err := h.sessions.FetchHistory(r.Context(), userID)
	if err != nil {
		h.logger.Error("webchat: failed to load history", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load history"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
