package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/myaview/backend/internal/platform/apierr"
	"github.com/myaview/backend/internal/platform/logger"
	"github.com/myaview/backend/internal/services"
)

var upgrader = websocket.Upgrader{
	// Single-tenant deployment on a private network; the browser client is
	// served from a different port.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// wsInbound is the client-to-server message. Type "chat" starts a turn;
// anything else is rejected without closing the channel.
type wsInbound struct {
	Type           string     `json:"type"`
	SessionID      uuid.UUID  `json:"session_id"`
	FamilyMemberID *uuid.UUID `json:"family_member_id,omitempty"`
	Content        string     `json:"content"`
	Images         []string   `json:"images,omitempty"`
	ImagePath      string     `json:"image_path,omitempty"`
	SkipContext    bool       `json:"skip_context,omitempty"`
}

type ChatWSHandler struct {
	orchestrator services.ChatOrchestrator
	log          *logger.Logger
}

func NewChatWSHandler(orchestrator services.ChatOrchestrator, log *logger.Logger) *ChatWSHandler {
	return &ChatWSHandler{orchestrator: orchestrator, log: log.With("handler", "ChatWS")}
}

// Serve runs the connection loop. Turns execute synchronously, so one
// connection naturally issues one turn at a time; the per-session gate in
// the orchestrator covers concurrent connections on the same session.
func (h *ChatWSHandler) Serve(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	h.log.Info("websocket client connected", "remote", ws.RemoteAddr().String())

	for {
		var in wsInbound
		if err := ws.ReadJSON(&in); err != nil {
			h.log.Info("websocket client disconnected", "error", err.Error())
			return
		}

		switch in.Type {
		case "chat":
			h.runTurn(c, ws, in)
		default:
			// Errors never terminate the channel.
			_ = ws.WriteJSON(services.TurnEvent{
				Type:    services.EventError,
				Content: apierr.UserMessage(apierr.Validation("unknown message type")),
			})
		}
	}
}

func (h *ChatWSHandler) runTurn(c *gin.Context, ws *websocket.Conn, in wsInbound) {
	req := services.TurnRequest{
		SessionID:   in.SessionID,
		MemberID:    in.FamilyMemberID,
		Message:     in.Content,
		Images:      in.Images,
		ImagePath:   in.ImagePath,
		SkipContext: in.SkipContext,
	}
	emit := func(ev services.TurnEvent) error {
		return ws.WriteJSON(ev)
	}
	if err := h.orchestrator.RunTurn(c.Request.Context(), req, emit); err != nil {
		// The orchestrator already emitted the error event; log and keep
		// the channel open for the next turn.
		h.log.Warn("chat turn failed", "session_id", in.SessionID, "error", err)
	}
}
