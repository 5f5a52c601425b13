package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	chatdomain "github.com/myaview/backend/internal/domain/chat"
	"github.com/myaview/backend/internal/platform/apierr"
	"github.com/myaview/backend/internal/services"
)

type ChatHandler struct {
	chatService  services.ChatService
	orchestrator services.ChatOrchestrator
}

func NewChatHandler(chatService services.ChatService, orchestrator services.ChatOrchestrator) *ChatHandler {
	return &ChatHandler{chatService: chatService, orchestrator: orchestrator}
}

type createSessionRequest struct {
	FamilyMemberID *uuid.UUID `json:"family_member_id,omitempty"`
	Title          string     `json:"title,omitempty"`
}

func (h *ChatHandler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Validation("invalid session payload"))
		return
	}
	sess, err := h.chatService.CreateSession(c.Request.Context(), req.FamilyMemberID, req.Title)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"session": sess})
}

func (h *ChatHandler) ListSessions(c *gin.Context) {
	var memberID *uuid.UUID
	if raw := c.Query("family_member_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			RespondError(c, apierr.Validation("invalid family_member_id"))
			return
		}
		memberID = &id
	}
	sessions, err := h.chatService.ListSessions(c.Request.Context(), memberID, intQuery(c, "limit", 50))
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"sessions": sessions})
}

func (h *ChatHandler) GetSession(c *gin.Context) {
	id, ok := pathUUID(c, "session_id")
	if !ok {
		return
	}
	sess, err := h.chatService.GetSession(c.Request.Context(), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"session": sess})
}

func (h *ChatHandler) UpdateSession(c *gin.Context) {
	id, ok := pathUUID(c, "session_id")
	if !ok {
		return
	}
	var upd services.SessionUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		RespondError(c, apierr.Validation("invalid update payload"))
		return
	}
	sess, err := h.chatService.UpdateSession(c.Request.Context(), id, upd)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"session": sess})
}

func (h *ChatHandler) DeleteSession(c *gin.Context) {
	id, ok := pathUUID(c, "session_id")
	if !ok {
		return
	}
	if err := h.chatService.DeleteSession(c.Request.Context(), id); err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"deleted": true})
}

type reorderRequest struct {
	SessionIDs []uuid.UUID `json:"session_ids"`
}

func (h *ChatHandler) ReorderSessions(c *gin.Context) {
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Validation("invalid reorder payload"))
		return
	}
	if err := h.chatService.ReorderSessions(c.Request.Context(), req.SessionIDs); err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"reordered": true})
}

func (h *ChatHandler) GenerateTitle(c *gin.Context) {
	id, ok := pathUUID(c, "session_id")
	if !ok {
		return
	}
	title, err := h.orchestrator.GenerateTitle(c.Request.Context(), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"title": title})
}

type createMessageRequest struct {
	Role      string `json:"role" binding:"required"`
	Content   string `json:"content"`
	HasImage  bool   `json:"has_image,omitempty"`
	ImagePath string `json:"image_path,omitempty"`
	Model     string `json:"model,omitempty"`
}

// CreateMessage appends a message directly, outside the turn flow. The
// client uses it to record messages it produced itself, image uploads
// included.
func (h *ChatHandler) CreateMessage(c *gin.Context) {
	id, ok := pathUUID(c, "session_id")
	if !ok {
		return
	}
	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Validation("invalid message payload"))
		return
	}
	msg, err := h.chatService.AppendMessage(c.Request.Context(), &chatdomain.ChatMessage{
		SessionID: id,
		Role:      req.Role,
		Content:   req.Content,
		HasImage:  req.HasImage || req.ImagePath != "",
		ImagePath: req.ImagePath,
		Model:     req.Model,
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"message": msg})
}

func (h *ChatHandler) ListMessages(c *gin.Context) {
	id, ok := pathUUID(c, "session_id")
	if !ok {
		return
	}
	msgs, err := h.chatService.ListMessages(c.Request.Context(), id, intQuery(c, "limit", 100), intQuery(c, "offset", 0))
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"messages": msgs})
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		RespondError(c, apierr.Validation("invalid "+name))
		return uuid.Nil, false
	}
	return id, true
}
