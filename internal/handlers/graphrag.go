package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/myaview/backend/internal/services"
)

type GraphRAGHandler struct {
	retrieval services.RetrievalService
}

func NewGraphRAGHandler(retrieval services.RetrievalService) *GraphRAGHandler {
	return &GraphRAGHandler{retrieval: retrieval}
}

// SimilarEvents lists the member's lab events nearest to an existing one.
func (h *GraphRAGHandler) SimilarEvents(c *gin.Context) {
	memberID, ok := pathUUID(c, "member_id")
	if !ok {
		return
	}
	eventID, ok := pathUUID(c, "event_id")
	if !ok {
		return
	}
	items, err := h.retrieval.SimilarEvents(c.Request.Context(), memberID, eventID, intQuery(c, "top_k", 5))
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"events": items})
}
