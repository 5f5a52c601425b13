package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/myaview/backend/internal/services"
)

type FamilyHandler struct {
	familyService services.FamilyService
}

func NewFamilyHandler(familyService services.FamilyService) *FamilyHandler {
	return &FamilyHandler{familyService: familyService}
}

func (h *FamilyHandler) ListMembers(c *gin.Context) {
	members, err := h.familyService.ListMembers(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"members": members})
}

func (h *FamilyHandler) GetProfile(c *gin.Context) {
	id, ok := pathUUID(c, "member_id")
	if !ok {
		return
	}
	prof, err := h.familyService.GetProfile(c.Request.Context(), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"profile": prof})
}

func (h *FamilyHandler) MedicationInteractions(c *gin.Context) {
	id, ok := pathUUID(c, "member_id")
	if !ok {
		return
	}
	interactions, err := h.familyService.MedicationInteractions(c.Request.Context(), id)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"interactions": interactions})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
