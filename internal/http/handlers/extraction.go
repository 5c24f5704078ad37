package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/neuroscout-backend/internal/http/response"
	"github.com/yungbote/neuroscout-backend/internal/platform/apierr"
	"github.com/yungbote/neuroscout-backend/internal/services"
)

type ExtractionHandler struct {
	extractions services.ExtractionService
}

func NewExtractionHandler(extractions services.ExtractionService) *ExtractionHandler {
	return &ExtractionHandler{extractions: extractions}
}

// POST /api/extractions
func (h *ExtractionHandler) Request(c *gin.Context) {
	var req services.ExtractionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondErr(c, apierr.BadRequest("invalid_body", err))
		return
	}
	job, err := h.extractions.Request(requestDBC(c), req)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondAccepted(c, gin.H{"job": job})
}
