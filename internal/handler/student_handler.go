package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/krs-api/internal/dto"
	"github.com/noah-isme/krs-api/pkg/response"
)

type summaryService interface {
	Summary(ctx context.Context, nim string) (*dto.StudentSummary, error)
}

// StudentHandler exposes student endpoints.
type StudentHandler struct {
	students summaryService
}

// NewStudentHandler constructs StudentHandler.
func NewStudentHandler(students summaryService) *StudentHandler {
	return &StudentHandler{students: students}
}

// Summary godoc
// @Summary Academic summary of the authenticated student
// @Tags Students
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/me/summary [get]
func (h *StudentHandler) Summary(c *gin.Context) {
	nim, err := currentNIM(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	summary, err := h.students.Summary(c.Request.Context(), nim)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}
