package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/krs-api/internal/dto"
	appErrors "github.com/noah-isme/krs-api/pkg/errors"
	"github.com/noah-isme/krs-api/pkg/response"
)

type scheduleQueries interface {
	GetOfferedSectionsForStudent(ctx context.Context, nim string, term *int) (*dto.OfferedSectionGroups, error)
	GetSectionStatus(ctx context.Context, sectionIDs []string, nim string) (map[string]dto.SectionStatus, error)
}

// ScheduleHandler exposes the offered section catalog.
type ScheduleHandler struct {
	queries   scheduleQueries
	validator *validator.Validate
}

// NewScheduleHandler constructs handler.
func NewScheduleHandler(queries scheduleQueries, validate *validator.Validate) *ScheduleHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &ScheduleHandler{queries: queries, validator: validate}
}

// Offered godoc
// @Summary List offered sections
// @Description Sections of the active period in the student's curriculum, grouped by packaged term
// @Tags Schedules
// @Produce json
// @Param term query int false "Packaged term"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /schedules/offered [get]
func (h *ScheduleHandler) Offered(c *gin.Context) {
	nim, err := currentNIM(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var term *int
	if raw := c.Query("term"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 1 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "term must be a positive number"))
			return
		}
		term = &value
	}

	groups, err := h.queries.GetOfferedSectionsForStudent(c.Request.Context(), nim, term)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, groups, nil)
}

// StatusBatch godoc
// @Summary Live seat status
// @Tags Schedules
// @Accept json
// @Produce json
// @Param payload body dto.SectionStatusRequest true "Sections"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /schedules/status-batch [post]
func (h *ScheduleHandler) StatusBatch(c *gin.Context) {
	nim, err := currentNIM(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.SectionStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid status payload"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "section_ids must hold 1 to 100 valid ids"))
		return
	}

	status, err := h.queries.GetSectionStatus(c.Request.Context(), req.SectionIDs, nim)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}
