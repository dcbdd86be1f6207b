package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/krs-api/internal/dto"
	"github.com/noah-isme/krs-api/internal/service"
	appErrors "github.com/noah-isme/krs-api/pkg/errors"
	"github.com/noah-isme/krs-api/pkg/response"
)

type enrollmentService interface {
	AddRegistration(ctx context.Context, nim, sectionID string) (*dto.EnrollmentResult, error)
	DropRegistration(ctx context.Context, nim, sectionID string) (*dto.EnrollmentResult, error)
}

type registrationQueries interface {
	GetRequirements(ctx context.Context, nim string) (*dto.EligibilityReport, error)
	GetRegisteredSections(ctx context.Context, nim string) ([]dto.RegisteredSection, error)
}

type cardExporter interface {
	KRSCard(ctx context.Context, nim, format string) (*service.ExportFile, error)
}

// KRSHandler serves the student's study plan endpoints.
type KRSHandler struct {
	enrollment enrollmentService
	queries    registrationQueries
	exports    cardExporter
	validator  *validator.Validate
}

// NewKRSHandler constructs KRSHandler.
func NewKRSHandler(enrollment enrollmentService, queries registrationQueries, exports cardExporter, validate *validator.Validate) *KRSHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &KRSHandler{enrollment: enrollment, queries: queries, exports: exports, validator: validate}
}

// Take godoc
// @Summary Add a section to the KRS
// @Description Registers the authenticated student into an offered section of the active period
// @Tags KRS
// @Accept json
// @Produce json
// @Param payload body dto.SectionRequest true "Section to take"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /krs/take [post]
func (h *KRSHandler) Take(c *gin.Context) {
	nim, req, ok := h.sectionRequest(c)
	if !ok {
		return
	}
	res, err := h.enrollment.AddRegistration(c.Request.Context(), nim, req.SectionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, res, nil)
}

// Remove godoc
// @Summary Remove a section from the KRS
// @Tags KRS
// @Accept json
// @Produce json
// @Param payload body dto.SectionRequest true "Section to remove"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /krs/remove [post]
func (h *KRSHandler) Remove(c *gin.Context) {
	nim, req, ok := h.sectionRequest(c)
	if !ok {
		return
	}
	res, err := h.enrollment.DropRegistration(c.Request.Context(), nim, req.SectionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// Requirements godoc
// @Summary KRS filling requirements
// @Tags KRS
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /krs/requirements [get]
func (h *KRSHandler) Requirements(c *gin.Context) {
	nim, err := currentNIM(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	report, err := h.queries.GetRequirements(c.Request.Context(), nim)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// ClassesTaken godoc
// @Summary List sections on the KRS
// @Tags KRS
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /krs/classes-taken [get]
func (h *KRSHandler) ClassesTaken(c *gin.Context) {
	nim, err := currentNIM(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	sections, err := h.queries.GetRegisteredSections(c.Request.Context(), nim)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sections, map[string]interface{}{"total": len(sections)})
}

// Card godoc
// @Summary Download the KRS card
// @Tags KRS
// @Produce application/pdf
// @Produce text/csv
// @Param format query string false "pdf or csv"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /krs/card [get]
func (h *KRSHandler) Card(c *gin.Context) {
	nim, err := currentNIM(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	format := strings.ToLower(strings.TrimSpace(c.Query("format")))
	file, err := h.exports.KRSCard(c.Request.Context(), nim, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Payload)
}

func (h *KRSHandler) sectionRequest(c *gin.Context) (string, dto.SectionRequest, bool) {
	var req dto.SectionRequest
	nim, err := currentNIM(c)
	if err != nil {
		response.Error(c, err)
		return "", req, false
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid section payload"))
		return "", req, false
	}
	if err := h.validator.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "section_id must be a valid id"))
		return "", req, false
	}
	return nim, req, true
}
