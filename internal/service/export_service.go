package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/krs-api/internal/dto"
	appErrors "github.com/noah-isme/krs-api/pkg/errors"
	"github.com/noah-isme/krs-api/pkg/export"
)

// Study card formats.
const (
	FormatPDF = "pdf"
	FormatCSV = "csv"
)

var cardHeaders = []string{"No", "Code", "Course", "Section", "Credits", "Kind", "Schedule", "Lecturers"}

type registeredLister interface {
	GetRegisteredSections(ctx context.Context, nim string) ([]dto.RegisteredSection, error)
}

type summaryReader interface {
	Summary(ctx context.Context, nim string) (*dto.StudentSummary, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportFile is a rendered document ready to be streamed.
type ExportFile struct {
	Filename    string
	ContentType string
	Payload     []byte
}

// ExportService renders the KRS study card.
type ExportService struct {
	registered registeredLister
	summaries  summaryReader
	csv        csvRenderer
	pdf        pdfRenderer
	logger     *zap.Logger
}

// NewExportService constructs an ExportService. Nil renderers fall back to the
// pkg/export implementations.
func NewExportService(registered registeredLister, summaries summaryReader, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{registered: registered, summaries: summaries, csv: csv, pdf: pdf, logger: logger}
}

// KRSCard renders the student's registered sections for the active period.
func (s *ExportService) KRSCard(ctx context.Context, nim, format string) (*ExportFile, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = FormatPDF
	}
	if format != FormatPDF && format != FormatCSV {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported format %q", format))
	}

	summary, err := s.summaries.Summary(ctx, nim)
	if err != nil {
		return nil, err
	}
	sections, err := s.registered.GetRegisteredSections(ctx, nim)
	if err != nil {
		return nil, err
	}

	dataset := buildCardDataset(summary, sections)
	file := &ExportFile{Filename: sanitizeFilename(fmt.Sprintf("krs_%s_%s.%s", summary.NIM, summary.AcademicYear, format))}
	switch format {
	case FormatCSV:
		file.ContentType = "text/csv"
		file.Payload, err = s.csv.Render(dataset)
	default:
		file.ContentType = "application/pdf"
		file.Payload, err = s.pdf.Render(dataset, "KRS Study Card")
	}
	if err != nil {
		s.logger.Error("failed to render krs card", zap.String("nim", nim), zap.String("format", format), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render KRS card")
	}
	return file, nil
}

func buildCardDataset(summary *dto.StudentSummary, sections []dto.RegisteredSection) export.Dataset {
	rows := make([]map[string]string, 0, len(sections))
	total := 0
	for i, sec := range sections {
		total += sec.Credits
		schedule := make([]string, 0, len(sec.Meetings))
		for _, m := range sec.Meetings {
			schedule = append(schedule, fmt.Sprintf("%s %s-%s %s", m.Day, m.Start, m.End, m.Room))
		}
		lecturers := make([]string, 0, len(sec.Lecturers))
		for _, l := range sec.Lecturers {
			lecturers = append(lecturers, l.FullName)
		}
		rows = append(rows, map[string]string{
			"No":        strconv.Itoa(i + 1),
			"Code":      sec.CourseCode,
			"Course":    sec.CourseName,
			"Section":   sec.SectionName,
			"Credits":   strconv.Itoa(sec.Credits),
			"Kind":      sec.CourseKind,
			"Schedule":  strings.Join(schedule, "; "),
			"Lecturers": strings.Join(lecturers, ", "),
		})
	}

	return export.Dataset{
		Headers: cardHeaders,
		Rows:    rows,
		Widths:  []float64{0.5, 1, 3, 1, 0.8, 1, 3, 3},
		Fields: []export.Field{
			{Label: "NIM", Value: summary.NIM},
			{Label: "Name", Value: summary.FullName},
			{Label: "Academic year", Value: summary.AcademicYear},
			{Label: "Term", Value: summary.CurrentTerm},
			{Label: "Credit allowance", Value: strconv.Itoa(summary.CreditAllowance)},
		},
		Footer: fmt.Sprintf("Total credits: %d", total),
	}
}

func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer("/", "-", "\\", "-", " ", "_")
	return replacer.Replace(name)
}
