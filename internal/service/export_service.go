package service

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/noah-isme/tap-attendance-api/internal/models"
	appErrors "github.com/noah-isme/tap-attendance-api/pkg/errors"
	"github.com/noah-isme/tap-attendance-api/pkg/export"
)

type reportSource interface {
	GetReport(ctx context.Context, id string) (*models.DailyReport, bool, error)
}

// ExportFile is a rendered report ready to stream.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportService renders daily reports as CSV, PDF or XLSX.
type ExportService struct {
	reports reportSource
	logger  *zap.Logger
}

// NewExportService constructs an ExportService.
func NewExportService(reports reportSource, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{reports: reports, logger: logger}
}

// ExportReport renders the report in the requested format.
func (s *ExportService) ExportReport(ctx context.Context, id, format string) (*ExportFile, error) {
	parsed, err := export.ParseFormat(format)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	renderer, err := export.NewRenderer(parsed)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	report, _, err := s.reports.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}

	data, err := renderer.Render(reportDataset(report))
	if err != nil {
		s.logger.Sugar().Errorw("report export failed", "report_id", id, "format", parsed, "error", err)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render report")
	}
	return &ExportFile{
		Filename:    fmt.Sprintf("attendance-day-%d-%s.%s", report.DayNumber, report.BusinessDate.String(), renderer.Extension()),
		ContentType: renderer.ContentType(),
		Data:        data,
	}, nil
}

func reportDataset(report *models.DailyReport) export.Dataset {
	data := export.Dataset{
		Title:   fmt.Sprintf("Attendance %s (day %d)", report.BusinessDate.String(), report.DayNumber),
		Headers: []string{"Class", "Sessions", "Present", "Late", "Absent", "Total", "Rate %"},
	}
	for _, class := range report.Classes {
		data.Rows = append(data.Rows, []string{
			class.ClassName,
			strconv.Itoa(class.Sessions),
			strconv.Itoa(class.Present),
			strconv.Itoa(class.Late),
			strconv.Itoa(class.Absent),
			strconv.Itoa(class.Total),
			strconv.Itoa(class.AttendanceRate),
		})
	}
	data.Rows = append(data.Rows, []string{
		"All classes",
		strconv.Itoa(report.TotalSessions),
		strconv.Itoa(report.PresentCount),
		strconv.Itoa(report.LateCount),
		strconv.Itoa(report.AbsentCount),
		strconv.Itoa(report.TotalRecords),
		strconv.Itoa(report.AttendanceRate),
	})
	return data
}
