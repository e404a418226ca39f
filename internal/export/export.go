package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"postpilot/internal/domain"
	"postpilot/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Dispatch Report"

// Exporter produces XLSX dispatch-history reports for operators.
type Exporter struct {
	posts  domain.PostStore
	path   string
	logger *zerolog.Logger
}

func NewExporter(posts domain.PostStore, path string, logger *zerolog.Logger) *Exporter {
	return &Exporter{
		posts:  posts,
		path:   path,
		logger: logger,
	}
}

// ExportDispatchReport writes one sheet with every post in the given
// statuses and returns the file path.
func (e *Exporter) ExportDispatchReport(ctx context.Context, statuses []models.Status) (string, error) {
	if err := os.MkdirAll(e.path, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	if len(statuses) == 0 {
		statuses = []models.Status{
			models.StatusScheduled,
			models.StatusPublishing,
			models.StatusPublished,
			models.StatusFailed,
			models.StatusCancelled,
		}
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	e.writeHeaders(f)

	row := 2
	for _, status := range statuses {
		offset := 0
		for {
			posts, err := e.posts.ListPostsByStatus(ctx, status, 200, offset)
			if err != nil {
				return "", fmt.Errorf("error listing posts: %v", err)
			}
			if len(posts) == 0 {
				break
			}
			for _, post := range posts {
				e.writePostRow(f, row, post)
				row++
			}
			offset += len(posts)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 38)
	_ = f.SetColWidth(sheetName, "B", "C", 25)
	_ = f.SetColWidth(sheetName, "D", "H", 18)
	_ = f.SetColWidth(sheetName, "I", "I", 45)

	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("dispatch_report_%s.xlsx", time.Now().Format("2006-01-02_15-04-05"))
	filePath := filepath.Join(e.path, fileName)

	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %v", err)
	}

	e.logger.Info().Str("file_path", filePath).Int("rows", row-2).Msg("dispatch report created")
	return filePath, nil
}

func (e *Exporter) writeHeaders(f *excelize.File) {
	headers := []string{
		"Post ID", "Title", "Owner", "Service Type", "Status",
		"Scheduled At", "Retries", "Last Attempt", "Last Error",
	}

	style, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})

	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, header)
		_ = f.SetCellStyle(sheetName, cell, cell, style)
	}
}

func (e *Exporter) writePostRow(f *excelize.File, row int, post *models.ScheduledPost) {
	_ = f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), post.PublicID)
	_ = f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), post.Title)
	_ = f.SetCellValue(sheetName, fmt.Sprintf("C%d", row), post.OwnerID)
	_ = f.SetCellValue(sheetName, fmt.Sprintf("D%d", row), post.ServiceType)
	_ = f.SetCellValue(sheetName, fmt.Sprintf("E%d", row), string(post.Status))
	if !post.ScheduledAt.IsZero() {
		_ = f.SetCellValue(sheetName, fmt.Sprintf("F%d", row), post.ScheduledAt.Format("02.01.2006 15:04"))
	}
	_ = f.SetCellValue(sheetName, fmt.Sprintf("G%d", row), post.RetryCount)
	if post.LastAttemptAt != nil {
		_ = f.SetCellValue(sheetName, fmt.Sprintf("H%d", row), post.LastAttemptAt.Format("02.01.2006 15:04"))
	}
	if post.LastError != nil {
		_ = f.SetCellValue(sheetName, fmt.Sprintf("I%d", row), *post.LastError)
	}
}
