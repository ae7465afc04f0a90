package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"slotbook/internal/domain"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

// Exporter renders the full reservation list as an Excel workbook for
// offline review by administrators.
type Exporter struct {
	repo   domain.ReservationRepository
	logger *zerolog.Logger
}

func NewExporter(repo domain.ReservationRepository, logger *zerolog.Logger) *Exporter {
	return &Exporter{repo: repo, logger: logger}
}

// exportPageSize keeps each repository read bounded while still walking
// the whole table.
const exportPageSize = 500

// WriteReservations streams an XLSX workbook with every reservation to w.
func (e *Exporter) WriteReservations(ctx context.Context, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Бронирования"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	headers := []string{"ID", "Location", "Start", "End", "Reserved", "Image"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, h)
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(sheetName, "A1", "F1", headerStyle)
	_ = f.SetColWidth(sheetName, "B", "B", 30)
	_ = f.SetColWidth(sheetName, "F", "F", 25)

	row := 2
	for page := 1; ; page++ {
		items, _, err := e.repo.ListReservations(ctx, page, exportPageSize)
		if err != nil {
			return fmt.Errorf("error listing reservations: %v", err)
		}
		if len(items) == 0 {
			break
		}

		for _, r := range items {
			reserved := "свободно"
			if r.Reserved {
				reserved = "занято"
			}
			values := []any{r.ID, r.Location, r.StartTime, r.EndTime, reserved, r.ImageName}
			for i, v := range values {
				cell, _ := excelize.CoordinatesToCellName(i+1, row)
				_ = f.SetCellValue(sheetName, cell, v)
			}
			row++
		}

		if len(items) < exportPageSize {
			break
		}
	}

	_ = f.DeleteSheet("Sheet1")

	if err := f.Write(w); err != nil {
		return fmt.Errorf("error writing workbook: %v", err)
	}

	e.logger.Info().Int("rows", row-2).Msg("reservations exported")
	return nil
}

// SaveReservations writes the workbook to dir, creating it if needed,
// and returns the file path.
func (e *Exporter) SaveReservations(ctx context.Context, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	filePath := filepath.Join(dir, fmt.Sprintf("reservations_%s.xlsx", time.Now().Format("2006-01-02_15-04-05")))
	out, err := os.Create(filePath)
	if err != nil {
		return "", fmt.Errorf("error creating export file: %v", err)
	}
	defer out.Close()

	if err := e.WriteReservations(ctx, out); err != nil {
		return "", err
	}
	return filePath, nil
}
