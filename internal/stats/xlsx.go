package stats

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Results"

// XLSXSink writes a workbook with one row per account, a totals row and a
// clustered column chart of wins and losses.
type XLSXSink struct {
	path string
}

func NewXLSXSink(path string) *XLSXSink {
	return &XLSXSink{path: path}
}

// Render implements Sink.
func (x *XLSXSink) Render(entries []Entry) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	header := []interface{}{"Account", "Wins", "Losses", "Profit"}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, e := range entries {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{e.Account, e.Wins, e.Losses, e.Profit}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	sum := Summarize(entries)
	totalRow := len(entries) + 2
	totals := []interface{}{"Total", sum.Wins, sum.Losses, sum.Profit}
	if err := f.SetSheetRow(sheetName, fmt.Sprintf("A%d", totalRow), &totals); err != nil {
		return fmt.Errorf("write totals: %w", err)
	}

	if len(entries) > 0 {
		if err := f.AddChart(sheetName, "F2", winLossChart(len(entries))); err != nil {
			return fmt.Errorf("add chart: %w", err)
		}
	}

	if dir := filepath.Dir(x.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	if err := f.SaveAs(x.path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	log.Printf("[INFO] wrote report for %d account(s) to %s", len(entries), x.path)
	return nil
}

func winLossChart(rows int) *excelize.Chart {
	last := rows + 1
	categories := fmt.Sprintf("%s!$A$2:$A$%d", sheetName, last)
	return &excelize.Chart{
		Type: excelize.Col,
		Series: []excelize.ChartSeries{
			{
				Name:       fmt.Sprintf("%s!$B$1", sheetName),
				Categories: categories,
				Values:     fmt.Sprintf("%s!$B$2:$B$%d", sheetName, last),
			},
			{
				Name:       fmt.Sprintf("%s!$C$1", sheetName),
				Categories: categories,
				Values:     fmt.Sprintf("%s!$C$2:$C$%d", sheetName, last),
			},
		},
		Title: []excelize.RichTextRun{{Text: "Wins vs Losses"}},
	}
}
