// Package export renders telemetry reports as downloadable XLSX and PDF files.
package export

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/couchcryptid/sensor-telemetry/internal/domain"
	"github.com/couchcryptid/sensor-telemetry/internal/telemetry"
	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"
)

const (
	weeklySheet = "last_week"
	hourlySheet = "hourly"
)

// Content types for the rendered files.
const (
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	ContentTypePDF  = "application/pdf"
)

// row is one report bucket flattened for tabular output.
type row struct {
	period string
	start  int64
	values telemetry.Rollup
}

var columns = []string{"Period", "Start (unix)", "North", "West", "East", "South", "All"}

func weeklyRows(r telemetry.WeeklyReport) []row {
	rows := make([]row, len(r.Days))
	for i, d := range r.Days {
		rows[i] = row{period: d.Day.String(), start: d.Start.Unix(), values: d.Rollup}
	}
	return rows
}

func hourlyRows(r telemetry.HourlyReport) []row {
	rows := make([]row, len(r.Buckets))
	for i, b := range r.Buckets {
		rows[i] = row{period: b.Start.UTC().Format(time.DateTime), start: b.Start.Unix(), values: b.Rollup}
	}
	return rows
}

// WeeklyXLSX renders the last-week report as a single-sheet workbook.
func WeeklyXLSX(r telemetry.WeeklyReport) ([]byte, error) {
	return buildXLSX(weeklySheet, weeklyRows(r))
}

// HourlyXLSX renders the hourly report as a single-sheet workbook.
func HourlyXLSX(r telemetry.HourlyReport) ([]byte, error) {
	return buildXLSX(hourlySheet, hourlyRows(r))
}

// WeeklyPDF renders the last-week report as a one-table PDF.
func WeeklyPDF(r telemetry.WeeklyReport) ([]byte, error) {
	title := fmt.Sprintf("Last week temperatures from %s", r.Start.Format(time.DateOnly))
	return buildPDF(title, weeklyRows(r))
}

// HourlyPDF renders the hourly report as a one-table PDF.
func HourlyPDF(r telemetry.HourlyReport) ([]byte, error) {
	return buildPDF("Hourly temperatures (UTC)", hourlyRows(r))
}

func buildXLSX(sheet string, rows []row) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	for i, name := range columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(sheet, cell, name)
	}
	for i, r := range rows {
		line := i + 2
		_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", line), r.period)
		_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", line), r.start)
		for j, face := range domain.Faces {
			cell, err := excelize.CoordinatesToCellName(j+3, line)
			if err != nil {
				return nil, err
			}
			_ = f.SetCellValue(sheet, cell, r.values.Face(face))
		}
		_ = f.SetCellValue(sheet, fmt.Sprintf("G%d", line), r.values.All)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func buildPDF(title string, rows []row) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, title)
	pdf.Ln(10)

	widths := []float64{45, 30, 30, 30, 30, 30, 30}
	pdf.SetFont("Arial", "B", 10)
	for i, name := range columns {
		pdf.CellFormat(widths[i], 6, name, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 10)
	for _, r := range rows {
		pdf.CellFormat(widths[0], 6, r.period, "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], 6, strconv.FormatInt(r.start, 10), "1", 0, "R", false, 0, "")
		for j, face := range domain.Faces {
			pdf.CellFormat(widths[j+2], 6, fmt.Sprintf("%.2f", r.values.Face(face)), "1", 0, "R", false, 0, "")
		}
		pdf.CellFormat(widths[6], 6, fmt.Sprintf("%.2f", r.values.All), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}
