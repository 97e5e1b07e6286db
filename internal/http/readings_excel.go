package httpapi

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"wisefido-vitals/internal/models"
)

const readingsSheetName = "Vital Readings"

// ReadingsExportHeader 读数导出表头
var ReadingsExportHeader = []string{
	"Reading ID",
	"Device ID",
	"Plugin ID",
	"Patient ID",
	"Reading Type",
	"Primary Value",
	"Secondary Value",
	"Unit",
	"Measured At",
	"Quality Score",
	"Valid",
	"Errors",
	"Warnings",
}

var readingsColumnWidths = []float64{38, 20, 18, 20, 20, 14, 16, 10, 22, 14, 8, 40, 40}

// GenerateReadingsExport 生成读数导出 Excel 文件（readings 为空时只生成表头）
func GenerateReadingsExport(readings []models.StoredReading) ([]byte, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(readingsSheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range ReadingsExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(readingsSheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(readingsSheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(readingsSheetName, name, name, readingsColumnWidths[col]); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, reading := range readings {
		row := i + 2 // 第1行是表头
		for col, value := range readingRow(reading) {
			if value == nil || value == "" {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to convert coordinates: %w", err)
			}
			if err := f.SetCellValue(readingsSheetName, cell, value); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set cell value at row %d, col %d: %w", row, col+1, err)
			}
		}
	}

	// 冻结表头
	if err := f.SetPanes(readingsSheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze header: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write excel: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close excel: %w", err)
	}
	return buf.Bytes(), nil
}

// readingRow 按表头顺序输出一行
func readingRow(r models.StoredReading) []interface{} {
	var secondary interface{}
	if r.SecondaryValue != nil {
		secondary = *r.SecondaryValue
	}
	valid := "No"
	if r.IsValid {
		valid = "Yes"
	}
	return []interface{}{
		r.ID,
		r.DeviceID,
		r.PluginID,
		r.PatientID,
		r.ReadingType,
		r.PrimaryValue,
		secondary,
		r.Unit,
		r.MeasuredAt.UTC().Format(time.RFC3339),
		r.QualityScore,
		valid,
		strings.Join(r.Errors, "; "),
		strings.Join(r.Warnings, "; "),
	}
}
