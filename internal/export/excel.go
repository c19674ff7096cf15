package export

import (
	"bytes"
	"fmt"
	"time"

	"wisefido-attendance/internal/models"

	"github.com/xuri/excelize/v2"
)

// SummaryExportHeader 每日考勤汇总导出表头
var SummaryExportHeader = []string{
	"Employee ID",
	"Work Date",
	"Time In",
	"Time Out",
	"Break (min)",
	"Total Hours",
	"Regular Hours",
	"Overtime Hours",
	"Present",
	"Late",
	"Late (min)",
	"Undertime",
	"Undertime (min)",
	"Overtime",
	"Calculated At",
}

// GenerateSummaryExport 生成每日考勤汇总 Excel 文件
// summaries 为空则只生成表头
func GenerateSummaryExport(summaries []models.DailyAttendanceSummary) ([]byte, error) {
	f := excelize.NewFile()
	// Note: Don't defer Close() here, because WriteTo needs the file to be open

	sheetName := "Attendance Summaries"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	// 删除默认的 Sheet1
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	// 表头样式
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
		},
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
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range SummaryExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}

	columnWidths := []float64{
		20, // Employee ID
		12, // Work Date
		20, // Time In
		20, // Time Out
		12, // Break (min)
		12, // Total Hours
		14, // Regular Hours
		15, // Overtime Hours
		10, // Present
		10, // Late
		10, // Late (min)
		12, // Undertime
		15, // Undertime (min)
		10, // Overtime
		20, // Calculated At
	}
	for i := range SummaryExportHeader {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(sheetName, col, col, columnWidths[i]); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for rowIdx, summary := range summaries {
		row := rowIdx + 2 // 从第2行开始（第1行是表头）
		values := []interface{}{
			summary.EmployeeID,
			summary.WorkDate,
			formatNullableTime(summary.TimeIn),
			formatNullableTime(summary.TimeOut),
			summary.BreakDurationMinutes,
			summary.TotalHoursWorked,
			summary.RegularHours,
			summary.OvertimeHours,
			yesNo(summary.IsPresent),
			yesNo(summary.IsLate),
			summary.LateMinutes,
			yesNo(summary.IsUndertime),
			summary.UndertimeMinutes,
			yesNo(summary.IsOvertime),
			summary.CalculatedAt.Format("2006-01-02 15:04:05"),
		}
		for colIdx, value := range values {
			cell, err := excelize.CoordinatesToCellName(colIdx+1, row)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to convert coordinates: %w", err)
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set cell value at row %d, col %d: %w", row, colIdx+1, err)
			}
		}
	}

	// 冻结表头
	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		Split:       false,
		XSplit:      0,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}

	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}

	return buf.Bytes(), nil
}

func formatNullableTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}
