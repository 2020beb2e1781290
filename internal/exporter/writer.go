package exporter

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/xuri/excelize/v2"

	"bomflow/internal/model"
	"bomflow/internal/util"
)

// 附加工作表
const (
	PlacementSheet = "Placement"
	IssuesSheet    = "Issues"
)

// Summary 汇总单元格内容
type Summary struct {
	SourceFile    string
	TotalLines    int
	TotalQuantity float64
	DroppedRows   int
	FailedRows    int
	Issues        []model.RowIssue
}

// NewSummary 由合并结果计算汇总（TotalQuantity 为写出行数量之和）
func NewSummary(sourceFile string, rows []model.MergedRow, issues []model.RowIssue) Summary {
	s := Summary{
		SourceFile: sourceFile,
		TotalLines: len(rows),
		Issues:     issues,
	}
	for _, r := range rows {
		s.TotalQuantity += r.Quantity
	}
	for _, is := range issues {
		switch is.Kind {
		case model.IssueDropped:
			s.DroppedRows++
		case model.IssueFailed:
			s.FailedRows++
		}
	}
	return s
}

// Writer 按模板写出归一化 BOM
//
// 只填充数据区与汇总单元格，模板的样式、列宽与其余内容保持不变。
type Writer struct {
	template Template
}

// NewWriter 创建写出器
func NewWriter(t Template) *Writer {
	return &Writer{template: t}
}

// Template 写出器使用的模板约定
func (w *Writer) Template() Template {
	return w.template
}

// Write 校验模板后写入数据行、汇总、坐标表与问题表
func (w *Writer) Write(f *excelize.File, rows []model.MergedRow, summary Summary, progress func(ProgressEvent)) error {
	t := w.template
	if err := t.Validate(f); err != nil {
		return err
	}
	reportProgress(progress, 0, "校验模板")

	if err := clearDataArea(f, t); err != nil {
		return fmt.Errorf("clear data area: %w", err)
	}

	for i, row := range rows {
		values := make([]any, len(t.Columns))
		for c, name := range t.Columns {
			values[c] = cellValue(name, row)
		}
		cell, err := excelize.CoordinatesToCellName(1, t.DataStartRow+i)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(t.Sheet, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", row.LineNumber, err)
		}
		if len(rows) > 0 && (i+1)%200 == 0 {
			reportProgress(progress, 10+70*(i+1)/len(rows), "写入明细")
		}
	}
	reportProgress(progress, 80, "写入明细")

	if err := writeSummary(f, summary); err != nil {
		return err
	}
	if err := writePlacementSheet(f, rows); err != nil {
		return err
	}
	if err := writeIssuesSheet(f, summary.Issues); err != nil {
		return err
	}
	if idx, err := f.GetSheetIndex(t.Sheet); err == nil && idx >= 0 {
		f.SetActiveSheet(idx)
	}
	reportProgress(progress, 100, "完成")
	return nil
}

// SaveAtomic 原子保存工作簿
func SaveAtomic(f *excelize.File, path string) error {
	return util.WriteFileAtomic(path, func(w io.Writer) error {
		return f.Write(w)
	})
}

func cellValue(column string, row model.MergedRow) any {
	single := singleCoordinate(row)
	switch column {
	case ColNo:
		return row.LineNumber
	case ColType:
		return string(row.ComponentType)
	case ColItemName:
		if row.CanonicalPartNumber != "" {
			return row.CanonicalPartNumber
		}
		return row.RawPartNumber
	case ColSpecification:
		return row.RawDescription
	case ColQty:
		return row.Quantity
	case ColReference:
		return strings.Join(row.References(), ",")
	case ColPlaced:
		return row.PlacedCount()
	case ColX:
		if single != nil {
			return roundHalfUp(single.X, 4)
		}
	case ColY:
		if single != nil {
			return roundHalfUp(single.Y, 4)
		}
	case ColRotation:
		if single != nil {
			return roundHalfUp(single.Rotation, 2)
		}
	case ColLayer:
		return layers(row)
	case ColCheck:
		return string(row.CheckStatus)
	}
	return ""
}

// singleCoordinate 仅一个位号时在主表写坐标，多位号的坐标见 Placement 表
func singleCoordinate(row model.MergedRow) *model.CoordinateEntry {
	if len(row.Placements) != 1 {
		return nil
	}
	return row.Placements[0].Coordinate
}

func layers(row model.MergedRow) string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range row.Placements {
		if p.Coordinate == nil || p.Coordinate.Layer == "" || seen[p.Coordinate.Layer] {
			continue
		}
		seen[p.Coordinate.Layer] = true
		out = append(out, p.Coordinate.Layer)
	}
	return strings.Join(out, ",")
}

func writeSummary(f *excelize.File, s Summary) error {
	values := map[string]any{
		NameSourceFile:    s.SourceFile,
		NameTotalLines:    s.TotalLines,
		NameTotalQuantity: s.TotalQuantity,
		NameDroppedRows:   s.DroppedRows,
		NameFailedRows:    s.FailedRows,
	}
	for _, name := range []string{NameSourceFile, NameTotalLines, NameTotalQuantity, NameDroppedRows, NameFailedRows} {
		sheet, cell, err := namedCell(f, name)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, values[name]); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

func writePlacementSheet(f *excelize.File, rows []model.MergedRow) error {
	if err := resetSheet(f, PlacementSheet); err != nil {
		return err
	}
	header := []any{"Reference", "Item Name", "Type", "X", "Y", "Layer", "Rotation", "Line"}
	if err := f.SetSheetRow(PlacementSheet, "A1", &header); err != nil {
		return err
	}

	r := 2
	for _, row := range rows {
		item := row.CanonicalPartNumber
		if item == "" {
			item = row.RawPartNumber
		}
		for _, p := range row.Placements {
			values := []any{p.ReferenceDesignator, item, string(row.ComponentType), "", "", "", "", row.LineNumber}
			if c := p.Coordinate; c != nil {
				values[3] = roundHalfUp(c.X, 4)
				values[4] = roundHalfUp(c.Y, 4)
				values[5] = c.Layer
				values[6] = roundHalfUp(c.Rotation, 2)
			}
			cell, _ := excelize.CoordinatesToCellName(1, r)
			if err := f.SetSheetRow(PlacementSheet, cell, &values); err != nil {
				return err
			}
			r++
		}
	}
	return nil
}

func writeIssuesSheet(f *excelize.File, issues []model.RowIssue) error {
	if err := resetSheet(f, IssuesSheet); err != nil {
		return err
	}
	header := []any{"Line", "Kind", "Reason"}
	if err := f.SetSheetRow(IssuesSheet, "A1", &header); err != nil {
		return err
	}
	for i, is := range issues {
		values := []any{is.LineNumber, string(is.Kind), is.Reason}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(IssuesSheet, cell, &values); err != nil {
			return err
		}
	}
	return nil
}

// resetSheet 重建附加工作表，避免模板中残留旧数据
func resetSheet(f *excelize.File, sheet string) error {
	if idx, err := f.GetSheetIndex(sheet); err == nil && idx >= 0 {
		if err := f.DeleteSheet(sheet); err != nil {
			return err
		}
	}
	_, err := f.NewSheet(sheet)
	return err
}

// clearDataArea 清空模板数据区（模板里可能带示例行）
func clearDataArea(f *excelize.File, t Template) error {
	maxCol, maxRow, err := getSheetMaxColRow(f, t.Sheet)
	if err != nil {
		return err
	}
	if maxCol < len(t.Columns) {
		maxCol = len(t.Columns)
	}
	return clearSheetArea(f, t.Sheet, t.DataStartRow, maxRow, 1, maxCol)
}

func getSheetMaxColRow(f *excelize.File, sheet string) (int, int, error) {
	dim, err := f.GetSheetDimension(sheet)
	if err != nil {
		return 0, 0, err
	}
	parts := strings.Split(dim, ":")
	maxCell := parts[len(parts)-1]
	maxCol, maxRow, err := excelize.CellNameToCoordinates(maxCell)
	if err != nil {
		return 0, 0, err
	}
	return maxCol, maxRow, nil
}

func clearSheetArea(f *excelize.File, sheet string, fromRow, toRow, fromCol, toCol int) error {
	if fromRow > toRow || fromCol > toCol {
		return nil
	}
	for r := fromRow; r <= toRow; r++ {
		for c := fromCol; c <= toCol; c++ {
			cell, err := excelize.CoordinatesToCellName(c, r)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, nil); err != nil {
				return err
			}
			_ = f.SetCellFormula(sheet, cell, "")
		}
	}
	return nil
}

func roundHalfUp(v float64, digits int) float64 {
	if digits < 0 {
		return v
	}
	scale := math.Pow10(digits)
	x := v * scale
	if x >= 0 {
		return math.Floor(x+0.5) / scale
	}
	return -math.Floor(-x+0.5) / scale
}
