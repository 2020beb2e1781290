package exporter

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"

	"bomflow/internal/model"
)

// 输出列名
const (
	ColNo            = "No"
	ColType          = "Type"
	ColItemName      = "Item Name"
	ColSpecification = "Specification"
	ColQty           = "Qty"
	ColReference     = "Reference"
	ColPlaced        = "Placed"
	ColX             = "X"
	ColY             = "Y"
	ColLayer         = "Layer"
	ColRotation      = "Rotation"
	ColCheck         = "Check"
)

// 汇总命名单元格
const (
	NameSourceFile    = "SourceFile"
	NameTotalLines    = "TotalLines"
	NameTotalQuantity = "TotalQuantity"
	NameDroppedRows   = "DroppedRows"
	NameFailedRows    = "FailedRows"
)

// Template 固定输出模板的结构约定
type Template struct {
	Sheet        string
	HeaderRow    int
	DataStartRow int
	Columns      []string
	NamedCells   []string
}

// DefaultTemplate 默认模板约定：BOM 表第 4 行表头，第 5 行起为数据
func DefaultTemplate() Template {
	return Template{
		Sheet:        "BOM",
		HeaderRow:    4,
		DataStartRow: 5,
		Columns: []string{
			ColNo, ColType, ColItemName, ColSpecification, ColQty, ColReference,
			ColPlaced, ColX, ColY, ColLayer, ColRotation, ColCheck,
		},
		NamedCells: []string{
			NameSourceFile, NameTotalLines, NameTotalQuantity, NameDroppedRows, NameFailedRows,
		},
	}
}

// WithLayout 覆盖工作表与行号（零值保持默认）
func (t Template) WithLayout(sheet string, headerRow, dataStartRow int) Template {
	if strings.TrimSpace(sheet) != "" {
		t.Sheet = sheet
	}
	if headerRow > 0 {
		t.HeaderRow = headerRow
	}
	if dataStartRow > 0 {
		t.DataStartRow = dataStartRow
	}
	return t
}

// 默认模板中汇总单元格的位置（标签在左，值在右）
var defaultNamedCellLayout = []struct {
	name  string
	label string
	cell  string
}{
	{NameSourceFile, "Source", "B2"},
	{NameTotalLines, "Lines", "E2"},
	{NameTotalQuantity, "Total Qty", "H2"},
	{NameDroppedRows, "Dropped", "B3"},
	{NameFailedRows, "Failed", "E3"},
}

// NewDefaultTemplate 在代码中生成默认模板工作簿（未配置模板文件时使用）
func NewDefaultTemplate() (*excelize.File, error) {
	t := DefaultTemplate()
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", t.Sheet); err != nil {
		_ = f.Close()
		return nil, err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	title, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 14}})
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	if err := f.SetCellValue(t.Sheet, "A1", "Normalized BOM"); err != nil {
		_ = f.Close()
		return nil, err
	}
	_ = f.SetCellStyle(t.Sheet, "A1", "A1", title)

	for _, nc := range defaultNamedCellLayout {
		col, row, err := excelize.CellNameToCoordinates(nc.cell)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		labelCell, _ := excelize.CoordinatesToCellName(col-1, row)
		if err := f.SetCellValue(t.Sheet, labelCell, nc.label); err != nil {
			_ = f.Close()
			return nil, err
		}
		_ = f.SetCellStyle(t.Sheet, labelCell, labelCell, bold)
		if err := f.SetDefinedName(&excelize.DefinedName{
			Name:     nc.name,
			RefersTo: absoluteRef(t.Sheet, nc.cell),
		}); err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	for i, name := range t.Columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, t.HeaderRow)
		if err := f.SetCellValue(t.Sheet, cell, name); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	first, _ := excelize.CoordinatesToCellName(1, t.HeaderRow)
	last, _ := excelize.CoordinatesToCellName(len(t.Columns), t.HeaderRow)
	_ = f.SetCellStyle(t.Sheet, first, last, bold)
	_ = f.SetColWidth(t.Sheet, "C", "D", 28)
	_ = f.SetColWidth(t.Sheet, "F", "F", 32)

	return f, nil
}

// OpenTemplate 打开模板文件；路径为空时生成默认模板
func OpenTemplate(path string) (*excelize.File, error) {
	if strings.TrimSpace(path) == "" {
		return NewDefaultTemplate()
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("template not found: %w", err)
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, &model.FileFormatError{Path: path, Err: err}
	}
	return f, nil
}

// Validate 检查工作簿是否符合模板约定，缺失项汇总为 TemplateMismatchError
func (t Template) Validate(f *excelize.File) error {
	if f == nil {
		return errors.New("template workbook is nil")
	}
	// Placement/Issues 每次写出都会重建，不能作为数据表
	for _, reserved := range []string{PlacementSheet, IssuesSheet} {
		if strings.EqualFold(strings.TrimSpace(t.Sheet), reserved) {
			return &model.TemplateMismatchError{Missing: []string{"data sheet distinct from " + reserved}}
		}
	}
	idx, err := f.GetSheetIndex(t.Sheet)
	if err != nil || idx < 0 {
		return &model.TemplateMismatchError{Missing: []string{"sheet " + t.Sheet}}
	}

	var missing []string
	for i, name := range t.Columns {
		cell, err := excelize.CoordinatesToCellName(i+1, t.HeaderRow)
		if err != nil {
			return err
		}
		got, err := f.GetCellValue(t.Sheet, cell)
		if err != nil {
			return err
		}
		if !strings.EqualFold(strings.TrimSpace(got), name) {
			missing = append(missing, fmt.Sprintf("header %q at %s", name, cell))
		}
	}

	defined := make(map[string]bool)
	for _, dn := range f.GetDefinedName() {
		defined[strings.ToLower(dn.Name)] = true
	}
	for _, name := range t.NamedCells {
		if !defined[strings.ToLower(name)] {
			missing = append(missing, "named cell "+name)
		}
	}

	if len(missing) > 0 {
		return &model.TemplateMismatchError{Missing: missing}
	}
	return nil
}

// namedCell 解析命名单元格引用，如 BOM!$B$2 或 'My Sheet'!$B$2
func namedCell(f *excelize.File, name string) (string, string, error) {
	for _, dn := range f.GetDefinedName() {
		if !strings.EqualFold(dn.Name, name) {
			continue
		}
		ref := strings.TrimPrefix(strings.TrimSpace(dn.RefersTo), "=")
		i := strings.LastIndex(ref, "!")
		if i < 0 {
			return "", "", fmt.Errorf("named cell %s: unsupported reference %q", name, dn.RefersTo)
		}
		sheet := strings.Trim(ref[:i], "'")
		cell := strings.ReplaceAll(ref[i+1:], "$", "")
		if j := strings.Index(cell, ":"); j >= 0 {
			cell = cell[:j]
		}
		return sheet, cell, nil
	}
	return "", "", fmt.Errorf("named cell %s not defined", name)
}

func absoluteRef(sheet, cell string) string {
	col, row, err := excelize.SplitCellName(cell)
	if err != nil {
		return sheet + "!" + cell
	}
	if strings.ContainsAny(sheet, " -'") {
		sheet = "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
	}
	return fmt.Sprintf("%s!$%s$%d", sheet, col, row)
}
