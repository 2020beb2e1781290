package parser

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"bomflow/internal/model"
)

// ErrHeaderNotFound 未找到可识别的表头
var ErrHeaderNotFound = errors.New("no recognizable header row")

// ReadOptions 读取选项
type ReadOptions struct {
	Sheet      string // 工作表选择器，空则自动识别
	Delimiters string // 位号分隔符
}

// ReadBOM 使用默认读取器读取 BOM
func ReadBOM(wb *Workbook, opts ReadOptions) ([]model.BOMRow, error) {
	rows, _, err := NewBOMReader().Read(wb, opts)
	return rows, err
}

// ReadCoordinates 使用默认读取器读取坐标文件
func ReadCoordinates(wb *Workbook, opts ReadOptions) ([]model.CoordinateEntry, error) {
	entries, _, err := NewCoordinateReader().Read(wb, opts)
	return entries, err
}

// BOMReader BOM 读取器
type BOMReader struct {
	recognizer *HeaderRecognizer
}

// NewBOMReader 创建 BOM 读取器
func NewBOMReader() *BOMReader {
	return &BOMReader{recognizer: NewHeaderRecognizer()}
}

// Read 读取 BOM 行
func (r *BOMReader) Read(wb *Workbook, opts ReadOptions) ([]model.BOMRow, HeaderRecognition, error) {
	header, err := locateHeader(r.recognizer, wb, opts.Sheet, SheetKindBOM)
	if err != nil {
		return nil, header, err
	}

	cur, err := wb.Rows(header.SheetName)
	if err != nil {
		return nil, header, err
	}
	defer cur.Close()

	get := func(row Row, role ColumnRole) string {
		idx, ok := header.Columns[role]
		if !ok {
			return ""
		}
		return row.Cell(idx)
	}

	rows := make([]model.BOMRow, 0)
	nextLine := 1
	for cur.Next() {
		row := cur.Row()
		if row.Number <= header.HeaderRow || row.Empty() {
			continue
		}

		partNumber := get(row, RolePartNumber)
		description := get(row, RoleDescription)
		rawRefs := get(row, RoleDesignators)
		qtyText := get(row, RoleQuantity)
		refs := SplitDesignators(rawRefs, opts.Delimiters)

		if partNumber == "" && description == "" && len(refs) == 0 {
			continue
		}

		// 续行：只有位号没有物料信息，归入上一行
		if partNumber == "" && description == "" && qtyText == "" && get(row, RoleType) == "" && len(rows) > 0 {
			last := &rows[len(rows)-1]
			last.ReferenceDesignators = append(last.ReferenceDesignators, refs...)
			continue
		}

		qty, _ := ParseNumber(qtyText)
		line := nextLine
		if v, ok := ParseNumber(get(row, RoleLine)); ok && v > 0 && v == math.Trunc(v) {
			line = int(v)
		}
		nextLine = line + 1

		rows = append(rows, model.BOMRow{
			LineNumber:           line,
			RawType:              get(row, RoleType),
			RawPartNumber:        partNumber,
			RawDescription:       description,
			Quantity:             qty,
			ReferenceDesignators: refs,
		})
	}
	if err := cur.Err(); err != nil {
		return nil, header, err
	}
	return rows, header, nil
}

// CoordinateReader 坐标文件读取器
type CoordinateReader struct {
	recognizer *HeaderRecognizer
}

// NewCoordinateReader 创建坐标读取器
func NewCoordinateReader() *CoordinateReader {
	return &CoordinateReader{recognizer: NewHeaderRecognizer()}
}

// Read 读取坐标行（不去重，重复位号原样保留）
func (r *CoordinateReader) Read(wb *Workbook, opts ReadOptions) ([]model.CoordinateEntry, HeaderRecognition, error) {
	header, err := locateHeader(r.recognizer, wb, opts.Sheet, SheetKindCoordinates)
	if err != nil {
		return nil, header, err
	}

	cur, err := wb.Rows(header.SheetName)
	if err != nil {
		return nil, header, err
	}
	defer cur.Close()

	get := func(row Row, role ColumnRole) string {
		idx, ok := header.Columns[role]
		if !ok {
			return ""
		}
		return row.Cell(idx)
	}

	entries := make([]model.CoordinateEntry, 0)
	for cur.Next() {
		row := cur.Row()
		if row.Number <= header.HeaderRow || row.Empty() {
			continue
		}
		ref := strings.ToUpper(get(row, RoleRefDes))
		if ref == "" {
			continue
		}
		x, okX := ParseNumber(get(row, RoleX))
		y, okY := ParseNumber(get(row, RoleY))
		if !okX || !okY {
			continue
		}
		rot, _ := ParseNumber(get(row, RoleRotation))

		entries = append(entries, model.CoordinateEntry{
			ReferenceDesignator: ref,
			X:                   x,
			Y:                   y,
			Layer:               NormalizeLayer(get(row, RoleLayer)),
			Rotation:            rot,
		})
	}
	if err := cur.Err(); err != nil {
		return nil, header, err
	}
	return entries, header, nil
}

// NormalizeLayer 统一贴装面写法：Top / Bottom，其余原样返回
func NormalizeLayer(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "t", "top", "toplayer", "top layer", "front", "f.cu", "顶层", "正面":
		return "Top"
	case "b", "bot", "bottom", "bottomlayer", "bottom layer", "back", "b.cu", "底层", "背面":
		return "Bottom"
	}
	return strings.TrimSpace(s)
}

// locateHeader 选择工作表并定位表头；未指定工作表时自动识别
func locateHeader(rec *HeaderRecognizer, wb *Workbook, sheet string, kind SheetKind) (HeaderRecognition, error) {
	if strings.TrimSpace(sheet) == "" {
		if res, ok := rec.DetectSheet(wb, kind); ok {
			return res, nil
		}
	}
	res, err := rec.FindHeader(wb, sheet, kind)
	if err != nil {
		return res, err
	}
	if res.Kind != kind {
		return res, &model.FileFormatError{
			Path: wb.Path(),
			Err:  fmt.Errorf("%s sheet %q: %w", kind, res.SheetName, ErrHeaderNotFound),
		}
	}
	return res, nil
}
