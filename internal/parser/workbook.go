package parser

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"bomflow/internal/model"
)

type fileKind int

const (
	kindWorkbook fileKind = iota
	kindCSV
	kindText
)

// Workbook 表格数据源：xlsx 工作簿或 csv/txt 坐标文件
type Workbook struct {
	path string
	kind fileKind
	file *excelize.File
}

// Open 打开文件；csv/txt/pos 按文本表读取，其余按 Excel 工作簿读取
func Open(path string) (*Workbook, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return &Workbook{path: path, kind: kindCSV}, nil
	case ".txt", ".pos", ".tsv":
		return &Workbook{path: path, kind: kindText}, nil
	}

	file, err := excelize.OpenFile(path)
	if err != nil {
		return nil, &model.FileFormatError{Path: path, Err: err}
	}
	return &Workbook{path: path, kind: kindWorkbook, file: file}, nil
}

// OpenReader 从 reader 加载 Excel 工作簿（name 仅用于错误信息）
func OpenReader(name string, r io.Reader) (*Workbook, error) {
	file, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &model.FileFormatError{Path: name, Err: err}
	}
	return &Workbook{path: name, kind: kindWorkbook, file: file}, nil
}

// Path 文件路径
func (w *Workbook) Path() string {
	return w.path
}

// Sheets 获取工作表列表；文本文件只有一个以文件名命名的表
func (w *Workbook) Sheets() []string {
	if w.kind != kindWorkbook {
		return []string{strings.TrimSuffix(filepath.Base(w.path), filepath.Ext(w.path))}
	}
	return w.file.GetSheetList()
}

// ResolveSheet 解析工作表选择器：名称、"#N"/"N"（1 起始序号）或空（第一个表）
func (w *Workbook) ResolveSheet(selector string) (string, error) {
	sheets := w.Sheets()
	if len(sheets) == 0 {
		return "", &model.SheetNotFoundError{Path: w.path, Selector: selector}
	}

	selector = strings.TrimSpace(selector)
	if selector == "" {
		return sheets[0], nil
	}
	for _, name := range sheets {
		if name == selector {
			return name, nil
		}
	}

	if idx, err := strconv.Atoi(strings.TrimPrefix(selector, "#")); err == nil {
		if idx >= 1 && idx <= len(sheets) {
			return sheets[idx-1], nil
		}
	}
	return "", &model.SheetNotFoundError{Path: w.path, Selector: selector}
}

// Rows 打开一个行游标；每次调用都会重新读取，游标可重复获取
func (w *Workbook) Rows(selector string) (*RowCursor, error) {
	sheet, err := w.ResolveSheet(selector)
	if err != nil {
		return nil, err
	}

	switch w.kind {
	case kindCSV:
		return openCSVCursor(w.path)
	case kindText:
		return openTextCursor(w.path)
	}

	rows, err := w.file.Rows(sheet)
	if err != nil {
		return nil, &model.FileFormatError{Path: w.path, Err: err}
	}
	blank, err := mergedNonAnchorCells(w.file, sheet)
	if err != nil {
		_ = rows.Close()
		return nil, &model.FileFormatError{Path: w.path, Err: err}
	}

	return &RowCursor{
		next: func() ([]string, bool, error) {
			if !rows.Next() {
				return nil, false, rows.Error()
			}
			cols, err := rows.Columns()
			return cols, true, err
		},
		closeFn: rows.Close,
		blank:   blank,
	}, nil
}

// Close 关闭文件
func (w *Workbook) Close() error {
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

// mergedNonAnchorCells 合并单元格中除左上角外的坐标（行号 -> 列索引集合）
func mergedNonAnchorCells(f *excelize.File, sheet string) (map[int]map[int]bool, error) {
	merged, err := f.GetMergeCells(sheet)
	if err != nil {
		return nil, err
	}
	if len(merged) == 0 {
		return nil, nil
	}

	blank := make(map[int]map[int]bool)
	for _, mc := range merged {
		c1, r1, err := excelize.CellNameToCoordinates(mc.GetStartAxis())
		if err != nil {
			return nil, err
		}
		c2, r2, err := excelize.CellNameToCoordinates(mc.GetEndAxis())
		if err != nil {
			return nil, err
		}
		for r := r1; r <= r2; r++ {
			for c := c1; c <= c2; c++ {
				if r == r1 && c == c1 {
					continue
				}
				if blank[r] == nil {
					blank[r] = make(map[int]bool)
				}
				blank[r][c-1] = true
			}
		}
	}
	return blank, nil
}

// RowCursor 行游标，保持原始行顺序
type RowCursor struct {
	next    func() ([]string, bool, error)
	closeFn func() error
	blank   map[int]map[int]bool

	number int
	row    []string
	err    error
	done   bool
}

// Next 前进到下一行
func (c *RowCursor) Next() bool {
	if c.done {
		return false
	}
	cells, ok, err := c.next()
	if err != nil {
		c.err = err
		c.done = true
		return false
	}
	if !ok {
		c.done = true
		return false
	}

	c.number++
	row := make([]string, len(cells))
	for i, v := range cells {
		if c.blank[c.number][i] {
			continue
		}
		row[i] = strings.TrimSpace(v)
	}
	c.row = row
	return true
}

// Row 当前行
func (c *RowCursor) Row() Row {
	return Row{Number: c.number, Cells: c.row}
}

// Err 迭代过程中的错误
func (c *RowCursor) Err() error {
	return c.err
}

// Close 释放底层资源
func (c *RowCursor) Close() error {
	c.done = true
	if c.closeFn != nil {
		fn := c.closeFn
		c.closeFn = nil
		return fn()
	}
	return nil
}

func openCSVCursor(path string) (*RowCursor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	return &RowCursor{
		next: func() ([]string, bool, error) {
			rec, err := r.Read()
			if errors.Is(err, io.EOF) {
				return nil, false, nil
			}
			if err != nil {
				return nil, false, &model.FileFormatError{Path: path, Err: err}
			}
			return rec, true, nil
		},
		closeFn: f.Close,
	}, nil
}

// openTextCursor 空白分隔的坐标文本（KiCad .pos 等）
// 数据行之前的 # 注释行去掉前缀后输出（表头常写在注释中），数据行之后的注释忽略
func openTextCursor(path string) (*RowCursor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	scanner := bufio.NewScanner(f)
	seenData := false

	return &RowCursor{
		next: func() ([]string, bool, error) {
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if strings.HasPrefix(line, "#") {
					if seenData {
						continue
					}
					line = strings.TrimSpace(strings.TrimLeft(line, "#"))
				} else if line != "" {
					seenData = true
				}
				if strings.Contains(line, "\t") {
					return strings.Split(line, "\t"), true, nil
				}
				return strings.Fields(line), true, nil
			}
			if err := scanner.Err(); err != nil {
				return nil, false, &model.FileFormatError{Path: path, Err: err}
			}
			return nil, false, nil
		},
		closeFn: f.Close,
	}, nil
}
