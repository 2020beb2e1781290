package exporter

import (
	"strings"

	"bomflow/internal/parser"
)

// OutputRow 从输出文件读回的一行
type OutputRow struct {
	LineNumber    int
	Type          string
	ItemName      string
	Specification string
	Quantity      float64
	References    []string
	Placed        int
	Check         string
}

// ReadBack 通过表格读取器重新读取输出文件的数据区，遇到空行结束
func ReadBack(path string, t Template) ([]OutputRow, error) {
	wb, err := parser.Open(path)
	if err != nil {
		return nil, err
	}
	defer wb.Close()

	cur, err := wb.Rows(t.Sheet)
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	index := make(map[string]int)
	var out []OutputRow
	for cur.Next() {
		row := cur.Row()
		switch {
		case row.Number == t.HeaderRow:
			for i, name := range row.Cells {
				index[strings.ToLower(strings.TrimSpace(name))] = i
			}
			continue
		case row.Number < t.DataStartRow:
			continue
		case row.Empty():
			return out, cur.Err()
		}

		get := func(col string) string {
			i, ok := index[strings.ToLower(col)]
			if !ok {
				return ""
			}
			return row.Cell(i)
		}
		line, _ := parser.ParseNumber(get(ColNo))
		qty, _ := parser.ParseNumber(get(ColQty))
		placed, _ := parser.ParseNumber(get(ColPlaced))
		out = append(out, OutputRow{
			LineNumber:    int(line),
			Type:          get(ColType),
			ItemName:      get(ColItemName),
			Specification: get(ColSpecification),
			Quantity:      qty,
			References:    parser.SplitDesignators(get(ColReference), ","),
			Placed:        int(placed),
			Check:         get(ColCheck),
		})
	}
	return out, cur.Err()
}
