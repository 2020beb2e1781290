package parser

// SheetKind 工作表内容类别
type SheetKind string

const (
	SheetKindBOM         SheetKind = "bom"
	SheetKindCoordinates SheetKind = "coordinates"
	SheetKindUnknown     SheetKind = "unknown"
)

// ColumnRole 列角色
type ColumnRole string

const (
	// BOM 列
	RoleLine        ColumnRole = "line"
	RoleType        ColumnRole = "type"
	RolePartNumber  ColumnRole = "part_number"
	RoleDescription ColumnRole = "description"
	RoleQuantity    ColumnRole = "quantity"
	RoleDesignators ColumnRole = "designators"

	// 坐标列
	RoleRefDes   ColumnRole = "ref_des"
	RoleX        ColumnRole = "x"
	RoleY        ColumnRole = "y"
	RoleLayer    ColumnRole = "layer"
	RoleRotation ColumnRole = "rotation"
)

// Row 一行单元格（Number 为表内 1 起始行号，空单元格为 ""）
type Row struct {
	Number int
	Cells  []string
}

// Cell 按列索引取值，越界返回空串
func (r Row) Cell(idx int) string {
	if idx < 0 || idx >= len(r.Cells) {
		return ""
	}
	return r.Cells[idx]
}

// Empty 是否整行为空
func (r Row) Empty() bool {
	for _, c := range r.Cells {
		if c != "" {
			return false
		}
	}
	return true
}

// FieldMapping 列映射结果
type FieldMapping struct {
	ColumnIndex int        `json:"columnIndex"` // 列索引（0 起始）
	ColumnName  string     `json:"columnName"`  // 原始列名
	Role        ColumnRole `json:"role"`
}

// HeaderRecognition 表头识别结果
type HeaderRecognition struct {
	SheetName  string               `json:"sheetName"`
	Kind       SheetKind            `json:"kind"`
	HeaderRow  int                  `json:"headerRow"`  // 表头所在行号
	Confidence float64              `json:"confidence"` // 置信度 0-1
	Columns    map[ColumnRole]int   `json:"columns"`
	Mappings   map[int]FieldMapping `json:"mappings"`
}

// Has 是否识别到某列
func (h HeaderRecognition) Has(role ColumnRole) bool {
	_, ok := h.Columns[role]
	return ok
}
