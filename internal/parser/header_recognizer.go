package parser

// 表头搜索的最大行数（厂商 BOM 常在表头前放标题、项目信息等）
const maxHeaderScanRows = 30

// rolePattern 列角色匹配规则（对规范化后的列名匹配，按顺序优先）
type rolePattern struct {
	role    ColumnRole
	pattern string
}

var bomPatterns = []rolePattern{
	{RoleLine, `^(no|no\.|#|item|itemno|item#|line|lineno|序号|项次|行号|编号)$`},
	{RoleDesignators, `designator|reference|refdes|^refs?$|位号|location|位置`},
	{RoleQuantity, `^(qty|quantity|qnty|数量|用量|count|pcs)`},
	{RolePartNumber, `part.?(number|no|num)|^p/?n$|mpn|mfr.?part|manufacturerpart|itemname|品名|料号|物料编码|物料号|型号|^comment$|^value$|^part$`},
	{RoleDescription, `desc|specification|^spec|规格|描述|说明`},
	{RoleType, `^(type|category|componenttype|parttype|class|类别|类型|种类|分类|元件类型)$`},
}

var coordinatePatterns = []rolePattern{
	{RoleRefDes, `designator|reference|refdes|^refs?$|位号|^comp(onent)?$|^part$`},
	{RoleX, `^((pos|center|mid|ref|location|坐标)-?)?x(坐标)?$|^x-?(loc|pos|center)$`},
	{RoleY, `^((pos|center|mid|ref|location|坐标)-?)?y(坐标)?$|^y-?(loc|pos|center)$`},
	{RoleLayer, `^(layer|side|tb|t/b|面|层|贴装面)$`},
	{RoleRotation, `^(rot|rotation|rotate|angle|角度|旋转|方向)`},
}

// HeaderRecognizer 表头识别器
type HeaderRecognizer struct{}

// NewHeaderRecognizer 创建识别器
func NewHeaderRecognizer() *HeaderRecognizer {
	return &HeaderRecognizer{}
}

// MapColumns 按角色规则映射一行列名，每个角色只取第一列
func (r *HeaderRecognizer) MapColumns(kind SheetKind, columnNames []string) (map[ColumnRole]int, map[int]FieldMapping) {
	patterns := bomPatterns
	if kind == SheetKindCoordinates {
		patterns = coordinatePatterns
	}

	columns := make(map[ColumnRole]int)
	mappings := make(map[int]FieldMapping)
	for idx, raw := range columnNames {
		col := NormalizeColumnName(raw)
		if col == "" {
			continue
		}
		for _, p := range patterns {
			if _, taken := columns[p.role]; taken {
				continue
			}
			if MatchPattern(col, p.pattern) {
				columns[p.role] = idx
				mappings[idx] = FieldMapping{ColumnIndex: idx, ColumnName: raw, Role: p.role}
				break
			}
		}
	}
	return columns, mappings
}

// Recognize 对单行判断是否为指定类别的表头
func (r *HeaderRecognizer) Recognize(sheetName string, kind SheetKind, rowNumber int, columnNames []string) HeaderRecognition {
	columns, mappings := r.MapColumns(kind, columnNames)

	result := HeaderRecognition{
		SheetName: sheetName,
		Kind:      SheetKindUnknown,
		HeaderRow: rowNumber,
		Columns:   columns,
		Mappings:  mappings,
	}

	var required, optional []ColumnRole
	switch kind {
	case SheetKindBOM:
		required = []ColumnRole{RoleDesignators}
		optional = []ColumnRole{RolePartNumber, RoleDescription, RoleQuantity, RoleType, RoleLine}
		// 品名与规格至少要有一个
		if !result.Has(RolePartNumber) && !result.Has(RoleDescription) {
			return result
		}
	case SheetKindCoordinates:
		required = []ColumnRole{RoleRefDes, RoleX, RoleY}
		optional = []ColumnRole{RoleLayer, RoleRotation}
	default:
		return result
	}

	for _, role := range required {
		if !result.Has(role) {
			return result
		}
	}

	matched := 0
	for _, role := range optional {
		if result.Has(role) {
			matched++
		}
	}
	result.Kind = kind
	result.Confidence = 0.5 + 0.5*float64(matched)/float64(len(optional))
	return result
}

// FindHeader 在前若干行中查找第一个满足条件的表头
func (r *HeaderRecognizer) FindHeader(wb *Workbook, sheet string, kind SheetKind) (HeaderRecognition, error) {
	name, err := wb.ResolveSheet(sheet)
	if err != nil {
		return HeaderRecognition{}, err
	}
	cur, err := wb.Rows(name)
	if err != nil {
		return HeaderRecognition{}, err
	}
	defer cur.Close()

	for cur.Next() {
		row := cur.Row()
		if row.Number > maxHeaderScanRows {
			break
		}
		if row.Empty() {
			continue
		}
		if res := r.Recognize(name, kind, row.Number, row.Cells); res.Kind == kind {
			return res, nil
		}
	}
	if err := cur.Err(); err != nil {
		return HeaderRecognition{}, err
	}
	return HeaderRecognition{SheetName: name, Kind: SheetKindUnknown}, nil
}

// DetectSheet 未指定工作表时，返回第一个可识别为指定类别的表
func (r *HeaderRecognizer) DetectSheet(wb *Workbook, kind SheetKind) (HeaderRecognition, bool) {
	for _, name := range wb.Sheets() {
		res, err := r.FindHeader(wb, name, kind)
		if err == nil && res.Kind == kind {
			return res, true
		}
	}
	return HeaderRecognition{}, false
}
