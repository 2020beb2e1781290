package model

import "strings"

// ComponentType 元件类别
type ComponentType string

const (
	ComponentCapacitor ComponentType = "Capacitor"
	ComponentResistor  ComponentType = "Resistor"
	ComponentIC        ComponentType = "IC"
	ComponentLED       ComponentType = "LED"
	ComponentConnector ComponentType = "Connector"
	ComponentOther     ComponentType = "Other"
)

// ComponentPriority 规则命中多个类别时的优先级（靠前者优先）
var ComponentPriority = []ComponentType{
	ComponentCapacitor,
	ComponentResistor,
	ComponentIC,
	ComponentLED,
	ComponentConnector,
	ComponentOther,
}

// ParseComponentType 解析类别名称（大小写不敏感），未知返回 false
func ParseComponentType(s string) (ComponentType, bool) {
	s = strings.TrimSpace(s)
	for _, t := range ComponentPriority {
		if strings.EqualFold(s, string(t)) {
			return t, true
		}
	}
	return "", false
}

// CheckStatus 数量核对状态
type CheckStatus string

const (
	CheckOK          CheckStatus = "OK"
	CheckQtyMismatch CheckStatus = "QTY_MISMATCH"
	CheckNoRefs      CheckStatus = "NO_REFS"
)

// QuantityCheck 比较有效位号数与 BOM 数量
func QuantityCheck(setCount int, qty float64) CheckStatus {
	switch {
	case setCount == 0:
		return CheckNoRefs
	case float64(setCount) == qty:
		return CheckOK
	default:
		return CheckQtyMismatch
	}
}

// ClassificationSource 分类结果来源
type ClassificationSource string

const (
	SourceRule  ClassificationSource = "rule"
	SourceLLM   ClassificationSource = "llm"
	SourceCache ClassificationSource = "cache"
)

// BOMRow BOM 原始行（读取后不再修改）
type BOMRow struct {
	LineNumber           int      `json:"lineNumber"`
	RawType              string   `json:"rawType"`
	RawPartNumber        string   `json:"rawPartNumber"`
	RawDescription       string   `json:"rawDescription"`
	Quantity             float64  `json:"quantity"`
	ReferenceDesignators []string `json:"referenceDesignators"`
}

// ClassifiedRow 分类后的 BOM 行
type ClassifiedRow struct {
	BOMRow

	ComponentType       ComponentType        `json:"componentType"`
	CanonicalPartNumber string               `json:"canonicalPartNumber"`
	SetCount            int                  `json:"setCount"`
	CheckStatus         CheckStatus          `json:"checkStatus"`
	Source              ClassificationSource `json:"source"`
}

// ClassificationFailure 单行分类失败（不中断整个任务）
type ClassificationFailure struct {
	LineNumber int    `json:"lineNumber"`
	Reason     string `json:"reason"`
	Attempts   int    `json:"attempts"`
}

// CoordinateEntry 贴片坐标（位号不保证唯一）
type CoordinateEntry struct {
	ReferenceDesignator string  `json:"referenceDesignator"`
	X                   float64 `json:"x"`
	Y                   float64 `json:"y"`
	Layer               string  `json:"layer"`
	Rotation            float64 `json:"rotation"`
}

// Placement 单个位号的合并结果，Coordinate 为空表示坐标文件中未找到
type Placement struct {
	ReferenceDesignator string           `json:"referenceDesignator"`
	Coordinate          *CoordinateEntry `json:"coordinate,omitempty"`
}

// MergedRow 分类行 + 过滤后的位号及坐标
type MergedRow struct {
	ClassifiedRow

	Placements []Placement `json:"placements"`
}

// References 返回过滤后的位号列表
func (r MergedRow) References() []string {
	refs := make([]string, 0, len(r.Placements))
	for _, p := range r.Placements {
		refs = append(refs, p.ReferenceDesignator)
	}
	return refs
}

// PlacedCount 返回已匹配到坐标的位号数量
func (r MergedRow) PlacedCount() int {
	n := 0
	for _, p := range r.Placements {
		if p.Coordinate != nil {
			n++
		}
	}
	return n
}
