package merger

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"bomflow/internal/config"
	"bomflow/internal/model"
	"bomflow/internal/parser"
)

// 单次范围展开的上限，防止 "R1-R99999" 之类的输入撑爆内存
const maxRangeSpan = 1000

var (
	rangeRe    = regexp.MustCompile(`^([A-Z]+)(\d+)-([A-Z]*)(\d+)$`)
	numericRe  = regexp.MustCompile(`^\d+$`)
	designator = regexp.MustCompile(`^[A-Z]`)
)

// Options 合并规则
type Options struct {
	Delimiters        string
	TestPointPrefixes []string
}

// OptionsFromRules 从规则配置生成合并选项
func OptionsFromRules(cfg config.RulesConfig) Options {
	return Options{
		Delimiters:        cfg.Delimiters,
		TestPointPrefixes: cfg.TestPointPrefixes,
	}
}

// Result 合并结果
type Result struct {
	Rows    []model.MergedRow
	Dropped []model.RowIssue
}

// Unmatched 未找到坐标的位号数
func (r Result) Unmatched() int {
	n := 0
	for _, row := range r.Rows {
		n += len(row.Placements) - row.PlacedCount()
	}
	return n
}

// Merger 位号过滤与坐标合并
type Merger struct {
	opts     Options
	prefixes []string
}

// New 创建合并器
func New(opts Options) *Merger {
	prefixes := make([]string, 0, len(opts.TestPointPrefixes))
	for _, p := range opts.TestPointPrefixes {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			prefixes = append(prefixes, p)
		}
	}
	return &Merger{opts: opts, prefixes: prefixes}
}

// Merge 过滤位号并挂接坐标
//
// 坐标按位号建索引，重复位号以后出现者为准。位号为空的行被丢弃并各记一条问题。
func (m *Merger) Merge(rows []model.ClassifiedRow, coords []model.CoordinateEntry) Result {
	lookup := make(map[string]*model.CoordinateEntry, len(coords))
	for i := range coords {
		entry := coords[i]
		lookup[strings.ToUpper(strings.TrimSpace(entry.ReferenceDesignator))] = &entry
	}

	res := Result{Rows: make([]model.MergedRow, 0, len(rows))}
	for _, row := range rows {
		refs := m.Designators(row.ReferenceDesignators)
		if len(refs) == 0 {
			res.Dropped = append(res.Dropped, model.RowIssue{
				LineNumber: row.LineNumber,
				Kind:       model.IssueDropped,
				Reason:     dropReason(row.ReferenceDesignators),
			})
			continue
		}

		placements := make([]model.Placement, 0, len(refs))
		for _, ref := range refs {
			placements = append(placements, model.Placement{
				ReferenceDesignator: ref,
				Coordinate:          lookup[ref],
			})
		}
		res.Rows = append(res.Rows, model.MergedRow{
			ClassifiedRow: row,
			Placements:    placements,
		})
	}
	return res
}

// Designators 拆分、展开并过滤位号，保持原始顺序
func (m *Merger) Designators(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		for _, token := range parser.SplitDesignators(item, m.opts.Delimiters) {
			for _, ref := range ExpandRange(token) {
				if m.Excluded(ref) {
					continue
				}
				out = append(out, ref)
			}
		}
	}
	return out
}

// Excluded 纯数字位号与测试点前缀位号不参与输出
func (m *Merger) Excluded(ref string) bool {
	if numericRe.MatchString(ref) {
		return true
	}
	for _, p := range m.prefixes {
		if strings.HasPrefix(ref, p) {
			rest := strings.TrimPrefix(ref, p)
			// TP1 / TP_1 是测试点，TPS1 之类不是
			if rest == "" || !designator.MatchString(rest) {
				return true
			}
		}
	}
	return false
}

// ExpandRange 展开 "R1-R4" / "R1-4" 形式的范围；非范围原样返回
func ExpandRange(token string) []string {
	m := rangeRe.FindStringSubmatch(token)
	if m == nil {
		return []string{token}
	}
	prefix, endPrefix := m[1], m[3]
	if endPrefix != "" && endPrefix != prefix {
		return []string{token}
	}
	start, err1 := strconv.Atoi(m[2])
	end, err2 := strconv.Atoi(m[4])
	if err1 != nil || err2 != nil || end < start || end-start > maxRangeSpan {
		return []string{token}
	}
	out := make([]string, 0, end-start+1)
	for i := start; i <= end; i++ {
		out = append(out, prefix+strconv.Itoa(i))
	}
	return out
}

func dropReason(raw []string) string {
	if len(raw) == 0 {
		return "no reference designators"
	}
	return fmt.Sprintf("all designators excluded (%s)", strings.Join(raw, ","))
}
