package classifier

import (
	"strings"
	"unicode"

	"bomflow/internal/config"
	"bomflow/internal/merger"
	"bomflow/internal/model"
)

// 位号前缀 -> 类别
var designatorPrefixes = map[string]model.ComponentType{
	"C":   model.ComponentCapacitor,
	"R":   model.ComponentResistor,
	"RN":  model.ComponentResistor,
	"U":   model.ComponentIC,
	"IC":  model.ComponentIC,
	"LED": model.ComponentLED,
	"J":   model.ComponentConnector,
	"CN":  model.ComponentConnector,
	"CON": model.ComponentConnector,
}

// Rules 确定性分类规则
type Rules struct {
	vocab            map[model.ComponentType][]string
	designatorPrefix bool
	designators      *merger.Merger
}

// NewRules 从配置构建规则，词表统一转小写
func NewRules(cfg config.RulesConfig) *Rules {
	lower := func(words []string) []string {
		out := make([]string, 0, len(words))
		for _, w := range words {
			if strings.TrimSpace(w) == "" {
				continue
			}
			out = append(out, strings.ToLower(w))
		}
		return out
	}
	return &Rules{
		vocab: map[model.ComponentType][]string{
			model.ComponentCapacitor: lower(cfg.Capacitor),
			model.ComponentResistor:  lower(cfg.Resistor),
			model.ComponentIC:        lower(cfg.IC),
			model.ComponentLED:       lower(cfg.LED),
			model.ComponentConnector: lower(cfg.Connector),
			model.ComponentOther:     lower(cfg.Other),
		},
		designatorPrefix: cfg.DesignatorPrefix,
		designators:      merger.New(merger.OptionsFromRules(cfg)),
	}
}

// SetCount 拆分、展开并剔除测试点与纯数字位号后的有效位号数
func (r *Rules) SetCount(refs []string) int {
	return len(r.designators.Designators(refs))
}

// Match 汇总类别列、规格描述、位号前缀命中的类别，按优先级取第一个
func (r *Rules) Match(row model.BOMRow) (model.ComponentType, bool) {
	hits := make(map[model.ComponentType]bool)
	for _, text := range []string{row.RawType, row.RawDescription} {
		r.collectText(text, hits)
	}
	if r.designatorPrefix {
		if t, ok := matchDesignatorPrefix(row.ReferenceDesignators); ok {
			hits[t] = true
		}
	}
	for _, t := range model.ComponentPriority {
		if hits[t] {
			return t, true
		}
	}
	return "", false
}

func (r *Rules) collectText(text string, hits map[model.ComponentType]bool) {
	if strings.TrimSpace(text) == "" {
		return
	}
	padded := " " + strings.ToLower(text) + " "
	for _, t := range model.ComponentPriority {
		for _, kw := range r.vocab[t] {
			if strings.Contains(padded, kw) {
				hits[t] = true
				break
			}
		}
	}
}

// matchDesignatorPrefix 所有位号前缀一致且可识别时命中
func matchDesignatorPrefix(refs []string) (model.ComponentType, bool) {
	var prefix string
	for _, ref := range refs {
		end := strings.IndexFunc(ref, func(r rune) bool { return !unicode.IsLetter(r) })
		if end < 0 {
			end = len(ref)
		}
		p := strings.ToUpper(ref[:end])
		if p == "" {
			continue
		}
		if prefix == "" {
			prefix = p
		} else if p != prefix {
			return "", false
		}
	}
	t, ok := designatorPrefixes[prefix]
	return t, ok
}

// CanonicalPartNumber 规范料号：转大写并去除空白
func CanonicalPartNumber(raw string) string {
	return strings.ToUpper(strings.Join(strings.Fields(raw), ""))
}
