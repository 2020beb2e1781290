package parser

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
)

var (
	whitespaceRe  = regexp.MustCompile(`\s+`)
	unitSuffixRe  = regexp.MustCompile(`[\(（\[][^\)）\]]*[\)）\]]$`)
	leadingNumber = regexp.MustCompile(`^[-+]?(\d+\.?\d*|\.\d+)([eE][-+]?\d+)?`)
	patternCache  sync.Map // pattern -> *regexp.Regexp
)

// NormalizeColumnName 规范化列名：去除空白、单位后缀并转小写
// 例如 "Center-X (mm)" -> "center-x"
func NormalizeColumnName(name string) string {
	name = strings.TrimSpace(name)
	name = whitespaceRe.ReplaceAllString(name, "")
	name = unitSuffixRe.ReplaceAllString(name, "")
	return strings.ToLower(name)
}

// MatchPattern 使用正则匹配（编译结果缓存，仅用于包内固定词表）
func MatchPattern(text, pattern string) bool {
	if cached, ok := patternCache.Load(pattern); ok {
		return cached.(*regexp.Regexp).MatchString(text)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	patternCache.Store(pattern, re)
	return re.MatchString(text)
}

// ParseNumber 解析数值，容忍千分位与单位后缀（"1,200" / "12.5mm" / "4 pcs"）
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	s = strings.ReplaceAll(s, ",", "")
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, true
	}
	m := leadingNumber.FindString(s)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// SplitDesignators 按分隔符拆分位号字符串，去除空项并转大写
func SplitDesignators(raw, delimiters string) []string {
	if delimiters == "" {
		delimiters = ",; \t\n"
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return strings.ContainsRune(delimiters, r) || r == '，' || r == '、' || r == '；'
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
