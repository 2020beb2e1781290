package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"bomflow/internal/model"
)

// Completer 外部文本补全服务
//
// 实现需将限流、超时、非 2xx 状态包装为 *model.ExternalServiceError，
// 以便退避状态机判断是否重试。
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
	Name() string
}

const systemPrompt = "You classify electronic components from bill-of-materials lines. " +
	"You MUST respond with ONLY a valid JSON object, no markdown or commentary, of the form " +
	`{"componentType": "...", "canonicalPartNumber": "..."}.`

const promptTemplate = `Classify this BOM line.

Type column: %s
Part number: %s
Description: %s
Designators: %s

componentType must be exactly one of: Capacitor, Resistor, IC, LED, Connector, Other.
canonicalPartNumber is the manufacturer part number without spaces, upper-case; use "" if unknown.`

// BuildPrompt 将 BOM 行渲染为固定提示词
func BuildPrompt(row model.BOMRow) string {
	orNone := func(s string) string {
		if strings.TrimSpace(s) == "" {
			return "(none)"
		}
		return strings.TrimSpace(s)
	}
	return fmt.Sprintf(promptTemplate,
		orNone(row.RawType),
		orNone(row.RawPartNumber),
		orNone(row.RawDescription),
		orNone(strings.Join(row.ReferenceDesignators, ",")),
	)
}

type completion struct {
	ComponentType       string  `json:"componentType"`
	CanonicalPartNumber *string `json:"canonicalPartNumber"`
}

// ParseCompletion 解析服务返回的 JSON；类别未知或字段缺失视为格式错误
func ParseCompletion(content string) (model.ComponentType, string, error) {
	content = cleanMarkdownWrapper(content)

	var resp completion
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return "", "", model.NewServiceError(model.ErrMalformedResponse, 0, fmt.Errorf("parse JSON response: %w", err))
	}
	t, ok := model.ParseComponentType(resp.ComponentType)
	if !ok {
		return "", "", model.NewServiceError(model.ErrMalformedResponse, 0, fmt.Errorf("unknown componentType %q", resp.ComponentType))
	}
	if resp.CanonicalPartNumber == nil {
		return "", "", model.NewServiceError(model.ErrMalformedResponse, 0, errors.New("missing canonicalPartNumber"))
	}
	return t, CanonicalPartNumber(*resp.CanonicalPartNumber), nil
}

// cleanMarkdownWrapper 去除 ```json 代码块包装
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```JSON")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}
	// 容忍前后多余文字
	if start, end := strings.Index(content, "{"), strings.LastIndex(content, "}"); start >= 0 && end > start {
		content = content[start : end+1]
	}
	return strings.TrimSpace(content)
}
