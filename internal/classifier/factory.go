package classifier

import (
	"context"
	"fmt"
	"strings"

	"bomflow/internal/config"
)

// NewCompleter 按配置创建补全服务；provider 为空或 "none" 时返回 nil（仅用规则分类）
func NewCompleter(ctx context.Context, cfg config.ClassifierConfig) (Completer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "none":
		return nil, nil
	case "openai":
		client, err := NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		return client, nil
	case "gemini":
		client, err := NewGeminiClient(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		return client, nil
	case "stub":
		return NewStubCompleter(), nil
	default:
		return nil, fmt.Errorf("unsupported completion provider: %s", cfg.Provider)
	}
}
