package classifier

import (
	"context"
	"sync/atomic"
)

// StubCompleter 确定性补全实现，用于测试与离线运行
//
// Fn 为空时一律回复 Other，料号留空（由分类器回退为原始料号）。
type StubCompleter struct {
	Fn    func(ctx context.Context, prompt string) (string, error)
	calls atomic.Int64
}

// NewStubCompleter 创建默认桩
func NewStubCompleter() *StubCompleter {
	return &StubCompleter{}
}

// Name 服务名称
func (s *StubCompleter) Name() string { return "stub" }

// Complete 返回 Fn 的结果
func (s *StubCompleter) Complete(ctx context.Context, _ string, prompt string) (string, error) {
	s.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.Fn != nil {
		return s.Fn(ctx, prompt)
	}
	return `{"componentType": "Other", "canonicalPartNumber": ""}`, nil
}

// Calls 调用次数
func (s *StubCompleter) Calls() int64 {
	return s.calls.Load()
}
