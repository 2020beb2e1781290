package classifier

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"bomflow/internal/model"
)

// Backoff 重试退避状态机，每行分类创建一个实例
//
// Next 记录一次失败并给出下一次等待时间；达到上限或错误不可重试时返回 retry=false。
// 限流错误直接退避到 Max。
type Backoff struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	Jitter      float64 // 0-1，按比例随机缩减等待时间

	// Rand 返回 [0,1) 随机数，测试可注入固定值
	Rand func() float64

	Attempt   int
	LastErr   error
	NextDelay time.Duration
}

// NewBackoff 创建退避状态机（零值参数使用默认值）
func NewBackoff(maxAttempts int, initial, max time.Duration) *Backoff {
	b := &Backoff{
		MaxAttempts: maxAttempts,
		Initial:     initial,
		Max:         max,
		Multiplier:  2,
		Jitter:      0.2,
	}
	b.normalize()
	return b
}

func (b *Backoff) normalize() {
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = 3
	}
	if b.Initial <= 0 {
		b.Initial = 500 * time.Millisecond
	}
	if b.Max < b.Initial {
		b.Max = b.Initial
	}
	if b.Multiplier < 1 {
		b.Multiplier = 2
	}
	if b.Jitter < 0 || b.Jitter > 1 {
		b.Jitter = 0
	}
	if b.Rand == nil {
		b.Rand = rand.Float64
	}
	if b.NextDelay == 0 {
		b.NextDelay = b.Initial
	}
}

// Next 记录失败，返回等待时间与是否继续重试
func (b *Backoff) Next(err error) (time.Duration, bool) {
	b.normalize()
	b.Attempt++
	b.LastErr = err

	if b.Exhausted() || !Retryable(err) {
		return 0, false
	}

	base := b.NextDelay
	if errors.Is(err, model.ErrRateLimited) {
		base = b.Max
	}
	next := time.Duration(float64(base) * b.Multiplier)
	if next > b.Max {
		next = b.Max
	}
	b.NextDelay = next

	delay := base
	if b.Jitter > 0 {
		delay = time.Duration(float64(base) * (1 - b.Jitter*b.Rand()))
	}
	return delay, true
}

// Exhausted 是否已用尽重试次数
func (b *Backoff) Exhausted() bool {
	return b.Attempt >= b.MaxAttempts
}

// Retryable 判断错误是否值得重试
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var svcErr *model.ExternalServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Retryable
	}
	// 网络错误、超时等
	return true
}

// sleep 等待退避时间，ctx 取消时提前返回
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
