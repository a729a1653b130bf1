package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/BaSui01/streamgate/types"
	"go.uber.org/zap"
)

// RetryPolicy 定义重试策略配置
type RetryPolicy struct {
	MaxRetries int           // 最大重试次数（0 表示不重试）
	BaseDelay  time.Duration // 基础延迟，第 n 次重试前等待 BaseDelay * 2^n * jitter
	MaxDelay   time.Duration // 单次等待上限
	JitterMin  float64       // 抖动下界（默认 0.8）
	JitterMax  float64       // 抖动上界（默认 1.2）

	// Retryable 判断错误是否可重试，为空时使用 IsOverloaded
	Retryable func(err error) bool

	// OnRetry 重试回调，在等待之前调用
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryPolicy 返回默认的重试策略
// 适用于上游限流 / 过载场景
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries: 5,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   15 * time.Second,
		JitterMin:  0.8,
		JitterMax:  1.2,
	}
}

// Retryer 重试器接口
type Retryer interface {
	// Do 执行函数，失败时根据策略重试
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// Option 配置 Executor 的可选项
type Option func(*Executor)

// WithSleeper 替换等待函数（测试中用于记录延迟而不真正休眠）
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) {
		e.sleep = sleep
	}
}

// WithRandSource 替换 [0,1) 随机数来源
func WithRandSource(next func() float64) Option {
	return func(e *Executor) {
		e.random = next
	}
}

// Executor 基于指数退避的重试执行器
type Executor struct {
	policy *RetryPolicy
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	random func() float64
}

// NewExecutor 创建指数退避重试执行器
func NewExecutor(policy *RetryPolicy, logger *zap.Logger, opts ...Option) *Executor {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	p := *policy

	// 参数校验
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 15 * time.Second
	}
	if p.JitterMin <= 0 || p.JitterMax < p.JitterMin {
		p.JitterMin, p.JitterMax = 0.8, 1.2
	}
	if p.Retryable == nil {
		p.Retryable = IsOverloaded
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Executor{
		policy: &p,
		logger: logger.With(zap.String("component", "retry")),
		sleep:  sleepContext,
		random: rand.Float64,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy 返回生效的策略副本
func (e *Executor) Policy() RetryPolicy {
	return *e.policy
}

// Do 实现 Retryer.Do
func (e *Executor) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := DoWithResult(ctx, e, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoWithResult 执行 fn 并返回结果，遇到可重试错误时按指数退避重试。
// 非可重试错误只调用一次即返回；重试耗尽时返回 RETRIES_EXHAUSTED 错误并保留原始错误链。
func DoWithResult[T any](ctx context.Context, e *Executor, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempt := 0

	for {
		result, err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				e.logger.Info("重试成功", zap.Int("attempt", attempt))
			}
			return result, nil
		}

		if !e.policy.Retryable(err) {
			e.logger.Debug("错误不可重试", zap.Error(err))
			return zero, err
		}

		if attempt >= e.policy.MaxRetries {
			e.logger.Warn("重试次数耗尽",
				zap.Int("max_retries", e.policy.MaxRetries),
				zap.Error(err),
			)
			return zero, types.NewError(types.ErrRetriesExhausted,
				fmt.Sprintf("failed after %d retries", e.policy.MaxRetries)).
				WithHTTPStatus(http.StatusTooManyRequests).
				WithRetryable(true).
				WithCause(err)
		}

		delay := e.Delay(attempt)
		e.logger.Info("重试中",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", e.policy.MaxRetries),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if e.policy.OnRetry != nil {
			e.policy.OnRetry(attempt+1, err, delay)
		}

		if serr := e.sleep(ctx, delay); serr != nil {
			return zero, fmt.Errorf("重试被取消: %w", serr)
		}
		attempt++
	}
}

// Delay 计算第 attempt 次重试（从 0 开始）前的等待时间
// delay = min(MaxDelay, BaseDelay * 2^attempt * jitter)，jitter ∈ [JitterMin, JitterMax]
func (e *Executor) Delay(attempt int) time.Duration {
	jitter := e.policy.JitterMin + e.random()*(e.policy.JitterMax-e.policy.JitterMin)
	delay := float64(e.policy.BaseDelay) * math.Pow(2, float64(attempt)) * jitter
	if delay > float64(e.policy.MaxDelay) {
		return e.policy.MaxDelay
	}
	return time.Duration(delay)
}

// sleepContext 等待 d，同时监听 context 取消
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
