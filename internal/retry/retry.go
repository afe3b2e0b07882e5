package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Backoff 退避方式
type Backoff string

const (
	BackoffFixed       Backoff = "fixed"       // 固定间隔
	BackoffLinear      Backoff = "linear"      // 线性递增
	BackoffExponential Backoff = "exponential" // 指数退避
)

// Policy 重试策略
type Policy struct {
	Attempts int           // 最大尝试次数
	Delay    time.Duration // 首次等待
	MaxDelay time.Duration // 等待上限
	Backoff  Backoff
}

// ReportPolicy 报告落库的重试策略
func ReportPolicy() Policy {
	return Policy{Attempts: 3, Delay: 200 * time.Millisecond, MaxDelay: 2 * time.Second, Backoff: BackoffExponential}
}

// PublishPolicy 消息发布的重试策略
func PublishPolicy() Policy {
	return Policy{Attempts: 5, Delay: 500 * time.Millisecond, MaxDelay: 10 * time.Second, Backoff: BackoffExponential}
}

// wait 第 attempt 次失败后的等待时间
func (p Policy) wait(attempt int) time.Duration {
	var d time.Duration
	switch p.Backoff {
	case BackoffLinear:
		d = p.Delay * time.Duration(attempt)
	case BackoffExponential:
		d = p.Delay * time.Duration(1<<(attempt-1))
	default:
		d = p.Delay
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent 标记错误不再重试
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent 判断错误是否不可重试，context 取消与超时视为不可重试
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Do 按策略执行 fn，直到成功、遇到不可重试错误或次数用尽
func Do(ctx context.Context, logger *logrus.Logger, op string, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s canceled: %w", op, err)
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				logger.WithFields(logrus.Fields{
					"op":      op,
					"attempt": attempt,
				}).Info("Operation succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if IsPermanent(err) {
			return fmt.Errorf("%s failed: %w", op, err)
		}
		if attempt == attempts {
			break
		}

		wait := p.wait(attempt)
		logger.WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt,
			"max":     attempts,
			"wait":    wait,
			"error":   err.Error(),
		}).Warn("Operation failed, retrying")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s canceled during wait: %w", op, ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", op, attempts, lastErr)
}

// Value 带返回值的 Do
func Value[T any](ctx context.Context, logger *logrus.Logger, op string, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, logger, op, p, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}
