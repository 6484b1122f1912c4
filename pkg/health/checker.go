package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"livefeed-service/pkg/common"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"

	defaultCheckTimeout = 5 * time.Second
)

// CheckFunc 健康检查函数
type CheckFunc func(context.Context) error

// Pinger is anything that can report whether its backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Status 健康状态
type Status struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult 检查结果
type CheckResult struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Checker 健康检查器. Checks run concurrently, each under its own timeout.
type Checker struct {
	logger  common.Logger
	timeout time.Duration

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewChecker 创建健康检查器
func NewChecker(logger common.Logger, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	return &Checker{
		logger:  logger,
		timeout: timeout,
		checks:  make(map[string]CheckFunc),
	}
}

// Register 注册健康检查
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
}

// RegisterPinger registers p.Ping under name.
func (c *Checker) RegisterPinger(name string, p Pinger) {
	c.Register(name, p.Ping)
}

// Check runs every registered check. The overall status is unhealthy if any
// single check fails.
func (c *Checker) Check(ctx context.Context) *Status {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, fn := range c.checks {
		checks[name] = fn
	}
	c.mu.RUnlock()

	status := &Status{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, fn := range checks {
		wg.Add(1)
		go func(name string, fn CheckFunc) {
			defer wg.Done()
			result := c.run(ctx, name, fn)

			mu.Lock()
			status.Checks[name] = result
			if result.Status != StatusHealthy {
				status.Status = StatusUnhealthy
			}
			mu.Unlock()
		}(name, fn)
	}
	wg.Wait()

	return status
}

// IsHealthy 判断系统是否健康
func (c *Checker) IsHealthy(ctx context.Context) bool {
	return c.Check(ctx).Status == StatusHealthy
}

func (c *Checker) run(ctx context.Context, name string, fn CheckFunc) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := safeCall(ctx, fn)
	result := CheckResult{
		Status:    StatusHealthy,
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = err.Error()
		c.logger.Warn("Health check failed: %s - %v", name, err)
	}
	return result
}

func safeCall(ctx context.Context, fn CheckFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("check panicked: %v", r)
		}
	}()
	return fn(ctx)
}
