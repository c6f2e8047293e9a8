package llm

import (
	"context"

	"github.com/stackspotai/stackspot-go/llm/retry"
	"go.uber.org/zap"
)

// ResilientProvider 具有重试能力的 Provider 包装器。
// 遵循装饰器模式：增强原有 Provider 而不修改其代码。
// 重试策略与被包装的 Provider 相互独立, 可自由组合。
type ResilientProvider struct {
	provider Provider
	retryer  retry.Retryer
	logger   *zap.Logger
}

// NewResilientProvider 创建具有重试能力的 Provider。
// policy 为 nil 时使用默认策略; 默认只重试可重试分类的错误
// (网络错误、超时、5xx、429), 配置错误与 4xx 不重试。
func NewResilientProvider(provider Provider, policy *retry.RetryPolicy, logger *zap.Logger) *ResilientProvider {
	if policy == nil {
		policy = retry.DefaultRetryPolicy()
	}
	if policy.RetryIf == nil {
		policy.RetryIf = IsRetryable
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ResilientProvider{
		provider: provider,
		retryer:  retry.NewBackoffRetryer(policy, logger),
		logger:   logger,
	}
}

// Completion 实现 Provider.Completion，失败时按策略顺序重试。
// 重试是串行的：每次调用至多一个在途请求。
func (rp *ResilientProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return retry.DoWithResultTyped[*ChatResponse](rp.retryer, ctx, func() (*ChatResponse, error) {
		return rp.provider.Completion(ctx, req)
	})
}

// HealthCheck 实现 Provider.HealthCheck，不重试。
func (rp *ResilientProvider) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	return rp.provider.HealthCheck(ctx)
}

// Name 实现 Provider.Name
func (rp *ResilientProvider) Name() string {
	return rp.provider.Name()
}

// RetryMiddleware 把重试策略表达为中间件, 用于与 Debug/Latency
// 等包装器显式组合。语义与 ResilientProvider.Completion 一致。
func RetryMiddleware(r retry.Retryer) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
			return retry.DoWithResultTyped[*ChatResponse](r, ctx, func() (*ChatResponse, error) {
				return next(ctx, req)
			})
		}
	}
}
