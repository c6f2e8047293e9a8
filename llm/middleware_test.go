package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"
)

func okHandler(resp *ChatResponse) Handler {
	return func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
		return resp, nil
	}
}

func failHandler(err error) Handler {
	return func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
		return nil, err
	}
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}

	chain := NewChain(mw("outer")).Use(mw("inner"))
	assert.Equal(t, 2, chain.Len())

	h := chain.Then(okHandler(&ChatResponse{ID: "r"}))
	_, err := h(context.Background(), &ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestDebugMiddleware_DisabledIsIdentity(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	h := DebugMiddleware(logger, false)(okHandler(&ChatResponse{ID: "r"}))
	resp, err := h(context.Background(), &ChatRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "r", resp.ID)
	assert.Equal(t, 0, logs.Len(), "debug off means no logging at all")
}

func TestDebugMiddleware_LogsRequestAndResponse(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	h := DebugMiddleware(logger, true)(okHandler(&ChatResponse{ID: "r", Choices: []ChatChoice{{}}}))
	_, err := h(context.Background(), &ChatRequest{Model: "m"})
	require.NoError(t, err)

	assert.Equal(t, 1, logs.FilterMessage("llm request").Len())
	assert.Equal(t, 1, logs.FilterMessage("llm response").Len())
}

func TestDebugMiddleware_LogsError(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	h := DebugMiddleware(logger, true)(failHandler(errors.New("boom")))
	_, err := h(context.Background(), &ChatRequest{})
	require.Error(t, err)

	assert.Equal(t, 1, logs.FilterMessage("llm error").Len())
}

func TestLatencyMiddleware_RecordsSuccess(t *testing.T) {
	metrics := NewMetrics("m")
	h := LatencyMiddleware(metrics)(okHandler(&ChatResponse{ID: "resp-1"}))

	_, err := h(context.Background(), &ChatRequest{})
	require.NoError(t, err)

	require.Equal(t, 1, metrics.Count())
	assert.Equal(t, "resp-1", metrics.Samples()[0].ResponseID)
}

func TestLatencyMiddleware_RecordsFailure(t *testing.T) {
	metrics := NewMetrics("m")
	h := LatencyMiddleware(metrics)(failHandler(errors.New("boom")))

	_, err := h(context.Background(), &ChatRequest{})
	require.Error(t, err)

	// 失败路径同样记录延迟，ResponseID 为空
	require.Equal(t, 1, metrics.Count())
	assert.Equal(t, "", metrics.Samples()[0].ResponseID)
}

func TestRateLimitMiddleware_CanceledContext(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	h := RateLimitMiddleware(limiter)(okHandler(&ChatResponse{}))

	// 第一个令牌立即可用
	_, err := h(context.Background(), &ChatRequest{})
	require.NoError(t, err)

	// 没有剩余令牌且 context 已取消
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h(ctx, &ChatRequest{})
	require.Error(t, err)

	var le *Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrRateLimited, le.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	var recovered any
	h := RecoveryMiddleware(func(v any) { recovered = v })(func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
		panic("kaboom")
	})

	_, err := h(context.Background(), &ChatRequest{})
	require.Error(t, err)
	assert.Equal(t, "kaboom", recovered)

	var pe *PanicError
	assert.ErrorAs(t, err, &pe)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&Error{Code: ErrUpstreamError, Retryable: true}))
	assert.False(t, IsRetryable(&Error{Code: ErrInvalidConfig}))
	assert.False(t, IsRetryable(errors.New("plain error")))
}
