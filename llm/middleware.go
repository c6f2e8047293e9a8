package llm

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Handler processes a request and returns a response.
type Handler func(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

// Middleware wraps a handler with additional functionality.
type Middleware func(next Handler) Handler

// Chain represents a middleware chain.
type Chain struct {
	middlewares []Middleware
	mu          sync.RWMutex
}

// NewChain creates a new middleware chain.
func NewChain(middlewares ...Middleware) *Chain {
	return &Chain{middlewares: middlewares}
}

// Use adds middleware to the chain.
func (c *Chain) Use(m Middleware) *Chain {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.middlewares = append(c.middlewares, m)
	return c
}

// Then wraps a handler with all middleware.
func (c *Chain) Then(h Handler) Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := len(c.middlewares) - 1; i >= 0; i-- {
		h = c.middlewares[i](h)
	}
	return h
}

// Len returns the number of middleware.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.middlewares)
}

// DebugMiddleware dumps every outbound request and inbound response when
// enabled. It never alters control flow or return values; with enabled=false
// it is the identity middleware.
func DebugMiddleware(logger *zap.Logger, enabled bool) Middleware {
	return func(next Handler) Handler {
		if !enabled {
			return next
		}
		return func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
			logger.Debug("llm request",
				zap.String("model", req.Model),
				zap.Int("messages", len(req.Messages)),
				zap.Any("payload", req),
			)

			resp, err := next(ctx, req)

			if err != nil {
				logger.Debug("llm error", zap.Error(err))
			} else {
				logger.Debug("llm response",
					zap.String("id", resp.ID),
					zap.Int("choices", len(resp.Choices)),
					zap.Any("payload", resp),
				)
			}
			return resp, err
		}
	}
}

// LatencyMiddleware records wall-clock latency into the aggregate for every
// terminal outcome, success or failure. Failed calls are recorded with an
// empty response id.
func LatencyMiddleware(metrics *Metrics) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			latency := time.Since(start)

			responseID := ""
			if resp != nil {
				responseID = resp.ID
			}
			metrics.AddResponseLatency(latency, responseID)

			return resp, err
		}
	}
}

// TimeoutMiddleware adds a per-call timeout to requests.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// RateLimitMiddleware throttles outbound calls with a token bucket.
// It blocks until a token is available or the context is canceled.
func RateLimitMiddleware(limiter *rate.Limiter) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, &Error{
					Code:    ErrRateLimited,
					Message: "rate limit wait canceled: " + err.Error(),
				}
			}
			return next(ctx, req)
		}
	}
}

// RecoveryMiddleware recovers from panics.
func RecoveryMiddleware(onPanic func(any)) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *ChatRequest) (resp *ChatResponse, err error) {
			defer func() {
				if r := recover(); r != nil {
					if onPanic != nil {
						onPanic(r)
					}
					err = &PanicError{Value: r}
				}
			}()
			return next(ctx, req)
		}
	}
}

// PanicError represents a recovered panic.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return "panic recovered"
}
