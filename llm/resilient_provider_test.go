package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stackspotai/stackspot-go/llm/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeProvider fails a configurable number of times before succeeding.
type fakeProvider struct {
	failures int
	calls    int
	err      error
}

func (f *fakeProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return &ChatResponse{ID: "ok", Choices: []ChatChoice{{Message: Message{Role: RoleAssistant, Content: "hi"}}}}, nil
}

func (f *fakeProvider) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	return &HealthStatus{Healthy: true}, nil
}

func (f *fakeProvider) Name() string { return "fake" }

func fastPolicy(maxRetries int) *retry.RetryPolicy {
	return &retry.RetryPolicy{
		MaxRetries: maxRetries,
		MinWait:    time.Millisecond,
		MaxWait:    5 * time.Millisecond,
		Multiplier: 2.0,
	}
}

func TestResilientProvider_RetriesTransientErrors(t *testing.T) {
	inner := &fakeProvider{
		failures: 2,
		err:      &Error{Code: ErrUpstreamError, Retryable: true},
	}
	rp := NewResilientProvider(inner, fastPolicy(3), zap.NewNop())

	resp, err := rp.Completion(context.Background(), &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "oi"}}})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.ID)
	assert.Equal(t, 3, inner.calls)
}

func TestResilientProvider_DoesNotRetryNonRetryable(t *testing.T) {
	inner := &fakeProvider{
		failures: 10,
		err:      &Error{Code: ErrUnauthorized},
	}
	rp := NewResilientProvider(inner, fastPolicy(3), zap.NewNop())

	_, err := rp.Completion(context.Background(), &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "oi"}}})
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls, "4xx errors surface without retries")
}

func TestResilientProvider_ExhaustionSurfacesError(t *testing.T) {
	inner := &fakeProvider{
		failures: 10,
		err:      &Error{Code: ErrUpstreamError, Retryable: true},
	}
	rp := NewResilientProvider(inner, fastPolicy(2), zap.NewNop())

	resp, err := rp.Completion(context.Background(), &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "oi"}}})
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, 3, inner.calls, "initial attempt plus two retries")

	var le *Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrUpstreamError, le.Code)
}

func TestResilientProvider_DelegatesNameAndHealth(t *testing.T) {
	inner := &fakeProvider{}
	rp := NewResilientProvider(inner, nil, nil)

	assert.Equal(t, "fake", rp.Name())
	status, err := rp.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Healthy)
}
