package stackspot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stackspotai/stackspot-go/llm"
	"github.com/stackspotai/stackspot-go/llm/observability"
	"github.com/stackspotai/stackspot-go/llm/retry"
	"github.com/stackspotai/stackspot-go/llm/tokenizer"
	"github.com/stackspotai/stackspot-go/providers"
	"go.uber.org/zap"
)

const defaultBaseURL = "https://api.stackspot.com"

// Provider implements the StackSpot AI LLM Provider.
// StackSpot exposes an OpenAI-compatible chat completions endpoint and does
// not offer a streaming variant. Each Completion call is one network round
// trip per attempt; retries are sequential and governed by the configured
// retry policy.
type Provider struct {
	cfg       providers.StackSpotConfig
	client    *http.Client
	logger    *zap.Logger
	metrics   *llm.Metrics
	estimator tokenizer.Tokenizer
	cache     *llm.CompletionCache
	collector *observability.Collector
	tracer    *observability.Tracer
	handler   llm.Handler
}

// Option customizes optional collaborators of the provider.
type Option func(*Provider)

// WithHTTPClient overrides the HTTP client (per-attempt timeout included).
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) { p.client = client }
}

// WithTokenizer substitutes the chars/4 default with an accurate estimator.
func WithTokenizer(t tokenizer.Tokenizer) Option {
	return func(p *Provider) { p.estimator = t }
}

// WithCache enables the opt-in completion response cache.
func WithCache(cache *llm.CompletionCache) Option {
	return func(p *Provider) { p.cache = cache }
}

// WithCollector wires prometheus metrics recording.
func WithCollector(c *observability.Collector) Option {
	return func(p *Provider) { p.collector = c }
}

// WithTracer wires otel span creation around each completion.
func WithTracer(t *observability.Tracer) Option {
	return func(p *Provider) { p.tracer = t }
}

// New creates a StackSpot provider. Construction fails when the API key is
// missing or empty; that failure is never retried.
func New(cfg providers.StackSpotConfig, logger *zap.Logger, opts ...Option) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	p := &Provider{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger:    logger,
		metrics:   llm.NewMetrics(cfg.Model),
		estimator: tokenizer.NewHeuristicTokenizer(cfg.Model),
	}
	for _, opt := range opts {
		opt(p)
	}

	retryer := retry.NewBackoffRetryer(p.retryPolicy(), logger)

	// Debug and latency wrap the retry loop: one log pair and one latency
	// sample per call, not per attempt.
	chain := llm.NewChain(
		llm.DebugMiddleware(logger, cfg.Debug),
		llm.LatencyMiddleware(p.metrics),
		llm.RetryMiddleware(retryer),
	)
	p.handler = chain.Then(p.doRequest)

	return p, nil
}

func (p *Provider) retryPolicy() *retry.RetryPolicy {
	policy := retry.DefaultRetryPolicy()
	policy.MaxRetries = p.cfg.NumRetries
	if p.cfg.RetryMinWait > 0 {
		policy.MinWait = p.cfg.RetryMinWait
	}
	if p.cfg.RetryMaxWait > 0 {
		policy.MaxWait = p.cfg.RetryMaxWait
	}
	if p.cfg.RetryMultiplier > 0 {
		policy.Multiplier = p.cfg.RetryMultiplier
	}
	// Only transient failures (network, timeout, 429, 5xx) are retried.
	policy.RetryIf = llm.IsRetryable
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		if p.collector != nil {
			p.collector.RecordRetry(p.Name(), p.cfg.Model)
		}
	}
	return policy
}

func (p *Provider) Name() string { return "stackspot" }

// Metrics returns the per-instance latency aggregate.
func (p *Provider) Metrics() *llm.Metrics { return p.metrics }

// AverageLatency is a convenience accessor over the metrics aggregate.
func (p *Provider) AverageLatency() time.Duration { return p.metrics.AverageLatency() }

// FormatMessages normalizes one or more messages to the role/content pairing
// StackSpot expects. It preserves order and content exactly, defaults a
// missing role to user, and is idempotent on already-normalized input.
func (p *Provider) FormatMessages(messages ...llm.Message) []llm.Message {
	formatted := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == "" {
			m.Role = llm.RoleUser
		}
		formatted = append(formatted, llm.Message{Role: m.Role, Content: m.Content, Name: m.Name})
	}
	return formatted
}

// TokenCount returns the estimated token count for the messages using the
// configured estimator (chars/4 by default).
func (p *Provider) TokenCount(messages []llm.Message) int {
	tmsgs := make([]tokenizer.Message, 0, len(messages))
	for _, m := range messages {
		tmsgs = append(tmsgs, tokenizer.Message{Role: string(m.Role), Content: m.Content})
	}
	count, err := p.estimator.CountMessages(tmsgs)
	if err != nil {
		p.logger.Warn("token count estimation failed", zap.Error(err))
		return 0
	}
	return count
}

// Completion sends the conversation to StackSpot and returns the normalized
// response. Zero-valued request fields fall back to the configured defaults;
// explicitly set fields pass through to the wire unmodified.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, &llm.Error{
			Code:       llm.ErrInvalidRequest,
			Message:    "at least one message is required",
			HTTPStatus: http.StatusBadRequest,
			Provider:   p.Name(),
		}
	}

	merged := p.mergeRequest(req)

	if p.cache != nil && p.cache.IsCacheable(merged) {
		key := p.cache.GenerateKey(merged)
		if entry, err := p.cache.Get(ctx, key); err == nil {
			p.logger.Debug("completion cache hit", zap.String("key", key))
			return entry.Response.Clone(), nil
		}
	}

	resp, err := p.completeTraced(ctx, merged)
	if err != nil {
		return nil, err
	}

	if p.cache != nil && p.cache.IsCacheable(merged) {
		key := p.cache.GenerateKey(merged)
		if cacheErr := p.cache.Set(ctx, key, &llm.CacheEntry{Response: resp}); cacheErr != nil {
			p.logger.Warn("completion cache store failed", zap.Error(cacheErr))
		}
	}

	return resp, nil
}

func (p *Provider) completeTraced(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	start := time.Now()

	if p.tracer == nil {
		resp, err := p.handler(ctx, req)
		p.record(resp, err, time.Since(start))
		return resp, err
	}

	ctx, span := p.tracer.StartCompletion(ctx, p.Name(), req.Model, req.TraceID)
	resp, err := p.handler(ctx, req)
	prompt, completion := 0, 0
	if resp != nil {
		prompt, completion = resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	}
	p.tracer.EndCompletion(span, prompt, completion, err)
	p.record(resp, err, time.Since(start))
	return resp, err
}

func (p *Provider) record(resp *llm.ChatResponse, err error, duration time.Duration) {
	if p.collector == nil {
		return
	}
	status := "success"
	prompt, completion := 0, 0
	if err != nil {
		status = "error"
	} else if resp != nil {
		prompt, completion = resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	}
	p.collector.RecordRequest(p.Name(), p.cfg.Model, status, duration, prompt, completion)
}

// mergeRequest fills zero-valued per-call options from the configuration and
// normalizes the message list. The input request is not mutated.
func (p *Provider) mergeRequest(req *llm.ChatRequest) *llm.ChatRequest {
	merged := *req
	merged.Messages = p.FormatMessages(req.Messages...)

	if merged.Model == "" {
		merged.Model = p.cfg.Model
	}
	if merged.Temperature == 0 {
		merged.Temperature = p.cfg.Temperature
	}
	if merged.MaxTokens == 0 {
		merged.MaxTokens = p.cfg.MaxOutputTokens
	}
	if merged.TopP == 0 {
		merged.TopP = p.cfg.TopP
	}
	if merged.TraceID == "" {
		merged.TraceID = uuid.NewString()
	}
	return &merged
}

// Wire types: StackSpot is OpenAI-compatible.
type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	TopP        float32       `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
}

type wireChoice struct {
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason"`
	Message      wireMessage `json:"message"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type wireResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []wireChoice `json:"choices"`
	Usage   *wireUsage   `json:"usage,omitempty"`
	Created int64        `json:"created,omitempty"`
}

type wireErrorResp struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func (p *Provider) buildHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

// doRequest performs a single HTTP attempt. It is the innermost handler of
// the middleware chain; the retry wrapper re-invokes it on transient errors.
func (p *Provider) doRequest(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	body := wireRequest{
		Model:       req.Model,
		Messages:    toWireMessages(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
		Stop:        req.Stop,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &llm.Error{
			Code:       llm.ErrInvalidRequest,
			Message:    fmt.Sprintf("encode request: %v", err),
			HTTPStatus: http.StatusBadRequest,
			Provider:   p.Name(),
		}
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	endpoint := fmt.Sprintf("%s/v1/chat/completions", strings.TrimRight(p.cfg.BaseURL, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &llm.Error{
			Code:       llm.ErrInvalidRequest,
			Message:    err.Error(),
			HTTPStatus: http.StatusBadRequest,
			Provider:   p.Name(),
		}
	}
	p.buildHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, p.transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := readErrMsg(resp.Body)
		return nil, mapStackSpotError(resp.StatusCode, msg, p.Name())
	}

	var wr wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return nil, &llm.Error{
			Code:       llm.ErrUpstreamError,
			Message:    fmt.Sprintf("decode response: %v", err),
			HTTPStatus: http.StatusBadGateway,
			Retryable:  true,
			Provider:   p.Name(),
		}
	}

	if len(wr.Choices) == 0 {
		return nil, &llm.Error{
			Code:       llm.ErrUpstreamError,
			Message:    "response contained no choices",
			HTTPStatus: http.StatusBadGateway,
			Retryable:  true,
			Provider:   p.Name(),
		}
	}

	return toChatResponse(wr, req.Model, p.Name()), nil
}

// transportError classifies client-side failures: timeouts map to
// LLM_UPSTREAM_TIMEOUT, everything else to LLM_UPSTREAM_ERROR. Both are
// transient and therefore retryable.
func (p *Provider) transportError(err error) *llm.Error {
	code := llm.ErrUpstreamError
	status := http.StatusBadGateway

	var netErr interface{ Timeout() bool }
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		code = llm.ErrUpstreamTimeout
		status = http.StatusGatewayTimeout
	}

	return &llm.Error{
		Code:       code,
		Message:    err.Error(),
		HTTPStatus: status,
		Retryable:  true,
		Provider:   p.Name(),
	}
}

func toWireMessages(msgs []llm.Message) []wireMessage {
	out := make([]wireMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, wireMessage{Role: string(m.Role), Content: m.Content, Name: m.Name})
	}
	return out
}

func toChatResponse(wr wireResponse, model, provider string) *llm.ChatResponse {
	choices := make([]llm.ChatChoice, 0, len(wr.Choices))
	for _, c := range wr.Choices {
		finish := c.FinishReason
		if finish == "" {
			finish = "stop"
		}
		choices = append(choices, llm.ChatChoice{
			Index:        c.Index,
			FinishReason: finish,
			Message: llm.Message{
				Role:    llm.RoleAssistant,
				Content: c.Message.Content,
			},
		})
	}

	respModel := wr.Model
	if respModel == "" {
		respModel = model
	}

	resp := &llm.ChatResponse{
		ID:        wr.ID,
		Provider:  provider,
		Model:     respModel,
		Choices:   choices,
		CreatedAt: time.Now(),
	}
	if wr.Created > 0 {
		resp.CreatedAt = time.Unix(wr.Created, 0)
	}
	if wr.Usage != nil {
		resp.Usage = llm.ChatUsage{
			PromptTokens:     wr.Usage.PromptTokens,
			CompletionTokens: wr.Usage.CompletionTokens,
			TotalTokens:      wr.Usage.TotalTokens,
		}
	}
	return resp
}

func readErrMsg(body io.Reader) string {
	data, _ := io.ReadAll(body)
	var errResp wireErrorResp
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
	}
	return string(data)
}

func mapStackSpotError(status int, msg string, provider string) *llm.Error {
	switch status {
	case http.StatusUnauthorized:
		return &llm.Error{Code: llm.ErrUnauthorized, Message: msg, HTTPStatus: status, Provider: provider}
	case http.StatusForbidden:
		return &llm.Error{Code: llm.ErrForbidden, Message: msg, HTTPStatus: status, Provider: provider}
	case http.StatusTooManyRequests:
		return &llm.Error{Code: llm.ErrRateLimited, Message: msg, HTTPStatus: status, Retryable: true, Provider: provider}
	case http.StatusBadRequest:
		if strings.Contains(msg, "quota") || strings.Contains(msg, "credit") {
			return &llm.Error{Code: llm.ErrQuotaExceeded, Message: msg, HTTPStatus: status, Provider: provider}
		}
		return &llm.Error{Code: llm.ErrInvalidRequest, Message: msg, HTTPStatus: status, Provider: provider}
	case http.StatusGatewayTimeout:
		return &llm.Error{Code: llm.ErrUpstreamTimeout, Message: msg, HTTPStatus: status, Retryable: true, Provider: provider}
	default:
		return &llm.Error{Code: llm.ErrUpstreamError, Message: msg, HTTPStatus: status, Retryable: status >= 500, Provider: provider}
	}
}

// HealthCheck probes the models endpoint and reports latency.
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	endpoint := fmt.Sprintf("%s/v1/models", strings.TrimRight(p.cfg.BaseURL, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &llm.HealthStatus{Healthy: false}, err
	}
	p.buildHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg := readErrMsg(resp.Body)
		return &llm.HealthStatus{Healthy: false, Latency: latency}, fmt.Errorf("stackspot health check failed: status=%d msg=%s", resp.StatusCode, msg)
	}
	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}
