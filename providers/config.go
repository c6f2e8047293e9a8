package providers

import (
	"strings"
	"time"

	"github.com/stackspotai/stackspot-go/llm"
)

// StackSpotConfig StackSpot AI Provider 配置。
// 构造后只读；同一实例可被多个 goroutine 共享。
type StackSpotConfig struct {
	APIKey          string        `json:"api_key" yaml:"api_key"`
	BaseURL         string        `json:"base_url" yaml:"base_url"`
	Model           string        `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature     float32       `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxOutputTokens int           `json:"max_output_tokens,omitempty" yaml:"max_output_tokens,omitempty"`
	TopP            float32       `json:"top_p,omitempty" yaml:"top_p,omitempty"`
	Timeout         time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// 重试策略（委托给 llm/retry）
	NumRetries      int           `json:"num_retries,omitempty" yaml:"num_retries,omitempty"`
	RetryMinWait    time.Duration `json:"retry_min_wait,omitempty" yaml:"retry_min_wait,omitempty"`
	RetryMaxWait    time.Duration `json:"retry_max_wait,omitempty" yaml:"retry_max_wait,omitempty"`
	RetryMultiplier float64       `json:"retry_multiplier,omitempty" yaml:"retry_multiplier,omitempty"`

	// Debug 开启时完整记录出站请求与入站响应
	Debug bool `json:"debug,omitempty" yaml:"debug,omitempty"`
}

// Validate 校验构造期不变量：API key 必须非空。
func (c *StackSpotConfig) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return &llm.Error{
			Code:     llm.ErrInvalidConfig,
			Message:  "API key is required",
			Provider: "stackspot",
		}
	}
	return nil
}
