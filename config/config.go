// =============================================================================
// 📦 stackspot-go 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("stackspot.yaml").
//	    WithEnvPrefix("STACKSPOT").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// API key 建议通过环境变量（STACKSPOT_API_KEY）注入，而非写入配置文件。
// =============================================================================
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/stackspotai/stackspot-go/providers"
	"gopkg.in/yaml.v3"
)

// Config 是客户端的完整配置结构
type Config struct {
	// LLM StackSpot Provider 配置
	LLM providers.StackSpotConfig `yaml:"llm"`

	// Log 日志配置
	Log LogConfig `yaml:"log"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 级别: debug, info, warn, error
	Level string `yaml:"level"`
	// 格式: json, console
	Format string `yaml:"format"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		LLM: providers.StackSpotConfig{
			BaseURL:         "https://api.stackspot.com",
			Temperature:     0.7,
			MaxOutputTokens: 1024,
			Timeout:         30 * time.Second,
			NumRetries:      3,
			RetryMinWait:    1 * time.Second,
			RetryMaxWait:    30 * time.Second,
			RetryMultiplier: 2.0,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Loader 配置加载器
type Loader struct {
	configPath string
	envPrefix  string
}

// NewLoader 创建配置加载器
func NewLoader() *Loader {
	return &Loader{envPrefix: "STACKSPOT"}
}

// WithConfigPath 设置 YAML 配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load 加载配置: 默认值 → YAML → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		data, err := os.ReadFile(l.configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file %s: %w", l.configPath, err)
			}
			// 文件不存在时静默跳过，仅依赖默认值与环境变量
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", l.configPath, err)
		}
	}

	l.applyEnv(cfg)

	return cfg, nil
}

// applyEnv 应用环境变量覆盖
func (l *Loader) applyEnv(cfg *Config) {
	if v := l.env("API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := l.env("BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := l.env("MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := l.env("TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			cfg.LLM.Temperature = float32(f)
		}
	}
	if v := l.env("TOP_P"); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			cfg.LLM.TopP = float32(f)
		}
	}
	if v := l.env("MAX_OUTPUT_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LLM.MaxOutputTokens = n
		}
	}
	if v := l.env("TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.LLM.Timeout = d
		}
	}
	if v := l.env("NUM_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LLM.NumRetries = n
		}
	}
	if v := l.env("DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.LLM.Debug = b
		}
	}
	if v := l.env("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := l.env("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func (l *Loader) env(key string) string {
	return os.Getenv(l.envPrefix + "_" + key)
}
