package llm

import (
	"sync"
	"time"
)

// LatencySample 是一次终态调用的延迟记录。
type LatencySample struct {
	Latency    time.Duration `json:"latency"`
	ResponseID string        `json:"response_id"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// Metrics 是进程内的调用延迟聚合器，生命周期与 Provider 实例绑定。
// 成功与最终失败的调用都会被记录（失败的 ResponseID 为空）。
// 所有方法并发安全：多个 goroutine 共享同一 Provider 时写入会被串行化。
type Metrics struct {
	mu      sync.Mutex
	model   string
	samples []LatencySample
}

// NewMetrics 创建空的延迟聚合器。
func NewMetrics(model string) *Metrics {
	return &Metrics{model: model}
}

// Model 返回聚合器绑定的模型名。
func (m *Metrics) Model() string { return m.model }

// AddResponseLatency 追加一条延迟样本。
func (m *Metrics) AddResponseLatency(latency time.Duration, responseID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, LatencySample{
		Latency:    latency,
		ResponseID: responseID,
		RecordedAt: time.Now(),
	})
}

// AverageLatency 返回所有样本的平均延迟，无样本时返回 0。
func (m *Metrics) AverageLatency() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.samples) == 0 {
		return 0
	}
	var total time.Duration
	for _, s := range m.samples {
		total += s.Latency
	}
	return total / time.Duration(len(m.samples))
}

// Count 返回已记录的样本数。
func (m *Metrics) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.samples)
}

// Samples 返回样本的副本。
func (m *Metrics) Samples() []LatencySample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LatencySample, len(m.samples))
	copy(out, m.samples)
	return out
}
