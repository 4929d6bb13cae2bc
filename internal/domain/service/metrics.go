// Package service defines the interfaces for domain services.
package service

import (
	"time"
)

// Metrics defines the interface for collecting custody metrics.
// This abstraction allows the application layer to remain independent of the specific monitoring implementation (e.g., Prometheus).
// Metrics 定义了收集托管指标的接口。
// 这种抽象使应用层能够独立于具体的监控实现（例如 Prometheus）。
type Metrics interface {
	// RecordOperation records the outcome and latency of a custody or envelope operation.
	// outcome is "success" or a taxonomy code.
	// RecordOperation 记录托管或信封操作的结果和延迟。
	RecordOperation(operation, outcome string, duration time.Duration)

	// RecordCacheAccess records a handle cache hit or miss.
	// RecordCacheAccess 记录句柄缓存命中或未命中。
	RecordCacheAccess(hit bool)
}

// NoopMetrics is a Metrics implementation that drops every observation.
type NoopMetrics struct{}

func (NoopMetrics) RecordOperation(operation, outcome string, duration time.Duration) {}
func (NoopMetrics) RecordCacheAccess(hit bool)                                     {}
