package output

import "time"

// MetricsCollector defines the secondary port for metrics collection.
type MetricsCollector interface {
	// IncConversions increments the per-format conversion counter.
	IncConversions(format string, success bool)

	// ObserveConversionDuration records the end-to-end request duration.
	ObserveConversionDuration(duration time.Duration)

	// ObserveStageDuration records the duration of one pipeline stage.
	ObserveStageDuration(stage string, duration time.Duration)

	// AddRowsDumped counts rows written to the staged dataset.
	AddRowsDumped(n int)

	// IncPageFetches increments the row source page counter.
	IncPageFetches(success bool)

	// IncPrunes increments the prune counter.
	IncPrunes(success bool)

	// SetScratchUsage sets the scratch root artifact count and byte size.
	SetScratchUsage(files int, bytes int64)
}

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// IncConversions implements MetricsCollector.
func (n *NoOpMetrics) IncConversions(_ string, _ bool) {}

// ObserveConversionDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveConversionDuration(_ time.Duration) {}

// ObserveStageDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveStageDuration(_ string, _ time.Duration) {}

// AddRowsDumped implements MetricsCollector.
func (n *NoOpMetrics) AddRowsDumped(_ int) {}

// IncPageFetches implements MetricsCollector.
func (n *NoOpMetrics) IncPageFetches(_ bool) {}

// IncPrunes implements MetricsCollector.
func (n *NoOpMetrics) IncPrunes(_ bool) {}

// SetScratchUsage implements MetricsCollector.
func (n *NoOpMetrics) SetScratchUsage(_ int, _ int64) {}
