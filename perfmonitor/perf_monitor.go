// Package perfmonitor measures wall-clock time between a Start and a Stop.
package perfmonitor

import "time"

// PerformanceMonitor records a start and an end instant. It is not safe for
// concurrent use; create one per measured operation.
type PerformanceMonitor struct {
	startTime time.Time
	endTime   time.Time
}

// NewPerformanceMonitor returns a monitor with no measurement recorded.
func NewPerformanceMonitor() *PerformanceMonitor {
	return &PerformanceMonitor{}
}

// Start records the start instant, overwriting any previous one.
func (pm *PerformanceMonitor) Start() {
	pm.startTime = time.Now()
}

// Stop records the end instant. It does nothing if Start was not called.
func (pm *PerformanceMonitor) Stop() {
	if pm.startTime.IsZero() {
		return
	}

	pm.endTime = time.Now()
}

// Elapsed returns the measured duration, or 0 until both Start and Stop ran.
func (pm *PerformanceMonitor) Elapsed() time.Duration {
	if pm.startTime.IsZero() || pm.endTime.IsZero() {
		return 0
	}

	return pm.endTime.Sub(pm.startTime)
}

// ElapsedMilliseconds returns Elapsed as fractional milliseconds.
func (pm *PerformanceMonitor) ElapsedMilliseconds() float64 {
	return float64(pm.Elapsed()) / float64(time.Millisecond)
}
