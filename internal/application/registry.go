// Package application contains the application services.
package application

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/openterra/efflux/internal/domain"
)

// defaultRegistryCapacity bounds the number of reports kept in memory.
const defaultRegistryCapacity = 256

// ReportRegistry keeps the most recent conversion reports in memory, keyed
// by their request directory name. It is a convenience for operators; the
// artifacts themselves live on the scratch root.
type ReportRegistry struct {
	mu       sync.RWMutex
	reports  map[string]domain.Report
	order    []string
	capacity int
}

// NewReportRegistry creates a registry holding at most capacity reports.
func NewReportRegistry(capacity int) *ReportRegistry {
	if capacity <= 0 {
		capacity = defaultRegistryCapacity
	}
	return &ReportRegistry{
		reports:  make(map[string]domain.Report, capacity),
		capacity: capacity,
	}
}

// Add records a finished conversion, evicting the oldest entry when full.
// Reports without a request directory (failed before staging) are keyed by
// resource ID.
func (r *ReportRegistry) Add(report domain.Report) {
	key := filepath.Base(report.Dir)
	if report.Dir == "" {
		key = report.ResourceID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.reports[key]; !exists {
		r.order = append(r.order, key)
	}
	r.reports[key] = report

	for len(r.order) > r.capacity {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.reports, oldest)
	}
}

// ListConversions returns recent reports, newest first.
func (r *ReportRegistry) ListConversions(_ context.Context) ([]domain.Report, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reports := make([]domain.Report, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		reports = append(reports, r.reports[r.order[i]])
	}
	return reports, nil
}

// GetConversion returns one report by its request directory name.
func (r *ReportRegistry) GetConversion(_ context.Context, id string) (*domain.Report, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	report, ok := r.reports[id]
	if !ok {
		return nil, fmt.Errorf("conversion %s: %w", id, domain.ErrNotFound)
	}
	return &report, nil
}

// Count returns the number of tracked reports.
func (r *ReportRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.reports)
}
