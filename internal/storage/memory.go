package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/ashita-ai/kiroku/internal/model"
)

// MemoryStore is a fully in-process Store used by tests and by embedders
// that want an ephemeral engine. Snapshots are deep-cloned on the way in and
// out so callers can never alias stored state.
type MemoryStore struct {
	mu      sync.RWMutex
	reports map[string]model.Report
	audit   map[string][]model.AuditRecord
	order   []string // report IDs in creation order
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reports: make(map[string]model.Report),
		audit:   make(map[string][]model.AuditRecord),
	}
}

func (m *MemoryStore) CreateReport(_ context.Context, r model.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reports[r.ReportID]; ok {
		return ErrDuplicateID
	}
	m.reports[r.ReportID] = r.Clone()
	m.order = append(m.order, r.ReportID)
	return nil
}

func (m *MemoryStore) LoadReport(_ context.Context, reportID string) (model.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[reportID]
	if !ok {
		return model.Report{}, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryStore) SaveReport(_ context.Context, r model.Report, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.reports[r.ReportID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}
	m.reports[r.ReportID] = r.Clone()
	return nil
}

func (m *MemoryStore) AppendAudit(_ context.Context, rec model.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit[rec.ReportID] = append(m.audit[rec.ReportID], rec)
	return nil
}

func (m *MemoryStore) HeadAudit(_ context.Context, reportID string) (model.AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	trail := m.audit[reportID]
	if len(trail) == 0 {
		return model.AuditRecord{}, ErrNotFound
	}
	return trail[len(trail)-1], nil
}

func (m *MemoryStore) ListAudit(_ context.Context, reportID string, limit, offset int) ([]model.AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	trail := m.audit[reportID]
	sorted := make([]model.AuditRecord, len(trail))
	copy(sorted, trail)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })
	if offset >= len(sorted) {
		return []model.AuditRecord{}, nil
	}
	sorted = sorted[offset:]
	if limit > 0 && limit < len(sorted) {
		sorted = sorted[:limit]
	}
	return sorted, nil
}

func (m *MemoryStore) ListSummaries(_ context.Context) ([]model.ReportSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sums := make([]model.ReportSummary, 0, len(m.order))
	for _, id := range m.order {
		if r, ok := m.reports[id]; ok {
			sums = append(sums, r.Summary())
		}
	}
	return sums, nil
}

func (m *MemoryStore) CountReports(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.reports), nil
}

func (m *MemoryStore) Close() error { return nil }
