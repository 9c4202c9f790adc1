package apiapp

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/phillip-england/fieldsuite/internal/evidence"
)

var errNotFound = errors.New("not found")

type expense struct {
	ID          int64     `json:"id"`
	ReportID    int64     `json:"reportId"`
	Description string    `json:"description"`
	AmountCents int64     `json:"amountCents"`
	SpentOn     string    `json:"spentOn"`
	CreatedAt   time.Time `json:"createdAt"`
}

// store persists evidence files and expense lines. Records come back without
// a URL; the server derives it from its public base URL.
type store interface {
	initSchema(ctx context.Context) error
	createEvidence(ctx context.Context, rec evidence.Record, data []byte) error
	listEvidence(ctx context.Context, reportID int64) ([]evidence.Record, error)
	getEvidence(ctx context.Context, id string) (*evidence.Record, error)
	getEvidenceFile(ctx context.Context, id string) ([]byte, error)
	deleteEvidence(ctx context.Context, id string) error
	addExpenses(ctx context.Context, reportID int64, rows []expense) (int, error)
	listExpenses(ctx context.Context, reportID int64) ([]expense, error)
}

type memoryEvidence struct {
	rec  evidence.Record
	data []byte
}

type memoryStore struct {
	mu        sync.RWMutex
	evidence  map[string]*memoryEvidence
	expenses  map[int64][]expense
	expenseID int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		evidence: make(map[string]*memoryEvidence),
		expenses: make(map[int64][]expense),
	}
}

func (m *memoryStore) initSchema(context.Context) error { return nil }

func (m *memoryStore) createEvidence(_ context.Context, rec evidence.Record, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.evidence[rec.ID]; ok {
		return errors.New("evidence already exists")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.evidence[rec.ID] = &memoryEvidence{rec: rec, data: cp}
	return nil
}

func (m *memoryStore) listEvidence(_ context.Context, reportID int64) ([]evidence.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]evidence.Record, 0)
	for _, e := range m.evidence {
		if e.rec.ReportID == reportID {
			out = append(out, e.rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *memoryStore) getEvidence(_ context.Context, id string) (*evidence.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.evidence[id]
	if !ok {
		return nil, errNotFound
	}
	rec := e.rec
	return &rec, nil
}

func (m *memoryStore) getEvidenceFile(_ context.Context, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.evidence[id]
	if !ok {
		return nil, errNotFound
	}
	cp := make([]byte, len(e.data))
	copy(cp, e.data)
	return cp, nil
}

func (m *memoryStore) deleteEvidence(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.evidence[id]; !ok {
		return errNotFound
	}
	delete(m.evidence, id)
	return nil
}

func (m *memoryStore) addExpenses(_ context.Context, reportID int64, rows []expense) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for _, row := range rows {
		m.expenseID++
		row.ID = m.expenseID
		row.ReportID = reportID
		row.CreatedAt = now
		m.expenses[reportID] = append(m.expenses[reportID], row)
	}
	return len(rows), nil
}

func (m *memoryStore) listExpenses(_ context.Context, reportID int64) ([]expense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]expense, len(m.expenses[reportID]))
	copy(out, m.expenses[reportID])
	return out, nil
}
