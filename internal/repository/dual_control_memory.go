package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/torvus-security/torvus-console/internal/domain"
)

// MemoryDualControlRepository keeps requests in process. It backs
// non-production deployments that run without Postgres, and tests.
type MemoryDualControlRepository struct {
	mu            sync.Mutex
	byID          map[string]*domain.DualControlRequest
	byCorrelation map[string]string
}

// NewMemoryDualControlRepository builds an empty store.
func NewMemoryDualControlRepository() *MemoryDualControlRepository {
	return &MemoryDualControlRepository{
		byID:          make(map[string]*domain.DualControlRequest),
		byCorrelation: make(map[string]string),
	}
}

func correlationKey(actionKey, correlationID string) string {
	return actionKey + "\x00" + correlationID
}

func (m *MemoryDualControlRepository) CreateOrGet(_ context.Context, req *domain.DualControlRequest) (*domain.DualControlRequest, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := correlationKey(req.ActionKey, req.CorrelationID)
	if id, ok := m.byCorrelation[key]; ok {
		return m.byID[id].Copy(), false, nil
	}
	stored := req.Copy()
	m.byID[stored.ID] = stored
	m.byCorrelation[key] = stored.ID
	return stored.Copy(), true, nil
}

func (m *MemoryDualControlRepository) GetByID(_ context.Context, id string) (*domain.DualControlRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return req.Copy(), nil
}

func (m *MemoryDualControlRepository) GetByCorrelation(_ context.Context, actionKey, correlationID string) (*domain.DualControlRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byCorrelation[correlationKey(actionKey, correlationID)]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return m.byID[id].Copy(), nil
}

func (m *MemoryDualControlRepository) CompareAndSwap(_ context.Context, expected domain.DualControlStatus, next *domain.DualControlRequest) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.byID[next.ID]
	if !ok {
		return false, pgx.ErrNoRows
	}
	if current.Status != expected {
		return false, nil
	}
	updated := next.Copy()
	// identity and idempotency columns are immutable
	updated.ActionKey = current.ActionKey
	updated.CorrelationID = current.CorrelationID
	updated.RequestedBy = current.RequestedBy
	updated.RequestedAt = current.RequestedAt
	updated.Payload = current.Payload
	updated.ExpiresAt = current.ExpiresAt
	m.byID[next.ID] = updated
	return true, nil
}

func (m *MemoryDualControlRepository) ExpireStale(_ context.Context, now time.Time) ([]domain.DualControlRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []domain.DualControlRequest
	for id, req := range m.byID {
		if !req.Lapsed(now) {
			continue
		}
		updated := req.Copy()
		updated.Status = domain.DualControlExpired
		m.byID[id] = updated
		expired = append(expired, *updated.Copy())
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].RequestedAt.Before(expired[j].RequestedAt) })
	return expired, nil
}

func (m *MemoryDualControlRepository) List(_ context.Context, filter DualControlFilter) ([]domain.DualControlRequest, error) {
	m.mu.Lock()
	all := make([]domain.DualControlRequest, 0, len(m.byID))
	for _, req := range m.byID {
		if filter.Status != nil && req.Status != *filter.Status {
			continue
		}
		if filter.ActionKey != nil && req.ActionKey != *filter.ActionKey {
			continue
		}
		if filter.RequestedBy != nil && req.RequestedBy != *filter.RequestedBy {
			continue
		}
		all = append(all, *req.Copy())
	}
	m.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].RequestedAt.After(all[j].RequestedAt) })
	limit, offset := pageBounds(filter.Limit, filter.Offset)
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}
