package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/torvus-security/torvus-console/internal/domain"
)

// AuditRepository is the append-only audit-log sink.
type AuditRepository interface {
	Append(ctx context.Context, event *domain.AuditEvent) error
	List(ctx context.Context, filter AuditFilter) ([]domain.AuditEvent, error)
}

// AuditFilter defines query params for audit listing.
type AuditFilter struct {
	Action   *string
	TargetID *string
	Actor    *string
	Since    *time.Time
	Limit    int
	Offset   int
}

type auditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository instantiates the Postgres repository.
func NewAuditRepository(pool *pgxpool.Pool) AuditRepository {
	return &auditRepository{pool: pool}
}

func (r *auditRepository) Append(ctx context.Context, event *domain.AuditEvent) error {
	const query = `
        INSERT INTO audit_events (id, action, target_type, target_id, actor, metadata, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := r.pool.Exec(ctx, query,
		event.ID,
		event.Action,
		event.TargetType,
		event.TargetID,
		event.Actor,
		event.Metadata,
		event.CreatedAt,
	)
	return err
}

func (r *auditRepository) List(ctx context.Context, filter AuditFilter) ([]domain.AuditEvent, error) {
	query := `
        SELECT id, action, target_type, target_id, actor, metadata, created_at
        FROM audit_events`
	args := []any{}
	clauses := []string{}

	if filter.Action != nil {
		args = append(args, *filter.Action)
		clauses = append(clauses, fmt.Sprintf("action=$%d", len(args)))
	}
	if filter.TargetID != nil {
		args = append(args, *filter.TargetID)
		clauses = append(clauses, fmt.Sprintf("target_id=$%d", len(args)))
	}
	if filter.Actor != nil {
		args = append(args, *filter.Actor)
		clauses = append(clauses, fmt.Sprintf("actor=$%d", len(args)))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		clauses = append(clauses, fmt.Sprintf("created_at>=$%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	limit, offset := pageBounds(filter.Limit, filter.Offset)
	query += " ORDER BY created_at DESC"
	query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.AuditEvent
	for rows.Next() {
		var event domain.AuditEvent
		if err := rows.Scan(
			&event.ID,
			&event.Action,
			&event.TargetType,
			&event.TargetID,
			&event.Actor,
			&event.Metadata,
			&event.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, event)
	}
	return result, rows.Err()
}

// MemoryAuditRepository retains the most recent events in process.
type MemoryAuditRepository struct {
	mu       sync.RWMutex
	capacity int
	events   []domain.AuditEvent
}

// NewMemoryAuditRepository keeps at most capacity events.
func NewMemoryAuditRepository(capacity int) *MemoryAuditRepository {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryAuditRepository{capacity: capacity}
}

func (m *MemoryAuditRepository) Append(_ context.Context, event *domain.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *event)
	if over := len(m.events) - m.capacity; over > 0 {
		m.events = append([]domain.AuditEvent(nil), m.events[over:]...)
	}
	return nil
}

func (m *MemoryAuditRepository) List(_ context.Context, filter AuditFilter) ([]domain.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []domain.AuditEvent
	for i := len(m.events) - 1; i >= 0; i-- {
		e := m.events[i]
		if filter.Action != nil && e.Action != *filter.Action {
			continue
		}
		if filter.TargetID != nil && e.TargetID != *filter.TargetID {
			continue
		}
		if filter.Actor != nil && e.Actor != *filter.Actor {
			continue
		}
		if filter.Since != nil && e.CreatedAt.Before(*filter.Since) {
			continue
		}
		matched = append(matched, e)
	}
	limit, offset := pageBounds(filter.Limit, filter.Offset)
	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}
