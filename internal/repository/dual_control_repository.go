package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/torvus-security/torvus-console/internal/domain"
)

// DualControlRepository persists dual-control requests. Implementations must
// make CreateOrGet idempotent on (action_key, correlation_id) and apply
// CompareAndSwap only when the stored status still equals expected.
type DualControlRepository interface {
	CreateOrGet(ctx context.Context, req *domain.DualControlRequest) (*domain.DualControlRequest, bool, error)
	GetByID(ctx context.Context, id string) (*domain.DualControlRequest, error)
	GetByCorrelation(ctx context.Context, actionKey, correlationID string) (*domain.DualControlRequest, error)
	CompareAndSwap(ctx context.Context, expected domain.DualControlStatus, next *domain.DualControlRequest) (bool, error)
	ExpireStale(ctx context.Context, now time.Time) ([]domain.DualControlRequest, error)
	List(ctx context.Context, filter DualControlFilter) ([]domain.DualControlRequest, error)
}

// DualControlFilter defines query params for listing.
type DualControlFilter struct {
	Status      *domain.DualControlStatus
	ActionKey   *string
	RequestedBy *string
	Limit       int
	Offset      int
}

const dualControlColumns = `id, action_key, payload, correlation_id, requested_by, approved_by, executed_by,
        rejected_by, reject_reason, status, requested_at, approved_at, executed_at, rejected_at, expires_at`

type dualControlRepository struct {
	pool *pgxpool.Pool
}

// NewDualControlRepository instantiates the Postgres repository.
func NewDualControlRepository(pool *pgxpool.Pool) DualControlRepository {
	return &dualControlRepository{pool: pool}
}

func (r *dualControlRepository) CreateOrGet(ctx context.Context, req *domain.DualControlRequest) (*domain.DualControlRequest, bool, error) {
	const insert = `
        INSERT INTO dual_control_requests (id, action_key, payload, correlation_id, requested_by, status, requested_at, expires_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (action_key, correlation_id) DO NOTHING
        RETURNING ` + dualControlColumns

	created, err := scanDualControl(r.pool.QueryRow(ctx, insert,
		req.ID,
		req.ActionKey,
		req.Payload,
		req.CorrelationID,
		req.RequestedBy,
		req.Status,
		req.RequestedAt,
		req.ExpiresAt,
	))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}
	existing, err := r.GetByCorrelation(ctx, req.ActionKey, req.CorrelationID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *dualControlRepository) GetByID(ctx context.Context, id string) (*domain.DualControlRequest, error) {
	query := `SELECT ` + dualControlColumns + ` FROM dual_control_requests WHERE id=$1`
	return scanDualControl(r.pool.QueryRow(ctx, query, id))
}

func (r *dualControlRepository) GetByCorrelation(ctx context.Context, actionKey, correlationID string) (*domain.DualControlRequest, error) {
	query := `SELECT ` + dualControlColumns + ` FROM dual_control_requests WHERE action_key=$1 AND correlation_id=$2`
	return scanDualControl(r.pool.QueryRow(ctx, query, actionKey, correlationID))
}

func (r *dualControlRepository) CompareAndSwap(ctx context.Context, expected domain.DualControlStatus, next *domain.DualControlRequest) (bool, error) {
	const query = `
        UPDATE dual_control_requests
        SET status=$1, approved_by=$2, approved_at=$3, executed_by=$4, executed_at=$5,
            rejected_by=$6, rejected_at=$7, reject_reason=$8
        WHERE id=$9 AND status=$10`

	cmd, err := r.pool.Exec(ctx, query,
		next.Status,
		next.ApprovedBy,
		next.ApprovedAt,
		next.ExecutedBy,
		next.ExecutedAt,
		next.RejectedBy,
		next.RejectedAt,
		next.RejectReason,
		next.ID,
		expected,
	)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *dualControlRepository) ExpireStale(ctx context.Context, now time.Time) ([]domain.DualControlRequest, error) {
	query := `
        UPDATE dual_control_requests SET status='expired'
        WHERE status IN ('requested', 'approved') AND expires_at <= $1
        RETURNING ` + dualControlColumns

	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, err
	}
	return collectDualControl(rows)
}

func (r *dualControlRepository) List(ctx context.Context, filter DualControlFilter) ([]domain.DualControlRequest, error) {
	query := `SELECT ` + dualControlColumns + ` FROM dual_control_requests`
	args := []any{}
	clauses := []string{}

	if filter.Status != nil {
		args = append(args, *filter.Status)
		clauses = append(clauses, fmt.Sprintf("status=$%d", len(args)))
	}
	if filter.ActionKey != nil {
		args = append(args, *filter.ActionKey)
		clauses = append(clauses, fmt.Sprintf("action_key=$%d", len(args)))
	}
	if filter.RequestedBy != nil {
		args = append(args, *filter.RequestedBy)
		clauses = append(clauses, fmt.Sprintf("requested_by=$%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}

	limit, offset := pageBounds(filter.Limit, filter.Offset)
	query += " ORDER BY requested_at DESC"
	query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectDualControl(rows)
}

func scanDualControl(row pgx.Row) (*domain.DualControlRequest, error) {
	var req domain.DualControlRequest
	if err := row.Scan(
		&req.ID,
		&req.ActionKey,
		&req.Payload,
		&req.CorrelationID,
		&req.RequestedBy,
		&req.ApprovedBy,
		&req.ExecutedBy,
		&req.RejectedBy,
		&req.RejectReason,
		&req.Status,
		&req.RequestedAt,
		&req.ApprovedAt,
		&req.ExecutedAt,
		&req.RejectedAt,
		&req.ExpiresAt,
	); err != nil {
		return nil, err
	}
	return &req, nil
}

func collectDualControl(rows pgx.Rows) ([]domain.DualControlRequest, error) {
	defer rows.Close()
	var result []domain.DualControlRequest
	for rows.Next() {
		req, err := scanDualControl(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *req)
	}
	return result, rows.Err()
}

func pageBounds(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
