package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/torvus-security/torvus-console/internal/domain"
)

// StaffDirectory resolves staff records and their active role memberships.
type StaffDirectory interface {
	LookupByEmail(ctx context.Context, email string) (*domain.StaffRecord, error)
	GetIdentityByUserID(ctx context.Context, userID string) (*domain.StaffIdentity, error)
}

// RoleGrantRepository writes role memberships. Only dual-control actions call it.
type RoleGrantRepository interface {
	GrantRole(ctx context.Context, membership *domain.RoleMembership, grantedBy string) error
}

// StaffRepository is the Postgres-backed directory.
type StaffRepository interface {
	StaffDirectory
	RoleGrantRepository
}

type staffRepository struct {
	pool *pgxpool.Pool
}

// NewStaffRepository instantiates the repository.
func NewStaffRepository(pool *pgxpool.Pool) StaffRepository {
	return &staffRepository{pool: pool}
}

func (r *staffRepository) LookupByEmail(ctx context.Context, email string) (*domain.StaffRecord, error) {
	const query = `
        SELECT id, email, display_name, enrolled, verified, status, passkey_enrolled
        FROM staff_members WHERE lower(email)=lower($1)`

	var record domain.StaffRecord
	if err := r.pool.QueryRow(ctx, query, email).Scan(
		&record.Identity.UserID,
		&record.Identity.Email,
		&record.Identity.DisplayName,
		&record.Flags.Enrolled,
		&record.Flags.Verified,
		&record.Flags.Status,
		&record.Flags.PasskeyEnrolled,
	); err != nil {
		return nil, err
	}
	record.Identity.Email = domain.NormalizeEmail(record.Identity.Email)

	memberships, err := r.activeMemberships(ctx, record.Identity.UserID)
	if err != nil {
		return nil, err
	}
	record.Memberships = memberships
	return &record, nil
}

func (r *staffRepository) activeMemberships(ctx context.Context, userID string) ([]domain.RoleMembership, error) {
	const query = `
        SELECT id, user_id, role, granted_via, valid_until, created_at
        FROM role_memberships
        WHERE user_id=$1
          AND (valid_until IS NULL OR valid_until > NOW())
          AND granted_via IN ('normal', 'break-glass')
        ORDER BY role ASC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.RoleMembership
	for rows.Next() {
		var m domain.RoleMembership
		if err := rows.Scan(
			&m.ID,
			&m.UserID,
			&m.Role,
			&m.GrantedVia,
			&m.ValidUntil,
			&m.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (r *staffRepository) GetIdentityByUserID(ctx context.Context, userID string) (*domain.StaffIdentity, error) {
	const query = `
        SELECT id, email, display_name
        FROM staff_members WHERE id=$1`

	var identity domain.StaffIdentity
	if err := r.pool.QueryRow(ctx, query, userID).Scan(
		&identity.UserID,
		&identity.Email,
		&identity.DisplayName,
	); err != nil {
		return nil, err
	}
	identity.Email = domain.NormalizeEmail(identity.Email)
	return &identity, nil
}

func (r *staffRepository) GrantRole(ctx context.Context, membership *domain.RoleMembership, grantedBy string) error {
	const query = `
        INSERT INTO role_memberships (user_id, role, granted_via, valid_until, granted_by)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id, created_at`

	var validUntil *time.Time
	if membership.ValidUntil != nil {
		v := membership.ValidUntil.UTC()
		validUntil = &v
	}
	return r.pool.QueryRow(ctx, query,
		membership.UserID,
		membership.Role,
		membership.GrantedVia,
		validUntil,
		grantedBy,
	).Scan(&membership.ID, &membership.CreatedAt)
}
