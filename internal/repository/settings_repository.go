package repository

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SettingsRepository is a small key-value store for console settings.
type SettingsRepository interface {
	Get(ctx context.Context, key string) (json.RawMessage, error)
	Put(ctx context.Context, key string, value json.RawMessage, updatedBy string) error
}

type settingsRepository struct {
	pool *pgxpool.Pool
}

// NewSettingsRepository instantiates the Postgres repository.
func NewSettingsRepository(pool *pgxpool.Pool) SettingsRepository {
	return &settingsRepository{pool: pool}
}

func (r *settingsRepository) Get(ctx context.Context, key string) (json.RawMessage, error) {
	const query = `SELECT value FROM console_settings WHERE key=$1`
	var value json.RawMessage
	if err := r.pool.QueryRow(ctx, query, key).Scan(&value); err != nil {
		return nil, err
	}
	return value, nil
}

func (r *settingsRepository) Put(ctx context.Context, key string, value json.RawMessage, updatedBy string) error {
	const query = `
        INSERT INTO console_settings (key, value, updated_by, updated_at)
        VALUES ($1,$2,$3,NOW())
        ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, updated_by=EXCLUDED.updated_by, updated_at=NOW()`
	_, err := r.pool.Exec(ctx, query, key, value, updatedBy)
	return err
}

// MemorySettingsRepository keeps settings in process.
type MemorySettingsRepository struct {
	mu     sync.RWMutex
	values map[string]json.RawMessage
}

// NewMemorySettingsRepository builds an empty store.
func NewMemorySettingsRepository() *MemorySettingsRepository {
	return &MemorySettingsRepository{values: make(map[string]json.RawMessage)}
}

func (m *MemorySettingsRepository) Get(_ context.Context, key string) (json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return append(json.RawMessage(nil), v...), nil
}

func (m *MemorySettingsRepository) Put(_ context.Context, key string, value json.RawMessage, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = append(json.RawMessage(nil), value...)
	return nil
}
