package persistence

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

type fakeMigrationDB struct {
	applied   map[string]bool
	execs     []string
	failOn    string
	commits   int
	rollbacks int
}

func newFakeMigrationDB(applied ...string) *fakeMigrationDB {
	db := &fakeMigrationDB{applied: map[string]bool{}}
	for _, name := range applied {
		db.applied[name] = true
	}
	return db
}

func (f *fakeMigrationDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, strings.TrimSpace(sql))
	return pgconn.CommandTag{}, nil
}

func (f *fakeMigrationDB) Begin(context.Context) (pgx.Tx, error) {
	return &fakeMigrationTx{db: f}, nil
}

type fakeMigrationTx struct {
	pgx.Tx
	db       *fakeMigrationDB
	pending  []string
	recorded []string
	done     bool
}

func (t *fakeMigrationTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	sql = strings.TrimSpace(sql)
	if t.db.failOn != "" && sql == t.db.failOn {
		return pgconn.CommandTag{}, errors.New("syntax error")
	}
	if strings.HasPrefix(sql, "INSERT INTO schema_migrations") {
		t.recorded = append(t.recorded, args[0].(string))
	}
	t.pending = append(t.pending, sql)
	return pgconn.CommandTag{}, nil
}

func (t *fakeMigrationTx) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	return existsRow(t.db.applied[args[0].(string)])
}

func (t *fakeMigrationTx) Commit(context.Context) error {
	t.done = true
	t.db.commits++
	t.db.execs = append(t.db.execs, t.pending...)
	for _, name := range t.recorded {
		t.db.applied[name] = true
	}
	return nil
}

func (t *fakeMigrationTx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.db.rollbacks++
	return nil
}

type existsRow bool

func (r existsRow) Scan(dest ...any) error {
	*dest[0].(*bool) = bool(r)
	return nil
}

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"0002_dual_control.sql":    {Data: []byte("CREATE TABLE dual_control_requests (id UUID);")},
		"0001_staff_directory.sql": {Data: []byte("CREATE TABLE staff_members (id UUID);")},
		"README.md":                {Data: []byte("not a migration")},
	}
}

func TestApplyMigrationsRunsPendingFilesInOrder(t *testing.T) {
	db := newFakeMigrationDB()

	if err := applyMigrations(context.Background(), db, testMigrations(), zap.NewNop()); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if db.commits != 2 {
		t.Fatalf("expected one transaction per file, got %d commits", db.commits)
	}
	if !db.applied["0001_staff_directory.sql"] || !db.applied["0002_dual_control.sql"] {
		t.Fatalf("expected both files recorded, got %v", db.applied)
	}
	var schema []string
	for _, sql := range db.execs {
		if strings.HasPrefix(sql, "CREATE TABLE staff_members") || strings.HasPrefix(sql, "CREATE TABLE dual_control_requests") {
			schema = append(schema, sql)
		}
	}
	if len(schema) != 2 || !strings.Contains(schema[0], "staff_members") {
		t.Fatalf("expected files applied in name order, got %v", schema)
	}
}

func TestApplyMigrationsSkipsRecordedFiles(t *testing.T) {
	db := newFakeMigrationDB("0001_staff_directory.sql")

	if err := applyMigrations(context.Background(), db, testMigrations(), zap.NewNop()); err != nil {
		t.Fatalf("apply: %v", err)
	}
	for _, sql := range db.execs {
		if strings.Contains(sql, "staff_members") {
			t.Fatalf("recorded migration must not run again")
		}
	}
	if db.commits != 1 || db.rollbacks != 1 {
		t.Fatalf("expected one commit and one skipped transaction, got %d/%d", db.commits, db.rollbacks)
	}
}

func TestApplyMigrationsRollsBackFailedFile(t *testing.T) {
	db := newFakeMigrationDB()
	db.failOn = "CREATE TABLE dual_control_requests (id UUID);"

	err := applyMigrations(context.Background(), db, testMigrations(), zap.NewNop())
	if err == nil || !strings.Contains(err.Error(), "0002_dual_control.sql") {
		t.Fatalf("expected failure naming the file, got %v", err)
	}
	if db.applied["0002_dual_control.sql"] {
		t.Fatalf("failed migration must not be recorded")
	}
	if !db.applied["0001_staff_directory.sql"] || db.rollbacks != 1 {
		t.Fatalf("expected earlier file kept and failed file rolled back, got %v rollbacks=%d", db.applied, db.rollbacks)
	}
}
