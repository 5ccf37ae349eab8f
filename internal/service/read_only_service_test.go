package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/torvus-security/torvus-console/internal/config"
	"github.com/torvus-security/torvus-console/internal/domain"
	"github.com/torvus-security/torvus-console/internal/repository"
	apperrors "github.com/torvus-security/torvus-console/pkg/util"
)

type flakySettings struct {
	*repository.MemorySettingsRepository
	mu   sync.Mutex
	fail bool
}

func newFlakySettings() *flakySettings {
	return &flakySettings{MemorySettingsRepository: repository.NewMemorySettingsRepository()}
}

func (f *flakySettings) setFail(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = v
}

func (f *flakySettings) Get(ctx context.Context, key string) (json.RawMessage, error) {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return nil, context.DeadlineExceeded
	}
	return f.MemorySettingsRepository.Get(ctx, key)
}

func newReadOnly(repo repository.SettingsRepository, clock *testClock) *ReadOnlyService {
	return NewReadOnlyService(ReadOnlyDependencies{
		Repo: repo,
		Config: config.ReadOnlyConfig{
			CacheTTLSeconds: 5,
			BypassPaths:     []string{"/api/settings/read-only", "/auth/"},
			DefaultMessage:  "maintenance window",
		},
		Clock: clock.Now,
	})
}

func enable(t *testing.T, svc *ReadOnlyService, message string, allow ...string) {
	t.Helper()
	enabled := domain.ReadOnlySettings{Enabled: true, Message: message, AllowRoles: allow}
	if _, err := svc.Update(context.Background(), enabled, "alice@torvus.io"); err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestReadOnlyAllowListedRolePasses(t *testing.T) {
	svc := newReadOnly(repository.NewMemorySettingsRepository(), newTestClock())
	enable(t, svc, "Incident response in progress", "auditor")
	ctx := context.Background()

	if d := svc.ShouldBlock(ctx, "POST", "/api/dual-control", []string{"auditor"}); d.Blocked {
		t.Fatalf("auditor should pass")
	}
	d := svc.ShouldBlock(ctx, "POST", "/api/dual-control", []string{"viewer"})
	if !d.Blocked {
		t.Fatalf("viewer should be blocked")
	}
	err := d.Err()
	if !errors.Is(err, apperrors.ErrReadOnly) {
		t.Fatalf("expected read-only error, got %v", err)
	}
	var domainErr *apperrors.DomainError
	if !errors.As(err, &domainErr) || domainErr.Message != "Incident response in progress" || domainErr.HTTPStatus != 503 {
		t.Fatalf("unexpected error %+v", domainErr)
	}
}

func TestReadOnlyNeverBlocksReads(t *testing.T) {
	svc := newReadOnly(repository.NewMemorySettingsRepository(), newTestClock())
	enable(t, svc, "")

	for _, method := range []string{"GET", "HEAD", "OPTIONS"} {
		if d := svc.ShouldBlock(context.Background(), method, "/api/me", nil); d.Blocked {
			t.Fatalf("%s must not be blocked", method)
		}
	}
}

func TestReadOnlySecurityAdminAlwaysAllowed(t *testing.T) {
	repo := repository.NewMemorySettingsRepository()
	raw, _ := json.Marshal(domain.ReadOnlySettings{Enabled: true, AllowRoles: []string{}})
	if err := repo.Put(context.Background(), domain.ReadOnlySettingsKey, raw, "seed"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	svc := newReadOnly(repo, newTestClock())

	d := svc.ShouldBlock(context.Background(), "DELETE", "/api/dual-control/1", []string{domain.RoleSecurityAdmin})
	if d.Blocked {
		t.Fatalf("security_admin must never be locked out")
	}
	if d.Settings.Message != "maintenance window" {
		t.Fatalf("expected default message, got %q", d.Settings.Message)
	}
}

func TestReadOnlyBypassPaths(t *testing.T) {
	svc := newReadOnly(repository.NewMemorySettingsRepository(), newTestClock())
	enable(t, svc, "")
	ctx := context.Background()

	cases := map[string]bool{
		"/api/settings/read-only":       false,
		"/api/settings/read-only/extra": true,
		"/auth/session":                 false,
		"/api/dual-control":             true,
	}
	for path, blocked := range cases {
		if d := svc.ShouldBlock(ctx, "PUT", path, []string{"operator"}); d.Blocked != blocked {
			t.Fatalf("%s: expected blocked=%v", path, blocked)
		}
	}
}

func TestReadOnlyUnknownSettingsFailClosedToEnabled(t *testing.T) {
	repo := newFlakySettings()
	repo.setFail(true)
	svc := newReadOnly(repo, newTestClock())
	ctx := context.Background()

	d := svc.ShouldBlock(ctx, "POST", "/api/dual-control", []string{"operator"})
	if !d.Blocked || d.Known {
		t.Fatalf("expected fail-closed block, got %+v", d)
	}
	if d.Settings.Message != "maintenance window" {
		t.Fatalf("expected default message, got %q", d.Settings.Message)
	}
	if d := svc.ShouldBlock(ctx, "POST", "/api/dual-control", []string{"security_admin"}); d.Blocked {
		t.Fatalf("security_admin must stay allow-listed when settings are unknown")
	}
	if d := svc.ShouldBlock(ctx, "PUT", "/api/settings/read-only", []string{"operator"}); d.Blocked {
		t.Fatalf("settings endpoint must stay reachable when settings are unknown")
	}
	if d := svc.ShouldBlock(ctx, "POST", "/auth/session", nil); d.Blocked {
		t.Fatalf("auth endpoints must stay reachable when settings are unknown")
	}
	if d := svc.ShouldBlock(ctx, "GET", "/api/dual-control", nil); d.Blocked {
		t.Fatalf("reads must pass when settings are unknown")
	}
	if _, err := svc.Get(ctx); !errors.Is(err, apperrors.ErrTransientBackend) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestReadOnlyServesLastKnownGood(t *testing.T) {
	repo := newFlakySettings()
	clock := newTestClock()
	svc := newReadOnly(repo, clock)
	enable(t, svc, "frozen", "auditor")

	repo.setFail(true)
	clock.Advance(time.Minute)

	d := svc.ShouldBlock(context.Background(), "POST", "/api/dual-control", []string{"operator"})
	if !d.Known || !d.Blocked || d.Settings.Message != "frozen" {
		t.Fatalf("expected last-known-good settings, got %+v", d)
	}
	if d := svc.ShouldBlock(context.Background(), "POST", "/api/dual-control", []string{"auditor"}); d.Blocked {
		t.Fatalf("allow list from last-known-good must still apply")
	}
}

func TestReadOnlyUpdateNormalizes(t *testing.T) {
	svc := newReadOnly(repository.NewMemorySettingsRepository(), newTestClock())
	got, err := svc.Update(context.Background(), domain.ReadOnlySettings{
		Enabled:    true,
		AllowRoles: []string{" Auditor ", "auditor", ""},
	}, "alice@torvus.io")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(got.AllowRoles) != 2 || got.AllowRoles[0] != "auditor" || got.AllowRoles[1] != domain.RoleSecurityAdmin {
		t.Fatalf("unexpected allow roles %v", got.AllowRoles)
	}
	if got.Message != "maintenance window" || got.UpdatedBy != "alice@torvus.io" {
		t.Fatalf("unexpected settings %+v", got)
	}

	current, err := svc.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !current.Enabled {
		t.Fatalf("expected enabled settings")
	}
}

func TestReadOnlyUpdateWithoutStore(t *testing.T) {
	svc := NewReadOnlyService(ReadOnlyDependencies{})
	_, err := svc.Update(context.Background(), domain.ReadOnlySettings{Enabled: true}, "alice@torvus.io")
	if !errors.Is(err, apperrors.ErrConfigurationMissing) {
		t.Fatalf("expected configuration missing, got %v", err)
	}
}

func TestIsMutating(t *testing.T) {
	for method, want := range map[string]bool{"GET": false, "head": false, "POST": true, "PATCH": true, "DELETE": true} {
		if IsMutating(method) != want {
			t.Fatalf("%s: expected %v", method, want)
		}
	}
}
