package repository

import (
	"context"
	"testing"
	"time"

	"github.com/torvus-security/torvus-console/internal/domain"
)

func TestMemoryAuditRepositoryCapacityAndFilter(t *testing.T) {
	repo := NewMemoryAuditRepository(3)
	ctx := context.Background()
	base := time.Now()
	actions := []string{"a", "b", "a", "c"}
	for i, action := range actions {
		if err := repo.Append(ctx, &domain.AuditEvent{ID: action + string(rune('0'+i)), Action: action, Actor: "alice@example.com", CreatedAt: base.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	all, err := repo.List(ctx, AuditFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].ID != "c3" || all[2].ID != "b1" {
		t.Fatalf("unexpected retained events %+v", all)
	}

	action := "a"
	onlyA, _ := repo.List(ctx, AuditFilter{Action: &action})
	if len(onlyA) != 1 || onlyA[0].ID != "a2" {
		t.Fatalf("unexpected filtered events %+v", onlyA)
	}
}

func TestMemorySettingsRepository(t *testing.T) {
	repo := NewMemorySettingsRepository()
	ctx := context.Background()
	if _, err := repo.Get(ctx, "missing"); err == nil {
		t.Fatal("expected error for missing key")
	}
	if err := repo.Put(ctx, "k", []byte(`{"enabled":true}`), "alice@example.com"); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := repo.Get(ctx, "k")
	if err != nil || string(got) != `{"enabled":true}` {
		t.Fatalf("unexpected value %s err=%v", got, err)
	}
}
