package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/torvus-security/torvus-console/internal/domain"
)

func newRequest(id, correlation string, requestedAt time.Time) *domain.DualControlRequest {
	return &domain.DualControlRequest{
		ID:            id,
		ActionKey:     "staff.role.grant",
		Payload:       json.RawMessage(`{"role":"auditor"}`),
		CorrelationID: correlation,
		RequestedBy:   "u1",
		Status:        domain.DualControlRequested,
		RequestedAt:   requestedAt,
		ExpiresAt:     requestedAt.Add(time.Hour),
	}
}

func TestMemoryCreateOrGetIsIdempotent(t *testing.T) {
	repo := NewMemoryDualControlRepository()
	ctx := context.Background()
	now := time.Now()

	var wg sync.WaitGroup
	ids := make([]string, 20)
	created := make([]bool, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := newRequest("id-"+string(rune('a'+i)), "corr-1", now)
			got, ok, err := repo.CreateOrGet(ctx, req)
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			ids[i] = got.ID
			created[i] = ok
		}(i)
	}
	wg.Wait()

	createdCount := 0
	for i := range ids {
		if ids[i] != ids[0] {
			t.Fatalf("expected a single id, got %v", ids)
		}
		if created[i] {
			createdCount++
		}
	}
	if createdCount != 1 {
		t.Fatalf("expected exactly one creation, got %d", createdCount)
	}
}

func TestMemoryCompareAndSwap(t *testing.T) {
	repo := NewMemoryDualControlRepository()
	ctx := context.Background()
	req := newRequest("r1", "c1", time.Now())
	if _, _, err := repo.CreateOrGet(ctx, req); err != nil {
		t.Fatalf("create: %v", err)
	}

	next := req.Copy()
	approver := "u2"
	next.Status = domain.DualControlApproved
	next.ApprovedBy = &approver
	next.RequestedBy = "tampered"

	ok, err := repo.CompareAndSwap(ctx, domain.DualControlRequested, next)
	if err != nil || !ok {
		t.Fatalf("expected swap, got ok=%v err=%v", ok, err)
	}
	ok, err = repo.CompareAndSwap(ctx, domain.DualControlRequested, next)
	if err != nil || ok {
		t.Fatalf("second swap from requested must fail, got ok=%v err=%v", ok, err)
	}

	stored, err := repo.GetByID(ctx, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.RequestedBy != "u1" {
		t.Fatalf("requested_by must be immutable, got %q", stored.RequestedBy)
	}
	if stored.Status != domain.DualControlApproved || *stored.ApprovedBy != "u2" {
		t.Fatalf("unexpected stored request %+v", stored)
	}

	if _, err := repo.CompareAndSwap(ctx, domain.DualControlRequested, &domain.DualControlRequest{ID: "missing"}); !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("expected ErrNoRows, got %v", err)
	}
}

func TestMemoryExpireStaleAndList(t *testing.T) {
	repo := NewMemoryDualControlRepository()
	ctx := context.Background()
	base := time.Now().Add(-2 * time.Hour)

	old := newRequest("old", "c-old", base)
	fresh := newRequest("fresh", "c-fresh", time.Now())
	_, _, _ = repo.CreateOrGet(ctx, old)
	_, _, _ = repo.CreateOrGet(ctx, fresh)

	expired, err := repo.ExpireStale(ctx, time.Now())
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "old" || expired[0].Status != domain.DualControlExpired {
		t.Fatalf("unexpected expired set %+v", expired)
	}

	status := domain.DualControlRequested
	list, err := repo.List(ctx, DualControlFilter{Status: &status})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != "fresh" {
		t.Fatalf("unexpected list %+v", list)
	}

	all, _ := repo.List(ctx, DualControlFilter{Limit: 1, Offset: 1})
	if len(all) != 1 || all[0].ID != "old" {
		t.Fatalf("expected newest-first paging, got %+v", all)
	}
}

func TestMemoryGetReturnsCopies(t *testing.T) {
	repo := NewMemoryDualControlRepository()
	ctx := context.Background()
	_, _, _ = repo.CreateOrGet(ctx, newRequest("r1", "c1", time.Now()))

	got, _ := repo.GetByID(ctx, "r1")
	got.Status = domain.DualControlExecuted
	again, _ := repo.GetByCorrelation(ctx, "staff.role.grant", "c1")
	if again.Status != domain.DualControlRequested {
		t.Fatal("caller mutation leaked into the store")
	}
}
