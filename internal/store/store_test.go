package store_test

import (
	"context"
	"testing"

	"github.com/rudransh-shrivastava/peerdrop/internal/db"
	"github.com/rudransh-shrivastava/peerdrop/internal/store"
)

func setupTestDB(t *testing.T) *store.RegistrationStore {
	t.Helper()
	gdb, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(gdb) })
	return store.NewRegistrationStore(gdb)
}

func TestRegistrationStore_Claim(t *testing.T) {
	rs := setupTestDB(t)
	ctx := context.Background()

	claimed, err := rs.Claim(ctx, "alice", "127.0.0.1:5000")
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if !claimed {
		t.Error("expected alice to be claimed")
	}

	exists, err := rs.Exists(ctx, "alice")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("expected alice to exist")
	}
}

func TestRegistrationStore_Claim_Taken(t *testing.T) {
	rs := setupTestDB(t)
	ctx := context.Background()

	_, _ = rs.Claim(ctx, "alice", "127.0.0.1:5000")

	claimed, err := rs.Claim(ctx, "alice", "127.0.0.1:6000")
	if err != nil {
		t.Fatalf("second Claim failed: %v", err)
	}
	if claimed {
		t.Error("expected alice NOT to be claimed twice")
	}

	regs, err := rs.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(regs) != 1 {
		t.Fatalf("expected 1 registration, got %d", len(regs))
	}
	if regs[0].RemoteAddr != "127.0.0.1:5000" {
		t.Errorf("expected original holder kept, got %q", regs[0].RemoteAddr)
	}
}

func TestRegistrationStore_Release(t *testing.T) {
	rs := setupTestDB(t)
	ctx := context.Background()

	_, _ = rs.Claim(ctx, "alice", "127.0.0.1:5000")
	if err := rs.Release(ctx, "alice"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	exists, _ := rs.Exists(ctx, "alice")
	if exists {
		t.Error("expected alice to be released")
	}

	claimed, err := rs.Claim(ctx, "alice", "127.0.0.1:6000")
	if err != nil || !claimed {
		t.Errorf("expected released id to be claimable, got %v %v", claimed, err)
	}
}

func TestRegistrationStore_DropAll(t *testing.T) {
	rs := setupTestDB(t)
	ctx := context.Background()

	_, _ = rs.Claim(ctx, "alice", "a")
	_, _ = rs.Claim(ctx, "bob", "b")

	if err := rs.DropAll(ctx); err != nil {
		t.Fatalf("DropAll failed: %v", err)
	}

	regs, err := rs.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(regs) != 0 {
		t.Errorf("expected no registrations, got %d", len(regs))
	}
}

func TestRegistrationStore_ReleaseUnknown(t *testing.T) {
	rs := setupTestDB(t)
	if err := rs.Release(context.Background(), "ghost"); err != nil {
		t.Errorf("releasing an unknown id should not fail, got %v", err)
	}
}
