package consortium

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fraudsvc/fraudsvc/internal/domain"
	"github.com/fraudsvc/fraudsvc/internal/repository"
)

func newService(t *testing.T, nowFn func() time.Time) *Service {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "consortium.db"),
	})
	if err != nil {
		t.Fatalf("repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	if nowFn == nil {
		nowFn = time.Now
	}
	return New(repo, nowFn)
}

func TestObserveAndLookup(t *testing.T) {
	s := newService(t, nil)
	ctx := context.Background()

	tenants, fraud, err := s.Lookup(ctx, "digest-1")
	if err != nil || tenants != 0 || fraud != 0 {
		t.Fatalf("unseen digest: got (%d, %d, %v), want zeros", tenants, fraud, err)
	}

	s.Observe(ctx, "digest-1", "tenant-a")
	s.Observe(ctx, "digest-1", "tenant-b")
	s.Observe(ctx, "digest-1", "tenant-b") // same tenant twice counts once

	tenants, fraud, err = s.Lookup(ctx, "digest-1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if tenants != 2 {
		t.Errorf("tenants touched: got %d, want 2", tenants)
	}
	if fraud != 0 {
		t.Errorf("fraud confirmations: got %d, want 0", fraud)
	}
}

func TestConfirmFraud(t *testing.T) {
	s := newService(t, nil)
	ctx := context.Background()

	s.Observe(ctx, "digest-1", "tenant-a")
	if err := s.ConfirmFraud(ctx, "digest-1"); err != nil {
		t.Fatalf("ConfirmFraud: %v", err)
	}
	if err := s.ConfirmFraud(ctx, "digest-1"); err != nil {
		t.Fatalf("ConfirmFraud: %v", err)
	}

	_, fraud, err := s.Lookup(ctx, "digest-1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if fraud != 2 {
		t.Errorf("fraud confirmations: got %d, want 2", fraud)
	}

	// Confirming fraud on a digest that was never observed still creates
	// the entry, so the signal is not lost.
	if err := s.ConfirmFraud(ctx, "digest-unseen"); err != nil {
		t.Fatalf("ConfirmFraud unseen: %v", err)
	}
	_, fraud, _ = s.Lookup(ctx, "digest-unseen")
	if fraud != 1 {
		t.Errorf("unseen digest fraud confirmations: got %d, want 1", fraud)
	}
}

func TestAgeOut(t *testing.T) {
	clock := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	s := newService(t, func() time.Time { return clock })
	ctx := context.Background()

	s.Observe(ctx, "digest-old", "tenant-a")

	clock = clock.Add(40 * 24 * time.Hour)
	s.Observe(ctx, "digest-fresh", "tenant-a")

	n, err := s.AgeOut(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("AgeOut: %v", err)
	}
	if n != 1 {
		t.Errorf("aged out: got %d, want 1", n)
	}

	if tenants, _, _ := s.Lookup(ctx, "digest-old"); tenants != 0 {
		t.Error("expired entry still present")
	}
	if tenants, _, _ := s.Lookup(ctx, "digest-fresh"); tenants != 1 {
		t.Error("fresh entry was removed")
	}
}
