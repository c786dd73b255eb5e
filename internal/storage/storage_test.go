package storage

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rewired-gh/dfbuyer/internal/models"
)

func newTestStorage(t *testing.T, maxCycles int) *Storage {
	t.Helper()
	s, err := New(maxCycles, ":memory:")
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testReport(id string, block uint64, startedAt time.Time) *models.CycleReport {
	return &models.CycleReport{
		ID:      id,
		Block:   models.Block{Number: block, Timestamp: 1_700_000_000 + int64(block), GasLimit: 30_000_000},
		Cadence: 5.5,
		Budget: models.BudgetState{
			Window:       models.WeeklyWindow{Start: 1_699_488_000, End: 1_700_092_800},
			WeeklyLimit:  1000,
			ConsumeSoFar: 950,
			ConsumeLeft:  50,
		},
		Plan: models.AllocationPlan{ConsumeTarget: 120, EstimatedBlocksLeft: 20, Total: 100, Shares: []int{60, 40}},
		Submissions: []models.Submission{
			{
				Topic: "0xaaa", Share: 60, MaxToSpend: 72, Price: 3, Amount: 2, GasLimit: 29_700_000,
				Txs: []models.TxResult{{Hash: "0x01", Nonce: 7}, {Hash: "0x02", Nonce: 8}},
			},
			{
				Topic: "0xbbb", Share: 40, MaxToSpend: 48, GasLimit: 29_700_000,
				Skipped: true, SkipReason: "zero price",
			},
		},
		StartedAt: startedAt,
		Duration:  1500 * time.Millisecond,
	}
}

func TestStorage_RecordAndReadCycle(t *testing.T) {
	s := newTestStorage(t, 100)
	now := time.Now()
	r := testReport("cycle-1", 42, now)

	if err := s.RecordCycle(r); err != nil {
		t.Fatalf("RecordCycle: %v", err)
	}

	got, err := s.RecentCycles(10)
	if err != nil {
		t.Fatalf("RecentCycles: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d cycles, want 1", len(got))
	}
	c := got[0]
	if c.ID != "cycle-1" || c.Block != r.Block {
		t.Errorf("unexpected cycle header: %+v", c)
	}
	if c.Budget != r.Budget {
		t.Errorf("budget = %+v, want %+v", c.Budget, r.Budget)
	}
	if c.Plan.ConsumeTarget != 120 || c.Plan.Total != 100 {
		t.Errorf("unexpected plan: %+v", c.Plan)
	}
	if len(c.Plan.Shares) != 2 || c.Plan.Shares[0] != 60 || c.Plan.Shares[1] != 40 {
		t.Errorf("shares = %v, want [60 40]", c.Plan.Shares)
	}
	if !c.StartedAt.Equal(time.Unix(0, now.UnixNano())) || c.Duration != r.Duration {
		t.Errorf("timing = %v / %v", c.StartedAt, c.Duration)
	}
	if c.TxCount() != 2 || c.TotalSpent() != 6 {
		t.Errorf("tx count %d, spent %f", c.TxCount(), c.TotalSpent())
	}
}

func TestStorage_SubmissionsForCycle(t *testing.T) {
	s := newTestStorage(t, 100)
	r := testReport("cycle-1", 1, time.Now())
	if err := s.RecordCycle(r); err != nil {
		t.Fatalf("RecordCycle: %v", err)
	}

	subs, err := s.SubmissionsForCycle("cycle-1")
	if err != nil {
		t.Fatalf("SubmissionsForCycle: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("got %d submissions, want 2", len(subs))
	}
	if subs[0].Topic != "0xaaa" || subs[1].Topic != "0xbbb" {
		t.Errorf("submissions out of order: %s, %s", subs[0].Topic, subs[1].Topic)
	}
	if len(subs[0].Txs) != 2 || subs[0].Txs[1] != (models.TxResult{Hash: "0x02", Nonce: 8}) {
		t.Errorf("txs = %+v", subs[0].Txs)
	}
	if !subs[1].Skipped || subs[1].SkipReason != "zero price" {
		t.Errorf("skip not preserved: %+v", subs[1])
	}

	empty, err := s.SubmissionsForCycle("missing")
	if err != nil {
		t.Fatalf("SubmissionsForCycle(missing): %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no submissions, got %d", len(empty))
	}
}

func TestStorage_RecordCycleAssignsID(t *testing.T) {
	s := newTestStorage(t, 100)
	r := testReport("", 1, time.Now())
	if err := s.RecordCycle(r); err != nil {
		t.Fatalf("RecordCycle: %v", err)
	}
	if r.ID == "" {
		t.Error("expected generated ID")
	}
	if err := s.RecordCycle(r); err == nil {
		t.Error("expected duplicate ID to fail")
	}
	if err := s.RecordCycle(nil); err == nil {
		t.Error("expected nil report to fail")
	}
}

func TestStorage_RecentCyclesOrder(t *testing.T) {
	s := newTestStorage(t, 100)
	base := time.Now()
	for i := 0; i < 5; i++ {
		r := testReport(fmt.Sprintf("cycle-%d", i), uint64(i), base.Add(time.Duration(i)*time.Second))
		if err := s.RecordCycle(r); err != nil {
			t.Fatalf("RecordCycle %d: %v", i, err)
		}
	}

	got, err := s.RecentCycles(3)
	if err != nil {
		t.Fatalf("RecentCycles: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d cycles, want 3", len(got))
	}
	for i, want := range []string{"cycle-4", "cycle-3", "cycle-2"} {
		if got[i].ID != want {
			t.Errorf("cycle[%d] = %s, want %s", i, got[i].ID, want)
		}
	}
}

func TestStorage_RecentCyclesEmpty(t *testing.T) {
	s := newTestStorage(t, 100)
	got, err := s.RecentCycles(5)
	if err != nil {
		t.Fatalf("RecentCycles: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", got)
	}
}

func TestStorage_RotateCycles(t *testing.T) {
	s := newTestStorage(t, 2)
	base := time.Now()
	for i := 0; i < 4; i++ {
		r := testReport(fmt.Sprintf("cycle-%d", i), uint64(i), base.Add(time.Duration(i)*time.Second))
		if err := s.RecordCycle(r); err != nil {
			t.Fatalf("RecordCycle %d: %v", i, err)
		}
	}

	if err := s.RotateCycles(); err != nil {
		t.Fatalf("RotateCycles: %v", err)
	}
	n, err := s.CountCycles()
	if err != nil {
		t.Fatalf("CountCycles: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 cycles after rotation, got %d", n)
	}

	// submissions of rotated cycles cascade
	subs, err := s.SubmissionsForCycle("cycle-0")
	if err != nil {
		t.Fatalf("SubmissionsForCycle: %v", err)
	}
	if len(subs) != 0 {
		t.Errorf("expected cascaded delete, got %d submissions", len(subs))
	}
	got, _ := s.RecentCycles(10)
	if len(got) != 2 || got[0].ID != "cycle-3" || got[1].ID != "cycle-2" {
		t.Errorf("unexpected survivors: %v", got)
	}
}

func TestStorage_FileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.db")
	s, err := New(10, path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.RecordCycle(testReport("cycle-1", 1, time.Now())); err != nil {
		t.Fatalf("RecordCycle: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := New(10, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	n, err := reopened.CountCycles()
	if err != nil || n != 1 {
		t.Errorf("CountCycles after reopen = %d, %v", n, err)
	}
}
