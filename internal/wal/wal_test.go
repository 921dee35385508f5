package wal

import (
	"path/filepath"
	"testing"

	"github.com/keeprun/keep/internal/model"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), 3)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestWriteAndReadBasicOperation(t *testing.T) {
	m := newTestManager(t)
	op := model.CreateOp{Meta: model.ContainerMeta{ID: "c1", Name: "web"}}
	if err := m.WriteOperation(op); err != nil {
		t.Fatalf("WriteOperation: %v", err)
	}
	ops, err := m.ReadOperations()
	if err != nil {
		t.Fatalf("ReadOperations: %v", err)
	}
	if len(ops) != 1 || ops[0].Tag() != "Create" {
		t.Fatalf("expected one Create op, got %+v", ops)
	}
}

func TestWriteMultipleOperationsPreservesOrder(t *testing.T) {
	m := newTestManager(t)
	want := []model.Operation{
		model.CreateOp{Meta: model.ContainerMeta{ID: "c1", Name: "web"}},
		model.UpdateStatusOp{ID: "c1", Status: model.ContainerStatus{Kind: model.StatusRunning}},
		model.DeleteOp{ID: "c1"},
	}
	for _, op := range want {
		if err := m.WriteOperation(op); err != nil {
			t.Fatalf("WriteOperation: %v", err)
		}
	}
	ops, err := m.ReadOperations()
	if err != nil {
		t.Fatalf("ReadOperations: %v", err)
	}
	if len(ops) != len(want) {
		t.Fatalf("expected %d ops, got %d", len(want), len(ops))
	}
	for i := range want {
		if ops[i].Tag() != want[i].Tag() {
			t.Fatalf("entry %d: got %s want %s", i, ops[i].Tag(), want[i].Tag())
		}
	}
}

func TestReadOperationsOnMissingFileReturnsNoError(t *testing.T) {
	m := newTestManager(t)
	ops, err := m.ReadOperations()
	if err != nil {
		t.Fatalf("expected no error reading a nonexistent WAL, got %v", err)
	}
	if len(ops) != 0 {
		t.Fatalf("expected zero ops, got %d", len(ops))
	}
}

func TestReadAllOperationsWithIndices(t *testing.T) {
	m := newTestManager(t)
	for i := 0; i < 3; i++ {
		if err := m.WriteOperation(model.DeleteOp{ID: "c1"}); err != nil {
			t.Fatalf("WriteOperation: %v", err)
		}
	}
	indexed, err := m.ReadAllOperations()
	if err != nil {
		t.Fatalf("ReadAllOperations: %v", err)
	}
	for i, e := range indexed {
		if e.Index != i {
			t.Fatalf("expected index %d, got %d", i, e.Index)
		}
	}
}

func TestCompactDropsEntriesUpToSnapshotIndex(t *testing.T) {
	m := newTestManager(t)
	for i := 0; i < 5; i++ {
		if err := m.WriteOperation(model.DeleteOp{ID: "c1"}); err != nil {
			t.Fatalf("WriteOperation: %v", err)
		}
	}
	if err := m.Compact(2); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	ops, err := m.ReadOperations()
	if err != nil {
		t.Fatalf("ReadOperations after compact: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("expected 2 surviving ops after compacting through index 2, got %d", len(ops))
	}
}

func TestVerifyIntegrityFlagsInvalidEntries(t *testing.T) {
	m := newTestManager(t)
	if err := m.WriteOperation(model.CreateOp{Meta: model.ContainerMeta{ID: "c1", Name: "web"}}); err != nil {
		t.Fatalf("WriteOperation: %v", err)
	}
	if err := m.WriteOperation(model.DeleteOp{}); err != nil { // missing id: invalid
		t.Fatalf("WriteOperation: %v", err)
	}
	report, err := m.VerifyIntegrity()
	if err != nil {
		t.Fatalf("VerifyIntegrity: %v", err)
	}
	if report.IsValid() {
		t.Fatal("expected report to flag the invalid DeleteOp")
	}
	if report.Total != 2 || len(report.Errors) != 1 {
		t.Fatalf("expected 2 total, 1 error, got %+v", report)
	}
	if report.SuccessRate() != 0.5 {
		t.Fatalf("expected success rate 0.5, got %v", report.SuccessRate())
	}
}

func TestVerifyIntegrityEmptyWalIsFullyValid(t *testing.T) {
	m := newTestManager(t)
	report, err := m.VerifyIntegrity()
	if err != nil {
		t.Fatalf("VerifyIntegrity: %v", err)
	}
	if !report.IsValid() || report.SuccessRate() != 1.0 {
		t.Fatalf("expected an empty WAL to be fully valid, got %+v", report)
	}
}

func TestRotateAndPurgeOldArchives(t *testing.T) {
	m := newTestManager(t)
	if err := m.WriteOperation(model.DeleteOp{ID: "c1"}); err != nil {
		t.Fatalf("WriteOperation: %v", err)
	}
	for i := int64(1); i <= 4; i++ {
		if err := m.WriteOperation(model.DeleteOp{ID: "c1"}); err != nil {
			t.Fatalf("WriteOperation: %v", err)
		}
		if err := m.Rotate(i); err != nil {
			t.Fatalf("Rotate(%d): %v", i, err)
		}
	}
	if err := m.PurgeOldArchives(); err != nil {
		t.Fatalf("PurgeOldArchives: %v", err)
	}
	entries, err := filepathGlobArchive(m)
	if err != nil {
		t.Fatalf("listing archives: %v", err)
	}
	if len(entries) != m.maxArchives {
		t.Fatalf("expected %d archives retained, got %d", m.maxArchives, len(entries))
	}
}

func filepathGlobArchive(m *Manager) ([]string, error) {
	return filepath.Glob(filepath.Join(m.archiveDir, "wal-*.log"))
}
