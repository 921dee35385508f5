package snapshot

import (
	"testing"

	"github.com/keeprun/keep/internal/model"
)

func TestWriteLoadRoundTrip(t *testing.T) {
	m, err := NewManager(t.TempDir(), 10)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	state := model.NewInnerState()
	if err := state.Apply(model.CreateOp{Meta: model.ContainerMeta{ID: "c1", Name: "web"}}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	path, err := m.Write(state, 1000)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	loaded := model.NewInnerState()
	if err := Load(path, loaded); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got, ok := loaded.GetByName("web")
	if !ok || got.ID != "c1" {
		t.Fatalf("expected recovered container, got %+v ok=%v", got, ok)
	}
}

func TestNewestPicksHighestTimestamp(t *testing.T) {
	m, err := NewManager(t.TempDir(), 10)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	state := model.NewInnerState()
	for _, ts := range []int64{100, 300, 200} {
		if _, err := m.Write(state, ts); err != nil {
			t.Fatalf("Write(%d): %v", ts, err)
		}
	}
	newest, err := m.Newest()
	if err != nil {
		t.Fatalf("Newest: %v", err)
	}
	want := "snapshot-300.bin"
	if got := newest[len(newest)-len(want):]; got != want {
		t.Fatalf("expected newest to be %s, got %s", want, newest)
	}
}

func TestNewestOnEmptyDirReturnsEmptyString(t *testing.T) {
	m, err := NewManager(t.TempDir(), 10)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	newest, err := m.Newest()
	if err != nil {
		t.Fatalf("Newest: %v", err)
	}
	if newest != "" {
		t.Fatalf("expected empty string for no snapshots, got %q", newest)
	}
}

func TestPurgeOldKeepsOnlyNewest(t *testing.T) {
	m, err := NewManager(t.TempDir(), 2)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	state := model.NewInnerState()
	for _, ts := range []int64{1, 2, 3, 4} {
		if _, err := m.Write(state, ts); err != nil {
			t.Fatalf("Write(%d): %v", ts, err)
		}
	}
	if err := m.PurgeOld(); err != nil {
		t.Fatalf("PurgeOld: %v", err)
	}
	names, err := m.list()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 snapshots retained, got %d: %v", len(names), names)
	}
}
