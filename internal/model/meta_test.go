package model

import "testing"

func TestInnerStateApplyCreateAndLookup(t *testing.T) {
	s := NewInnerState()
	meta := ContainerMeta{ID: "c1", Name: "web", Command: []string{"/bin/sh"}}
	if err := s.Apply(CreateOp{Meta: meta}); err != nil {
		t.Fatalf("apply create: %v", err)
	}

	got, ok := s.GetByID("c1")
	if !ok || got.Name != "web" {
		t.Fatalf("GetByID: got %+v, ok=%v", got, ok)
	}
	got, ok = s.GetByName("web")
	if !ok || got.ID != "c1" {
		t.Fatalf("GetByName: got %+v, ok=%v", got, ok)
	}
	if !s.NameTaken("web", "other-id") {
		t.Fatal("expected name to be taken by a different id")
	}
	if s.NameTaken("web", "c1") {
		t.Fatal("expected NameTaken to exempt the owning id")
	}
}

func TestInnerStateCreateDuplicateRejected(t *testing.T) {
	s := NewInnerState()
	meta := ContainerMeta{ID: "c1", Name: "web"}
	if err := s.Apply(CreateOp{Meta: meta}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := s.Apply(CreateOp{Meta: meta}); err == nil {
		t.Fatal("expected duplicate create to fail")
	}
	if err := s.Apply(CreateOp{Meta: ContainerMeta{ID: "c2", Name: "web"}}); err == nil {
		t.Fatal("expected duplicate name under a new id to fail")
	}
}

func TestInnerStateDeleteRemovesBothIndexes(t *testing.T) {
	s := NewInnerState()
	if err := s.Apply(CreateOp{Meta: ContainerMeta{ID: "c1", Name: "web"}}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Apply(DeleteOp{ID: "c1"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := s.GetByID("c1"); ok {
		t.Fatal("expected id index to be cleared")
	}
	if _, ok := s.GetByName("web"); ok {
		t.Fatal("expected name index to be cleared")
	}
}

func TestInnerStateMutationsOnMissingIDFail(t *testing.T) {
	s := NewInnerState()
	ops := []Operation{
		DeleteOp{ID: "missing"},
		UpdateStatusOp{ID: "missing"},
		UpdateEnvironmentOp{ID: "missing"},
		UpdateLabelsOp{ID: "missing"},
		UpdateResourcesOp{ID: "missing"},
		AttachNetworkOp{ID: "missing"},
		DetachNetworkOp{ID: "missing"},
		AddMountOp{ID: "missing"},
		RemoveMountOp{ID: "missing"},
	}
	for _, op := range ops {
		if err := s.Apply(op); err == nil {
			t.Fatalf("%T on missing id: expected error", op)
		}
	}
}

func TestInnerStateAddAndRemoveMount(t *testing.T) {
	s := NewInnerState()
	if err := s.Apply(CreateOp{Meta: ContainerMeta{ID: "c1", Name: "web"}}); err != nil {
		t.Fatalf("create: %v", err)
	}
	mnt := Mount{Source: "/host", Destination: "/container"}
	if err := s.Apply(AddMountOp{ID: "c1", Mount: mnt}); err != nil {
		t.Fatalf("add mount: %v", err)
	}
	m, _ := s.GetByID("c1")
	if len(m.Mounts) != 1 || m.Mounts[0] != mnt {
		t.Fatalf("expected one mount, got %+v", m.Mounts)
	}
	if err := s.Apply(RemoveMountOp{ID: "c1", Destination: "/container"}); err != nil {
		t.Fatalf("remove mount: %v", err)
	}
	m, _ = s.GetByID("c1")
	if len(m.Mounts) != 0 {
		t.Fatalf("expected no mounts left, got %+v", m.Mounts)
	}
}

func TestInnerStateSnapshotRoundTrip(t *testing.T) {
	s := NewInnerState()
	if err := s.Apply(CreateOp{Meta: ContainerMeta{ID: "c1", Name: "web", Env: map[string]string{"A": "1"}}}); err != nil {
		t.Fatalf("create: %v", err)
	}

	snap := s.Snapshot()
	ss, ok := snap.(snapshotState)
	if !ok {
		t.Fatalf("expected snapshotState, got %T", snap)
	}

	s2 := NewInnerState()
	if err := s2.LoadSnapshot(&ss); err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	got, ok := s2.GetByName("web")
	if !ok || got.Env["A"] != "1" {
		t.Fatalf("expected recovered state to carry env, got %+v ok=%v", got, ok)
	}
}

func TestContainerMetaCloneIsIndependent(t *testing.T) {
	m := ContainerMeta{ID: "c1", Name: "web", Env: map[string]string{"A": "1"}, Mounts: []Mount{{Source: "/a"}}}
	c := m.Clone()
	c.Env["A"] = "2"
	c.Mounts[0].Source = "/b"
	if m.Env["A"] != "1" {
		t.Fatal("mutating clone's env mutated the original")
	}
	if m.Mounts[0].Source != "/a" {
		t.Fatal("mutating clone's mounts mutated the original")
	}
}
