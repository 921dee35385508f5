package model

import "testing"

func TestEncodeDecodeOperationRoundTrip(t *testing.T) {
	cases := []Operation{
		CreateOp{Meta: ContainerMeta{ID: "c1", Name: "web", Command: []string{"/bin/sh"}}},
		DeleteOp{ID: "c1"},
		UpdateStatusOp{ID: "c1", Status: ContainerStatus{Kind: StatusRunning, Pid: 123}},
		UpdateEnvironmentOp{ID: "c1", Env: map[string]string{"FOO": "bar"}},
		UpdateLabelsOp{ID: "c1", Labels: map[string]string{"tier": "web"}},
		UpdateResourcesOp{ID: "c1", Resources: ResourceConfig{MemoryLimit: 1024}},
		AttachNetworkOp{ID: "c1", Name: "net0", IP: "10.0.0.2"},
		DetachNetworkOp{ID: "c1"},
		AddMountOp{ID: "c1", Mount: Mount{Source: "/a", Destination: "/b"}},
		RemoveMountOp{ID: "c1", Destination: "/b"},
	}

	for _, op := range cases {
		b, err := EncodeOperation(op)
		if err != nil {
			t.Fatalf("encode %T: %v", op, err)
		}
		got, err := DecodeOperation(b)
		if err != nil {
			t.Fatalf("decode %T: %v", op, err)
		}
		if got.Tag() != op.Tag() {
			t.Fatalf("tag mismatch: got %s want %s", got.Tag(), op.Tag())
		}
	}
}

func TestEncodeDecodeBatchOp(t *testing.T) {
	batch := BatchOp{Ops: []Operation{
		CreateOp{Meta: ContainerMeta{ID: "c1", Name: "web"}},
		UpdateStatusOp{ID: "c1", Status: ContainerStatus{Kind: StatusRunning}},
	}}
	b, err := EncodeOperation(batch)
	if err != nil {
		t.Fatalf("encode batch: %v", err)
	}
	got, err := DecodeOperation(b)
	if err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	gotBatch, ok := got.(BatchOp)
	if !ok {
		t.Fatalf("expected BatchOp, got %T", got)
	}
	if len(gotBatch.Ops) != 2 {
		t.Fatalf("expected 2 child ops, got %d", len(gotBatch.Ops))
	}
	if gotBatch.Ops[0].Tag() != "Create" || gotBatch.Ops[1].Tag() != "UpdateStatus" {
		t.Fatalf("unexpected child op tags: %s, %s", gotBatch.Ops[0].Tag(), gotBatch.Ops[1].Tag())
	}
}

func TestDecodeOperationUnknownType(t *testing.T) {
	if _, err := DecodeOperation([]byte{0xa0}); err == nil {
		t.Fatal("expected error decoding garbage payload")
	}
}

func TestValidateOperation(t *testing.T) {
	tests := []struct {
		name    string
		op      Operation
		wantErr bool
	}{
		{"valid create", CreateOp{Meta: ContainerMeta{ID: "c1", Name: "web"}}, false},
		{"create missing id", CreateOp{Meta: ContainerMeta{Name: "web"}}, true},
		{"create missing name", CreateOp{Meta: ContainerMeta{ID: "c1"}}, true},
		{"delete missing id", DeleteOp{}, true},
		{"delete valid", DeleteOp{ID: "c1"}, false},
		{"batch propagates child error", BatchOp{Ops: []Operation{DeleteOp{}}}, true},
		{"batch all valid", BatchOp{Ops: []Operation{DeleteOp{ID: "c1"}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOperation(tt.op)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateOperation(%v) error = %v, wantErr %v", tt.op, err, tt.wantErr)
			}
		})
	}
}
