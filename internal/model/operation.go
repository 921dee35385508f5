package model

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Operation is the tagged-variant write record appended to the WAL.
// Concrete types implement it by carrying a fixed Tag.
type Operation interface {
	Tag() string
}

type CreateOp struct{ Meta ContainerMeta }
type DeleteOp struct{ ID string }
type UpdateStatusOp struct {
	ID     string
	Status ContainerStatus
}
type UpdateStateOp struct {
	ID     string
	Status ContainerStatus
}
type UpdateEnvironmentOp struct {
	ID  string
	Env map[string]string
}
type UpdateLabelsOp struct {
	ID     string
	Labels map[string]string
}
type UpdateResourcesOp struct {
	ID        string
	Resources ResourceConfig
}
type AttachNetworkOp struct {
	ID   string
	Name string
	IP   string
}
type DetachNetworkOp struct{ ID string }
type AddMountOp struct {
	ID    string
	Mount Mount
}
type RemoveMountOp struct {
	ID          string
	Destination string
}
type BatchOp struct{ Ops []Operation }

func (CreateOp) Tag() string             { return "Create" }
func (DeleteOp) Tag() string              { return "Delete" }
func (UpdateStatusOp) Tag() string        { return "UpdateStatus" }
func (UpdateStateOp) Tag() string         { return "UpdateState" }
func (UpdateEnvironmentOp) Tag() string   { return "UpdateEnvironment" }
func (UpdateLabelsOp) Tag() string        { return "UpdateLabels" }
func (UpdateResourcesOp) Tag() string     { return "UpdateResources" }
func (AttachNetworkOp) Tag() string       { return "AttachNetwork" }
func (DetachNetworkOp) Tag() string       { return "DetachNetwork" }
func (AddMountOp) Tag() string            { return "AddMount" }
func (RemoveMountOp) Tag() string         { return "RemoveMount" }
func (BatchOp) Tag() string               { return "Batch" }

// opEnvelope is the wire shape every Operation is wrapped in: a string
// discriminant plus the CBOR encoding of the concrete payload. This is what
// makes StorageOperation round-trip through a codec with no code generation.
type opEnvelope struct {
	Type string          `cbor:"type"`
	Data cbor.RawMessage `cbor:"data"`
}

// EncodeOperation serialises an Operation to its stable on-disk form.
func EncodeOperation(op Operation) ([]byte, error) {
	env, err := encodeEnvelope(op)
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(env)
}

func encodeEnvelope(op Operation) (opEnvelope, error) {
	if b, ok := op.(BatchOp); ok {
		children := make([]opEnvelope, 0, len(b.Ops))
		for _, c := range b.Ops {
			e, err := encodeEnvelope(c)
			if err != nil {
				return opEnvelope{}, err
			}
			children = append(children, e)
		}
		data, err := cbor.Marshal(children)
		if err != nil {
			return opEnvelope{}, err
		}
		return opEnvelope{Type: "Batch", Data: data}, nil
	}
	data, err := cbor.Marshal(op)
	if err != nil {
		return opEnvelope{}, err
	}
	return opEnvelope{Type: op.Tag(), Data: data}, nil
}

// DecodeOperation parses an Operation previously produced by EncodeOperation.
func DecodeOperation(b []byte) (Operation, error) {
	var env opEnvelope
	if err := cbor.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWalCorrupt, err)
	}
	return decodeEnvelope(env)
}

func decodeEnvelope(env opEnvelope) (Operation, error) {
	switch env.Type {
	case "Create":
		var v CreateOp
		return v, unmarshalInto(env.Data, &v)
	case "Delete":
		var v DeleteOp
		return v, unmarshalInto(env.Data, &v)
	case "UpdateStatus":
		var v UpdateStatusOp
		return v, unmarshalInto(env.Data, &v)
	case "UpdateState":
		var v UpdateStateOp
		return v, unmarshalInto(env.Data, &v)
	case "UpdateEnvironment":
		var v UpdateEnvironmentOp
		return v, unmarshalInto(env.Data, &v)
	case "UpdateLabels":
		var v UpdateLabelsOp
		return v, unmarshalInto(env.Data, &v)
	case "UpdateResources":
		var v UpdateResourcesOp
		return v, unmarshalInto(env.Data, &v)
	case "AttachNetwork":
		var v AttachNetworkOp
		return v, unmarshalInto(env.Data, &v)
	case "DetachNetwork":
		var v DetachNetworkOp
		return v, unmarshalInto(env.Data, &v)
	case "AddMount":
		var v AddMountOp
		return v, unmarshalInto(env.Data, &v)
	case "RemoveMount":
		var v RemoveMountOp
		return v, unmarshalInto(env.Data, &v)
	case "Batch":
		var envs []opEnvelope
		if err := cbor.Unmarshal(env.Data, &envs); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrWalCorrupt, err)
		}
		ops := make([]Operation, 0, len(envs))
		for _, e := range envs {
			child, err := decodeEnvelope(e)
			if err != nil {
				return nil, err
			}
			ops = append(ops, child)
		}
		return BatchOp{Ops: ops}, nil
	default:
		return nil, fmt.Errorf("%w: unknown operation type %q", ErrWalCorrupt, env.Type)
	}
}

func unmarshalInto[T any](data cbor.RawMessage, v *T) error {
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrWalCorrupt, err)
	}
	return nil
}

// ValidateOperation implements the integrity-verification rule set: Create
// requires a non-empty id and name; the single-id mutators require a
// non-empty id; Batch recurses over its children.
func ValidateOperation(op Operation) error {
	switch o := op.(type) {
	case CreateOp:
		if o.Meta.ID == "" || o.Meta.Name == "" {
			return fmt.Errorf("create operation missing id or name")
		}
	case DeleteOp:
		return requireID(o.ID)
	case UpdateStatusOp:
		return requireID(o.ID)
	case UpdateStateOp:
		return requireID(o.ID)
	case UpdateEnvironmentOp:
		return requireID(o.ID)
	case UpdateLabelsOp:
		return requireID(o.ID)
	case UpdateResourcesOp:
		return requireID(o.ID)
	case AttachNetworkOp:
		return requireID(o.ID)
	case DetachNetworkOp:
		return requireID(o.ID)
	case AddMountOp:
		return requireID(o.ID)
	case RemoveMountOp:
		return requireID(o.ID)
	case BatchOp:
		for i, child := range o.Ops {
			if err := ValidateOperation(child); err != nil {
				return fmt.Errorf("batch entry %d: %w", i, err)
			}
		}
	}
	return nil
}

func requireID(id string) error {
	if id == "" {
		return fmt.Errorf("operation missing id")
	}
	return nil
}
