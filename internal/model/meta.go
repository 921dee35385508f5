// Package model holds the container runtime's durable data types:
// ContainerMeta records, the in-memory InnerState index, and the
// StorageOperation log entries that mutate them.
package model

import "sync"

// ContainerStatus is a tagged status value. Transitions are monotone:
// Creating -> Running -> (Paused <-> Running) -> Stopped/Exited -> Dead,
// with Stopped -> Running only via Start.
type ContainerStatus struct {
	Kind      StatusKind `cbor:"kind"`
	Pid       int        `cbor:"pid,omitempty"`
	StartedAt int64      `cbor:"started_at,omitempty"`
	StoppedAt int64      `cbor:"stopped_at,omitempty"`
	ExitCode  int        `cbor:"exit_code,omitempty"`
	ExitedAt  int64      `cbor:"exited_at,omitempty"`
}

type StatusKind int

const (
	StatusCreating StatusKind = iota
	StatusRunning
	StatusPaused
	StatusStopped
	StatusExited
	StatusDead
)

func (k StatusKind) String() string {
	switch k {
	case StatusCreating:
		return "Creating"
	case StatusRunning:
		return "Running"
	case StatusPaused:
		return "Paused"
	case StatusStopped:
		return "Stopped"
	case StatusExited:
		return "Exited"
	case StatusDead:
		return "Dead"
	default:
		return "Unknown"
	}
}

func (s ContainerStatus) String() string { return s.Kind.String() }

// IsRunning reports whether the status carries a live pid.
func (s ContainerStatus) IsRunning() bool { return s.Kind == StatusRunning }

// Mount is a bind-mounted volume; the `-v` flag's volume is stored as the
// first entry of ContainerMeta.Mounts.
type Mount struct {
	Source      string `cbor:"source"`
	Destination string `cbor:"destination"`
	ReadOnly    bool   `cbor:"read_only"`
}

// ResourceConfig is the set of resource caps pushed into the cgroup.
type ResourceConfig struct {
	MemoryLimit uint64 `cbor:"memory_limit,omitempty"`
	PidsLimit   int64  `cbor:"pids_limit,omitempty"`
}

// NetworkAttachment mirrors a live Endpoint into the durable record.
type NetworkAttachment struct {
	Name string `cbor:"name"`
	IP   string `cbor:"ip"`
}

// ContainerMeta is the authoritative record of one container.
type ContainerMeta struct {
	ID        string            `cbor:"id"`
	Name      string            `cbor:"name"`
	Command   []string          `cbor:"command"`
	CreatedAt int64             `cbor:"created_at"`
	Status    ContainerStatus   `cbor:"status"`
	Env       map[string]string `cbor:"env,omitempty"`
	Labels    map[string]string `cbor:"labels,omitempty"`
	Resources ResourceConfig    `cbor:"resources"`
	Mounts    []Mount           `cbor:"mounts,omitempty"`
	Network   *NetworkAttachment `cbor:"network,omitempty"`
}

// Clone returns a deep copy safe to hand to a reader outside the lock.
func (m ContainerMeta) Clone() ContainerMeta {
	c := m
	c.Command = append([]string(nil), m.Command...)
	if m.Env != nil {
		c.Env = make(map[string]string, len(m.Env))
		for k, v := range m.Env {
			c.Env[k] = v
		}
	}
	if m.Labels != nil {
		c.Labels = make(map[string]string, len(m.Labels))
		for k, v := range m.Labels {
			c.Labels[k] = v
		}
	}
	c.Mounts = append([]Mount(nil), m.Mounts...)
	if m.Network != nil {
		n := *m.Network
		c.Network = &n
	}
	return c
}

// InnerState is the in-memory index: by-id and by-name maps kept
// consistent with each other at every applied operation.
type InnerState struct {
	mu     sync.RWMutex
	byID   map[string]ContainerMeta
	byName map[string]string
}

func NewInnerState() *InnerState {
	return &InnerState{
		byID:   make(map[string]ContainerMeta),
		byName: make(map[string]string),
	}
}

// snapshotState is the serialisable projection of InnerState.
type snapshotState struct {
	ByID map[string]ContainerMeta `cbor:"by_id"`
}

// Snapshot returns a value suitable for CBOR encoding.
func (s *InnerState) Snapshot() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]ContainerMeta, len(s.byID))
	for id, m := range s.byID {
		out[id] = m.Clone()
	}
	return snapshotState{ByID: out}
}

// LoadSnapshot replaces the state wholesale from a decoded snapshot value.
func (s *InnerState) LoadSnapshot(v any) error {
	ss, ok := v.(*snapshotState)
	if !ok {
		return ErrRecoveryFailed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[string]ContainerMeta, len(ss.ByID))
	s.byName = make(map[string]string, len(ss.ByID))
	for id, m := range ss.ByID {
		s.byID[id] = m
		if m.Name != "" {
			s.byName[m.Name] = id
		}
	}
	return nil
}

// SnapshotCodecTarget returns a pointer suitable as a CBOR decode target
// for a value previously produced by Snapshot.
func SnapshotCodecTarget() any { return &snapshotState{} }

func (s *InnerState) GetByID(id string) (ContainerMeta, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	return m.Clone(), ok
}

func (s *InnerState) GetByName(name string) (ContainerMeta, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[name]
	if !ok {
		return ContainerMeta{}, false
	}
	m := s.byID[id]
	return m.Clone(), true
}

func (s *InnerState) All() []ContainerMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ContainerMeta, 0, len(s.byID))
	for _, m := range s.byID {
		out = append(out, m.Clone())
	}
	return out
}

// NameTaken reports whether name is already registered to a different id.
func (s *InnerState) NameTaken(name, exceptID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[name]
	return ok && id != exceptID
}

// Apply mutates state for one operation; a BatchOp applies each of its
// operations in order. Callers hold the
// storage actor's single-writer discipline; Apply itself takes the write lock.
func (s *InnerState) Apply(op Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(op)
}

func (s *InnerState) applyLocked(op Operation) error {
	switch o := op.(type) {
	case CreateOp:
		if _, exists := s.byID[o.Meta.ID]; exists {
			return ErrAlreadyExists
		}
		if id, exists := s.byName[o.Meta.Name]; exists && id != o.Meta.ID {
			return ErrAlreadyExists
		}
		s.byID[o.Meta.ID] = o.Meta.Clone()
		s.byName[o.Meta.Name] = o.Meta.ID
		return nil
	case DeleteOp:
		m, ok := s.byID[o.ID]
		if !ok {
			return ErrNotFound
		}
		delete(s.byID, o.ID)
		delete(s.byName, m.Name)
		return nil
	case UpdateStatusOp:
		m, ok := s.byID[o.ID]
		if !ok {
			return ErrNotFound
		}
		m.Status = o.Status
		s.byID[o.ID] = m
		return nil
	case UpdateStateOp:
		m, ok := s.byID[o.ID]
		if !ok {
			return ErrNotFound
		}
		m.Status = o.Status
		s.byID[o.ID] = m
		return nil
	case UpdateEnvironmentOp:
		m, ok := s.byID[o.ID]
		if !ok {
			return ErrNotFound
		}
		m.Env = o.Env
		s.byID[o.ID] = m
		return nil
	case UpdateLabelsOp:
		m, ok := s.byID[o.ID]
		if !ok {
			return ErrNotFound
		}
		m.Labels = o.Labels
		s.byID[o.ID] = m
		return nil
	case UpdateResourcesOp:
		m, ok := s.byID[o.ID]
		if !ok {
			return ErrNotFound
		}
		m.Resources = o.Resources
		s.byID[o.ID] = m
		return nil
	case AttachNetworkOp:
		m, ok := s.byID[o.ID]
		if !ok {
			return ErrNotFound
		}
		m.Network = &NetworkAttachment{Name: o.Name, IP: o.IP}
		s.byID[o.ID] = m
		return nil
	case DetachNetworkOp:
		m, ok := s.byID[o.ID]
		if !ok {
			return ErrNotFound
		}
		m.Network = nil
		s.byID[o.ID] = m
		return nil
	case AddMountOp:
		m, ok := s.byID[o.ID]
		if !ok {
			return ErrNotFound
		}
		m.Mounts = append(m.Mounts, o.Mount)
		s.byID[o.ID] = m
		return nil
	case RemoveMountOp:
		m, ok := s.byID[o.ID]
		if !ok {
			return ErrNotFound
		}
		kept := m.Mounts[:0]
		for _, mnt := range m.Mounts {
			if mnt.Destination != o.Destination {
				kept = append(kept, mnt)
			}
		}
		m.Mounts = kept
		s.byID[o.ID] = m
		return nil
	case BatchOp:
		for _, child := range o.Ops {
			if err := s.applyLocked(child); err != nil {
				return err
			}
		}
		return nil
	default:
		return ErrUnexpectedMessage
	}
}
