// Package snapshot writes and loads atomic full-state dumps of
// model.InnerState, bounding WAL replay cost on recovery.
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/keeprun/keep/internal/model"
)

type Manager struct {
	dir         string
	maxSnapshots int
}

func NewManager(dir string, maxSnapshots int) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrSnapshotFailed, err)
	}
	return &Manager{dir: dir, maxSnapshots: maxSnapshots}, nil
}

// Write serialises state to a temp path and atomically renames it into
// the snapshot directory under a monotonically increasing filename.
func (m *Manager) Write(state *model.InnerState, unixSeconds int64) (string, error) {
	data, err := cbor.Marshal(state.Snapshot())
	if err != nil {
		return "", fmt.Errorf("%w: encode: %v", model.ErrSnapshotFailed, err)
	}
	tmp := filepath.Join(m.dir, "tmp.snapshot")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("%w: write tmp: %v", model.ErrSnapshotFailed, err)
	}
	final := filepath.Join(m.dir, fmt.Sprintf("snapshot-%d.bin", unixSeconds))
	if err := os.Rename(tmp, final); err != nil {
		return "", fmt.Errorf("%w: rename: %v", model.ErrSnapshotFailed, err)
	}
	return final, nil
}

// list returns snapshot file names, oldest first, sorted by the embedded
// timestamp rather than lexicographically (so it tolerates any width).
func (m *Manager) list() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}
	type named struct {
		name string
		ts   int64
	}
	var named_ []named
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "snapshot-") || !strings.HasSuffix(e.Name(), ".bin") {
			continue
		}
		tsStr := strings.TrimSuffix(strings.TrimPrefix(e.Name(), "snapshot-"), ".bin")
		ts, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			continue
		}
		named_ = append(named_, named{name: e.Name(), ts: ts})
	}
	sort.Slice(named_, func(i, j int) bool { return named_[i].ts < named_[j].ts })
	out := make([]string, len(named_))
	for i, n := range named_ {
		out[i] = n.name
	}
	return out, nil
}

// Newest returns the path to the most recent snapshot, or "" if none exist.
func (m *Manager) Newest() (string, error) {
	names, err := m.list()
	if err != nil {
		return "", fmt.Errorf("%w: list: %v", model.ErrRecoveryFailed, err)
	}
	if len(names) == 0 {
		return "", nil
	}
	return filepath.Join(m.dir, names[len(names)-1]), nil
}

// Load decodes a snapshot file into state, replacing its contents.
func Load(path string, state *model.InnerState) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read: %v", model.ErrRecoveryFailed, err)
	}
	target := model.SnapshotCodecTarget()
	if err := cbor.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: decode: %v", model.ErrRecoveryFailed, err)
	}
	return state.LoadSnapshot(target)
}

// PurgeOld keeps only the newest maxSnapshots files.
func (m *Manager) PurgeOld() error {
	names, err := m.list()
	if err != nil {
		return fmt.Errorf("%w: list: %v", model.ErrSnapshotFailed, err)
	}
	if len(names) <= m.maxSnapshots {
		return nil
	}
	for _, name := range names[:len(names)-m.maxSnapshots] {
		if err := os.Remove(filepath.Join(m.dir, name)); err != nil {
			return fmt.Errorf("%w: remove %s: %v", model.ErrSnapshotFailed, name, err)
		}
	}
	return nil
}
