package lifecycle

import (
	"fmt"

	cgroup2 "github.com/containerd/cgroups/v3/cgroup2"

	"github.com/keeprun/keep/internal/model"
)

const cgroupMountpoint = "/sys/fs/cgroup"

// CreateCgroup creates a cgroup2 group named nameID under the daemon's
// cgroup root, with the given resource caps, and adds pid to it.
func CreateCgroup(nameID string, res model.ResourceConfig, pid int) (*cgroup2.Manager, error) {
	var resources cgroup2.Resources
	if res.MemoryLimit > 0 {
		limit := int64(res.MemoryLimit)
		resources.Memory = &cgroup2.Memory{Max: &limit}
	}
	if res.PidsLimit > 0 {
		limit := res.PidsLimit
		resources.Pids = &cgroup2.Pids{Max: limit}
	}

	m, err := cgroup2.NewManager(cgroupMountpoint, "/"+nameID, &resources)
	if err != nil {
		return nil, fmt.Errorf("%w: create: %v", model.ErrCgroupFailed, err)
	}
	if err := m.AddProc(uint64(pid)); err != nil {
		_ = m.Delete()
		return nil, fmt.Errorf("%w: add proc: %v", model.ErrCgroupFailed, err)
	}
	return m, nil
}

// KillCgroup signals every task in the cgroup atomically. It is a no-op
// (returns nil) against an already-empty/deleted cgroup.
func KillCgroup(nameID string) error {
	m, err := cgroup2.Load("/" + nameID)
	if err != nil {
		return nil
	}
	if err := m.Kill(); err != nil {
		return fmt.Errorf("%w: kill: %v", model.ErrCgroupFailed, err)
	}
	return nil
}

// DeleteCgroup removes the cgroup named nameID, ignoring a not-found error.
func DeleteCgroup(nameID string) error {
	m, err := cgroup2.Load("/" + nameID)
	if err != nil {
		return nil
	}
	if err := m.Delete(); err != nil {
		return fmt.Errorf("%w: delete: %v", model.ErrCgroupFailed, err)
	}
	return nil
}
