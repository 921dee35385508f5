package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// WriteOCIConfig emits a minimal OCI runtime config.json alongside a
// committed image's tarball, recording the committing container's argv and
// environment the way `docker commit`-adjacent tooling preserves runtime
// config. keepd does not consume this file itself (it re-derives argv from
// the stored ContainerMeta on `start`); it exists so an image directory
// produced by `commit` is inspectable with standard OCI tooling.
func WriteOCIConfig(dir string, argv, env []string) error {
	spec := specs.Spec{
		Version: "1.0.2",
		Process: &specs.Process{
			Terminal: true,
			Args:     argv,
			Env:      env,
			Cwd:      "/",
		},
		Root: &specs.Root{
			Path:     "mnt",
			Readonly: false,
		},
	}
	b, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal oci config: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), b, 0o644)
}
