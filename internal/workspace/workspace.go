// Package workspace builds and tears down the layered overlay root
// filesystem for one container: image/ (lower, read-only), writeLayer/
// (upper), work/ (overlay workdir), mnt/ (the mount point that becomes the
// container's /), plus an optional single bind-mounted volume.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/keeprun/keep/internal/model"
)

// Layout is the set of paths rooted at {ROOT}/{name-id}.
type Layout struct {
	Root       string
	Image      string
	WriteLayer string
	Work       string
	Mnt        string
	Log        string
}

func NewLayout(root, mnt string) Layout {
	return Layout{
		Root:       root,
		Image:      filepath.Join(root, "image"),
		WriteLayer: filepath.Join(root, "writeLayer"),
		Work:       filepath.Join(root, "work"),
		Mnt:        mnt,
		Log:        filepath.Join(root, "log.log"),
	}
}

// Volume is a parsed "H:C" bind-mount spec.
type Volume struct {
	Host      string
	Container string
}

// ParseVolume requires exactly one ':' with both halves non-empty.
func ParseVolume(spec string) (Volume, error) {
	if spec == "" {
		return Volume{}, nil
	}
	parts := strings.Split(spec, ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Volume{}, fmt.Errorf("%w: expected H:C, got %q", model.ErrInvalidVolume, spec)
	}
	return Volume{Host: parts[0], Container: parts[1]}, nil
}

func (v Volume) set() bool { return v.Host != "" && v.Container != "" }

// New builds a container's overlay workspace: extracting the image (if not
// already present), laying out the upper/work/merged directories, mounting
// the overlay, and binding an optional volume. Every returned error has
// already reversed whatever partial state this call produced.
func New(ctx context.Context, fo FileOps, imageTar string, l Layout, vol Volume) (err error) {
	createdRoot := false
	if _, statErr := fo.Stat(l.Image); os.IsNotExist(statErr) {
		if err := fo.MkdirAll(l.Image, 0o755); err != nil {
			return fmt.Errorf("%w: mkdir image: %v", model.ErrMountFailed, err)
		}
		createdRoot = true
		if err := ExtractTar(ctx, imageTar, l.Image); err != nil {
			_ = fo.RemoveAll(l.Root)
			return fmt.Errorf("%w: %v", model.ErrTarFailed, err)
		}
	}
	defer func() {
		if err != nil && createdRoot {
			_ = fo.RemoveAll(l.Root)
		}
	}()

	if err := fo.MkdirAll(l.WriteLayer, 0o755); err != nil {
		return fmt.Errorf("%w: mkdir writeLayer: %v", model.ErrMountFailed, err)
	}
	if err := fo.MkdirAll(l.Work, 0o755); err != nil {
		return fmt.Errorf("%w: mkdir work: %v", model.ErrMountFailed, err)
	}
	if err := fo.MkdirAll(l.Mnt, 0o755); err != nil {
		return fmt.Errorf("%w: mkdir mnt: %v", model.ErrMountFailed, err)
	}

	opts := fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s", l.Image, l.WriteLayer, l.Work)
	if mountErr := unix.Mount("overlay", l.Mnt, "overlay", 0, opts); mountErr != nil {
		return fmt.Errorf("%w: overlay mount: %v", model.ErrMountFailed, mountErr)
	}
	defer func() {
		if err != nil {
			_ = unix.Unmount(l.Mnt, unix.MNT_DETACH)
		}
	}()

	if vol.set() {
		containerSide := filepath.Join(l.Mnt, vol.Container)
		if err := fo.MkdirAll(vol.Host, 0o755); err != nil {
			return fmt.Errorf("%w: mkdir volume host side: %v", model.ErrMountFailed, err)
		}
		if err := fo.MkdirAll(containerSide, 0o755); err != nil {
			return fmt.Errorf("%w: mkdir volume container side: %v", model.ErrMountFailed, err)
		}
		if mountErr := unix.Mount(vol.Host, containerSide, "", unix.MS_BIND, ""); mountErr != nil {
			return fmt.Errorf("%w: bind mount volume: %v", model.ErrMountFailed, mountErr)
		}
	}

	return nil
}

// Delete tears down a workspace in the prescribed order: bind-mount detach
// before overlay unmount before directory removal.
func Delete(fo FileOps, l Layout, vol Volume) error {
	var firstErr error
	record := func(stage string, err error) {
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", stage, err)
		}
	}

	if vol.set() {
		containerSide := filepath.Join(l.Mnt, vol.Container)
		record("detach volume", unix.Unmount(containerSide, unix.MNT_DETACH))
	}
	record("unmount overlay", unix.Unmount(l.Mnt, unix.MNT_DETACH))
	record("remove root", fo.RemoveAll(l.Root))
	return firstErr
}
