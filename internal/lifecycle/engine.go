// Package lifecycle implements the container lifecycle engine: Run, Start,
// Exec, Stop, RM, Commit, PS, Logs.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/keeprun/keep/internal/model"
	"github.com/keeprun/keep/internal/netreg"
	"github.com/keeprun/keep/internal/storage"
	"github.com/keeprun/keep/internal/workspace"
)

// Engine wires the storage actor, the network registry, and the workspace
// manager into the verb handlers the daemon dispatcher calls.
type Engine struct {
	Root    string
	SelfExe string // re-exec target, normally /proc/self/exe
	Storage *storage.Manager
	Net     *netreg.Registry
	FileOps workspace.FileOps
}

func New(root, selfExe string, st *storage.Manager, nr *netreg.Registry) *Engine {
	return &Engine{Root: root, SelfExe: selfExe, Storage: st, Net: nr, FileOps: workspace.NewDefaultFileOps()}
}

// RunOpts are the caller-supplied parameters of the `run` verb.
type RunOpts struct {
	Name    string
	Memory  uint64
	Volume  string
	Detach  bool
	Image   string
	Argv    []string
}

func (e *Engine) layoutFor(nameID string) workspace.Layout {
	root := filepath.Join(e.Root, nameID)
	return workspace.NewLayout(root, filepath.Join(root, "mnt"))
}

// Run builds the workspace, clones the init process, attaches the cgroup,
// registers the metadata record, then proxies or detaches the PTY. All
// steps unwind in reverse order of acquisition on failure.
func (e *Engine) Run(ctx context.Context, opts RunOpts, conn Conn) (containerID string, err error) {
	id := NewID()
	name := opts.Name
	if name == "" {
		name = id
	}
	nameID := name + "-" + id
	layout := e.layoutFor(nameID)

	vol, err := workspace.ParseVolume(opts.Volume)
	if err != nil {
		return "", err
	}

	if err := workspace.New(ctx, e.FileOps, opts.Image, layout, vol); err != nil {
		return "", err
	}

	master, pid, cmd, syncParent, err := e.cloneInit(layout.Mnt, opts.Argv, nil)
	if err != nil {
		_ = workspace.Delete(e.FileOps, layout, vol)
		return "", err
	}

	if err := e.awaitChildReady(syncParent); err != nil {
		_ = workspace.Delete(e.FileOps, layout, vol)
		return "", fmt.Errorf("%w: %v", model.ErrInitFailed, err)
	}

	res := model.ResourceConfig{MemoryLimit: opts.Memory}
	cg, err := CreateCgroup(nameID, res, pid)
	if err != nil {
		_ = writeToken(syncParent, tokenExit)
		_ = workspace.Delete(e.FileOps, layout, vol)
		return "", err
	}

	meta := model.ContainerMeta{
		ID:        id,
		Name:      name,
		Command:   opts.Argv,
		CreatedAt: time.Now().Unix(),
		Status:    model.ContainerStatus{Kind: model.StatusRunning, Pid: pid, StartedAt: time.Now().Unix()},
		Resources: res,
	}
	if vol.Host != "" {
		meta.Mounts = []model.Mount{{Source: vol.Host, Destination: vol.Container}}
	}
	if err := e.Storage.Submit(ctx, model.CreateOp{Meta: meta}); err != nil {
		_ = writeToken(syncParent, tokenExit)
		_ = cg.Delete()
		_ = workspace.Delete(e.FileOps, layout, vol)
		return "", err
	}

	if err := writeToken(syncParent, tokenCont); err != nil {
		return "", fmt.Errorf("%w: signal continue: %v", model.ErrInitFailed, err)
	}

	waiter := waiterFor(cmd)
	onExit := func(code int, signaled bool, sig int) {
		_ = e.Storage.Submit(ctx, model.UpdateStatusOp{ID: id, Status: model.ContainerStatus{
			Kind: model.StatusStopped, StoppedAt: time.Now().Unix(),
		}})
		_ = KillCgroup(nameID)
	}
	if err := RunSession(master, conn, opts.Detach, layout.Log, waiter, onExit); err != nil {
		return "", err
	}
	return id, nil
}

// cloneInit starts the re-exec'd init process inside fresh namespaces and
// returns the PTY master, the child's pid, the *exec.Cmd, and the parent's
// end of the sync pipe. env, when non-nil, is the environment the init
// process hands to the user's argv.
func (e *Engine) cloneInit(mnt string, argv []string, env []string) (master *os.File, pid int, cmd *exec.Cmd, syncParent *os.File, err error) {
	m, slave, err := pty.Open()
	if err != nil {
		return nil, 0, nil, nil, fmt.Errorf("%w: open pty: %v", model.ErrNamespaceSetupFailed, err)
	}
	defer slave.Close()
	if err := unix.SetNonblock(int(m.Fd()), true); err != nil {
		m.Close()
		return nil, 0, nil, nil, fmt.Errorf("%w: pty nonblock: %v", model.ErrNamespaceSetupFailed, err)
	}

	parentSync, childSync, err := socketpairFiles()
	if err != nil {
		m.Close()
		return nil, 0, nil, nil, fmt.Errorf("%w: sync pipe: %v", model.ErrNamespaceSetupFailed, err)
	}

	argvJSON, _ := json.Marshal(argv)
	envJSON, _ := json.Marshal(env)

	cmd = exec.Command(e.SelfExe, "__init__")
	cmd.ExtraFiles = []*os.File{childSync, slave}
	cmd.Env = append(os.Environ(),
		envInitMnt+"="+mnt,
		envInitArgv+"="+string(argvJSON),
		envInitEnv+"="+string(envJSON),
	)
	cmd.SysProcAttr = &unix.SysProcAttr{
		Cloneflags: unix.CLONE_NEWUTS | unix.CLONE_NEWPID | unix.CLONE_NEWNS | unix.CLONE_NEWNET | unix.CLONE_NEWIPC,
	}

	if err := cmd.Start(); err != nil {
		m.Close()
		parentSync.Close()
		childSync.Close()
		return nil, 0, nil, nil, fmt.Errorf("%w: start init: %v", model.ErrCloneFailed, err)
	}
	childSync.Close()

	return m, cmd.Process.Pid, cmd, parentSync, nil
}

func (e *Engine) awaitChildReady(syncParent *os.File) error {
	tok, err := readToken(syncParent)
	if err != nil {
		return err
	}
	if tok != tokenWait {
		return fmt.Errorf("unexpected token from child")
	}
	return nil
}

func socketpairFiles() (parent, child *os.File, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, err
	}
	return os.NewFile(uintptr(fds[0]), "sync-parent"), os.NewFile(uintptr(fds[1]), "sync-child"), nil
}

func waiterFor(cmd *exec.Cmd) Waiter {
	return func() (int, bool, int, error) {
		err := cmd.Wait()
		state := cmd.ProcessState
		if state == nil {
			return -1, false, 0, err
		}
		if status, ok := state.Sys().(unix.WaitStatus); ok {
			if status.Signaled() {
				return 0, true, int(status.Signal()), nil
			}
			return status.ExitStatus(), false, 0, nil
		}
		return state.ExitCode(), false, 0, nil
	}
}

// Start is identical to Run from namespace creation onward, reusing the
// persisted argv and workspace.
func (e *Engine) Start(ctx context.Context, name string, detach bool, conn Conn) (containerID string, err error) {
	meta, ok := e.Storage.GetByName(name)
	if !ok {
		return "", model.ErrNotFound
	}
	if meta.Status.IsRunning() {
		return "", model.ErrAlreadyRunning
	}
	nameID := meta.Name + "-" + meta.ID
	layout := e.layoutFor(nameID)

	env := envSlice(meta.Env)
	master, pid, cmd, syncParent, err := e.cloneInit(layout.Mnt, meta.Command, env)
	if err != nil {
		return "", err
	}
	if err := e.awaitChildReady(syncParent); err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrInitFailed, err)
	}

	cg, err := CreateCgroup(nameID, meta.Resources, pid)
	if err != nil {
		_ = writeToken(syncParent, tokenExit)
		return "", err
	}
	if err := e.Storage.Submit(ctx, model.UpdateStatusOp{
		ID: meta.ID, Status: model.ContainerStatus{Kind: model.StatusRunning, Pid: pid, StartedAt: time.Now().Unix()},
	}); err != nil {
		_ = writeToken(syncParent, tokenExit)
		_ = cg.Delete()
		return "", err
	}
	if err := writeToken(syncParent, tokenCont); err != nil {
		return "", fmt.Errorf("%w: signal continue: %v", model.ErrInitFailed, err)
	}

	waiter := waiterFor(cmd)
	onExit := func(code int, signaled bool, sig int) {
		_ = e.Storage.Submit(ctx, model.UpdateStatusOp{ID: meta.ID, Status: model.ContainerStatus{
			Kind: model.StatusStopped, StoppedAt: time.Now().Unix(),
		}})
		_ = KillCgroup(nameID)
	}
	if err := RunSession(master, conn, detach, layout.Log, waiter, onExit); err != nil {
		return "", err
	}
	return meta.ID, nil
}

func envSlice(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out
}

// Exec joins the running container's namespaces and proxies a new PTY
// session without touching its status or cgroup.
func (e *Engine) Exec(ctx context.Context, name string, argv []string, conn Conn) error {
	meta, ok := e.Storage.GetByName(name)
	if !ok {
		return model.ErrNotFound
	}
	if !meta.Status.IsRunning() {
		return model.ErrNotRunning
	}
	pid := meta.Status.Pid

	m, slave, err := pty.Open()
	if err != nil {
		return fmt.Errorf("%w: open pty: %v", model.ErrNamespaceSetupFailed, err)
	}
	defer slave.Close()
	if err := unix.SetNonblock(int(m.Fd()), true); err != nil {
		m.Close()
		return fmt.Errorf("%w: pty nonblock: %v", model.ErrNamespaceSetupFailed, err)
	}

	parentSync, childSync, err := socketpairFiles()
	if err != nil {
		m.Close()
		return fmt.Errorf("%w: sync pipe: %v", model.ErrNamespaceSetupFailed, err)
	}

	nsFiles := make([]*os.File, 0, len(execNamespaceOrder))
	for _, ns := range execNamespaceOrder {
		f, err := os.Open(fmt.Sprintf("/proc/%d/ns/%s", pid, ns))
		if err != nil {
			m.Close()
			parentSync.Close()
			childSync.Close()
			return fmt.Errorf("%w: open ns %s: %v", model.ErrNamespaceSetupFailed, ns, err)
		}
		nsFiles = append(nsFiles, f)
	}

	argvJSON, _ := json.Marshal(argv)
	envJSON, _ := json.Marshal(envSlice(meta.Env))

	cmd := exec.Command(e.SelfExe, "__exec__")
	cmd.ExtraFiles = append([]*os.File{childSync, slave}, nsFiles...)
	cmd.Env = append(os.Environ(),
		envExecArgv+"="+string(argvJSON),
		envExecEnv+"="+string(envJSON),
	)

	if err := cmd.Start(); err != nil {
		m.Close()
		parentSync.Close()
		childSync.Close()
		return fmt.Errorf("%w: start exec: %v", model.ErrCloneFailed, err)
	}
	childSync.Close()
	for _, f := range nsFiles {
		f.Close()
	}

	if err := e.awaitChildReady(parentSync); err != nil {
		return fmt.Errorf("%w: %v", model.ErrInitFailed, err)
	}
	if err := writeToken(parentSync, tokenCont); err != nil {
		return fmt.Errorf("%w: signal continue: %v", model.ErrInitFailed, err)
	}

	return RunSession(m, conn, false, "", waiterFor(cmd), nil)
}

// Stop kills the cgroup and transitions the container to Stopped.
// Idempotent against an already-stopped container.
func (e *Engine) Stop(ctx context.Context, name string) error {
	meta, ok := e.Storage.GetByName(name)
	if !ok {
		return model.ErrNotFound
	}
	nameID := meta.Name + "-" + meta.ID
	if err := KillCgroup(nameID); err != nil {
		slog.ErrorContext(ctx, "lifecycle: cgroup kill failed", "name", name, "error", err)
	}
	return e.Storage.Submit(ctx, model.UpdateStatusOp{
		ID: meta.ID, Status: model.ContainerStatus{Kind: model.StatusStopped, StoppedAt: time.Now().Unix()},
	})
}

// RM deletes the cgroup, deletes the workspace, and deregisters the
// record. Rejects a running container outright.
func (e *Engine) RM(ctx context.Context, name string) error {
	meta, ok := e.Storage.GetByName(name)
	if !ok {
		return model.ErrNotFound
	}
	if meta.Status.IsRunning() {
		return fmt.Errorf("%w: %s still running", model.ErrStillRunning, name)
	}
	nameID := meta.Name + "-" + meta.ID
	if err := DeleteCgroup(nameID); err != nil {
		slog.ErrorContext(ctx, "lifecycle: cgroup delete failed", "name", name, "error", err)
	}
	layout := e.layoutFor(nameID)
	vol := workspace.Volume{}
	if len(meta.Mounts) > 0 {
		vol = workspace.Volume{Host: meta.Mounts[0].Source, Container: meta.Mounts[0].Destination}
	}
	if err := workspace.Delete(e.FileOps, layout, vol); err != nil {
		slog.ErrorContext(ctx, "lifecycle: workspace delete failed", "name", name, "error", err)
	}
	return e.Storage.Submit(ctx, model.DeleteOp{ID: meta.ID})
}

// Commit archives a container's merged filesystem into an image directory.
func (e *Engine) Commit(ctx context.Context, name, image string) error {
	meta, ok := e.Storage.GetByName(name)
	if !ok {
		return model.ErrNotFound
	}
	nameID := meta.Name + "-" + meta.ID
	layout := e.layoutFor(nameID)
	if _, err := e.FileOps.Stat(layout.Mnt); err != nil {
		return fmt.Errorf("%w: %v", model.ErrCommitFailed, err)
	}
	if err := e.FileOps.MkdirAll(image, 0o755); err != nil {
		return fmt.Errorf("%w: %v", model.ErrCommitFailed, err)
	}
	tarPath := filepath.Join(image, image+".tar")
	if err := workspace.ArchiveTar(ctx, layout.Mnt, tarPath); err != nil {
		return fmt.Errorf("%w: %v", model.ErrCommitFailed, err)
	}
	if err := workspace.WriteOCIConfig(image, meta.Command, envSlice(meta.Env)); err != nil {
		return fmt.Errorf("%w: %v", model.ErrCommitFailed, err)
	}
	return nil
}

// PS renders a tabular listing of id, name, pid, argv, status. Without
// all, Stopped/Exited/Dead records are excluded.
func (e *Engine) PS(all bool) string {
	metas := e.Storage.All()
	var b strings.Builder
	b.WriteString("ID\tNAME\tPID\tCOMMAND\tSTATUS\n")
	for _, m := range metas {
		if !all && isTerminal(m.Status.Kind) {
			continue
		}
		fmt.Fprintf(&b, "%s\t%s\t%d\t%s\t%s\n", m.ID, m.Name, m.Status.Pid, strings.Join(m.Command, " "), m.Status.Kind)
	}
	return b.String()
}

func isTerminal(k model.StatusKind) bool {
	return k == model.StatusStopped || k == model.StatusExited || k == model.StatusDead
}

// ResourceSummary aggregates container counts per status plus memory
// reserved by running containers.
func (e *Engine) ResourceSummary() model.ResourceSummary {
	return model.Summarize(e.Storage.All())
}

// Logs reads {root}/log.log for the addressed container.
func (e *Engine) Logs(name string) (string, error) {
	meta, ok := e.Storage.GetByName(name)
	if !ok {
		return "", model.ErrNotFound
	}
	nameID := meta.Name + "-" + meta.ID
	layout := e.layoutFor(nameID)
	data, err := os.ReadFile(layout.Log)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrNotFound, err)
	}
	return string(data), nil
}

// NetworkCreate registers a new bridge network in the network registry.
func (e *Engine) NetworkCreate(name, driver, subnet string) error {
	if driver != "bridge" {
		return model.ErrUnsupportedDriver
	}
	_, err := e.Net.Create(name, driver, subnet)
	return err
}
