// The init routine: the process re-exec'd as "/proc/self/exe __init__" by
// Run/Start, running inside the fresh namespaces created via
// exec.Cmd.SysProcAttr.Cloneflags. Go cannot safely fork without exec while
// goroutines are alive, so the "child" is instead a freshly exec'd process
// that performs the same setup before execve-ing the user's argv.
package lifecycle

import (
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const (
	envInitMnt  = "KEEP_INIT_MNT"
	envInitArgv = "KEEP_INIT_ARGV"
	envInitEnv  = "KEEP_INIT_ENV"

	// fd 3 is the sync pipe (child's end), fd 4 is the PTY slave, passed
	// via exec.Cmd.ExtraFiles.
	syncPipeFD = 3
	ptySlaveFD = 4
)

// RunInit is the entire body of the "keepd __init__" hidden subcommand.
// It never returns on success: it execve's into the user's argv.
func RunInit() error {
	mnt := os.Getenv(envInitMnt)
	if mnt == "" {
		return fmt.Errorf("keep __init__: missing %s", envInitMnt)
	}
	var argv []string
	if err := json.Unmarshal([]byte(os.Getenv(envInitArgv)), &argv); err != nil || len(argv) == 0 {
		return fmt.Errorf("keep __init__: bad %s: %w", envInitArgv, err)
	}
	var env []string
	_ = json.Unmarshal([]byte(os.Getenv(envInitEnv)), &env)

	sync := os.NewFile(syncPipeFD, "sync-pipe")
	slave := os.NewFile(ptySlaveFD, "pty-slave")
	defer slave.Close()

	if err := redirectStdio(int(slave.Fd())); err != nil {
		return failInit(sync, fmt.Errorf("redirect stdio: %w", err))
	}

	if err := switchRoot(mnt); err != nil {
		return failInit(sync, fmt.Errorf("switch root: %w", err))
	}

	if err := mountProc(); err != nil {
		return failInit(sync, fmt.Errorf("mount proc: %w", err))
	}

	if err := writeToken(sync, tokenWait); err != nil {
		return fmt.Errorf("signal wait: %w", err)
	}
	tok, err := readToken(sync)
	if err != nil {
		return fmt.Errorf("await continue: %w", err)
	}
	if tok != tokenCont {
		os.Exit(1)
	}

	path, err := lookupInNamespace(argv[0])
	if err != nil {
		return fmt.Errorf("lookup argv[0]: %w", err)
	}
	return unix.Exec(path, argv, env)
}

func failInit(sync *os.File, cause error) error {
	_ = writeToken(sync, tokenExit)
	return cause
}

func redirectStdio(slaveFd int) error {
	for _, std := range []int{0, 1, 2} {
		if err := unix.Dup2(slaveFd, std); err != nil {
			return err
		}
	}
	return nil
}

// switchRoot performs the pivot_root sequence: bind-mount mnt onto itself,
// pivot onto a transient holder directory, chdir, then unmount and remove
// the holder.
func switchRoot(mnt string) error {
	if err := unix.Mount("/", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
		return fmt.Errorf("make / private: %w", err)
	}
	if err := unix.Mount(mnt, mnt, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("bind-mount self: %w", err)
	}
	pivotDir := mnt + "/.pivot_root"
	if err := os.MkdirAll(pivotDir, 0o700); err != nil {
		return fmt.Errorf("mkdir pivot holder: %w", err)
	}
	if err := unix.PivotRoot(mnt, pivotDir); err != nil {
		return fmt.Errorf("pivot_root: %w", err)
	}
	if err := unix.Chdir("/"); err != nil {
		return fmt.Errorf("chdir /: %w", err)
	}
	if err := unix.Unmount("/.pivot_root", unix.MNT_DETACH); err != nil {
		return fmt.Errorf("unmount old root: %w", err)
	}
	if err := os.RemoveAll("/.pivot_root"); err != nil {
		return fmt.Errorf("remove pivot holder: %w", err)
	}
	return nil
}

func mountProc() error {
	if _, err := os.Stat("/proc"); os.IsNotExist(err) {
		if err := os.MkdirAll("/proc", 0o555); err != nil {
			return err
		}
	}
	return unix.Mount("proc", "/proc", "proc", unix.MS_NOEXEC|unix.MS_NOSUID|unix.MS_NODEV, "")
}

// lookupInNamespace resolves argv[0] against PATH now that / has been
// switched, falling back to the literal value for absolute/relative paths.
func lookupInNamespace(name string) (string, error) {
	if name[0] == '/' || name[0] == '.' {
		return name, nil
	}
	for _, dir := range []string{"/usr/local/sbin", "/usr/local/bin", "/usr/sbin", "/usr/bin", "/sbin", "/bin"} {
		path := dir + "/" + name
		if fi, err := os.Stat(path); err == nil && fi.Mode()&0o111 != 0 {
			return path, nil
		}
	}
	return name, nil
}
