package lifecycle

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

const (
	envExecArgv = "KEEP_EXEC_ARGV"
	envExecEnv  = "KEEP_EXEC_ENV"

	// fd 3 is the sync pipe, fd 4 the PTY slave, fd 5..9 one open
	// /proc/{pid}/ns/{ipc,uts,net,pid,mnt} file each, in that order.
	execSyncPipeFD = 3
	execPtySlaveFD = 4
	execNsFDBase   = 5
)

var execNamespaceOrder = []string{"ipc", "uts", "net", "pid", "mnt"}

// RunExecInit is the body of "keepd __exec__": it joins the target
// container's namespaces and execve's the requested argv inside them.
//
// Go's runtime schedules goroutines across OS threads, so setns only
// takes effect process-wide if performed before the runtime spins up
// additional threads. RunExecInit is called as the very first statement
// of main() with the calling goroutine's OS thread locked, mirroring how
// small Go container tools join namespaces without a cgo nsenter
// constructor; it is not as airtight as the C-constructor trick full OCI
// runtimes use, and that tradeoff is deliberate here (see DESIGN.md).
func RunExecInit() error {
	runtime.LockOSThread()

	var argv []string
	if err := json.Unmarshal([]byte(os.Getenv(envExecArgv)), &argv); err != nil || len(argv) == 0 {
		return fmt.Errorf("keep __exec__: bad %s: %w", envExecArgv, err)
	}
	var env []string
	_ = json.Unmarshal([]byte(os.Getenv(envExecEnv)), &env)

	sync := os.NewFile(execSyncPipeFD, "sync-pipe")
	slave := os.NewFile(execPtySlaveFD, "pty-slave")
	defer slave.Close()

	for i := range execNamespaceOrder {
		fd := execNsFDBase + i
		if err := unix.Setns(fd, 0); err != nil {
			return failInit(sync, fmt.Errorf("setns %s: %w", execNamespaceOrder[i], err))
		}
	}

	if err := redirectStdio(int(slave.Fd())); err != nil {
		return failInit(sync, fmt.Errorf("redirect stdio: %w", err))
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
