package lifecycle

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/keeprun/keep/internal/protocol"
)

// chunkSize bounds each write the client-writer task makes to the control
// socket.
const chunkSize = 1024

// Waiter reports a child process's exit, once, after blocking until it
// happens. Implementations use a dedicated goroutine rather than a raw
// blocking waitpid call on a worker thread that other work depends on.
type Waiter func() (exitCode int, signaled bool, signal int, err error)

// Conn is the minimal surface the proxy needs from the control connection:
// a reader for client input and a writer for container output plus the
// final termination line.
type Conn interface {
	io.Reader
	io.Writer
}

// RunSession wires up the PTY attach/detach proxy: a master-fan-out task
// feeding an in-memory pipe, a pair of consumer tasks (client reader/writer
// when attached, a log writer when detached), and a child-waiter task.
// onExit, when non-nil, runs once the child's exit has been observed.
func RunSession(master *os.File, conn Conn, detached bool, logPath string, wait Waiter, onExit func(exitCode int, signaled bool, signal int)) error {
	if detached {
		runDetached(master, logPath, wait, onExit)
		return nil
	}

	pr, pw := io.Pipe()
	g := new(errgroup.Group)

	// master -> fan-out
	g.Go(func() error {
		_, err := io.Copy(pw, master)
		pw.CloseWithError(err)
		return nil
	})

	done := make(chan struct{})
	var exitCode int
	var signaled bool
	var signal int
	var waitErr error

	g.Go(func() error {
		exitCode, signaled, signal, waitErr = wait()
		close(done)
		return nil
	})

	if err := protocol.SendTo(conn, protocol.MsgContinue()); err != nil {
		return fmt.Errorf("send continue: %w", err)
	}
	clientDone := make(chan struct{})
	g.Go(func() error {
		defer close(clientDone)
		return clientWriter(pr, conn, done)
	})
	g.Go(func() error {
		return clientReader(conn, master, done, clientDone)
	})

	if err := g.Wait(); err != nil {
		slog.Error("lifecycle: proxy task failed", "error", err)
	}
	<-done

	line := terminationLine(exitCode, signaled, signal)
	_, _ = io.WriteString(conn, line+"\n")
	if onExit != nil {
		onExit(exitCode, signaled, signal)
	}
	if waitErr != nil {
		return waitErr
	}
	return nil
}

// runDetached drains the PTY master into the container's log file and waits
// for the child's exit in the background, so the caller (the run/start
// handler) can report success to the client immediately instead of blocking
// for the container's whole lifetime on its control connection.
func runDetached(master *os.File, logPath string, wait Waiter, onExit func(exitCode int, signaled bool, signal int)) {
	pr, pw := io.Pipe()

	go func() {
		_, err := io.Copy(pw, master)
		pw.CloseWithError(err)
	}()

	done := make(chan struct{})
	go func() {
		if err := drainToLog(pr, logPath, done); err != nil {
			slog.Error("lifecycle: detached log drain failed", "error", err)
		}
	}()

	go func() {
		exitCode, signaled, signal, err := wait()
		close(done)
		if err != nil {
			slog.Error("lifecycle: detached wait failed", "error", err)
		}
		if onExit != nil {
			onExit(exitCode, signaled, signal)
		}
	}()
}

func terminationLine(code int, signaled bool, sig int) string {
	if signaled {
		return fmt.Sprintf("Container exited with signal: %d", sig)
	}
	return fmt.Sprintf("Container exited with code: %d", code)
}

func drainToLog(r io.Reader, logPath string, done <-chan struct{}) error {
	f, err := os.Create(logPath)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	errc := make(chan error, 1)
	go func() {
		_, err := io.Copy(f, r)
		errc <- err
	}()
	select {
	case <-done:
		return nil
	case err := <-errc:
		return err
	}
}

func clientWriter(r io.Reader, w io.Writer, done <-chan struct{}) error {
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		select {
		case <-done:
			return nil
		default:
		}
	}
}

func clientReader(r io.Reader, master *os.File, done <-chan struct{}, clientDone <-chan struct{}) error {
	buf := make([]byte, chunkSize)
	for {
		select {
		case <-done:
			return nil
		case <-clientDone:
			return nil
		default:
		}
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := master.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			return nil
		}
	}
}
