// Package daemonserver implements the control-plane accept loop: one
// cooperative task per connection, reading exactly one Req and routing it
// to the lifecycle engine.
package daemonserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime/debug"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/keeprun/keep/internal/lifecycle"
	"github.com/keeprun/keep/internal/model"
	"github.com/keeprun/keep/internal/protocol"
)

var tracer = otel.Tracer("keepd/dispatcher")

// Server owns the accept loop and holds the lifecycle engine it dispatches
// verbs to.
type Server struct {
	SocketPath string
	Engine     *lifecycle.Engine

	listener net.Listener
	shutdown chan struct{}
}

func New(socketPath string, engine *lifecycle.Engine) *Server {
	return &Server{SocketPath: socketPath, Engine: engine, shutdown: make(chan struct{})}
}

// Serve unlinks any stale socket file, binds, and accepts connections
// until Shutdown is called.
func (s *Server) Serve(ctx context.Context) error {
	_ = os.Remove(s.SocketPath)
	l, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.SocketPath, err)
	}
	s.listener = l
	slog.InfoContext(ctx, "daemon: listening", "socket", s.SocketPath)

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.ErrorContext(ctx, "daemon: accept failed", "error", err)
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

// Shutdown closes the listener and removes the socket file. The accept
// loop's own Accept() error observes this and returns.
func (s *Server) Shutdown() {
	close(s.shutdown)
	if s.listener != nil {
		_ = s.listener.Close()
	}
	_ = os.Remove(s.SocketPath)
}

// handleConn reads exactly one Req, dispatches it, and never lets a panic
// in one connection's handling bring down the rest of the daemon.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "daemon: connection task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	msg, err := protocol.RecvFrom(conn)
	if err != nil {
		slog.ErrorContext(ctx, "daemon: read request failed", "error", err)
		return
	}
	req, err := msg.GetReq()
	if err != nil {
		_ = protocol.SendTo(conn, protocol.MsgErr(err.Error()))
		return
	}

	ctx, span := tracer.Start(ctx, "verb."+req.Verb)
	defer span.End()

	resp := s.dispatch(ctx, req, conn)
	if resp.Kind == protocol.KindContinue {
		// The verb handler already sent Continue and took over the
		// connection as a raw byte pipe; nothing further to write.
		return
	}
	if err := protocol.SendTo(conn, resp); err != nil {
		slog.ErrorContext(ctx, "daemon: write response failed", "error", err)
	}
}

func (s *Server) dispatch(ctx context.Context, req protocol.Req, conn net.Conn) protocol.Msg {
	switch req.Verb {
	case "run":
		return s.handleRun(ctx, req, conn)
	case "start":
		return s.handleStart(ctx, req, conn)
	case "exec":
		return s.handleExec(ctx, req, conn)
	case "stop":
		if err := s.Engine.Stop(ctx, req.Name); err != nil {
			return errMsg("stop", req.Name, err)
		}
		return protocol.MsgOk()
	case "rm":
		if err := s.Engine.RM(ctx, req.Name); err != nil {
			return errMsg("rm", req.Name, err)
		}
		return protocol.MsgOk()
	case "ps":
		all := req.PS != nil && req.PS.All
		return protocol.MsgOkContent(s.Engine.PS(all))
	case "logs":
		out, err := s.Engine.Logs(req.Name)
		if err != nil {
			return errMsg("logs", req.Name, err)
		}
		return protocol.MsgOkContent(out)
	case "commit":
		if req.Commit == nil {
			return protocol.MsgErr("commit: missing arguments")
		}
		if err := s.Engine.Commit(ctx, req.Commit.Name, req.Commit.Image); err != nil {
			return errMsg("commit", req.Commit.Name, err)
		}
		return protocol.MsgOkContent(fmt.Sprintf("committed %s to %s", req.Commit.Name, req.Commit.Image))
	case "network_create":
		return s.handleNetworkCreate(ctx, req)
	case "df":
		return protocol.MsgOkContent(formatResourceSummary(s.Engine.ResourceSummary()))
	default:
		return protocol.MsgErr(fmt.Sprintf("unknown verb %q", req.Verb))
	}
}

// handleRun and handleStart hand the connection to lifecycle.RunSession (via
// the engine). For an attached session, RunSession writes MsgContinue itself
// and takes over the connection as a raw byte pipe for the session's whole
// lifetime, including its termination line — in that case the only thing
// left to report here is a pre-takeover failure, and on success we return
// the Continue sentinel so handleConn knows not to write a second,
// now-nonsensical frame. For a detached run, RunSession returns as soon as
// the container is up, without touching the connection at all, so success
// is reported here directly.
func (s *Server) handleRun(ctx context.Context, req protocol.Req, conn net.Conn) protocol.Msg {
	if req.Run == nil {
		return protocol.MsgErr("run: missing arguments")
	}
	opts := lifecycle.RunOpts{
		Name: req.Run.Name, Memory: req.Run.Memory, Volume: req.Run.Volume,
		Detach: req.Run.Detach, Image: req.Run.Image, Argv: req.Run.Argv,
	}
	id, err := s.Engine.Run(ctx, opts, conn)
	if err != nil {
		return errMsg("run", opts.Name, err)
	}
	if opts.Detach {
		return protocol.MsgOkContent(id)
	}
	return protocol.MsgContinue()
}

func (s *Server) handleStart(ctx context.Context, req protocol.Req, conn net.Conn) protocol.Msg {
	if req.Start == nil {
		return protocol.MsgErr("start: missing arguments")
	}
	id, err := s.Engine.Start(ctx, req.Start.Name, req.Start.Detach, conn)
	if err != nil {
		return errMsg("start", req.Start.Name, err)
	}
	if req.Start.Detach {
		return protocol.MsgOkContent(id)
	}
	return protocol.MsgContinue()
}

func (s *Server) handleExec(ctx context.Context, req protocol.Req, conn net.Conn) protocol.Msg {
	if req.Exec == nil {
		return protocol.MsgErr("exec: missing arguments")
	}
	if err := s.Engine.Exec(ctx, req.Exec.Name, req.Exec.Argv, conn); err != nil {
		return errMsg("exec", req.Exec.Name, err)
	}
	return protocol.MsgContinue()
}

func (s *Server) handleNetworkCreate(ctx context.Context, req protocol.Req) protocol.Msg {
	if req.NetworkCreate == nil {
		return protocol.MsgErr("network create: missing arguments")
	}
	nc := req.NetworkCreate
	if err := s.Engine.NetworkCreate(nc.Name, nc.Driver, nc.Subnet); err != nil {
		return errMsg("network create", nc.Name, err)
	}
	return protocol.MsgOkContent(fmt.Sprintf("Network %s created", nc.Name))
}

func errMsg(op, target string, err error) protocol.Msg {
	return protocol.MsgErr(fmt.Sprintf("%s %s: %v", op, target, err))
}

// formatResourceSummary renders a tabular per-status breakdown followed by
// total memory reserved by running containers, in raw bytes; the client is
// responsible for any human-readable rendering.
func formatResourceSummary(rs model.ResourceSummary) string {
	statuses := make([]string, 0, len(rs.ByStatus))
	for k := range rs.ByStatus {
		statuses = append(statuses, k)
	}
	sort.Strings(statuses)

	var b strings.Builder
	b.WriteString("STATUS\tCOUNT\n")
	for _, k := range statuses {
		fmt.Fprintf(&b, "%s\t%d\n", k, rs.ByStatus[k])
	}
	fmt.Fprintf(&b, "RUNNING_MEMORY_BYTES\t%d\n", rs.RunningMemoryByte)
	return b.String()
}
