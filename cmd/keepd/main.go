// Command keepd is the container runtime daemon: it owns the metadata
// storage actor, the network registry, and the control socket that `keep`
// talks to. It also doubles as the re-exec target for the init and exec
// helper processes the lifecycle engine clones, a single binary
// dispatching on argv[1].
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"
	kongyaml "github.com/alecthomas/kong-yaml"
	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/keeprun/keep/internal/config"
	"github.com/keeprun/keep/internal/daemonserver"
	"github.com/keeprun/keep/internal/lifecycle"
	"github.com/keeprun/keep/internal/netreg"
	"github.com/keeprun/keep/internal/storage"
)

func main() {
	// __init__ and __exec__ are re-exec targets invoked by the lifecycle
	// engine inside freshly cloned namespaces; they must run before any of
	// the ordinary daemon's flag parsing or goroutines start.
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "__init__":
			if err := lifecycle.RunInit(); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			return
		case "__exec__":
			if err := lifecycle.RunExecInit(); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			return
		}
	}

	var cfg config.DaemonConfig
	parser, err := kong.New(&cfg,
		kong.Name("keepd"),
		kong.Description("Container runtime daemon."),
		kong.Configuration(kongyaml.Loader, config.DefaultConfigPaths...),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if _, err := parser.Parse(os.Args[1:]); err != nil {
		parser.FatalIfErrorf(err)
	}

	config.InitSlog(cfg.LogFile, slogLevel(), cfg.LogFile != "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := config.InitTracing(ctx, cfg.TraceEndpoint)
	if err != nil {
		slog.Error("keepd: tracing init failed", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(ctx)

	if err := run(ctx, cfg); err != nil {
		slog.Error("keepd: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.DaemonConfig) error {
	storageCfg := storage.Config{
		Root:           cfg.Root,
		SnapshotPeriod: cfg.SnapshotPeriod,
		CleanupPeriod:  cfg.CleanupPeriod,
		MaxSnapshots:   cfg.MaxSnapshots,
		MaxWals:        cfg.MaxWals,
	}
	st, err := storage.Open(ctx, storageCfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer st.Close()

	netRegistry := netreg.NewRegistry(
		filepath.Join(cfg.Root, "net", "networks"),
		map[string]netreg.Driver{"bridge": netreg.NewBridgeDriver()},
	)
	if err := netRegistry.Load(); err != nil {
		return fmt.Errorf("load network registry: %w", err)
	}

	selfExe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve self executable: %w", err)
	}
	engine := lifecycle.New(cfg.Root, selfExe, st, netRegistry)

	srv := daemonserver.New(cfg.SocketPath, engine)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(sigCtx) }()

	if ok, _ := daemon.SdNotify(false, daemon.SdNotifyReady); ok {
		slog.Info("keepd: notified systemd readiness")
	}

	select {
	case <-sigCtx.Done():
		slog.Info("keepd: shutting down")
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
		srv.Shutdown()
		return <-serveErr
	case err := <-serveErr:
		return err
	}
}

func slogLevel() slog.Level {
	if os.Getenv("KEEPD_DEBUG") != "" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
