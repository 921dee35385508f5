// Package config holds the daemon and client configuration structs loaded
// by kong from flags, environment variables, and an optional YAML file
// (github.com/alecthomas/kong-yaml).
package config

import "time"

// DaemonConfig is keepd's resolved configuration.
type DaemonConfig struct {
	SocketPath      string        `yaml:"socket_path" help:"Unix-domain control socket path." default:"/tmp/keep-daemon.sock"`
	Root            string        `yaml:"root" help:"Root directory for workspaces and metadata." default:"/tmp/keep"`
	CgroupRoot      string        `yaml:"cgroup_root" help:"cgroup2 mountpoint. Not read by keepd: cgroups are always created under /sys/fs/cgroup." default:"/sys/fs/cgroup"`
	SnapshotPeriod  time.Duration `yaml:"snapshot_period" help:"Storage actor snapshot interval." default:"60s"`
	CleanupPeriod   time.Duration `yaml:"cleanup_period" help:"Storage actor WAL rotation/cleanup interval." default:"180s"`
	MaxSnapshots    int           `yaml:"max_snapshots" help:"Snapshots kept in snapshots/." default:"10"`
	MaxWals         int           `yaml:"max_wals" help:"Archived WAL files kept in wal/archive/." default:"10"`
	LogFile         string        `yaml:"log_file" help:"JSON log destination; stderr if empty." default:""`
	TraceEndpoint   string        `yaml:"trace_endpoint" help:"OTLP gRPC endpoint; tracing disabled if empty." default:""`
}

// ClientConfig is keep's resolved configuration.
type ClientConfig struct {
	SocketPath string `yaml:"socket_path" help:"Unix-domain control socket path." default:"/tmp/keep-daemon.sock"`
}

// DefaultConfigPaths lists the search path kong.Configuration consults.
var DefaultConfigPaths = []string{"~/.keep.yaml"}
