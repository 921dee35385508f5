// Command keep is the control-plane CLI: it parses one verb, dials keepd's
// control socket, and either prints the single response or attaches to a
// container's terminal.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	kongyaml "github.com/alecthomas/kong-yaml"
	kongcompletion "github.com/jotaen/kong-completion"

	"github.com/keeprun/keep/internal/config"
)

type CLI struct {
	SocketPath string `help:"Unix-domain control socket path." default:"/tmp/keep-daemon.sock"`

	Run            RunCmd            `cmd:"" help:"Create and start a new container from an image tarball."`
	Start          StartCmd          `cmd:"" help:"Start a previously created container."`
	Exec           ExecCmd           `cmd:"" help:"Run a new process inside a running container."`
	Stop           StopCmd           `cmd:"" help:"Stop a running container."`
	RM             RMCmd             `cmd:"" name:"rm" help:"Remove a stopped container."`
	PS             PSCmd             `cmd:"" name:"ps" help:"List containers."`
	Logs           LogsCmd           `cmd:"" help:"Print a detached container's captured output."`
	Commit         CommitCmd         `cmd:"" help:"Save a container's filesystem as a new image."`
	Network        NetworkCmd        `cmd:"" help:"Manage networks."`
	System         SystemCmd         `cmd:"" help:"Inspect daemon-wide resource usage."`
	Version        VersionCmd        `cmd:"" help:"Print build version information."`
	Help           HelpCmd           `cmd:"" help:"Show a markdown rendering of the command tree."`
}

type HelpCmd struct{}

func (c *HelpCmd) Run(ctx *kong.Context) error {
	return MarkdownHelpPrinter(kong.HelpOptions{}, ctx)
}

func main() {
	var cli CLI
	parser := kong.Must(&cli,
		kong.Name("keep"),
		kong.Description("Client for the keepd container runtime."),
		kong.Configuration(kongyaml.Loader, config.DefaultConfigPaths...),
		kong.UsageOnError(),
	)
	kongcompletion.Register(parser)

	kctx, err := parser.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := kctx.Run(&cli); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
