package main

import (
	"fmt"

	"github.com/keeprun/keep/internal/keepclient"
	"github.com/keeprun/keep/internal/memsize"
	"github.com/keeprun/keep/internal/protocol"
)

type RunCmd struct {
	Name   string   `help:"Container name. Defaults to the container id if omitted."`
	Memory string   `help:"Memory limit (e.g. 256m, 1g)." default:"0"`
	Volume string   `help:"Bind mount as host:container." default:""`
	Detach bool     `short:"d" help:"Run in the background and return immediately."`
	Image  string   `arg:"" help:"Path to the image tarball."`
	Argv   []string `arg:"" optional:"" help:"Command to run inside the container."`
}

func (c *RunCmd) Run(cli *CLI) error {
	mem, err := memsize.Parse(c.Memory)
	if err != nil {
		return err
	}
	argv := c.Argv
	if len(argv) == 0 {
		argv = []string{"/bin/sh"}
	}
	req := protocol.Req{
		Verb: "run",
		Run: &protocol.RunArgs{
			Name: c.Name, Memory: mem, Volume: c.Volume,
			Detach: c.Detach, Image: c.Image, Argv: argv,
		},
	}
	client := keepclient.New(cli.SocketPath)
	if c.Detach {
		msg, err := client.Call(req)
		if err != nil {
			return err
		}
		if msg.Kind == protocol.KindErr {
			return errString(msg.Content)
		}
		fmt.Println(msg.Content)
		return nil
	}
	return client.Attach(req)
}

type errString string

func (e errString) Error() string { return string(e) }
