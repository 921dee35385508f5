package main

import (
	"fmt"

	"github.com/keeprun/keep/internal/keepclient"
	"github.com/keeprun/keep/internal/protocol"
)

type StartCmd struct {
	Detach bool   `short:"d" help:"Start in the background."`
	Name   string `arg:"" help:"Container name or id."`
}

func (c *StartCmd) Run(cli *CLI) error {
	req := protocol.Req{Verb: "start", Start: &protocol.StartArgs{Name: c.Name, Detach: c.Detach, Interactive: !c.Detach}}
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

type ExecCmd struct {
	Name string   `arg:"" help:"Container name or id."`
	Argv []string `arg:"" help:"Command to run inside the container."`
}

func (c *ExecCmd) Run(cli *CLI) error {
	req := protocol.Req{Verb: "exec", Exec: &protocol.ExecArgs{Name: c.Name, Argv: c.Argv}}
	return keepclient.New(cli.SocketPath).Attach(req)
}

type StopCmd struct {
	Name string `arg:"" help:"Container name or id."`
}

func (c *StopCmd) Run(cli *CLI) error {
	msg, err := keepclient.New(cli.SocketPath).Call(protocol.Req{Verb: "stop", Name: c.Name})
	if err != nil {
		return err
	}
	if msg.Kind == protocol.KindErr {
		return errString(msg.Content)
	}
	return nil
}

type RMCmd struct {
	Name string `arg:"" help:"Container name or id."`
}

func (c *RMCmd) Run(cli *CLI) error {
	msg, err := keepclient.New(cli.SocketPath).Call(protocol.Req{Verb: "rm", Name: c.Name})
	if err != nil {
		return err
	}
	if msg.Kind == protocol.KindErr {
		return errString(msg.Content)
	}
	return nil
}
