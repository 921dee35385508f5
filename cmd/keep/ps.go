package main

import (
	"fmt"

	"github.com/keeprun/keep/internal/keepclient"
	"github.com/keeprun/keep/internal/protocol"
)

type PSCmd struct {
	All bool `short:"a" help:"Include stopped and exited containers."`
}

func (c *PSCmd) Run(cli *CLI) error {
	msg, err := keepclient.New(cli.SocketPath).Call(protocol.Req{Verb: "ps", PS: &protocol.PSArgs{All: c.All}})
	if err != nil {
		return err
	}
	if msg.Kind == protocol.KindErr {
		return errString(msg.Content)
	}
	fmt.Print(msg.Content)
	return nil
}

type LogsCmd struct {
	Name string `arg:"" help:"Container name or id."`
}

func (c *LogsCmd) Run(cli *CLI) error {
	msg, err := keepclient.New(cli.SocketPath).Call(protocol.Req{Verb: "logs", Name: c.Name})
	if err != nil {
		return err
	}
	if msg.Kind == protocol.KindErr {
		return errString(msg.Content)
	}
	fmt.Print(msg.Content)
	return nil
}

type CommitCmd struct {
	Name  string `arg:"" help:"Container name or id."`
	Image string `arg:"" help:"Destination image directory."`
}

func (c *CommitCmd) Run(cli *CLI) error {
	msg, err := keepclient.New(cli.SocketPath).Call(protocol.Req{Verb: "commit", Commit: &protocol.CommitArgs{Name: c.Name, Image: c.Image}})
	if err != nil {
		return err
	}
	if msg.Kind == protocol.KindErr {
		return errString(msg.Content)
	}
	fmt.Println(msg.Content)
	return nil
}

type NetworkCmd struct {
	Create NetworkCreateCmd `cmd:"" help:"Create a network."`
}

type NetworkCreateCmd struct {
	Driver string `help:"Network driver." default:"bridge"`
	Name   string `arg:"" help:"Network name."`
	Subnet string `arg:"" help:"CIDR subnet, e.g. 10.10.0.0/24."`
}

func (c *NetworkCreateCmd) Run(cli *CLI) error {
	msg, err := keepclient.New(cli.SocketPath).Call(protocol.Req{
		Verb: "network_create",
		NetworkCreate: &protocol.NetworkCreateArgs{Name: c.Name, Driver: c.Driver, Subnet: c.Subnet},
	})
	if err != nil {
		return err
	}
	if msg.Kind == protocol.KindErr {
		return errString(msg.Content)
	}
	fmt.Println(msg.Content)
	return nil
}
