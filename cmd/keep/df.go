package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/keeprun/keep/internal/keepclient"
	"github.com/keeprun/keep/internal/protocol"
)

type SystemCmd struct {
	Df DfCmd `cmd:"" help:"Show per-status container counts and memory reserved by running containers."`
}

type DfCmd struct{}

func (c *DfCmd) Run(cli *CLI) error {
	msg, err := keepclient.New(cli.SocketPath).Call(protocol.Req{Verb: "df"})
	if err != nil {
		return err
	}
	if msg.Kind == protocol.KindErr {
		return errString(msg.Content)
	}
	fmt.Print(humanizeRunningMemoryRow(msg.Content))
	return nil
}

// humanizeRunningMemoryRow rewrites the raw RUNNING_MEMORY_BYTES row's byte
// count into a human-readable size, leaving the per-status counts untouched.
func humanizeRunningMemoryRow(table string) string {
	lines := strings.Split(strings.TrimRight(table, "\n"), "\n")
	var b strings.Builder
	for _, line := range lines {
		cols := strings.SplitN(line, "\t", 2)
		if len(cols) == 2 && cols[0] == "RUNNING_MEMORY_BYTES" {
			if n, err := strconv.ParseUint(cols[1], 10, 64); err == nil {
				fmt.Fprintf(&b, "%s\t%s\n", cols[0], humanize.IBytes(n))
				continue
			}
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
