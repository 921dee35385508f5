// Package keepclient implements the CLI-side half of the control socket:
// dial, send one Req, then either print a single response or switch the
// local terminal into raw mode and shuttle bytes until the daemon closes
// the connection.
package keepclient

import (
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/keeprun/keep/internal/protocol"
)

// Client dials a daemon's control socket on demand; it holds no persistent
// connection since every verb is one request per connection.
type Client struct {
	SocketPath string
	DialTimeout time.Duration
}

func New(socketPath string) *Client {
	return &Client{SocketPath: socketPath, DialTimeout: 5 * time.Second}
}

// Call sends req and returns the daemon's single non-Continue response. Use
// this for verbs that never attach a PTY (ps, logs, stop, rm, commit,
// network create).
func (c *Client) Call(req protocol.Req) (protocol.Msg, error) {
	conn, err := c.dial()
	if err != nil {
		return protocol.Msg{}, err
	}
	defer conn.Close()

	if err := protocol.SendTo(conn, protocol.MsgReq(req)); err != nil {
		return protocol.Msg{}, err
	}
	return protocol.RecvFrom(conn)
}

// Attach sends req, and if the daemon responds with Continue, puts the
// controlling terminal into raw mode and shuttles bytes between stdio and
// the socket until either side closes it. Used by run/start/exec in their
// interactive form.
func (c *Client) Attach(req protocol.Req) error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := protocol.SendTo(conn, protocol.MsgReq(req)); err != nil {
		return err
	}
	msg, err := protocol.RecvFrom(conn)
	if err != nil {
		return err
	}
	switch msg.Kind {
	case protocol.KindErr:
		return fmt.Errorf("%s", msg.Content)
	case protocol.KindOk, protocol.KindOkContent:
		if msg.Content != "" {
			fmt.Println(msg.Content)
		}
		return nil
	case protocol.KindContinue:
		return c.shuttle(conn)
	default:
		return fmt.Errorf("unexpected response kind %d", msg.Kind)
	}
}

func (c *Client) dial() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.SocketPath, c.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.SocketPath, err)
	}
	return conn, nil
}

// shuttle wires stdin to the connection and the connection to stdout,
// restoring the terminal on exit. When stdin isn't a real terminal (piped
// input, tests) it skips raw-mode and just copies bytes.
func (c *Client) shuttle(conn net.Conn) error {
	fd := int(os.Stdin.Fd())
	var restore func()
	if term.IsTerminal(fd) {
		old, err := term.MakeRaw(fd)
		if err == nil {
			restore = func() { _ = term.Restore(fd, old) }
			defer restore()
		}
	}

	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(conn, os.Stdin)
	}()
	_, err := io.Copy(os.Stdout, conn)
	close(done)
	if err != nil && err != io.EOF {
		return err
	}
	return nil
}
