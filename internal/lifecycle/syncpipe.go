package lifecycle

import (
	"fmt"
	"io"
)

// token is one of the four-byte parent<->child handshake markers: the
// parent must finish cgroup attach and metadata registration before the
// child execve's, and the child must finish pivot_root before the parent
// trusts the namespace is ready.
type token [4]byte

var (
	tokenWait token = [4]byte{'W', 'A', 'I', 'T'}
	tokenCont token = [4]byte{'C', 'O', 'N', 'T'}
	tokenExit token = [4]byte{'E', 'X', 'I', 'T'}
)

func writeToken(w io.Writer, t token) error {
	_, err := w.Write(t[:])
	return err
}

func readToken(r io.Reader) (token, error) {
	var t token
	if _, err := io.ReadFull(r, t[:]); err != nil {
		return token{}, fmt.Errorf("read sync token: %w", err)
	}
	return t, nil
}
