// Package protocol implements the control socket's length-framed message
// codec: Msg := Req(CLI) | Ok | OkContent(string) | Continue | Err(string).
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/keeprun/keep/internal/model"
)

// MaxFrameSize bounds a single frame's payload to guard against a
// corrupt or hostile length prefix asking for an unbounded allocation.
const MaxFrameSize = 64 << 20

// Kind discriminates the Msg union.
type Kind int

const (
	KindReq Kind = iota
	KindOk
	KindOkContent
	KindContinue
	KindErr
)

// Req carries one CLI invocation's verb and arguments across the socket.
type Req struct {
	Verb string         `cbor:"verb"`
	Run  *RunArgs       `cbor:"run,omitempty"`
	Start *StartArgs    `cbor:"start,omitempty"`
	Exec *ExecArgs      `cbor:"exec,omitempty"`
	Name string         `cbor:"name,omitempty"`
	PS   *PSArgs        `cbor:"ps,omitempty"`
	Commit *CommitArgs  `cbor:"commit,omitempty"`
	NetworkCreate *NetworkCreateArgs `cbor:"network_create,omitempty"`
}

type RunArgs struct {
	Name    string   `cbor:"name,omitempty"`
	Memory  uint64   `cbor:"memory,omitempty"`
	Volume  string   `cbor:"volume,omitempty"`
	Detach  bool     `cbor:"detach"`
	Image   string   `cbor:"image"`
	Argv    []string `cbor:"argv"`
}

type StartArgs struct {
	Name        string `cbor:"name"`
	Interactive bool   `cbor:"interactive"`
	Detach      bool   `cbor:"detach"`
}

type ExecArgs struct {
	Name string   `cbor:"name"`
	Argv []string `cbor:"argv"`
}

type PSArgs struct {
	All bool `cbor:"all"`
}

type CommitArgs struct {
	Name  string `cbor:"name"`
	Image string `cbor:"image"`
}

type NetworkCreateArgs struct {
	Name   string `cbor:"name"`
	Driver string `cbor:"driver"`
	Subnet string `cbor:"subnet"`
}

// Msg is the tagged envelope sent over the control socket.
type Msg struct {
	Kind    Kind
	Req     Req
	Content string
}

func MsgOk() Msg                    { return Msg{Kind: KindOk} }
func MsgOkContent(s string) Msg     { return Msg{Kind: KindOkContent, Content: s} }
func MsgContinue() Msg              { return Msg{Kind: KindContinue} }
func MsgErr(s string) Msg           { return Msg{Kind: KindErr, Content: s} }
func MsgReq(r Req) Msg              { return Msg{Kind: KindReq, Req: r} }

// GetReq returns the request payload, failing if this Msg is not a Req.
func (m Msg) GetReq() (Req, error) {
	if m.Kind != KindReq {
		return Req{}, fmt.Errorf("%w: expected Req", model.ErrUnexpectedMessage)
	}
	return m.Req, nil
}

// wireMsg is the CBOR wire shape: a discriminant plus the two possible
// payload fields, left empty when not applicable to Kind.
type wireMsg struct {
	Kind    Kind    `cbor:"kind"`
	Req     Req     `cbor:"req,omitempty"`
	Content string  `cbor:"content,omitempty"`
}

// SendTo serialises m and writes it as one length-framed record.
func SendTo(w io.Writer, m Msg) error {
	payload, err := cbor.Marshal(wireMsg{Kind: m.Kind, Req: m.Req, Content: m.Content})
	if err != nil {
		return fmt.Errorf("%w: encode: %v", model.ErrFramingError, err)
	}
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("%w: write length: %v", model.ErrFramingError, err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("%w: write payload: %v", model.ErrFramingError, err)
	}
	return nil
}

// RecvFrom reads one length-framed record and decodes it into a Msg.
func RecvFrom(r io.Reader) (Msg, error) {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Msg{}, fmt.Errorf("%w: read length: %v", model.ErrFramingError, err)
	}
	n := binary.LittleEndian.Uint64(lenBuf[:])
	if n > MaxFrameSize {
		return Msg{}, fmt.Errorf("%w: payload too large (%d bytes)", model.ErrFramingError, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Msg{}, fmt.Errorf("%w: read payload: %v", model.ErrFramingError, err)
	}
	var w wireMsg
	if err := cbor.Unmarshal(payload, &w); err != nil {
		return Msg{}, fmt.Errorf("%w: decode: %v", model.ErrFramingError, err)
	}
	return Msg{Kind: w.Kind, Req: w.Req, Content: w.Content}, nil
}
