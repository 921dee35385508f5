package protocol

import (
	"bytes"
	"testing"
)

func TestSendRecvRoundTrip(t *testing.T) {
	cases := []Msg{
		MsgOk(),
		MsgOkContent("hello"),
		MsgContinue(),
		MsgErr("boom"),
		MsgReq(Req{Verb: "run", Run: &RunArgs{Name: "web", Memory: 1024, Detach: true, Image: "img.tar", Argv: []string{"/bin/sh"}}}),
		MsgReq(Req{Verb: "ps", PS: &PSArgs{All: true}}),
		MsgReq(Req{Verb: "network_create", NetworkCreate: &NetworkCreateArgs{Name: "net0", Driver: "bridge", Subnet: "10.0.0.0/24"}}),
	}

	for _, m := range cases {
		var buf bytes.Buffer
		if err := SendTo(&buf, m); err != nil {
			t.Fatalf("SendTo: %v", err)
		}
		got, err := RecvFrom(&buf)
		if err != nil {
			t.Fatalf("RecvFrom: %v", err)
		}
		if got.Kind != m.Kind {
			t.Fatalf("kind mismatch: got %v want %v", got.Kind, m.Kind)
		}
		if got.Content != m.Content {
			t.Fatalf("content mismatch: got %q want %q", got.Content, m.Content)
		}
		if got.Req.Verb != m.Req.Verb {
			t.Fatalf("verb mismatch: got %q want %q", got.Req.Verb, m.Req.Verb)
		}
	}
}

func TestGetReqRejectsNonReq(t *testing.T) {
	if _, err := MsgOk().GetReq(); err == nil {
		t.Fatal("expected GetReq to fail on a non-Req message")
	}
}

func TestRecvFromRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	lenBuf := make([]byte, 8)
	for i := range lenBuf {
		lenBuf[i] = 0xff
	}
	buf.Write(lenBuf)
	if _, err := RecvFrom(&buf); err == nil {
		t.Fatal("expected oversized length prefix to be rejected")
	}
}

func TestRecvFromTruncatedStream(t *testing.T) {
	var buf bytes.Buffer
	if err := SendTo(&buf, MsgOkContent("hi")); err != nil {
		t.Fatalf("SendTo: %v", err)
	}
	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-1])
	if _, err := RecvFrom(truncated); err == nil {
		t.Fatal("expected truncated payload to fail")
	}
}
