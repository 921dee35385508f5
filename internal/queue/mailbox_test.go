package queue

import (
	"context"
	"testing"
	"time"
)

func TestSendRecvRoundTrip(t *testing.T) {
	mb := NewMailbox[string, int](4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		env := <-mb.Recv()
		env.Ack <- len(env.Req)
	}()

	got, err := mb.Send(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
	<-done
}

func TestSendRespectsContextCancellation(t *testing.T) {
	mb := NewMailbox[string, int](0) // unbuffered, no consumer
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := mb.Send(ctx, "x"); err == nil {
		t.Fatal("expected Send to fail once the context deadline passes with no consumer")
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	mb := NewMailbox[string, int](1)
	mb.Close()
	if _, err := mb.Send(context.Background(), "x"); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
