package wire

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cellstate/branchsync/crypto"
)

// pipeStream glues a PipeReader/PipeWriter pair into one Stream.
type pipeStream struct {
	io.Reader
	io.Writer
}

// newStreamPair returns two ends of an in-memory duplex stream, suitable
// for feeding both sides of a Dispatcher in tests.
func newStreamPair() (a, b pipeStream) {
	r1, w1 := io.Pipe()
	r2, w2 := io.Pipe()
	a = pipeStream{Reader: r1, Writer: w2}
	b = pipeStream{Reader: r2, Writer: w1}
	return a, b
}

func TestDispatcherSendRecvRoundTrip(t *testing.T) {
	a, b := newStreamPair()

	dA := NewDispatcher(zerolog.Nop())
	dB := NewDispatcher(zerolog.Nop())
	dA.AddStream(a)
	dB.AddStream(b)

	tag := DeriveChannelTag(crypto.Hash{1})
	recv := dB.OpenRecv(tag)

	msg := Message{Kind: KindRequestBlock, RequestID: 7, RequestBlock: &RequestBlock{}}
	if err := dA.OpenSend(tag).Send(msg); err != nil {
		t.Fatalf("send: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := recv.Recv(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if got.Kind != KindRequestBlock || got.RequestID != 7 {
		t.Fatalf("got = %+v, want matching RequestBlock message", got)
	}
}

func TestDispatcherRecvUnblocksOnContextCancel(t *testing.T) {
	d := NewDispatcher(zerolog.Nop())
	tag := DeriveChannelTag(crypto.Hash{2})
	recv := d.OpenRecv(tag)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := recv.Recv(ctx)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error from a cancelled Recv")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Recv did not unblock after context cancellation")
	}
}

func TestDispatcherRemoveLastStreamClosesQueues(t *testing.T) {
	a, _ := newStreamPair()
	d := NewDispatcher(zerolog.Nop())
	d.AddStream(a)

	tag := DeriveChannelTag(crypto.Hash{3})
	recv := d.OpenRecv(tag)

	done := make(chan error, 1)
	go func() {
		_, err := recv.Recv(context.Background())
		done <- err
	}()

	d.RemoveStream(a)

	select {
	case err := <-done:
		if err != ErrDispatcherClosed {
			t.Fatalf("err = %v, want ErrDispatcherClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Recv did not unblock once the dispatcher emptied")
	}
	if !d.IsEmpty() {
		t.Error("dispatcher should report empty after removing its only stream")
	}
}
