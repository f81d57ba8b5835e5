package wire

import (
	"bytes"
	"testing"

	"github.com/cellstate/branchsync/crypto"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	tag := DeriveChannelTag(crypto.Hash{1, 2, 3})
	env := Envelope{
		Channel: tag,
		Message: Message{
			Kind:        KindRequestRoot,
			RequestID:   42,
			RequestRoot: &RequestRoot{WriterID: crypto.Hash{9, 9, 9}},
		},
	}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, env); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Channel != tag {
		t.Error("channel tag did not survive round trip")
	}
	if got.Message.Kind != KindRequestRoot || got.Message.RequestID != 42 {
		t.Fatalf("message fields did not survive round trip: %+v", got.Message)
	}
	if got.Message.RequestRoot == nil || got.Message.RequestRoot.WriterID != (crypto.Hash{9, 9, 9}) {
		t.Error("request root payload did not survive round trip")
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x7F, 0xFF, 0xFF, 0xFF}) // huge claimed length, no body
	if _, err := ReadFrame(&buf); err != ErrFrameTooLarge {
		t.Fatalf("err = %v, want ErrFrameTooLarge", err)
	}
}

func TestReadFrameOnTruncatedStreamFails(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x00, 0x00, 0x10}) // claims 16 bytes, supplies none
	if _, err := ReadFrame(&buf); err == nil {
		t.Fatal("expected an error reading a truncated frame body")
	}
}
