package peer

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/cellstate/branchsync/crypto"
)

func TestRunHandshakeEstablishesMutualRuntimeID(t *testing.T) {
	initiatorKey, err := crypto.GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey (initiator): %v", err)
	}
	responderKey, err := crypto.GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey (responder): %v", err)
	}

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	type outcome struct {
		res HandshakeResult
		err error
	}
	initiatorDone := make(chan outcome, 1)
	responderDone := make(chan outcome, 1)

	go func() {
		res, err := RunHandshake(a, initiatorKey, true)
		initiatorDone <- outcome{res, err}
	}()
	go func() {
		res, err := RunHandshake(b, responderKey, false)
		responderDone <- outcome{res, err}
	}()

	var initRes, respRes outcome
	select {
	case initRes = <-initiatorDone:
	case <-time.After(5 * time.Second):
		t.Fatal("initiator handshake never completed")
	}
	select {
	case respRes = <-responderDone:
	case <-time.After(5 * time.Second):
		t.Fatal("responder handshake never completed")
	}

	if initRes.err != nil {
		t.Fatalf("initiator RunHandshake: %v", initRes.err)
	}
	if respRes.err != nil {
		t.Fatalf("responder RunHandshake: %v", respRes.err)
	}

	if initRes.res.RemoteRuntimeID != crypto.SumHash(responderKey.Public) {
		t.Errorf("initiator saw remote runtime id %x, want %x", initRes.res.RemoteRuntimeID, crypto.SumHash(responderKey.Public))
	}
	if respRes.res.RemoteRuntimeID != crypto.SumHash(initiatorKey.Public) {
		t.Errorf("responder saw remote runtime id %x, want %x", respRes.res.RemoteRuntimeID, crypto.SumHash(initiatorKey.Public))
	}
}

func TestRunHandshakeRejectsNewerRemoteProtocolVersion(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	newerVersionDone := make(chan error, 1)
	go func() {
		// Drain the real preamble RunHandshake writes first (magic + a
		// one-byte varint, since ProtocolVersion is 1), then reply with a
		// preamble claiming a newer version.
		drain := make([]byte, 5)
		if _, err := io.ReadFull(b, drain); err != nil {
			newerVersionDone <- err
			return
		}
		msg := append(append([]byte{}, protocolMagic[:]...), byte(ProtocolVersion+1))
		_, err := b.Write(msg)
		newerVersionDone <- err
	}()

	key, err := crypto.GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := RunHandshake(a, key, false)
		done <- err
	}()

	select {
	case err := <-newerVersionDone:
		if err != nil {
			t.Fatalf("fake peer write: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("fake peer never wrote its preamble")
	}

	select {
	case err := <-done:
		if _, ok := err.(protocolMismatchError); !ok {
			t.Fatalf("RunHandshake err = %v (%T), want protocolMismatchError", err, err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RunHandshake never returned")
	}
}
