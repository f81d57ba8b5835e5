package peer

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/flynn/noise"

	"github.com/cellstate/branchsync/crypto"
)

// protocolMagic opens every handshake, per §6's "Handshake framing" step 1.
var protocolMagic = [4]byte{'b', 's', 'y', 'n'}

// ProtocolVersion is this build's protocol version, per §6 step 2.
const ProtocolVersion uint64 = 1

const nonceSize = 32

var handshakeCipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2b)

// HandshakeResult is what a completed handshake yields: the remote's
// runtime id (consulted by the self-connection guard and by PEX) and the
// two directional Noise cipher states, available to a transport that wants
// channel-level encryption independent of whatever the QUIC layer already
// provides.
type HandshakeResult struct {
	RemoteRuntimeID crypto.Hash
	Send, Recv      *noise.CipherState
}

// RunHandshake performs §6's four-step handshake framing over rw: the
// magic/version preamble, then a Noise XX exchange (step 3's "fixed-size
// ephemeral public key exchange") whose payloads additionally carry each
// side's runtime-id public key and a signature over the other side's
// nonce ("each side signs a nonce from the other with its runtime-id key
// to prove possession") — an authentication layer on top of Noise's own
// static-key binding, since the wire identity here (an ed25519 writer-style
// key) is not the same key type as Noise's X25519 static keypair.
func RunHandshake(rw io.ReadWriter, identity crypto.SigningKey, initiator bool) (HandshakeResult, error) {
	// The preamble is written while the remote's is being read, so two
	// sides that start at once over an unbuffered stream (such as
	// net.Pipe) do not each block in Write waiting for the other to read.
	werr := make(chan error, 1)
	go func() { werr <- writePreamble(rw) }()
	theirVersion, err := readPreamble(rw)
	if err != nil {
		return HandshakeResult{}, err
	}
	if err := <-werr; err != nil {
		return HandshakeResult{}, err
	}
	if theirVersion > ProtocolVersion {
		return HandshakeResult{}, ErrProtocolMismatch(theirVersion)
	}

	staticKeypair, err := noise.DH25519.GenerateKeypair(rand.Reader)
	if err != nil {
		return HandshakeResult{}, fmt.Errorf("peer: generate noise static keypair: %w", err)
	}
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   handshakeCipherSuite,
		Random:        rand.Reader,
		Pattern:       noise.HandshakeXX,
		Initiator:     initiator,
		StaticKeypair: staticKeypair,
	})
	if err != nil {
		return HandshakeResult{}, fmt.Errorf("peer: new noise handshake state: %w", err)
	}

	ourNonce := make([]byte, nonceSize)
	if _, err := rand.Read(ourNonce); err != nil {
		return HandshakeResult{}, err
	}

	if initiator {
		return runInitiatorHandshake(rw, hs, identity, ourNonce)
	}
	return runResponderHandshake(rw, hs, identity, ourNonce)
}

func runInitiatorHandshake(rw io.ReadWriter, hs *noise.HandshakeState, identity crypto.SigningKey, nonceA []byte) (HandshakeResult, error) {
	msg1, _, _, err := hs.WriteMessage(nil, append(append([]byte{}, nonceA...), identity.Public...))
	if err != nil {
		return HandshakeResult{}, fmt.Errorf("peer: handshake message 1: %w", err)
	}
	if err := writeSized(rw, msg1); err != nil {
		return HandshakeResult{}, err
	}

	raw2, err := readSized(rw)
	if err != nil {
		return HandshakeResult{}, err
	}
	payload2, _, _, err := hs.ReadMessage(nil, raw2)
	if err != nil {
		return HandshakeResult{}, fmt.Errorf("peer: handshake message 2: %w", err)
	}
	nonceB, remotePub, sigOverNonceA, err := splitResponderPayload(payload2)
	if err != nil {
		return HandshakeResult{}, err
	}
	if err := crypto.Verify(remotePub, nonceA, sigOverNonceA); err != nil {
		return HandshakeResult{}, fmt.Errorf("peer: remote failed to prove possession of its runtime key: %w", err)
	}

	sigOverNonceB := identity.Sign(nonceB)
	msg3, csSend, csRecv, err := hs.WriteMessage(nil, sigOverNonceB)
	if err != nil {
		return HandshakeResult{}, fmt.Errorf("peer: handshake message 3: %w", err)
	}
	if err := writeSized(rw, msg3); err != nil {
		return HandshakeResult{}, err
	}

	return HandshakeResult{
		RemoteRuntimeID: crypto.SumHash(remotePub),
		Send:            csSend,
		Recv:            csRecv,
	}, nil
}

func runResponderHandshake(rw io.ReadWriter, hs *noise.HandshakeState, identity crypto.SigningKey, nonceB []byte) (HandshakeResult, error) {
	raw1, err := readSized(rw)
	if err != nil {
		return HandshakeResult{}, err
	}
	payload1, _, _, err := hs.ReadMessage(nil, raw1)
	if err != nil {
		return HandshakeResult{}, fmt.Errorf("peer: handshake message 1: %w", err)
	}
	nonceA, remotePub, err := splitInitiatorPayload(payload1)
	if err != nil {
		return HandshakeResult{}, err
	}

	sigOverNonceA := identity.Sign(nonceA)
	payload2 := append(append(append([]byte{}, nonceB...), identity.Public...), sigOverNonceA...)
	msg2, _, _, err := hs.WriteMessage(nil, payload2)
	if err != nil {
		return HandshakeResult{}, fmt.Errorf("peer: handshake message 2: %w", err)
	}
	if err := writeSized(rw, msg2); err != nil {
		return HandshakeResult{}, err
	}

	raw3, err := readSized(rw)
	if err != nil {
		return HandshakeResult{}, err
	}
	sigOverNonceB, csRecv, csSend, err := hs.ReadMessage(nil, raw3)
	if err != nil {
		return HandshakeResult{}, fmt.Errorf("peer: handshake message 3: %w", err)
	}
	if err := crypto.Verify(remotePub, nonceB, sigOverNonceB); err != nil {
		return HandshakeResult{}, fmt.Errorf("peer: remote failed to prove possession of its runtime key: %w", err)
	}

	return HandshakeResult{
		RemoteRuntimeID: crypto.SumHash(remotePub),
		Send:            csSend,
		Recv:            csRecv,
	}, nil
}

func splitInitiatorPayload(p []byte) (nonceA []byte, pub ed25519.PublicKey, err error) {
	if len(p) != nonceSize+ed25519.PublicKeySize {
		return nil, nil, fmt.Errorf("peer: malformed handshake message 1 payload")
	}
	return p[:nonceSize], ed25519.PublicKey(p[nonceSize:]), nil
}

func splitResponderPayload(p []byte) (nonceB []byte, pub ed25519.PublicKey, sig []byte, err error) {
	want := nonceSize + ed25519.PublicKeySize + ed25519.SignatureSize
	if len(p) != want {
		return nil, nil, nil, fmt.Errorf("peer: malformed handshake message 2 payload")
	}
	return p[:nonceSize], ed25519.PublicKey(p[nonceSize : nonceSize+ed25519.PublicKeySize]), p[nonceSize+ed25519.PublicKeySize:], nil
}

func writePreamble(w io.Writer) error {
	var buf [4 + binary.MaxVarintLen64]byte
	copy(buf[:4], protocolMagic[:])
	n := binary.PutUvarint(buf[4:], ProtocolVersion)
	_, err := w.Write(buf[:4+n])
	return err
}

func readPreamble(r io.Reader) (uint64, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return 0, fmt.Errorf("peer: read handshake magic: %w", err)
	}
	if magic != protocolMagic {
		return 0, fmt.Errorf("peer: bad handshake magic %x", magic)
	}
	return binary.ReadUvarint(&byteReader{r: r})
}

// byteReader adapts an io.Reader to io.ByteReader for binary.ReadUvarint,
// reading exactly one byte at a time (the preamble is a handful of bytes,
// so the extra syscalls are immaterial).
type byteReader struct{ r io.Reader }

func (b *byteReader) ReadByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(b.r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func writeSized(w io.Writer, msg []byte) error {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(msg)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(msg)
	return err
}

func readSized(r io.Reader) ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("peer: read handshake frame length: %w", err)
	}
	buf := make([]byte, binary.BigEndian.Uint16(lenBuf[:]))
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("peer: read handshake frame body: %w", err)
	}
	return buf, nil
}
