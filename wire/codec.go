package wire

import (
	"encoding/binary"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// MaxFrameSize bounds the length prefix a peer may claim, refusing to
// allocate on an untrusted value. Sized generously above one block
// (block.Size=4096) plus CBOR/index overhead for a RequestInner response
// carrying a full bucket's worth of leaves.
const MaxFrameSize = 1 << 20 // 1 MiB

// WriteFrame writes env as a 4-byte big-endian length prefix followed by
// its CBOR encoding, grounded on the length-prefixed message framing
// idiom other example repos' wire codecs use over a raw stream.
func WriteFrame(w io.Writer, env Envelope) error {
	payload, err := cbor.Marshal(env)
	if err != nil {
		return err
	}
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed frame and decodes its payload.
func ReadFrame(r io.Reader) (Envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Envelope{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return Envelope{}, ErrFrameTooLarge
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := cbor.Unmarshal(payload, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
