// Package wire implements the message codec and multi-stream dispatcher of
// §4.H: length-delimited framing of a self-describing CBOR payload, a
// 256-bit channel tag that lets two replicas multiplex several logical
// repository links over one or more raw byte streams, and the dispatcher
// contract itself (fan-in receive queues, fan-out failover send).
package wire

import (
	"github.com/cellstate/branchsync/block"
	"github.com/cellstate/branchsync/crypto"
	"github.com/cellstate/branchsync/index"
)

// Kind identifies which of §4.H's message shapes a Message carries.
type Kind uint8

const (
	KindHandshake Kind = iota
	KindRequestRoot
	KindRequestInner
	KindRequestBlock
	KindResponse
	KindPex
)

// ResponseKind distinguishes the three things a Response can answer, per
// §4.I's "RequestRoot/RequestInner/RequestBlock ... or NotFound".
type ResponseKind uint8

const (
	ResponseRoot ResponseKind = iota
	ResponseInner
	ResponseBlock
)

// Handshake carries the runtime id exchange and protocol version agreement
// of §4.I's connection state machine ("Handshaking -> Active on successful
// runtime-id exchange and protocol version agreement").
type Handshake struct {
	RuntimeID       crypto.Hash
	ProtocolVersion uint32
}

// RequestRoot asks for a writer's latest verified root node.
type RequestRoot struct {
	WriterID crypto.Hash
}

// RequestInner asks for the children of an inner or root node, identified
// by its content hash.
type RequestInner struct {
	NodeHash crypto.Hash
}

// RequestBlock asks for one block's stored ciphertext.
type RequestBlock struct {
	BlockID block.ID
}

// NodeChild is one child entry in a RequestInner response: either a bucket
// (root-level fan-out, Bucket set) or a leaf (bucket-level fan-out, Locator
// and BlockID set), matching index/node.go's two-level trie shape.
type NodeChild struct {
	Bucket   *byte
	Locator  *crypto.Hash
	BlockID  *block.ID
	Hash     crypto.Hash
	Summary  index.Presence
}

// Response answers exactly one of RequestRoot/RequestInner/RequestBlock,
// tagged by Kind and by the RequestID carried on Message for pipelining
// (§4.I "every response is tagged with the request id").
type Response struct {
	Kind       ResponseKind
	Found      bool
	Root       *index.RootNode
	Children   []NodeChild
	Ciphertext []byte
}

// Pex carries a bounded sample of peer addresses for one repository link,
// per §4.J's peer exchange.
type Pex struct {
	Addresses []string
}

// Message is the payload carried inside one wire frame. Exactly one of the
// pointer fields matching Kind is non-nil.
type Message struct {
	Kind      Kind
	RequestID uint64

	Handshake    *Handshake
	RequestRoot  *RequestRoot
	RequestInner *RequestInner
	RequestBlock *RequestBlock
	Response     *Response
	Pex          *Pex
}

// Envelope is what actually crosses the wire: a Message tagged with the
// logical channel it belongs to, so one dispatcher can multiplex many
// repository links over the same raw stream.
type Envelope struct {
	Channel ChannelTag
	Message Message
}
