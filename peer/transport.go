package peer

import (
	"context"
	"crypto/tls"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

const (
	holePunchJitterMin = 5 * time.Second
	holePunchJitterMax = 15 * time.Second
	holePunchBurst     = 4
)

// Transport dials and listens for QUIC connections carrying dispatcher
// streams, per §4.J #3/#4: "hole-punch via UDP side-channel for QUIC
// globals"; "on success, hand the stream to the dispatcher for this peer".
type Transport struct {
	tlsConf  *tls.Config
	quicConf *quic.Config
}

// NewTransport returns a transport using tlsConf for QUIC's mandatory TLS
// layer.
func NewTransport(tlsConf *tls.Config) *Transport {
	return &Transport{tlsConf: tlsConf, quicConf: &quic.Config{}}
}

// Listen opens a QUIC listener on addr ("host:port", UDP).
func (t *Transport) Listen(addr string) (*quic.Listener, error) {
	return quic.ListenAddr(addr, t.tlsConf, t.quicConf)
}

// Dial establishes a QUIC connection to addr, first hole-punching a UDP
// side-channel toward it per §4.J #3. The punch's result is ignored: a
// punch failure doesn't abort the dial.
func (t *Transport) Dial(ctx context.Context, addr Address) (quic.Connection, error) {
	_ = holePunch(ctx, addr)
	return quic.DialAddr(ctx, fmt.Sprintf("%s:%d", addr.IP, addr.Port), t.tlsConf, t.quicConf)
}

// OpenStream opens a new dispatcher-multiplexable stream on an established
// connection.
func OpenStream(ctx context.Context, conn quic.Connection) (quic.Stream, error) {
	return conn.OpenStreamSync(ctx)
}

// holePunch sends a short burst of empty UDP datagrams to addr after a
// random jitter in §5's 5-15s hole-punch window. The burst goes out from a
// freshly opened UDP socket of its own, closed on return; it is not the
// socket the following QUIC dial uses.
func holePunch(ctx context.Context, addr Address) error {
	jitter := holePunchJitterMin + time.Duration(rand.Int63n(int64(holePunchJitterMax-holePunchJitterMin)))
	select {
	case <-time.After(jitter):
	case <-ctx.Done():
		return ctx.Err()
	}

	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return fmt.Errorf("peer: hole punch: open udp side-channel: %w", err)
	}
	defer conn.Close()

	dst := &net.UDPAddr{IP: addr.IP, Port: addr.Port}
	for i := 0; i < holePunchBurst; i++ {
		if _, err := conn.WriteToUDP(nil, dst); err != nil {
			return fmt.Errorf("peer: hole punch: write: %w", err)
		}
	}
	return nil
}
