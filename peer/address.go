package peer

import (
	"fmt"
	"net"
	"strconv"

	ma "github.com/multiformats/go-multiaddr"
)

// Source distinguishes where a candidate address was learned from, since
// §4.J's filtering rules apply extra scrutiny to DHT-learned addresses.
type Source int

const (
	SourceConfigured Source = iota
	SourceDHT
	SourcePEX
	SourceLocalDiscovery
)

func (s Source) String() string {
	switch s {
	case SourceConfigured:
		return "configured"
	case SourceDHT:
		return "dht"
	case SourcePEX:
		return "pex"
	case SourceLocalDiscovery:
		return "local-discovery"
	default:
		return "unknown"
	}
}

// Address is one dial candidate: its multiaddr form plus the decoded
// IP/port §4.J's filtering rules actually test against.
type Address struct {
	Multiaddr ma.Multiaddr
	IP        net.IP
	Port      int
}

func (a Address) String() string { return a.Multiaddr.String() }

// ParseAddress decodes s as a multiaddr and extracts its IP and TCP/UDP
// port.
func ParseAddress(s string) (Address, error) {
	m, err := ma.NewMultiaddr(s)
	if err != nil {
		return Address{}, fmt.Errorf("peer: parse address %q: %w", s, err)
	}
	ip, port, err := decodeIPAndPort(m)
	if err != nil {
		return Address{}, err
	}
	return Address{Multiaddr: m, IP: ip, Port: port}, nil
}

func decodeIPAndPort(m ma.Multiaddr) (net.IP, int, error) {
	var ipStr string
	var err error
	for _, proto := range []int{ma.P_IP4, ma.P_IP6} {
		if ipStr, err = m.ValueForProtocol(proto); err == nil {
			break
		}
	}
	if ipStr == "" {
		return nil, 0, fmt.Errorf("peer: address %q has no ip4/ip6 component", m)
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return nil, 0, fmt.Errorf("peer: address %q has an unparsable ip %q", m, ipStr)
	}

	var portStr string
	for _, proto := range []int{ma.P_TCP, ma.P_UDP} {
		if portStr, err = m.ValueForProtocol(proto); err == nil {
			break
		}
	}
	if portStr == "" {
		return nil, 0, fmt.Errorf("peer: address %q has no tcp/udp component", m)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, 0, fmt.Errorf("peer: address %q has an unparsable port %q: %w", m, portStr, err)
	}
	return ip, port, nil
}

// documentationRanges and benchmarkingRange are the IPv4 ranges §4.J names
// explicitly ("documentation, benchmarking ranges").
var (
	documentationRanges = []*net.IPNet{
		mustCIDR("192.0.2.0/24"),
		mustCIDR("198.51.100.0/24"),
		mustCIDR("203.0.113.0/24"),
	}
	benchmarkingRange = mustCIDR("198.18.0.0/15")
	ipv6DocRange      = mustCIDR("2001:db8::/32")
	ipv6ULARange      = mustCIDR("fc00::/7")
)

func mustCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}

// Filter reports whether addr should be rejected as a dial or advertise
// candidate, per §4.J's "Address filtering": port 0/1 is always rejected;
// IPv4 0.0.0.0/8, broadcast, documentation and benchmarking ranges are
// always rejected; IPv6 multicast, unspecified, documentation and ULA
// addresses are always rejected; a DHT-learned address is additionally
// rejected if private, loopback, or link-local.
func Filter(addr Address, source Source) error {
	if addr.Port == 0 || addr.Port == 1 {
		return ErrAddressRejected
	}

	if ip4 := addr.IP.To4(); ip4 != nil {
		if ip4[0] == 0 {
			return ErrAddressRejected
		}
		if addr.IP.Equal(net.IPv4bcast) {
			return ErrAddressRejected
		}
		for _, r := range documentationRanges {
			if r.Contains(addr.IP) {
				return ErrAddressRejected
			}
		}
		if benchmarkingRange.Contains(addr.IP) {
			return ErrAddressRejected
		}
		if source == SourceDHT && addr.IP.IsPrivate() {
			return ErrAddressRejected
		}
	} else {
		if addr.IP.IsMulticast() || addr.IP.IsUnspecified() {
			return ErrAddressRejected
		}
		if ipv6DocRange.Contains(addr.IP) || ipv6ULARange.Contains(addr.IP) {
			return ErrAddressRejected
		}
	}

	if source == SourceDHT && (addr.IP.IsLoopback() || addr.IP.IsLinkLocalUnicast()) {
		return ErrAddressRejected
	}
	return nil
}
