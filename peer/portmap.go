package peer

import (
	"fmt"
	"net"
	"time"

	"github.com/huin/goupnp/dcps/internetgateway1"
	natpmp "github.com/jackpal/go-nat-pmp"
)

// PortMapper opens an external port on whatever gateway sits in front of
// this replica, so an inbound dial can reach it without a successful
// hole-punch. §1 scopes UPnP/NAT-PMP internals out of this module; this
// interface is the named collaborator boundary the peer manager consults,
// with one concrete (but minimal) implementation below so the contract has
// at least one real body.
type PortMapper interface {
	// ExternalIP returns the gateway's public address, if known.
	ExternalIP() (net.IP, error)
	// Map requests that external UDP port match internal port for
	// duration, renewed by the caller before it expires.
	Map(internalPort int, duration time.Duration) (externalPort int, err error)
	// Unmap releases a previously mapped port.
	Unmap(externalPort int) error
}

const portMappingLabel = "branchsync"

// gatewayPortMapper tries NAT-PMP first, falling back to UPnP's
// WANIPConnection1 service — the same two-collaborator shape as
// nat_traversal.go's NATManager, adapted from a TCP-only port mapper to
// UDP (this module only ever needs to map QUIC's UDP listener).
type gatewayPortMapper struct {
	gatewayIP net.IP

	pmp  *natpmp.Client
	upnp *internetgateway1.WANIPConnection1
}

// NewGatewayPortMapper probes gatewayIP for a NAT-PMP responder, then for
// a UPnP WANIPConnection1 service, keeping whichever answers first.
func NewGatewayPortMapper(gatewayIP net.IP) (PortMapper, error) {
	m := &gatewayPortMapper{gatewayIP: gatewayIP}

	pmp := natpmp.NewClient(gatewayIP)
	if _, err := pmp.GetExternalAddress(); err == nil {
		m.pmp = pmp
		return m, nil
	}

	clients, _, err := internetgateway1.NewWANIPConnection1Clients()
	if err == nil && len(clients) > 0 {
		m.upnp = clients[0]
		return m, nil
	}

	return nil, ErrNoGateway
}

func (m *gatewayPortMapper) ExternalIP() (net.IP, error) {
	if m.pmp != nil {
		res, err := m.pmp.GetExternalAddress()
		if err != nil {
			return nil, err
		}
		ip := res.ExternalIPAddress
		return net.IPv4(ip[0], ip[1], ip[2], ip[3]), nil
	}
	if m.upnp != nil {
		s, err := m.upnp.GetExternalIPAddress()
		if err != nil {
			return nil, err
		}
		return net.ParseIP(s), nil
	}
	return nil, ErrNoGateway
}

func (m *gatewayPortMapper) Map(internalPort int, duration time.Duration) (int, error) {
	if m.pmp != nil {
		res, err := m.pmp.AddPortMapping("udp", internalPort, internalPort, int(duration.Seconds()))
		if err != nil {
			return 0, fmt.Errorf("peer: nat-pmp map: %w", err)
		}
		return int(res.MappedExternalPort), nil
	}
	if m.upnp != nil {
		extIP, err := m.ExternalIP()
		if err != nil {
			return 0, err
		}
		if err := m.upnp.AddPortMapping("", uint16(internalPort), "UDP", uint16(internalPort),
			extIP.String(), true, portMappingLabel, uint32(duration.Seconds())); err != nil {
			return 0, fmt.Errorf("peer: upnp map: %w", err)
		}
		return internalPort, nil
	}
	return 0, ErrNoGateway
}

func (m *gatewayPortMapper) Unmap(externalPort int) error {
	if m.pmp != nil {
		_, err := m.pmp.AddPortMapping("udp", externalPort, externalPort, 0)
		return err
	}
	if m.upnp != nil {
		return m.upnp.DeletePortMapping("", uint16(externalPort), "UDP")
	}
	return ErrNoGateway
}
