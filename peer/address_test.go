package peer

import "testing"

func mustAddress(t *testing.T, s string) Address {
	t.Helper()
	a, err := ParseAddress(s)
	if err != nil {
		t.Fatalf("ParseAddress(%q): %v", s, err)
	}
	return a
}

func TestFilterRejectsReservedPorts(t *testing.T) {
	for _, s := range []string{"/ip4/1.2.3.4/tcp/0", "/ip4/1.2.3.4/tcp/1"} {
		if err := Filter(mustAddress(t, s), SourceConfigured); err != ErrAddressRejected {
			t.Errorf("Filter(%q) = %v, want ErrAddressRejected", s, err)
		}
	}
}

func TestFilterIPv4Ranges(t *testing.T) {
	cases := []struct {
		addr   string
		source Source
		reject bool
	}{
		{"/ip4/8.8.8.8/tcp/9000", SourceConfigured, false},
		{"/ip4/0.0.0.1/tcp/9000", SourceConfigured, true},
		{"/ip4/255.255.255.255/tcp/9000", SourceConfigured, true},
		{"/ip4/192.0.2.1/tcp/9000", SourceConfigured, true},
		{"/ip4/198.51.100.1/tcp/9000", SourceConfigured, true},
		{"/ip4/203.0.113.1/tcp/9000", SourceConfigured, true},
		{"/ip4/198.18.0.1/tcp/9000", SourceConfigured, true},
		{"/ip4/10.0.0.1/tcp/9000", SourceConfigured, false},
		{"/ip4/10.0.0.1/tcp/9000", SourceDHT, true},
		{"/ip4/127.0.0.1/tcp/9000", SourceDHT, true},
		{"/ip4/127.0.0.1/tcp/9000", SourceConfigured, false},
	}
	for _, c := range cases {
		err := Filter(mustAddress(t, c.addr), c.source)
		if c.reject && err != ErrAddressRejected {
			t.Errorf("Filter(%q, %v) = %v, want ErrAddressRejected", c.addr, c.source, err)
		}
		if !c.reject && err != nil {
			t.Errorf("Filter(%q, %v) = %v, want nil", c.addr, c.source, err)
		}
	}
}

func TestFilterIPv6Ranges(t *testing.T) {
	cases := []struct {
		addr   string
		source Source
		reject bool
	}{
		{"/ip6/2001:4860:4860::8888/tcp/9000", SourceConfigured, false},
		{"/ip6/ff02::1/tcp/9000", SourceConfigured, true},
		{"/ip6/::/tcp/9000", SourceConfigured, true},
		{"/ip6/2001:db8::1/tcp/9000", SourceConfigured, true},
		{"/ip6/fc00::1/tcp/9000", SourceConfigured, true},
		{"/ip6/fe80::1/tcp/9000", SourceDHT, true},
		{"/ip6/fe80::1/tcp/9000", SourceConfigured, false},
		{"/ip6/::1/tcp/9000", SourceDHT, true},
	}
	for _, c := range cases {
		err := Filter(mustAddress(t, c.addr), c.source)
		if c.reject && err != ErrAddressRejected {
			t.Errorf("Filter(%q, %v) = %v, want ErrAddressRejected", c.addr, c.source, err)
		}
		if !c.reject && err != nil {
			t.Errorf("Filter(%q, %v) = %v, want nil", c.addr, c.source, err)
		}
	}
}
