package interpret

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

// DNSResolver answers the IpAddr::lookup and IpAddr::reverse_lookup
// builtins with real DNS queries. The server defaults to the system
// resolver configuration.
type DNSResolver struct {
	Server  string // host:port; resolved from /etc/resolv.conf when empty
	Timeout time.Duration

	client *dns.Client
}

// NewDNSResolver builds a resolver with the given upstream; an empty server
// uses the first nameserver from /etc/resolv.conf.
func NewDNSResolver(server string) *DNSResolver {
	return &DNSResolver{
		Server:  server,
		Timeout: 5 * time.Second,
		client:  &dns.Client{},
	}
}

func (r *DNSResolver) server() (string, error) {
	if r.Server != "" {
		return r.Server, nil
	}
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(conf.Servers) == 0 {
		return "", fmt.Errorf("no DNS server configured: %w", err)
	}
	return conf.Servers[0] + ":" + conf.Port, nil
}

func (r *DNSResolver) exchange(ctx context.Context, m *dns.Msg) (*dns.Msg, error) {
	server, err := r.server()
	if err != nil {
		return nil, err
	}
	client := dns.Client{}
	if r.client != nil {
		client = *r.client
	}
	if deadline, ok := ctx.Deadline(); ok {
		client.Timeout = time.Until(deadline)
	} else if r.Timeout > 0 {
		client.Timeout = r.Timeout
	}
	reply, _, err := client.ExchangeContext(ctx, m, server)
	return reply, err
}

// Lookup resolves host to its IPv4 addresses.
func (r *DNSResolver) Lookup(ctx context.Context, host string) ([]netip.Addr, error) {
	// a dotted quad needs no query
	if addr, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{addr}, nil
	}
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)
	reply, err := r.exchange(ctx, m)
	if err != nil {
		return nil, err
	}
	var addrs []netip.Addr
	for _, rr := range reply.Answer {
		if a, ok := rr.(*dns.A); ok {
			if addr, ok := netip.AddrFromSlice(a.A.To4()); ok {
				addrs = append(addrs, addr)
			}
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no A records for %q", host)
	}
	return addrs, nil
}

// ReverseLookup resolves an address to its PTR names.
func (r *DNSResolver) ReverseLookup(ctx context.Context, addr netip.Addr) ([]string, error) {
	arpa, err := dns.ReverseAddr(addr.String())
	if err != nil {
		return nil, err
	}
	m := new(dns.Msg)
	m.SetQuestion(arpa, dns.TypePTR)
	reply, err := r.exchange(ctx, m)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, rr := range reply.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			names = append(names, ptr.Ptr)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no PTR records for %s", addr)
	}
	return names, nil
}
