package literals

import (
	"fmt"
	"net/netip"
	"sort"
	"strings"

	"armour.dev/armour/internal/labels"
)

// ID identifies one endpoint of a connection: a set of host names, a set of
// IPv4 addresses, an optional port and a set of labels. Update methods are
// functional.
type ID struct {
	Hosts  []string     `cbor:"h,omitempty"`
	IPs    []netip.Addr `cbor:"i,omitempty"`
	Port   *uint16      `cbor:"p,omitempty"`
	Labels *labels.Set  `cbor:"l,omitempty"`
}

// NewID builds an ID from a socket address and any labels bound to it.
func NewID(addr netip.AddrPort, ls *labels.Set) ID {
	id := ID{Labels: ls}
	if addr.IsValid() {
		a := addr.Addr().Unmap()
		if a.Is4() {
			id.IPs = []netip.Addr{a}
		}
		port := addr.Port()
		id.Port = &port
	}
	if id.Labels == nil {
		id.Labels = labels.NewSet()
	}
	return id
}

// AddHost returns a copy with the host name added.
func (id ID) AddHost(host string) ID {
	c := id.clone()
	for _, h := range c.Hosts {
		if h == host {
			return c
		}
	}
	c.Hosts = append(c.Hosts, host)
	sort.Strings(c.Hosts)
	return c
}

// AddIP returns a copy with the address added; non-IPv4 addresses are
// ignored.
func (id ID) AddIP(a netip.Addr) ID {
	c := id.clone()
	if !a.Is4() {
		return c
	}
	for _, x := range c.IPs {
		if x == a {
			return c
		}
	}
	c.IPs = append(c.IPs, a)
	sort.Slice(c.IPs, func(i, j int) bool { return c.IPs[i].Less(c.IPs[j]) })
	return c
}

// SetPort returns a copy with the port set.
func (id ID) SetPort(port uint16) ID {
	c := id.clone()
	c.Port = &port
	return c
}

// AddLabel returns a copy with the label added.
func (id ID) AddLabel(l labels.Label) ID {
	c := id.clone()
	c.Labels.Insert(l)
	return c
}

// HasLabel reports whether any of the ID's labels is matched by pattern.
func (id ID) HasLabel(pattern labels.Label) bool {
	return id.Labels.HasMatch(pattern)
}

func (id ID) clone() ID {
	c := ID{
		Hosts:  append([]string(nil), id.Hosts...),
		IPs:    append([]netip.Addr(nil), id.IPs...),
		Labels: labels.NewSet(id.Labels.All()...),
	}
	if id.Port != nil {
		p := *id.Port
		c.Port = &p
	}
	return c
}

// Equal is deep equality.
func (id *ID) Equal(other *ID) bool {
	if id == nil || other == nil {
		return id == other
	}
	if len(id.Hosts) != len(other.Hosts) || len(id.IPs) != len(other.IPs) {
		return false
	}
	for i := range id.Hosts {
		if id.Hosts[i] != other.Hosts[i] {
			return false
		}
	}
	for i := range id.IPs {
		if id.IPs[i] != other.IPs[i] {
			return false
		}
	}
	if (id.Port == nil) != (other.Port == nil) {
		return false
	}
	if id.Port != nil && *id.Port != *other.Port {
		return false
	}
	a, b := id.Labels.All(), other.Labels.All()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

func (id ID) String() string {
	var parts []string
	if len(id.Hosts) > 0 {
		parts = append(parts, strings.Join(id.Hosts, ","))
	}
	for _, a := range id.IPs {
		parts = append(parts, a.String())
	}
	if id.Port != nil {
		parts = append(parts, fmt.Sprintf(":%d", *id.Port))
	}
	if id.Labels.Len() > 0 {
		parts = append(parts, id.Labels.String())
	}
	if len(parts) == 0 {
		return "<anonymous>"
	}
	return strings.Join(parts, " ")
}

// Connection bundles the two endpoints of an intercepted stream with the
// proxy's strictly increasing connection number.
type Connection struct {
	From   ID    `cbor:"f"`
	To     ID    `cbor:"t"`
	Number int64 `cbor:"n"`
}

// Equal is deep equality.
func (c *Connection) Equal(other *Connection) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.Number == other.Number && c.From.Equal(&other.From) && c.To.Equal(&other.To)
}

func (c Connection) String() string {
	return fmt.Sprintf("%s -> %s [#%d]", c.From, c.To, c.Number)
}

// Credentials is an opaque bearer credential used during onboarding.
type Credentials struct {
	Token string `cbor:"t"`
}
