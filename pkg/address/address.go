package address

import (
	"fmt"
	"math/big"
	"net"
)

// Address is a validated IPv4/IPv6 address with its prefix length.
// It is immutable after construction; two addresses are equal iff
// their canonical string forms match.
type Address struct {
	ip     net.IP
	subnet *net.IPNet
}

// New parses a CIDR string ("10.0.0.1/24", "2001:db8::1/64") into an
// Address. The prefix is mandatory.
func New(cidr string) (Address, error) {
	ip, subnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid address %q: %w", cidr, err)
	}
	return Address{ip: ip, subnet: subnet}, nil
}

// MustNew is New for addresses known to be valid at compile time.
// It panics on invalid input.
func MustNew(cidr string) Address {
	a, err := New(cidr)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns the canonical "ip/prefix" form.
func (a Address) String() string {
	ones, _ := a.subnet.Mask.Size()
	return fmt.Sprintf("%s/%d", a.ip.String(), ones)
}

// Addr returns the bare address without the prefix.
func (a Address) Addr() string {
	return a.ip.String()
}

// Prefix returns the prefix length.
func (a Address) Prefix() int {
	ones, _ := a.subnet.Mask.Size()
	return ones
}

// IsIPv6 reports whether the address belongs to the IPv6 family.
func (a Address) IsIPv6() bool {
	return a.ip.To4() == nil
}

// IsZero reports whether the address is the zero value.
func (a Address) IsZero() bool {
	return a.ip == nil
}

// IP returns the parsed address.
func (a Address) IP() net.IP {
	return a.ip
}

// Subnet returns the enclosing network in net.IPNet form.
func (a Address) Subnet() *net.IPNet {
	return a.subnet
}

// Network returns the network address of the enclosing subnet, keeping
// the prefix ("10.0.0.1/24" -> "10.0.0.0/24").
func (a Address) Network() Address {
	return Address{ip: a.subnet.IP, subnet: a.subnet}
}

// Equal reports whether two addresses have the same canonical form.
func (a Address) Equal(b Address) bool {
	if a.IsZero() || b.IsZero() {
		return a.IsZero() == b.IsZero()
	}
	return a.String() == b.String()
}

// Host returns the n-th host address inside this address's subnet,
// counted from the network address. Used by the address helper to hand
// out consecutive addresses on a Network.
func (a Address) Host(n int) (Address, error) {
	base := new(big.Int).SetBytes(a.subnet.IP)
	base.Add(base, big.NewInt(int64(n)))

	raw := base.Bytes()
	ip := make(net.IP, len(a.subnet.IP))
	if len(raw) > len(ip) {
		return Address{}, fmt.Errorf("host %d overflows subnet %s", n, a.subnet)
	}
	copy(ip[len(ip)-len(raw):], raw)

	if !a.subnet.Contains(ip) {
		return Address{}, fmt.Errorf("host %d is outside subnet %s", n, a.subnet)
	}
	return Address{ip: ip, subnet: a.subnet}, nil
}
