// Package engine performs the privileged kernel operations backing the
// topology: namespace lifecycle, veth pairs, addressing, shaping and
// forwarding. Everything here requires root; operations fail fast with
// a SyscallError rather than degrade silently.
package engine

import (
	"fmt"
	"time"

	"nestgo/pkg/address"
)

// Shaping carries the link-shaping parameters applied to one interface.
type Shaping struct {
	RateBps uint64        // egress rate in bits per second, 0 leaves the rate unshaped
	Delay   time.Duration // added one-way delay
	Loss    float32       // loss in percent
	Qdisc   string        // leaf queueing discipline (codel, fq_codel, pfifo, pie)
}

// Empty reports whether the shaping config would be a no-op.
func (s Shaping) Empty() bool {
	return s.RateBps == 0 && s.Delay == 0 && s.Loss == 0 && s.Qdisc == ""
}

// SyscallError wraps a failed kernel operation with the identifier it
// was operating on.
type SyscallError struct {
	Op  string
	ID  string
	Err error
}

func (e *SyscallError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.ID, e.Err)
}

func (e *SyscallError) Unwrap() error { return e.Err }

// Engine is the set of kernel operations the topology needs. The real
// implementation drives netlink; tests substitute a recording fake.
type Engine interface {
	// CreateNamespace creates a named network namespace and returns
	// its handle path. Fails if the namespace already exists or the
	// caller lacks privilege.
	CreateNamespace(id string) (string, error)
	// DeleteNamespace removes a named namespace. A namespace already
	// removed out-of-band is not an error.
	DeleteNamespace(id string) error

	// CreateVethPair creates both ends of a veth link in the current
	// namespace, or neither: if setup of the second end fails the
	// first is rolled back.
	CreateVethPair(nameA, nameB string) error
	// DeleteLink removes a link (and, for veth, its peer) by name.
	DeleteLink(name string) error
	// MoveToNamespace moves an interface into the namespace at nsPath
	// and brings it back up there.
	MoveToNamespace(ifaceName, nsPath string) error

	// AddAddress assigns one address to an interface. Multiple
	// addresses of mixed families may be assigned; kernel order
	// follows assignment order.
	AddAddress(nsPath, ifaceName string, addr address.Address) error
	// DeleteAddress removes one assigned address.
	DeleteAddress(nsPath, ifaceName string, addr address.Address) error
	// AddDefaultRoute installs a default route out of ifaceName.
	AddDefaultRoute(nsPath, ifaceName string) error

	// SetShaping applies egress shaping to an interface.
	SetShaping(nsPath, ifaceName string, s Shaping) error
	// SetupIngressShaping redirects ingress traffic of ifaceName to a
	// freshly created shaping interface named shaperName and applies
	// s there.
	SetupIngressShaping(nsPath, ifaceName, shaperName string, s Shaping) error

	// EnableForwarding turns on IPv4 and IPv6 forwarding inside a
	// namespace.
	EnableForwarding(nsPath string) error
	// DisableDAD turns off IPv6 duplicate address detection inside a
	// namespace.
	DisableDAD(nsPath string) error

	// Ping sends a single ICMP echo to dst from inside the namespace
	// and reports whether a reply arrived.
	Ping(nsPath string, dst address.Address) (bool, error)
}
