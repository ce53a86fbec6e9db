package topology

import (
	"nestgo/pkg/address"
	"nestgo/pkg/engine"
	"nestgo/pkg/util"
)

const shaperPrefix = "ifb-"

// Interface is one end of a veth link, owned by exactly one Node. Its
// peer reference is identity only; the link is created and torn down as
// a unit.
type Interface struct {
	node *Node
	id   string // kernel interface name
	peer *Interface

	addrs    []address.Address
	network  *Network
	shaperID string // ingress shaping interface, when allocated
}

// Name returns the kernel interface name.
func (i *Interface) Name() string { return i.id }

// Node returns the owning node.
func (i *Interface) Node() *Node { return i.node }

// Peer returns the other end of the veth pair, or nil for a
// switch-side port.
func (i *Interface) Peer() *Interface { return i.peer }

// SetAddress assigns one or more CIDR addresses, of any mix of
// families, in the given order.
func (i *Interface) SetAddress(cidrs ...string) error {
	return i.AddAddress(cidrs...)
}

// AddAddress assigns further addresses after the initial assignment,
// preserving assignment order.
func (i *Interface) AddAddress(cidrs ...string) error {
	for _, cidr := range cidrs {
		addr, err := address.New(cidr)
		if err != nil {
			return err
		}
		if err := i.assign(addr); err != nil {
			return err
		}
	}
	return nil
}

func (i *Interface) assign(addr address.Address) error {
	if err := i.node.t.eng.AddAddress(i.node.handle, i.id, addr); err != nil {
		return err
	}
	i.addrs = append(i.addrs, addr)
	return nil
}

// DeleteAddress removes one assigned address. Deletion is best-effort:
// deleting an address that was never assigned logs a warning and leaves
// the assigned list untouched.
func (i *Interface) DeleteAddress(addr address.Address) {
	idx := -1
	for j, a := range i.addrs {
		if a.Equal(addr) {
			idx = j
			break
		}
	}
	log := i.node.t.log.WithFields(map[string]interface{}{"interface": i.id, "address": addr.String()})
	if idx < 0 {
		log.Warn("address not assigned, nothing to delete")
		return
	}
	if err := i.node.t.eng.DeleteAddress(i.node.handle, i.id, addr); err != nil {
		log.WithError(err).Warn("could not delete address, it may already be gone")
	}
	i.addrs = append(i.addrs[:idx], i.addrs[idx+1:]...)
}

// Address returns the first assigned address.
func (i *Interface) Address() address.Address {
	if len(i.addrs) == 0 {
		return address.Address{}
	}
	return i.addrs[0]
}

// Addresses returns the assigned addresses of the requested families,
// in assignment order.
func (i *Interface) Addresses(ipv4, ipv6 bool) []address.Address {
	var out []address.Address
	for _, a := range i.addrs {
		if (a.IsIPv6() && ipv6) || (!a.IsIPv6() && ipv4) {
			out = append(out, a)
		}
	}
	return out
}

// SetAttributes applies egress shaping: bandwidth like "5mbit", delay
// like "5ms", and optionally a leaf qdisc name. Empty strings leave the
// corresponding attribute unshaped.
func (i *Interface) SetAttributes(bandwidth, delay string, qdisc ...string) error {
	s, err := parseShaping(bandwidth, delay, qdisc)
	if err != nil {
		return err
	}
	return i.node.t.eng.SetShaping(i.node.handle, i.id, s)
}

// SetIngressAttributes shapes inbound traffic. The kernel only shapes
// on egress, so an intermediate shaping interface is allocated and
// inbound traffic redirected through it. The shaping interface's
// derived name is subject to the usual 15-character limit.
func (i *Interface) SetIngressAttributes(bandwidth, delay string, qdisc ...string) error {
	s, err := parseShaping(bandwidth, delay, qdisc)
	if err != nil {
		return err
	}
	shaper := shaperPrefix + i.id
	if err := i.node.t.names.Reserve(shaper); err != nil {
		return err
	}
	if err := i.node.t.eng.SetupIngressShaping(i.node.handle, i.id, shaper, s); err != nil {
		return err
	}
	i.shaperID = shaper
	return nil
}

// ShaperName returns the ingress shaping interface name, or "" when
// ingress shaping was never requested.
func (i *Interface) ShaperName() string { return i.shaperID }

func parseShaping(bandwidth, delay string, qdisc []string) (engine.Shaping, error) {
	var s engine.Shaping
	if bandwidth != "" {
		rate, err := util.ParseBandwidth(bandwidth)
		if err != nil {
			return s, err
		}
		s.RateBps = rate
	}
	if delay != "" {
		d, err := util.ParseDelay(delay)
		if err != nil {
			return s, err
		}
		s.Delay = d
	}
	if len(qdisc) > 0 {
		s.Qdisc = qdisc[0]
	}
	return s, nil
}
