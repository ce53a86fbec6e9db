package topology

import (
	"fmt"

	"nestgo/pkg/address"
)

// Network is a shared address block plus the ordered interfaces drawing
// addresses from it. It is used only for address auto-assignment; the
// interfaces stay owned by their namespaces.
type Network struct {
	t          *Topology
	addr       address.Address
	interfaces []*Interface
	assigned   int
}

// NewNetwork registers an address block, e.g. "192.168.1.0/24".
func (t *Topology) NewNetwork(cidr string) (*Network, error) {
	addr, err := address.New(cidr)
	if err != nil {
		return nil, err
	}
	n := &Network{t: t, addr: addr.Network()}
	t.tmap.RegisterNetwork()
	t.mu.Lock()
	t.networks = append(t.networks, n)
	t.mu.Unlock()
	return n, nil
}

// Address returns the network's address block.
func (n *Network) Address() address.Address { return n.addr }

// Interfaces returns the attached interfaces in attachment order.
func (n *Network) Interfaces() []*Interface { return n.interfaces }

func (n *Network) addInterface(iface *Interface) {
	n.interfaces = append(n.interfaces, iface)
	iface.network = n
	n.t.tmap.InterfaceJoinedNetwork()
}

// InNetwork makes n the implicit target for address auto-assignment
// while fn runs. Only one network can be the implicit target at a time,
// and the pointer is cleared on every exit path, error included.
func (t *Topology) InNetwork(n *Network, fn func() error) error {
	t.mu.Lock()
	if t.current != nil {
		t.mu.Unlock()
		return fmt.Errorf("network %s is already the implicit target", t.current.addr)
	}
	t.current = n
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.current = nil
		t.mu.Unlock()
	}()
	return fn()
}

func (t *Topology) currentNetwork() *Network {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// AssignAddresses hands out consecutive host addresses from each
// network to its attached interfaces that have none yet. Interfaces
// outside any network are left alone, with a warning when some exist.
func (t *Topology) AssignAddresses() error {
	t.mu.Lock()
	networks := make([]*Network, len(t.networks))
	copy(networks, t.networks)
	t.mu.Unlock()

	for _, n := range networks {
		for _, iface := range n.interfaces {
			if len(iface.addrs) > 0 {
				continue
			}
			n.assigned++
			host, err := n.addr.Host(n.assigned)
			if err != nil {
				return fmt.Errorf("network %s exhausted: %w", n.addr, err)
			}
			if err := iface.assign(host); err != nil {
				return err
			}
		}
	}

	if orphans := t.tmap.Orphans(); orphans > 0 {
		t.log.Warnf("%d interface(s) belong to no network and got no address", orphans)
	}
	return nil
}
