package topology

import (
	"errors"
	"fmt"

	"nestgo/pkg/names"
	"nestgo/pkg/topomap"
)

// ConnectOption configures a Connect call.
type ConnectOption func(*connectConfig)

type connectConfig struct {
	network *Network
}

// WithNetwork attaches both ends of the new link to n for address
// auto-assignment.
func WithNetwork(n *Network) ConnectOption {
	return func(c *connectConfig) { c.network = n }
}

// Connect joins two nodes with a veth pair and returns the two ends,
// first a's, then b's. Either both interfaces come into existence or
// neither does. If a network is in scope (explicitly or ambiently),
// both ends attach to it.
func (t *Topology) Connect(a, b *Node, opts ...ConnectOption) (*Interface, *Interface, error) {
	var cfg connectConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	nameAB, err := t.ifaceName(a.name, b.name)
	if err != nil {
		return nil, nil, err
	}
	nameBA, err := t.ifaceName(b.name, a.name)
	if err != nil {
		return nil, nil, err
	}

	if err := t.eng.CreateVethPair(nameAB, nameBA); err != nil {
		return nil, nil, err
	}
	if err := t.eng.MoveToNamespace(nameAB, a.handle); err != nil {
		t.rollbackLink(nameBA)
		return nil, nil, err
	}
	if err := t.eng.MoveToNamespace(nameBA, b.handle); err != nil {
		// The a side already moved; deleting the b side (still in the
		// current namespace) tears down the pair as a unit.
		t.rollbackLink(nameBA)
		return nil, nil, err
	}

	ifaceA := &Interface{node: a, id: nameAB}
	ifaceB := &Interface{node: b, id: nameBA}
	ifaceA.peer = ifaceB
	ifaceB.peer = ifaceA
	a.interfaces = append(a.interfaces, ifaceA)
	b.interfaces = append(b.interfaces, ifaceB)

	t.tmap.RegisterInterface(&topomap.Interface{
		ID: nameAB, Name: nameAB, NamespaceID: a.id, PeerID: nameBA,
	})
	t.tmap.RegisterInterface(&topomap.Interface{
		ID: nameBA, Name: nameBA, NamespaceID: b.id, PeerID: nameAB,
	})

	network := cfg.network
	if network == nil {
		network = t.currentNetwork()
	}
	if network != nil {
		network.addInterface(ifaceA)
		network.addInterface(ifaceB)
	}

	return ifaceA, ifaceB, nil
}

// ifaceName derives a unique interface name for the a->b direction. In
// deterministic mode the documented rule is "<a>-<b>-<n>" with the
// smallest free n; the result is still subject to the kernel length
// limit and fails loudly when it exceeds it.
func (t *Topology) ifaceName(a, b string) (string, error) {
	if t.randomNames {
		return t.names.Allocate(a + "-" + b)
	}
	for n := 0; ; n++ {
		candidate := fmt.Sprintf("%s-%s-%d", a, b, n)
		err := t.names.Reserve(candidate)
		if err == nil {
			return candidate, nil
		}
		var dup *names.DuplicateNameError
		if errors.As(err, &dup) {
			continue
		}
		return "", err
	}
}

func (t *Topology) rollbackLink(name string) {
	if err := t.eng.DeleteLink(name); err != nil {
		t.log.WithError(err).Warnf("rollback of link %s failed", name)
	}
}
