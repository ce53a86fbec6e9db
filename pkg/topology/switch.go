package topology

import (
	"fmt"

	"nestgo/pkg/topomap"
)

// Switch is an L2 segment backed by a host-side OVS bridge. Node
// interfaces plug into it through the host end of their veth pair.
type Switch struct {
	t    *Topology
	name string
	id   string // bridge name
}

// NewSwitch creates a bridge-backed switch named name.
func (t *Topology) NewSwitch(name string) (*Switch, error) {
	if t.bridger == nil {
		return nil, fmt.Errorf("no switch backend configured")
	}
	id, err := t.allocName(name)
	if err != nil {
		return nil, err
	}
	if err := t.bridger.CreateBridge(id); err != nil {
		return nil, err
	}
	s := &Switch{t: t, name: name, id: id}
	t.tmap.RegisterNamespace(&topomap.Namespace{
		ID:      id,
		Name:    name,
		Handle:  id,
		Backend: topomap.BackendBridge,
	})
	return s, nil
}

// Name returns the user-facing switch name.
func (s *Switch) Name() string { return s.name }

// ConnectToSwitch plugs a node into a switch and returns the node-side
// interface. The switch-side veth end stays in the host namespace as a
// bridge port.
func (t *Topology) ConnectToSwitch(n *Node, s *Switch, opts ...ConnectOption) (*Interface, error) {
	var cfg connectConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	nodeSide, err := t.ifaceName(n.name, s.name)
	if err != nil {
		return nil, err
	}
	portSide, err := t.ifaceName(s.name, n.name)
	if err != nil {
		return nil, err
	}

	if err := t.eng.CreateVethPair(nodeSide, portSide); err != nil {
		return nil, err
	}
	if err := t.eng.MoveToNamespace(nodeSide, n.handle); err != nil {
		t.rollbackLink(portSide)
		return nil, err
	}
	if err := t.bridger.AddPort(s.id, portSide); err != nil {
		t.rollbackLink(portSide)
		return nil, err
	}

	iface := &Interface{node: n, id: nodeSide}
	n.interfaces = append(n.interfaces, iface)

	t.tmap.RegisterInterface(&topomap.Interface{
		ID: nodeSide, Name: nodeSide, NamespaceID: n.id, PeerID: portSide,
	})
	t.tmap.RegisterInterface(&topomap.Interface{
		ID: portSide, Name: portSide, NamespaceID: s.id, PeerID: nodeSide,
	})

	network := cfg.network
	if network == nil {
		network = t.currentNetwork()
	}
	if network != nil {
		network.addInterface(iface)
	}

	return iface, nil
}
