package topology

import (
	"context"
	"fmt"

	"nestgo/pkg/address"
	"nestgo/pkg/topomap"
)

// Node is a host in the topology, backed by its own network namespace.
// A router is a Node with forwarding enabled.
type Node struct {
	t *Topology

	name    string
	id      string // kernel namespace name
	handle  string // namespace path
	backend topomap.Backend

	interfaces []*Interface
	forwarding bool
}

// NewNode creates a namespace-backed host named name.
func (t *Topology) NewNode(name string) (*Node, error) {
	id, err := t.allocName(name)
	if err != nil {
		return nil, err
	}
	handle, err := t.eng.CreateNamespace(id)
	if err != nil {
		return nil, err
	}
	n := &Node{t: t, name: name, id: id, handle: handle, backend: topomap.BackendNetns}
	t.tmap.RegisterNamespace(&topomap.Namespace{
		ID:      id,
		Name:    name,
		Handle:  handle,
		Backend: topomap.BackendNetns,
	})
	return n, nil
}

// NewRouter creates a Node with IPv4 and IPv6 forwarding enabled.
func (t *Topology) NewRouter(name string) (*Node, error) {
	n, err := t.NewNode(name)
	if err != nil {
		return nil, err
	}
	if err := n.EnableForwarding(); err != nil {
		return nil, err
	}
	return n, nil
}

// NewContainerNode creates a Node whose namespace belongs to a running
// container of the given image.
func (t *Topology) NewContainerNode(ctx context.Context, name, image string) (*Node, error) {
	if t.containers == nil {
		return nil, fmt.Errorf("no container backend configured")
	}
	id, err := t.allocName(name)
	if err != nil {
		return nil, err
	}
	handle, err := t.containers.Start(ctx, id, image)
	if err != nil {
		return nil, err
	}
	n := &Node{t: t, name: name, id: id, handle: handle, backend: topomap.BackendContainer}
	t.tmap.RegisterNamespace(&topomap.Namespace{
		ID:      id,
		Name:    name,
		Handle:  handle,
		Backend: topomap.BackendContainer,
	})
	return n, nil
}

// Name returns the user-facing node name.
func (n *Node) Name() string { return n.name }

// ID returns the kernel namespace name.
func (n *Node) ID() string { return n.id }

// Interfaces returns the node's interfaces in creation order.
func (n *Node) Interfaces() []*Interface { return n.interfaces }

// EnableForwarding turns the node into a packet forwarder.
func (n *Node) EnableForwarding() error {
	if err := n.t.eng.EnableForwarding(n.handle); err != nil {
		return err
	}
	n.forwarding = true
	if ns, ok := n.t.tmap.Namespace(n.id); ok {
		ns.Forwarding = true
	}
	return nil
}

// DisableDAD turns off IPv6 duplicate address detection, so freshly
// assigned IPv6 addresses are usable immediately.
func (n *Node) DisableDAD() error {
	return n.t.eng.DisableDAD(n.handle)
}

// AddDefaultRoute installs a default route out of via.
func (n *Node) AddDefaultRoute(via *Interface) error {
	if via.node != n {
		return fmt.Errorf("interface %s does not belong to node %s", via.id, n.name)
	}
	return n.t.eng.AddDefaultRoute(n.handle, via.id)
}

// Ping sends one ICMP echo to dst and reports whether a reply came
// back. Failures are logged, not returned: reachability is the answer.
func (n *Node) Ping(dst address.Address) bool {
	ok, err := n.t.eng.Ping(n.handle, dst)
	log := n.t.log.WithFields(map[string]interface{}{"from": n.name, "to": dst.Addr()})
	switch {
	case err != nil:
		log.WithError(err).Warn("ping failed")
		return false
	case ok:
		log.Info("ping successful")
	default:
		log.Warn("ping received no reply")
	}
	return ok
}
