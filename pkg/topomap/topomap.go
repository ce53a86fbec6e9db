// Package topomap keeps the registry of every namespace, interface and
// network created during a run. It is the single source of truth for
// cleanup: whatever ends up here is guaranteed to be destroyed when the
// run ends, however it ends.
package topomap

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Backend identifies how a namespace is materialized in the kernel, and
// therefore how it must be torn down.
type Backend string

const (
	// BackendNetns is a named network namespace under /var/run/netns.
	BackendNetns Backend = "netns"
	// BackendContainer is the network namespace of a running container.
	BackendContainer Backend = "container"
	// BackendBridge is a host-side OVS bridge standing in for a switch.
	BackendBridge Backend = "bridge"
)

// Namespace is the registry's view of one isolated network stack.
type Namespace struct {
	ID         string
	Name       string
	Handle     string // kernel handle: netns path, /proc/<pid>/ns/net or bridge name
	Backend    Backend
	Interfaces []string
	Forwarding bool
}

// Interface is the registry's view of one end of a virtual link.
type Interface struct {
	ID          string
	Name        string
	NamespaceID string
	PeerID      string
}

// Map is the process-wide topology registry. Mutated by entity
// constructors, read by cleanup and name-uniqueness checks.
type Map struct {
	mu         sync.Mutex
	namespaces map[string]*Namespace
	order      []string
	interfaces map[string]*Interface
	networks   int
	orphans    int
}

func New() *Map {
	return &Map{
		namespaces: make(map[string]*Namespace),
		interfaces: make(map[string]*Interface),
	}
}

// RegisterNamespace records a freshly created namespace.
func (m *Map) RegisterNamespace(ns *Namespace) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.namespaces[ns.ID] = ns
	m.order = append(m.order, ns.ID)
}

// RegisterInterface records an interface under its owning namespace.
// Until the interface joins a Network it counts as an orphan.
func (m *Map) RegisterInterface(iface *Interface) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interfaces[iface.ID] = iface
	if ns, ok := m.namespaces[iface.NamespaceID]; ok {
		ns.Interfaces = append(ns.Interfaces, iface.ID)
	}
	m.orphans++
}

// RegisterNetwork records that one more network exists.
func (m *Map) RegisterNetwork() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.networks++
}

// InterfaceJoinedNetwork marks one orphan interface as attached.
func (m *Map) InterfaceJoinedNetwork() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orphans--
}

// Namespace returns the metadata for id.
func (m *Map) Namespace(id string) (*Namespace, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.namespaces[id]
	return ns, ok
}

// Interface returns the metadata for id.
func (m *Map) Interface(id string) (*Interface, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	iface, ok := m.interfaces[id]
	return iface, ok
}

// Namespaces returns all registered namespaces in creation order.
func (m *Map) Namespaces() []*Namespace {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Namespace, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.namespaces[id])
	}
	return out
}

// Orphans returns the count of interfaces not attached to any network.
func (m *Map) Orphans() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orphans
}

// Networks returns the count of registered networks.
func (m *Map) Networks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.networks
}

// DeleteAll tears down every registered namespace through del and
// empties the registry. It is idempotent and never raises: a deleter
// error (say, the kernel object was already removed out-of-band) is
// logged and teardown moves on to the next entry.
func (m *Map) DeleteAll(del func(ns *Namespace) error) {
	m.mu.Lock()
	order := m.order
	namespaces := m.namespaces
	m.namespaces = make(map[string]*Namespace)
	m.interfaces = make(map[string]*Interface)
	m.order = nil
	m.networks = 0
	m.orphans = 0
	m.mu.Unlock()

	for _, id := range order {
		ns := namespaces[id]
		if err := del(ns); err != nil {
			logrus.WithField("namespace", ns.ID).WithError(err).
				Warn("could not delete namespace, it may already be gone")
		}
	}
}
