// Package topology holds the entity graph of an emulated network:
// nodes, routers, switches, interfaces and networks, backed by kernel
// namespaces and veth pairs.
//
// All process-wide bookkeeping (the topology map, the name registry,
// the ambient network pointer) hangs off a Topology instance created
// per run and injected into every constructor, so nothing here is a
// true global.
package topology

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"nestgo/pkg/engine"
	"nestgo/pkg/names"
	"nestgo/pkg/topomap"
)

// Bridger is the switch backend: bridges on the host side.
type Bridger interface {
	CreateBridge(name string) error
	DeleteBridge(name string) error
	AddPort(bridge, port string) error
}

// ContainerRunner is the container-backed node backend.
type ContainerRunner interface {
	Start(ctx context.Context, name, image string) (string, error)
	Remove(ctx context.Context, name string) error
}

// Topology owns everything created during one emulation run and is the
// single handle for tearing it all down again.
type Topology struct {
	eng        engine.Engine
	bridger    Bridger
	containers ContainerRunner

	names *names.Registry
	tmap  *topomap.Map
	log   *logrus.Entry

	mu       sync.Mutex
	current  *Network
	networks []*Network

	randomNames bool
}

// Option configures a Topology.
type Option func(*Topology)

// WithDeterministicNames disables random name generation. Kernel names
// are then the user-supplied names (or derived "<a>-<b>-<n>" interface
// names), which keeps runs reproducible but requires the caller to
// avoid collisions with leftover kernel objects.
func WithDeterministicNames() Option {
	return func(t *Topology) { t.randomNames = false }
}

// WithBridger overrides the OVS switch backend.
func WithBridger(b Bridger) Option {
	return func(t *Topology) { t.bridger = b }
}

// WithContainerRunner overrides the docker container backend.
func WithContainerRunner(c ContainerRunner) Option {
	return func(t *Topology) { t.containers = c }
}

// New creates an empty topology driven by eng.
func New(eng engine.Engine, opts ...Option) *Topology {
	t := &Topology{
		eng:         eng,
		names:       names.NewRegistry(0),
		tmap:        topomap.New(),
		log:         logrus.WithField("component", "topology"),
		randomNames: true,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.names.SetDeterministic(!t.randomNames)
	return t
}

// Engine returns the kernel engine driving this topology.
func (t *Topology) Engine() engine.Engine { return t.eng }

// Map returns the registry of live namespaces and interfaces.
func (t *Topology) Map() *topomap.Map { return t.tmap }

// allocName turns a user-facing entity name into a unique kernel name.
func (t *Topology) allocName(name string) (string, error) {
	if t.randomNames {
		return t.names.Allocate(name)
	}
	if err := t.names.Reserve(name); err != nil {
		return "", err
	}
	return name, nil
}

// Teardown destroys every kernel object this topology created. It is
// idempotent and safe to defer unconditionally: namespaces already gone
// are skipped with a warning, never an error.
func (t *Topology) Teardown() {
	t.mu.Lock()
	t.current = nil
	t.mu.Unlock()

	t.tmap.DeleteAll(func(ns *topomap.Namespace) error {
		switch ns.Backend {
		case topomap.BackendContainer:
			return t.containers.Remove(context.Background(), ns.ID)
		case topomap.BackendBridge:
			return t.bridger.DeleteBridge(ns.Handle)
		default:
			return t.eng.DeleteNamespace(ns.ID)
		}
	})
	t.log.Info("cleaned up emulation environment")
}
