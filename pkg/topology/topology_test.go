package topology

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nestgo/pkg/address"
	"nestgo/pkg/engine"
	"nestgo/pkg/names"
)

// fakeEngine records every kernel operation and lets tests inject
// failures per operation name.
type fakeEngine struct {
	calls []string
	fail  map[string]error

	namespaces map[string]bool
	links      map[string]bool
	addrs      map[string][]string // "ns/iface" -> assigned addresses
	shaped     map[string]engine.Shaping
	pingReply  bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		fail:       make(map[string]error),
		namespaces: make(map[string]bool),
		links:      make(map[string]bool),
		addrs:      make(map[string][]string),
		shaped:     make(map[string]engine.Shaping),
		pingReply:  true,
	}
}

func (f *fakeEngine) record(op string, args ...string) error {
	f.calls = append(f.calls, op)
	_ = args
	return f.fail[op]
}

func (f *fakeEngine) CreateNamespace(id string) (string, error) {
	if err := f.record("CreateNamespace", id); err != nil {
		return "", err
	}
	f.namespaces[id] = true
	return "/var/run/netns/" + id, nil
}

func (f *fakeEngine) DeleteNamespace(id string) error {
	delete(f.namespaces, id)
	return f.record("DeleteNamespace", id)
}

func (f *fakeEngine) CreateVethPair(nameA, nameB string) error {
	if err := f.record("CreateVethPair", nameA, nameB); err != nil {
		return err
	}
	f.links[nameA] = true
	f.links[nameB] = true
	return nil
}

func (f *fakeEngine) DeleteLink(name string) error {
	delete(f.links, name)
	return f.record("DeleteLink", name)
}

func (f *fakeEngine) MoveToNamespace(ifaceName, nsPath string) error {
	return f.record("MoveToNamespace", ifaceName, nsPath)
}

func (f *fakeEngine) AddAddress(nsPath, ifaceName string, addr address.Address) error {
	if err := f.record("AddAddress"); err != nil {
		return err
	}
	key := nsPath + "/" + ifaceName
	f.addrs[key] = append(f.addrs[key], addr.String())
	return nil
}

func (f *fakeEngine) DeleteAddress(nsPath, ifaceName string, addr address.Address) error {
	return f.record("DeleteAddress")
}

func (f *fakeEngine) AddDefaultRoute(nsPath, ifaceName string) error {
	return f.record("AddDefaultRoute")
}

func (f *fakeEngine) SetShaping(nsPath, ifaceName string, s engine.Shaping) error {
	if err := f.record("SetShaping"); err != nil {
		return err
	}
	f.shaped[ifaceName] = s
	return nil
}

func (f *fakeEngine) SetupIngressShaping(nsPath, ifaceName, shaperName string, s engine.Shaping) error {
	if err := f.record("SetupIngressShaping"); err != nil {
		return err
	}
	f.shaped[shaperName] = s
	return nil
}

func (f *fakeEngine) EnableForwarding(nsPath string) error { return f.record("EnableForwarding") }
func (f *fakeEngine) DisableDAD(nsPath string) error       { return f.record("DisableDAD") }

func (f *fakeEngine) Ping(nsPath string, dst address.Address) (bool, error) {
	if err := f.record("Ping"); err != nil {
		return false, err
	}
	return f.pingReply, nil
}

func newTestTopology(t *testing.T) (*Topology, *fakeEngine) {
	t.Helper()
	eng := newFakeEngine()
	return New(eng, WithDeterministicNames()), eng
}

func TestPointToPointPing(t *testing.T) {
	topo, eng := newTestTopology(t)

	h1, err := topo.NewNode("h1")
	require.NoError(t, err)
	h2, err := topo.NewNode("h2")
	require.NoError(t, err)

	eth1, eth2, err := topo.Connect(h1, h2)
	require.NoError(t, err)
	assert.Equal(t, "h1-h2-0", eth1.Name())
	assert.Equal(t, "h2-h1-0", eth2.Name())
	assert.Same(t, eth2, eth1.Peer())

	require.NoError(t, eth1.SetAddress("10.0.0.1/24"))
	require.NoError(t, eth2.SetAddress("10.0.0.2/24"))

	require.NoError(t, eth1.SetAttributes("5mbit", "5ms"))
	require.NoError(t, eth2.SetAttributes("10mbit", "100ms"))
	assert.Equal(t, uint64(5_000_000), eng.shaped["h1-h2-0"].RateBps)
	assert.Equal(t, uint64(10_000_000), eng.shaped["h2-h1-0"].RateBps)

	assert.True(t, h1.Ping(eth2.Address()))

	eng.pingReply = false
	assert.False(t, h1.Ping(eth2.Address()))
}

func TestSetAttributesLeafQdisc(t *testing.T) {
	topo, eng := newTestTopology(t)

	h1, _ := topo.NewNode("h1")
	h2, _ := topo.NewNode("h2")
	eth1, _, err := topo.Connect(h1, h2)
	require.NoError(t, err)

	require.NoError(t, eth1.SetAttributes("10mbit", "40ms", "codel"))
	s := eng.shaped["h1-h2-0"]
	assert.Equal(t, uint64(10_000_000), s.RateBps)
	assert.Equal(t, 40*time.Millisecond, s.Delay)
	assert.Equal(t, "codel", s.Qdisc)

	// A qdisc request with no rate or delay still reaches the engine.
	eth2 := eth1.Peer()
	require.NoError(t, eth2.SetAttributes("", "", "fq_codel"))
	assert.Equal(t, "fq_codel", eng.shaped["h2-h1-0"].Qdisc)
	assert.False(t, eng.shaped["h2-h1-0"].Empty())
}

func TestConnectRollsBackOnMoveFailure(t *testing.T) {
	topo, eng := newTestTopology(t)

	h1, err := topo.NewNode("h1")
	require.NoError(t, err)
	h2, err := topo.NewNode("h2")
	require.NoError(t, err)

	eng.fail["MoveToNamespace"] = errors.New("boom")
	_, _, err = topo.Connect(h1, h2)
	require.Error(t, err)

	// Neither end survives a failed move, and neither node gained an
	// interface.
	assert.Empty(t, h1.Interfaces())
	assert.Empty(t, h2.Interfaces())
	assert.Contains(t, eng.calls, "DeleteLink")
}

func TestInterfaceNameLengthEnforced(t *testing.T) {
	topo, _ := newTestTopology(t)

	h1, err := topo.NewNode("node-with-long")
	require.NoError(t, err)
	h2, err := topo.NewNode("other")
	require.NoError(t, err)

	_, _, err = topo.Connect(h1, h2)
	require.Error(t, err)

	var tooLong *names.NameTooLongError
	require.True(t, errors.As(err, &tooLong))
	assert.Contains(t, err.Error(), "node-with-long-other-0")
}

func TestNodeNameLengthEnforced(t *testing.T) {
	topo, _ := newTestTopology(t)

	_, err := topo.NewNode("looonginvalidname")
	require.Error(t, err)

	var tooLong *names.NameTooLongError
	require.True(t, errors.As(err, &tooLong))
	assert.Contains(t, err.Error(), "looonginvalidname")
}

func TestMixedFamilyAddressOrder(t *testing.T) {
	topo, _ := newTestTopology(t)

	h1, _ := topo.NewNode("h1")
	h2, _ := topo.NewNode("h2")
	eth1, _, err := topo.Connect(h1, h2)
	require.NoError(t, err)

	require.NoError(t, eth1.SetAddress("10.0.0.1/24", "2001:db8::1/64", "10.0.1.1/24"))

	v4 := eth1.Addresses(true, false)
	require.Len(t, v4, 2)
	assert.Equal(t, "10.0.0.1/24", v4[0].String())
	assert.Equal(t, "10.0.1.1/24", v4[1].String())

	v6 := eth1.Addresses(false, true)
	require.Len(t, v6, 1)
	assert.Equal(t, "2001:db8::1/64", v6[0].String())

	all := eth1.Addresses(true, true)
	require.Len(t, all, 3)
	assert.Equal(t, "2001:db8::1/64", all[1].String())
}

func TestDeleteAddress(t *testing.T) {
	topo, _ := newTestTopology(t)

	h1, _ := topo.NewNode("h1")
	h2, _ := topo.NewNode("h2")
	eth1, _, err := topo.Connect(h1, h2)
	require.NoError(t, err)
	require.NoError(t, eth1.SetAddress("10.0.0.1/24", "10.0.0.2/24"))

	// Deleting an address that was never assigned leaves the list alone.
	eth1.DeleteAddress(address.MustNew("192.168.0.1/24"))
	assert.Len(t, eth1.Addresses(true, true), 2)

	eth1.DeleteAddress(address.MustNew("10.0.0.1/24"))
	rest := eth1.Addresses(true, true)
	require.Len(t, rest, 1)
	assert.Equal(t, "10.0.0.2/24", rest[0].String())
}

func TestAddDefaultRouteOwnership(t *testing.T) {
	topo, eng := newTestTopology(t)

	h1, _ := topo.NewNode("h1")
	h2, _ := topo.NewNode("h2")
	eth1, eth2, err := topo.Connect(h1, h2)
	require.NoError(t, err)

	require.NoError(t, h1.AddDefaultRoute(eth1))
	assert.Contains(t, eng.calls, "AddDefaultRoute")

	// A route can only leave through the node's own interface.
	assert.Error(t, h1.AddDefaultRoute(eth2))
}

func TestInNetworkClearedOnError(t *testing.T) {
	topo, _ := newTestTopology(t)
	n, err := topo.NewNetwork("10.0.0.0/24")
	require.NoError(t, err)

	sentinel := errors.New("builder failed")
	err = topo.InNetwork(n, func() error { return sentinel })
	assert.ErrorIs(t, err, sentinel)

	// The pointer is cleared even on the error path, so a second scope
	// is accepted.
	require.NoError(t, topo.InNetwork(n, func() error { return nil }))
}

func TestInNetworkRejectsNesting(t *testing.T) {
	topo, _ := newTestTopology(t)
	n1, _ := topo.NewNetwork("10.0.0.0/24")
	n2, _ := topo.NewNetwork("10.0.1.0/24")

	err := topo.InNetwork(n1, func() error {
		return topo.InNetwork(n2, func() error { return nil })
	})
	assert.Error(t, err)
}

func TestAssignAddresses(t *testing.T) {
	topo, _ := newTestTopology(t)
	n, err := topo.NewNetwork("10.0.0.0/24")
	require.NoError(t, err)

	h1, _ := topo.NewNode("h1")
	h2, _ := topo.NewNode("h2")
	h3, _ := topo.NewNode("h3")

	var eth1, eth2, eth3 *Interface
	err = topo.InNetwork(n, func() error {
		var err error
		eth1, eth2, err = topo.Connect(h1, h2)
		if err != nil {
			return err
		}
		eth3, _, err = topo.Connect(h3, h2)
		return err
	})
	require.NoError(t, err)

	// Pre-assigned interfaces are skipped by auto-assignment.
	require.NoError(t, eth3.SetAddress("10.0.0.100/24"))
	require.NoError(t, topo.AssignAddresses())

	assert.Equal(t, "10.0.0.1/24", eth1.Address().String())
	assert.Equal(t, "10.0.0.2/24", eth2.Address().String())
	assert.Equal(t, "10.0.0.100/24", eth3.Address().String())
}

func TestTeardownDeletesEverything(t *testing.T) {
	topo, eng := newTestTopology(t)

	_, err := topo.NewNode("h1")
	require.NoError(t, err)
	_, err = topo.NewRouter("r1")
	require.NoError(t, err)
	assert.Len(t, eng.namespaces, 2)

	topo.Teardown()
	assert.Empty(t, eng.namespaces)

	// Teardown is idempotent.
	calls := len(eng.calls)
	topo.Teardown()
	assert.Equal(t, calls, len(eng.calls))
}

func TestIngressShaping(t *testing.T) {
	topo, eng := newTestTopology(t)

	h1, _ := topo.NewNode("h1")
	h2, _ := topo.NewNode("h2")
	eth1, _, err := topo.Connect(h1, h2)
	require.NoError(t, err)

	require.NoError(t, eth1.SetIngressAttributes("5mbit", "5ms"))
	assert.Equal(t, "ifb-h1-h2-0", eth1.ShaperName())
	assert.Equal(t, uint64(5_000_000), eng.shaped["ifb-h1-h2-0"].RateBps)
}

func TestIngressShaperNameLengthEnforced(t *testing.T) {
	topo, _ := newTestTopology(t)

	h1, _ := topo.NewNode("abcdefgh")
	h2, _ := topo.NewNode("ij")
	eth1, _, err := topo.Connect(h1, h2)
	require.NoError(t, err)
	require.Equal(t, "abcdefgh-ij-0", eth1.Name())

	err = eth1.SetIngressAttributes("5mbit", "5ms")
	require.Error(t, err)

	// The error names the derived shaping interface, not the original.
	var tooLong *names.NameTooLongError
	require.True(t, errors.As(err, &tooLong))
	assert.Equal(t, "ifb-abcdefgh-ij-0", tooLong.Name)
}

// fakeBridger stands in for the OVS backend.
type fakeBridger struct {
	bridges map[string]bool
	ports   map[string][]string
}

func newFakeBridger() *fakeBridger {
	return &fakeBridger{bridges: make(map[string]bool), ports: make(map[string][]string)}
}

func (b *fakeBridger) CreateBridge(name string) error {
	if b.bridges[name] {
		return fmt.Errorf("bridge %s exists", name)
	}
	b.bridges[name] = true
	return nil
}

func (b *fakeBridger) DeleteBridge(name string) error {
	delete(b.bridges, name)
	return nil
}

func (b *fakeBridger) AddPort(bridge, port string) error {
	b.ports[bridge] = append(b.ports[bridge], port)
	return nil
}

func TestSwitchTopology(t *testing.T) {
	eng := newFakeEngine()
	bridger := newFakeBridger()
	topo := New(eng, WithDeterministicNames(), WithBridger(bridger))

	s, err := topo.NewSwitch("s1")
	require.NoError(t, err)
	assert.True(t, bridger.bridges["s1"])

	h1, _ := topo.NewNode("h1")
	h2, _ := topo.NewNode("h2")

	n, err := topo.NewNetwork("10.0.0.0/24")
	require.NoError(t, err)

	var eth1, eth2 *Interface
	err = topo.InNetwork(n, func() error {
		var err error
		if eth1, err = topo.ConnectToSwitch(h1, s); err != nil {
			return err
		}
		eth2, err = topo.ConnectToSwitch(h2, s)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"s1-h1-0", "s1-h2-0"}, bridger.ports["s1"])

	require.NoError(t, topo.AssignAddresses())
	assert.Equal(t, "10.0.0.1/24", eth1.Address().String())
	assert.Equal(t, "10.0.0.2/24", eth2.Address().String())

	topo.Teardown()
	assert.Empty(t, bridger.bridges)
	assert.Empty(t, eng.namespaces)
}
