package driver

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"nestgo/api"
	"nestgo/pkg/address"
	"nestgo/pkg/experiment"
	"nestgo/pkg/topology"
)

// Driver turns declarative YAML configs into a live topology and, when
// requested, runs experiments over it. It owns the Topology and is
// responsible for destroying it.
type Driver struct {
	topo *topology.Topology
	log  *logrus.Entry

	nodes    map[string]*topology.Node
	switches map[string]*topology.Switch
	networks map[string]*topology.Network
}

// New wraps an existing topology.
func New(t *topology.Topology) *Driver {
	return &Driver{
		topo:     t,
		log:      logrus.WithField("component", "driver"),
		nodes:    make(map[string]*topology.Node),
		switches: make(map[string]*topology.Switch),
		networks: make(map[string]*topology.Network),
	}
}

// Topology returns the underlying topology.
func (d *Driver) Topology() *topology.Topology { return d.topo }

// FromFile reads and decodes a config document.
func FromFile(path string) (*api.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	var cfg api.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config file: %w", err)
	}
	return &cfg, nil
}

// Apply builds the declared topology: nodes first, then switches and
// networks, then links with their shaping attributes, and finally the
// network address auto-assignment.
func (d *Driver) Apply(ctx context.Context, cfg api.TopoConfig) error {
	for _, nc := range cfg.Nodes {
		if err := d.addNode(ctx, nc); err != nil {
			return err
		}
	}
	for _, sc := range cfg.Switches {
		s, err := d.topo.NewSwitch(sc.Name)
		if err != nil {
			return err
		}
		d.switches[sc.Name] = s
	}
	for _, nc := range cfg.Networks {
		n, err := d.topo.NewNetwork(nc.CIDR)
		if err != nil {
			return fmt.Errorf("network %s: %w", nc.Name, err)
		}
		d.networks[nc.Name] = n
	}
	for _, lc := range cfg.Links {
		if err := d.addLink(lc); err != nil {
			return err
		}
	}
	return d.topo.AssignAddresses()
}

func (d *Driver) addNode(ctx context.Context, nc api.NodeConfig) error {
	if _, existed := d.nodes[nc.Name]; existed {
		return fmt.Errorf("node %s declared twice", nc.Name)
	}
	var (
		n   *topology.Node
		err error
	)
	switch strings.ToLower(nc.Kind) {
	case "", "host":
		n, err = d.topo.NewNode(nc.Name)
	case "router":
		n, err = d.topo.NewRouter(nc.Name)
	case "container":
		n, err = d.topo.NewContainerNode(ctx, nc.Name, nc.Image)
	default:
		return fmt.Errorf("node %s has unknown kind %q", nc.Name, nc.Kind)
	}
	if err != nil {
		return err
	}
	d.nodes[nc.Name] = n
	return nil
}

func (d *Driver) addLink(lc api.LinkConfig) error {
	left, ok := d.nodes[lc.Left]
	if !ok {
		return fmt.Errorf("left node %s not found", lc.Left)
	}

	var opts []topology.ConnectOption
	if lc.Network != "" {
		network, ok := d.networks[lc.Network]
		if !ok {
			return fmt.Errorf("network %s not found", lc.Network)
		}
		opts = append(opts, topology.WithNetwork(network))
	}

	// The right endpoint is either a switch or a node.
	if s, ok := d.switches[lc.Right]; ok {
		iface, err := d.topo.ConnectToSwitch(left, s, opts...)
		if err != nil {
			return err
		}
		return applySide(iface, lc.LeftAddress, lc.LeftAttrs)
	}

	right, ok := d.nodes[lc.Right]
	if !ok {
		return fmt.Errorf("right node %s not found", lc.Right)
	}
	leftIface, rightIface, err := d.topo.Connect(left, right, opts...)
	if err != nil {
		return err
	}
	if err := applySide(leftIface, lc.LeftAddress, lc.LeftAttrs); err != nil {
		return err
	}
	return applySide(rightIface, lc.RightAddress, lc.RightAttrs)
}

func applySide(iface *topology.Interface, addr string, attrs api.LinkAttrs) error {
	if addr != "" {
		if err := iface.SetAddress(addr); err != nil {
			return err
		}
	}
	if attrs.Bandwidth == "" && attrs.Delay == "" && attrs.Qdisc == "" {
		return nil
	}
	if attrs.Qdisc != "" {
		return iface.SetAttributes(attrs.Bandwidth, attrs.Delay, attrs.Qdisc)
	}
	return iface.SetAttributes(attrs.Bandwidth, attrs.Delay)
}

// RunExperiment resolves the declared flows against the applied
// topology and runs them. The destination address of a flow defaults to
// the first address of the destination node's first interface.
func (d *Driver) RunExperiment(ctx context.Context, cfg api.ExperimentConfig) error {
	exp := experiment.New(cfg.Name)

	for _, fc := range cfg.Flows {
		src, dst, err := d.endpoints(fc.Src, fc.Dst)
		if err != nil {
			return err
		}
		dstAddr, err := d.destAddress(dst)
		if err != nil {
			return err
		}
		flow, err := experiment.NewFlow(src, dst, dstAddr,
			seconds(fc.Start), seconds(fc.Stop), fc.Count,
			experiment.FlowOptions{
				Protocol:            experiment.Protocol(strings.ToUpper(fc.Protocol)),
				CongestionAlgorithm: fc.CongestionAlgorithm,
				TargetBandwidth:     fc.TargetBandwidth,
			})
		if err != nil {
			return err
		}
		exp.AddFlow(flow)
	}

	for _, fc := range cfg.CoapFlows {
		src, dst, err := d.endpoints(fc.Src, fc.Dst)
		if err != nil {
			return err
		}
		dstAddr, err := d.destAddress(dst)
		if err != nil {
			return err
		}
		flow, err := experiment.NewCoapFlow(src, dst, dstAddr,
			fc.ConMessages, fc.NonMessages,
			experiment.CoapOptions{ServerContent: fc.ServerContent})
		if err != nil {
			return err
		}
		exp.AddCoapFlow(flow)
	}

	for _, qc := range cfg.QdiscStats {
		n, ok := d.nodes[qc.Node]
		if !ok {
			return fmt.Errorf("qdisc stats node %s not found", qc.Node)
		}
		ifaces := n.Interfaces()
		if qc.Interface < 0 || qc.Interface >= len(ifaces) {
			return fmt.Errorf("node %s has no interface %d", qc.Node, qc.Interface)
		}
		exp.RequireQdiscStats(ifaces[qc.Interface])
	}

	var opts []experiment.RunOption
	if cfg.OutputDir != "" {
		opts = append(opts, experiment.WithOutputDir(cfg.OutputDir))
	}
	if cfg.Plots {
		opts = append(opts, experiment.WithPlots())
	}
	return exp.Run(ctx, d.topo, opts...)
}

func (d *Driver) endpoints(src, dst string) (*topology.Node, *topology.Node, error) {
	s, ok := d.nodes[src]
	if !ok {
		return nil, nil, fmt.Errorf("src node %s not found", src)
	}
	t, ok := d.nodes[dst]
	if !ok {
		return nil, nil, fmt.Errorf("dst node %s not found", dst)
	}
	return s, t, nil
}

func (d *Driver) destAddress(n *topology.Node) (address.Address, error) {
	ifaces := n.Interfaces()
	if len(ifaces) == 0 {
		return address.Address{}, fmt.Errorf("node %s has no interface to target", n.Name())
	}
	a := ifaces[0].Address()
	if a.IsZero() {
		return address.Address{}, fmt.Errorf("node %s has no address to target", n.Name())
	}
	return a, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// ShowNodes prints the nodes and switches a config declares.
func ShowNodes(cfg api.TopoConfig) { writeNodes(os.Stdout, cfg) }

func writeNodes(w io.Writer, cfg api.TopoConfig) {
	for _, n := range cfg.Nodes {
		kind := n.Kind
		if kind == "" {
			kind = "host"
		}
		fmt.Fprintf(w, "Node: %s, Kind: %s\n", n.Name, kind)
	}
	for _, s := range cfg.Switches {
		fmt.Fprintf(w, "Switch: %s\n", s.Name)
	}
}

// ShowLinks prints the links a config declares.
func ShowLinks(cfg api.TopoConfig) { writeLinks(os.Stdout, cfg) }

func writeLinks(w io.Writer, cfg api.TopoConfig) {
	for _, l := range cfg.Links {
		fmt.Fprintf(w, "Link: %s <-> %s", l.Left, l.Right)
		if l.Network != "" {
			fmt.Fprintf(w, ", Network: %s", l.Network)
		}
		if l.LeftAttrs.Bandwidth != "" || l.LeftAttrs.Delay != "" {
			fmt.Fprintf(w, ", Bw: %s, Delay: %s", l.LeftAttrs.Bandwidth, l.LeftAttrs.Delay)
		}
		fmt.Fprintln(w)
	}
}

// Destroy tears down everything the driver built.
func (d *Driver) Destroy() {
	d.topo.Teardown()
}
