package api

// NodeConfig declares one host, router or container node.
type NodeConfig struct {
	Name  string `yaml:"name"`
	Kind  string `yaml:"kind"`  // host (default), router or container
	Image string `yaml:"image"` // container kind only
}

// SwitchConfig declares one L2 switch.
type SwitchConfig struct {
	Name string `yaml:"name"`
}

// NetworkConfig declares an address block that auto-assigns addresses
// to the interfaces of links referencing it.
type NetworkConfig struct {
	Name string `yaml:"name"`
	CIDR string `yaml:"cidr"`
}

// TopoConfig is the declarative form of a whole topology.
type TopoConfig struct {
	Nodes    []NodeConfig    `yaml:"nodes"`
	Switches []SwitchConfig  `yaml:"switches"`
	Networks []NetworkConfig `yaml:"networks"`
	Links    []LinkConfig    `yaml:"links"`
}

// Config is one self-contained emulation run: a topology and,
// optionally, an experiment over it.
type Config struct {
	Topology   TopoConfig        `yaml:"topology"`
	Experiment *ExperimentConfig `yaml:"experiment"`
}
