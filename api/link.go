package api

// LinkAttrs are the shaping attributes of one direction of a link.
type LinkAttrs struct {
	Bandwidth string `yaml:"bandwidth"` // e.g. 5mbit
	Delay     string `yaml:"delay"`     // e.g. 5ms
	Qdisc     string `yaml:"qdisc"`     // leaf qdisc name, optional
}

// LinkConfig declares a veth link between two endpoints. An endpoint
// is a node name, or a switch name for the right side. Addresses come
// from the referenced network, or explicitly per side.
type LinkConfig struct {
	Left  string `yaml:"left"`
	Right string `yaml:"right"`

	Network      string `yaml:"network"`
	LeftAddress  string `yaml:"leftAddress"`
	RightAddress string `yaml:"rightAddress"`

	LeftAttrs  LinkAttrs `yaml:"leftAttrs"`
	RightAttrs LinkAttrs `yaml:"rightAttrs"`
}
