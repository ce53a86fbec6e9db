package api

// FlowConfig declares one traffic flow. Times are offsets in seconds
// from experiment start.
type FlowConfig struct {
	Src      string  `yaml:"src"`
	Dst      string  `yaml:"dst"`
	Protocol string  `yaml:"protocol"` // TCP or UDP
	Start    float64 `yaml:"start"`
	Stop     float64 `yaml:"stop"`
	Count    int     `yaml:"count"`

	CongestionAlgorithm string `yaml:"congAlgo"`        // TCP only
	TargetBandwidth     string `yaml:"targetBandwidth"` // UDP only
}

// CoapFlowConfig declares a batch of CoAP messages.
type CoapFlowConfig struct {
	Src           string `yaml:"src"`
	Dst           string `yaml:"dst"`
	ConMessages   int    `yaml:"conMessages"`
	NonMessages   int    `yaml:"nonMessages"`
	ServerContent string `yaml:"serverContent"`
}

// QdiscStatsConfig requests qdisc statistics on the n-th interface of
// a node.
type QdiscStatsConfig struct {
	Node      string `yaml:"node"`
	Interface int    `yaml:"interface"`
}

// ExperimentConfig is the declarative form of one experiment.
type ExperimentConfig struct {
	Name       string             `yaml:"name"`
	Flows      []FlowConfig       `yaml:"flows"`
	CoapFlows  []CoapFlowConfig   `yaml:"coapFlows"`
	QdiscStats []QdiscStatsConfig `yaml:"qdiscStats"`
	Plots      bool               `yaml:"plots"`
	OutputDir  string             `yaml:"outputDir"`
}
