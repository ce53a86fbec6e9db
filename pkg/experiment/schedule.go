package experiment

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Well-known control ports of the measurement tools. Their control
// connections are excluded from socket-stats capture so the
// instrumentation never measures itself.
const (
	netperfControlPort = 12865
	iperf3ControlPort  = 5201
)

// endpointKey identifies one measured endpoint pair. Socket-stats and
// ping sampling run once per key, over the union of all flow windows
// sharing it.
type endpointKey struct {
	SrcNS   string
	DstNS   string
	DstAddr string
}

// window is a merged measurement time-window. The zero-flow window is
// [+inf, -inf] so the first union always narrows it correctly.
type window struct {
	Start time.Duration
	Stop  time.Duration
}

func newWindow() window {
	return window{Start: math.MaxInt64, Stop: math.MinInt64}
}

// union widens the window to cover [start, stop]. Union is commutative
// and associative, so flow order never matters.
func (w window) union(start, stop time.Duration) window {
	if start < w.Start {
		w.Start = start
	}
	if stop > w.Stop {
		w.Stop = stop
	}
	return w
}

// clientJob is one traffic-generation process to spawn.
type clientJob struct {
	SrcNS    string
	DstNS    string
	DstAddr  string
	Start    time.Duration
	Duration time.Duration
	Count    int
	Options  FlowOptions
}

// coapJob is one CoAP client process to spawn.
type coapJob struct {
	SrcNS   string
	DstNS   string
	DstAddr string
	ConMsgs int
	NonMsgs int
	Options CoapOptions
}

// schedule is the deduplicated, time-resolved execution plan derived
// from the flow list.
type schedule struct {
	NetperfClients []clientJob
	NetperfServers []string // destination namespaces, first-seen order
	Iperf3Clients  []clientJob
	Iperf3Servers  []string
	CoapClients    []coapJob
	CoapServers    []coapJob // one per destination namespace, first-seen

	SsWindows   map[endpointKey]window
	PingWindows map[endpointKey]window
	SsFilter    string
	SsRequired  bool

	Stop time.Duration // overall experiment stop time
}

// computeSchedule classifies flows by transport, dedupes server
// placement per destination namespace, and merges the per-endpoint
// measurement windows.
func computeSchedule(flows []Flow, coapFlows []CoapFlow) (*schedule, error) {
	s := &schedule{
		SsWindows:   make(map[endpointKey]window),
		PingWindows: make(map[endpointKey]window),
	}
	servers := map[string]map[string]bool{
		"netperf": {},
		"iperf3":  {},
		"coap":    {},
	}
	ssFilters := make(map[string]bool)

	for _, flow := range flows {
		start, stop := flow.Window()
		if stop > s.Stop {
			s.Stop = stop
		}

		key := endpointKey{flow.Source(), flow.Dest(), flow.DestAddr().Addr()}
		addWindow(s.PingWindows, key, start, stop)

		job := clientJob{
			SrcNS:    flow.Source(),
			DstNS:    flow.Dest(),
			DstAddr:  flow.DestAddr().Addr(),
			Start:    start,
			Duration: stop - start,
			Count:    flow.Count(),
			Options:  flow.Options(),
		}

		switch flow.Options().Protocol {
		case TCP:
			ssFilters[fmt.Sprintf("sport != %d and dport != %d", netperfControlPort, netperfControlPort)] = true
			s.SsRequired = true
			addWindow(s.SsWindows, key, start, stop)

			// One netperf process per parallel flow.
			for i := 0; i < flow.Count(); i++ {
				single := job
				single.Count = 1
				s.NetperfClients = append(s.NetperfClients, single)
			}
			if !servers["netperf"][flow.Dest()] {
				servers["netperf"][flow.Dest()] = true
				s.NetperfServers = append(s.NetperfServers, flow.Dest())
			}

		case UDP:
			ssFilters[fmt.Sprintf("sport != %d and dport != %d", iperf3ControlPort, iperf3ControlPort)] = true

			// iperf3 multiplexes parallel flows in one process.
			s.Iperf3Clients = append(s.Iperf3Clients, job)
			if !servers["iperf3"][flow.Dest()] {
				servers["iperf3"][flow.Dest()] = true
				s.Iperf3Servers = append(s.Iperf3Servers, flow.Dest())
			}

		default:
			return nil, fmt.Errorf("unsupported protocol %q", flow.Options().Protocol)
		}
	}

	for _, flow := range coapFlows {
		job := coapJob{
			SrcNS:   flow.srcNS,
			DstNS:   flow.dstNS,
			DstAddr: flow.dstAddr.Addr(),
			ConMsgs: flow.conMsgs,
			NonMsgs: flow.nonMsgs,
			Options: flow.options,
		}
		s.CoapClients = append(s.CoapClients, job)
		if !servers["coap"][flow.dstNS] {
			servers["coap"][flow.dstNS] = true
			s.CoapServers = append(s.CoapServers, job)
		}
	}

	filters := make([]string, 0, len(ssFilters))
	for f := range ssFilters {
		filters = append(filters, f)
	}
	sort.Strings(filters)
	s.SsFilter = strings.Join(filters, " and ")

	return s, nil
}

func addWindow(m map[endpointKey]window, key endpointKey, start, stop time.Duration) {
	w, ok := m[key]
	if !ok {
		w = newWindow()
	}
	m[key] = w.union(start, stop)
}
