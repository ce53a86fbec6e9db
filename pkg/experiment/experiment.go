package experiment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"nestgo/pkg/experiment/tools"
	"nestgo/pkg/results"
	"nestgo/pkg/topology"
	"nestgo/pkg/topomap"
)

// ErrInterrupted reports an experiment cut short by cancellation.
// Partial results are discarded, not published.
var ErrInterrupted = errors.New("experiment interrupted, results are incomplete")

var log = logrus.WithField("component", "experiment")

// Experiment is a named collection of flows plus auxiliary stats
// requests. Build it up, then call Run exactly once.
type Experiment struct {
	name       string
	flows      []Flow
	coapFlows  []CoapFlow
	qdiscStats []*topology.Interface
	ran        bool
}

func New(name string) *Experiment {
	return &Experiment{name: name}
}

// Name returns the experiment name.
func (e *Experiment) Name() string { return e.name }

// AddFlow queues a flow for execution.
func (e *Experiment) AddFlow(f Flow) { e.flows = append(e.flows, f) }

// AddCoapFlow queues a CoAP flow for execution.
func (e *Experiment) AddCoapFlow(f CoapFlow) { e.coapFlows = append(e.coapFlows, f) }

// RequireQdiscStats requests qdisc statistics collection on iface for
// the whole experiment duration.
func (e *Experiment) RequireQdiscStats(iface *topology.Interface) {
	e.qdiscStats = append(e.qdiscStats, iface)
}

// RunConfig tunes a Run call.
type RunConfig struct {
	OutputDir string
	Progress  bool
	Plots     bool
}

// RunOption overrides a RunConfig field.
type RunOption func(*RunConfig)

// WithOutputDir sets where result JSON documents are written.
func WithOutputDir(dir string) RunOption {
	return func(c *RunConfig) { c.OutputDir = dir }
}

// WithoutProgress disables the progress display.
func WithoutProgress() RunOption {
	return func(c *RunConfig) { c.Progress = false }
}

// WithPlots enables the plotting phase.
func WithPlots() RunOption {
	return func(c *RunConfig) { c.Plots = true }
}

// Run executes the experiment in three strictly ordered phases:
// traffic generation and sampling, parsing, and (optionally) plotting.
// Each phase is fully joined before the next starts. Cancellation at
// any point still reaches the cleanup step that reaps every spawned
// process and clears the result stores.
func (e *Experiment) Run(ctx context.Context, topo *topology.Topology, opts ...RunOption) error {
	if e.ran {
		return fmt.Errorf("experiment %q has already run", e.name)
	}
	e.ran = true

	cfg := RunConfig{
		OutputDir: fmt.Sprintf("%s_results", e.name),
		Progress:  true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	sched, err := computeSchedule(e.flows, e.coapFlows)
	if err != nil {
		return err
	}

	stores := results.NewStores()
	defer reapNamespaceProcesses(topo)

	runners := e.buildRunners(sched, stores)
	if len(runners) == 0 {
		return fmt.Errorf("experiment %q has nothing to run", e.name)
	}

	log.Infof("running experiment %s", e.name)

	// Phase 1: traffic generation and sampling.
	generate := make([]worker, 0, len(runners)+1)
	for _, r := range runners {
		generate = append(generate, r.Run)
	}
	if cfg.Progress {
		generate = append(generate, progressWorker(sched.Stop))
	}
	runPhase(ctx, generate)
	if ctx.Err() != nil {
		return e.interrupted(stores)
	}

	// Phase 2: parsing.
	log.Info("parsing statistics...")
	parse := make([]worker, 0, len(runners))
	for _, r := range runners {
		parse = append(parse, r.Parse)
	}
	runPhase(ctx, parse)
	if ctx.Err() != nil {
		return e.interrupted(stores)
	}
	log.Info("parsing statistics complete")

	log.Info("output results as JSON dump...")
	if err := stores.WriteFiles(cfg.OutputDir); err != nil {
		return err
	}

	// Phase 3: plotting.
	if cfg.Plots {
		log.Info("plotting results...")
		plot := make([]worker, 0, 6)
		for _, store := range stores.All() {
			plot = append(plot, plotWorker(store, cfg.OutputDir))
		}
		runPhase(ctx, plot)
		if ctx.Err() != nil {
			return e.interrupted(stores)
		}
		log.Info("plotting complete")
	}

	log.Infof("experiment %s complete", e.name)
	return nil
}

func (e *Experiment) interrupted(stores *results.Stores) error {
	log.Warnf("experiment %s forcefully stopped, discarding partial results", e.name)
	stores.ClearAll()
	return ErrInterrupted
}

// buildRunners turns the schedule into runner instances, starting the
// deduplicated server processes along the way. A missing external tool
// degrades only its own category.
func (e *Experiment) buildRunners(sched *schedule, stores *results.Stores) []tools.Runner {
	var runners []tools.Runner

	if len(sched.NetperfClients) > 0 && tools.Available(tools.NetperfTool) {
		for _, ns := range sched.NetperfServers {
			if err := tools.StartNetserver(ns); err != nil {
				log.WithError(err).Warnf("could not start netserver in %s", ns)
			}
		}
		for _, job := range sched.NetperfClients {
			runners = append(runners, tools.NewNetperfRunner(
				job.SrcNS, job.DstAddr, job.Start, job.Duration,
				job.Options.CongestionAlgorithm, stores.Netperf))
		}
	}

	if len(sched.Iperf3Clients) > 0 && tools.Available(tools.Iperf3Tool) {
		for _, ns := range sched.Iperf3Servers {
			if err := tools.StartIperf3Server(ns); err != nil {
				log.WithError(err).Warnf("could not start iperf3 server in %s", ns)
			}
		}
		for _, job := range sched.Iperf3Clients {
			runners = append(runners, tools.NewIperf3Runner(
				job.SrcNS, job.DstAddr, job.Start, job.Duration,
				job.Count, job.Options.TargetBandwidth, stores.Iperf3))
		}
	}

	if sched.SsRequired && tools.Available(tools.SsTool) {
		for key, w := range sched.SsWindows {
			runners = append(runners, tools.NewSsRunner(
				key.SrcNS, key.DstNS, key.DstAddr,
				w.Start, w.Stop-w.Start, sched.SsFilter, stores.Ss))
		}
	}

	if len(sched.PingWindows) > 0 && tools.Available(tools.PingTool) {
		for key, w := range sched.PingWindows {
			runners = append(runners, tools.NewPingRunner(
				key.SrcNS, key.DstNS, key.DstAddr,
				w.Start, w.Stop-w.Start, stores.Ping))
		}
	}

	if len(e.qdiscStats) > 0 && tools.Available(tools.TcTool) {
		for _, iface := range e.qdiscStats {
			runners = append(runners, tools.NewTcRunner(
				iface.Node().ID(), iface.Name(), sched.Stop, stores.Tc))
		}
	}

	if len(sched.CoapClients) > 0 && tools.Available(tools.CoapClientTool) {
		for _, job := range sched.CoapServers {
			if err := tools.StartCoapServer(job.DstNS, job.Options.ServerContent); err != nil {
				log.WithError(err).Warnf("could not start coap server in %s", job.DstNS)
			}
		}
		for _, job := range sched.CoapClients {
			runners = append(runners, tools.NewCoapRunner(
				job.SrcNS, job.DstNS, job.DstAddr,
				job.ConMsgs, job.NonMsgs, stores.Coap))
		}
	}

	return runners
}

type worker func(ctx context.Context) error

// runPhase runs every worker concurrently and joins the whole cohort.
// A failing worker is confined: its error is logged, the phase always
// completes.
func runPhase(ctx context.Context, workers []worker) {
	g := new(errgroup.Group)
	for _, w := range workers {
		w := w
		g.Go(func() error {
			if err := w(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Warn("worker failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}

// progressWorker reports elapsed experiment time once a second until
// the overall stop time.
func progressWorker(total time.Duration) worker {
	return func(ctx context.Context) error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for elapsed := time.Duration(0); elapsed < total; {
			select {
			case <-ticker.C:
				elapsed += time.Second
				log.Infof("experiment progress: %v / %v", elapsed, total)
			case <-ctx.Done():
				return nil
			}
		}
		return nil
	}
}

// reapNamespaceProcesses kills whatever measurement processes are still
// alive in the topology's namespaces. Cleanup never raises.
func reapNamespaceProcesses(topo *topology.Topology) {
	for _, ns := range topo.Map().Namespaces() {
		if ns.Backend == topomap.BackendNetns {
			tools.KillProcesses(ns.ID)
		}
	}
}
