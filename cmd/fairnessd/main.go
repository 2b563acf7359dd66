//go:build linux

// Command fairnessd runs one compute host's FairnessAgent: it polls local
// capacity, gossips HostSupply and per-VM heaviness with its peers, and
// pushes derived cpu/memory/disk/network setpoints to the kernel.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nova-compute/fairnessd/pkg/agent"
	"github.com/nova-compute/fairnessd/pkg/allocator"
	"github.com/nova-compute/fairnessd/pkg/config"
	"github.com/nova-compute/fairnessd/pkg/enforcer"
	"github.com/nova-compute/fairnessd/pkg/exchange"
	"github.com/nova-compute/fairnessd/pkg/httpapi"
	"github.com/nova-compute/fairnessd/pkg/hypervisor"
	"github.com/nova-compute/fairnessd/pkg/membership"
	"github.com/nova-compute/fairnessd/pkg/metric"
	"github.com/nova-compute/fairnessd/pkg/metrics"
	"github.com/nova-compute/fairnessd/pkg/rui"
	"github.com/nova-compute/fairnessd/pkg/supply"
	"github.com/nova-compute/fairnessd/pkg/transport"
	"github.com/nova-compute/fairnessd/pkg/vector"
)

var (
	cfgPath    string
	grpcAddr   string
	membersCSV string
)

func main() {
	root := &cobra.Command{
		Use:   "fairnessd",
		Short: "Gossip-based multi-resource fairness agent for a compute host",
		Long: `fairnessd runs FairnessAgent: one peer in a gossip-style cluster of
compute hosts that cooperatively enforce multi-resource fairness (CPU,
disk, network, memory) across the VMs they host, without a central
scheduler.

It periodically polls its own capacity, exchanges HostSupply and
per-VM heaviness broadcasts with its peers over gRPC, computes a
fairness metric, and pushes cpu.weight/memory.high/io.weight/tc HFSC
setpoints to the kernel for every locally hosted VM.

Examples:
  fairnessd --config /etc/nova/fairness.yaml --grpc-addr 0.0.0.0:26100
  fairnessd --peers host-a,host-b,host-c --grpc-addr 10.0.0.5:26100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}

	root.Flags().StringVar(&cfgPath, "config", "", "path to the fairness YAML config file")
	root.Flags().StringVar(&grpcAddr, "grpc-addr", ":26100", "address the gRPC bus listens on")
	root.Flags().StringVar(&membersCSV, "peers", "", "comma-separated seed peer list (compute_host names) to heartbeat before membership is discovered; empty means self-only until a peer heartbeats this host first")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	root.SetContext(ctx)

	if err := root.Execute(); err != nil {
		logrus.WithError(err).Fatal("fairnessd: fatal error")
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("fairnessd: %w", err)
	}

	log := newLogger(cfg.Logging.Level)
	entry := logrus.NewEntry(log).WithField("compute_host", cfg.Fairness.ComputeHost)
	entry.Info("fairnessd: starting")

	seedPeers := splitCSV(membersCSV)
	members := membership.NewTTLOracle(heartbeatTTL(cfg.Fairness.SupplyPollInterval), heartbeatCleanupInterval(cfg.Fairness.SupplyPollInterval))

	local := supply.Probe(supply.ProbeConfig{
		ComputeHost:          cfg.Fairness.ComputeHost,
		MaxNetworkThroughput: float64(cfg.Fairness.MaxNetworkThroughput),
	}, entry.WithField("component", "supply-probe"))

	overcommit := supply.Overcommitment{
		CPUAllocationRatio:  cfg.Fairness.CPUAllocationRatio,
		RAMAllocationRatio:  cfg.Fairness.RAMAllocationRatio,
		DiskAllocationRatio: cfg.Fairness.DiskAllocationRatio,
	}
	registry := supply.New(local, overcommit, members)

	metricRegistry, err := metric.NewRegistry(cfg.Fairness.ActiveMetric, metric.Greediness{})
	if err != nil {
		return fmt.Errorf("fairnessd: %w", err)
	}

	lister, err := hypervisor.NewMachineSliceLister("/sys/fs/cgroup")
	if err != nil {
		entry.WithError(err).Warn("fairnessd: no cgroup v2 machine.slice found, running with zero local VMs")
	}
	var probe hypervisor.Probe = noopProbe{}
	if lister != nil {
		probe = hypervisor.NewLinuxProbe(lister, entry.WithField("component", "hypervisor"))
	}

	var statsSink *rui.StatsSink
	if cfg.Fairness.RUIStatsEnabled {
		statsSink, err = rui.NewStatsSink(cfg.Fairness.RUIStatsPath)
		if err != nil {
			return fmt.Errorf("fairnessd: %w", err)
		}
	}
	collector := rui.New(probe, cfg.Fairness.ResourceDecayFactor, statsSink, entry.WithField("component", "rui"))

	ex := exchange.New(members)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	collectors := metrics.New(promReg)

	enf := enforcer.NewLinuxEnforcer(
		enforcer.DefaultCgroupPath("/sys/fs/cgroup"),
		cfg.Fairness.NetworkInterface,
		float64(cfg.Fairness.MaxNetworkThroughput)*1e6,
		entry.WithField("component", "enforcer"),
	)
	var statsRecorder allocator.StatsRecorder
	if statsSink != nil {
		statsRecorder = statsSink
	}
	alloc := allocator.New(enf, statsRecorder, collectors, entry.WithField("component", "allocator"))

	bus := transport.NewGRPCBus(func(host string) string { return host })

	localVMs := func() []allocator.LocalVM {
		if lister == nil {
			return nil
		}
		groups, err := lister.List()
		if err != nil {
			entry.WithError(err).Warn("fairnessd: local VM listing failed")
			return nil
		}
		out := make([]allocator.LocalVM, 0, len(groups))
		for _, g := range groups {
			out = append(out, allocator.LocalVM{InstanceName: g.Domain.InstanceName, UserID: g.Domain.UserID})
		}
		return out
	}

	a := agent.New(cfg.Fairness, entry.WithField("component", "agent"), bus, members, registry, metricRegistry, collectors, collector, ex, alloc, localVMs, seedPeers)

	httpSrv := httpapi.New(metricRegistry, bus, entry.WithField("component", "httpapi"))
	httpSrv.Engine().GET("/metrics", gin.WrapH(promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})))

	grpcListener, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("fairnessd: listen on %q: %w", grpcAddr, err)
	}

	errCh := make(chan error, 2)
	go func() {
		entry.WithField("addr", grpcAddr).Info("fairnessd: gRPC bus listening")
		errCh <- bus.Server().Serve(grpcListener)
	}()
	go func() {
		entry.WithField("addr", cfg.HTTP.ListenAddress).Info("fairnessd: http admin surface listening")
		errCh <- httpSrv.Engine().Run(cfg.HTTP.ListenAddress)
	}()

	go a.Run(ctx)

	select {
	case <-ctx.Done():
		entry.Info("fairnessd: shutting down")
		bus.Server().GracefulStop()
		return nil
	case err := <-errCh:
		return fmt.Errorf("fairnessd: %w", err)
	}
}

func newLogger(level string) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}

// heartbeatTTL is how long a peer's last heartbeat keeps it live in the
// TTLOracle. Three missed supply-poll ticks (the cadence Agent also casts
// heartbeats on) tolerates one or two dropped casts before a peer is
// considered gone.
func heartbeatTTL(supplyPollIntervalSeconds int) time.Duration {
	n := supplyPollIntervalSeconds
	if n <= 0 {
		n = 10
	}
	return 3 * time.Duration(n) * time.Second
}

// heartbeatCleanupInterval is how often the TTLOracle sweeps expired
// entries; one supply-poll tick keeps staleness bounded without sweeping
// on every single heartbeat write.
func heartbeatCleanupInterval(supplyPollIntervalSeconds int) time.Duration {
	n := supplyPollIntervalSeconds
	if n <= 0 {
		n = 10
	}
	return time.Duration(n) * time.Second
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// noopProbe answers every tick with zero VMs, used when this host has no
// detectable cgroup v2 machine.slice (e.g. not a hypervisor host, or
// running in a test container). The RUI-collect task still runs but never
// finds anything to sample.
type noopProbe struct{}

func (noopProbe) ActiveDomains() ([]hypervisor.Domain, error) { return nil, nil }
func (noopProbe) Sample(hypervisor.Domain, float64) (vector.Vector, error) {
	return vector.Vector{}, nil
}
