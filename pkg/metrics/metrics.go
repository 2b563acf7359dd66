// Package metrics exports Prometheus gauges for the agent's own
// operational state: readiness, per-VM heaviness, and global norm
// components. This is ambient observability the spec's Non-goals do not
// exclude (they name migration/placement/admission decisions, not
// metrics).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors bundles every gauge the agent updates during its periodic
// tasks, registered once against a prometheus.Registerer at startup.
type Collectors struct {
	Ready        prometheus.Gauge
	MissingHosts prometheus.Gauge
	GlobalNorm   *prometheus.GaugeVec
	Heaviness    *prometheus.GaugeVec
}

// New builds and registers the Collectors against reg.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		Ready: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fairnessd",
			Name:      "registry_ready",
			Help:      "1 if CloudSupplyRegistry has every live member's supply, else 0.",
		}),
		MissingHosts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fairnessd",
			Name:      "registry_missing_hosts",
			Help:      "Count of live members whose HostSupply is not yet known locally.",
		}),
		GlobalNorm: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fairnessd",
			Name:      "global_norm",
			Help:      "Per-resource-dimension global norm from the active metric's last tick.",
		}, []string{"dimension"}),
		Heaviness: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fairnessd",
			Name:      "vm_heaviness",
			Help:      "Scalar heaviness assigned to each locally observed VM by the active metric.",
		}, []string{"instance"}),
	}
	reg.MustRegister(c.Ready, c.MissingHosts, c.GlobalNorm, c.Heaviness)
	return c
}

// dimensionNames matches vector.Vector.Dimensions' fixed order.
var dimensionNames = [6]string{"cpu_time", "disk_bytes_read", "disk_bytes_written", "net_bytes_rx", "net_bytes_tx", "memory_used"}

// SetGlobalNorm records one tick's global norm vector.
func (c *Collectors) SetGlobalNorm(norm [6]float64) {
	for i, name := range dimensionNames {
		c.GlobalNorm.WithLabelValues(name).Set(norm[i])
	}
}
