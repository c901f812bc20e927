package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// CoordinatorCollector exposes TimeCoordinator-specific Prometheus metrics,
// separate from RuntimeCollector so a broker or core can register only the
// pieces it needs.
type CoordinatorCollector struct {
	gatherer prometheus.Gatherer

	GrantLatency        prometheus.Histogram
	OutstandingRequests prometheus.Gauge
	ForcedGrantsTotal   prometheus.Counter
	DependencyEdges     prometheus.Gauge
}

// NewCoordinatorCollector registers coordinator metrics against the provided
// registerer.
func NewCoordinatorCollector(reg prometheus.Registerer) (*CoordinatorCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	grantLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cosim_coordinator_grant_latency_seconds",
		Help:    "Wall-clock time between a time request and its grant.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
	grantLatency, err := registerHistogram(reg, grantLatency, "cosim_coordinator_grant_latency_seconds")
	if err != nil {
		return nil, err
	}

	outstanding := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cosim_coordinator_outstanding_requests",
		Help: "Number of time requests currently outstanding across all coordinators.",
	})
	outstanding, err = registerGauge(reg, outstanding, "cosim_coordinator_outstanding_requests")
	if err != nil {
		return nil, err
	}

	forced := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cosim_coordinator_forced_grants_total",
		Help: "Cumulative number of grants forced by hitting the iteration limit.",
	})
	forced, err = registerCounter(reg, forced, "cosim_coordinator_forced_grants_total")
	if err != nil {
		return nil, err
	}

	edges := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cosim_coordinator_dependency_edges",
		Help: "Current number of dependency edges tracked across all coordinators.",
	})
	edges, err = registerGauge(reg, edges, "cosim_coordinator_dependency_edges")
	if err != nil {
		return nil, err
	}

	return &CoordinatorCollector{
		gatherer:            gatherer,
		GrantLatency:        grantLatency,
		OutstandingRequests: outstanding,
		ForcedGrantsTotal:   forced,
		DependencyEdges:     edges,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *CoordinatorCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveGrantLatency records the wall-clock time between a request and its
// grant.
func (c *CoordinatorCollector) ObserveGrantLatency(seconds float64) {
	if c == nil || c.GrantLatency == nil {
		return
	}
	c.GrantLatency.Observe(seconds)
}

// SetOutstandingRequests updates the outstanding-request gauge.
func (c *CoordinatorCollector) SetOutstandingRequests(count int) {
	if c == nil || c.OutstandingRequests == nil {
		return
	}
	c.OutstandingRequests.Set(float64(count))
}

// IncForcedGrants increments the forced-grant counter.
func (c *CoordinatorCollector) IncForcedGrants() {
	if c == nil || c.ForcedGrantsTotal == nil {
		return
	}
	c.ForcedGrantsTotal.Inc()
}

// SetDependencyEdges updates the dependency-edge gauge.
func (c *CoordinatorCollector) SetDependencyEdges(count int) {
	if c == nil || c.DependencyEdges == nil {
		return
	}
	c.DependencyEdges.Set(float64(count))
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
