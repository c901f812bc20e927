package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// RuntimeCollector bundles Prometheus metrics for the co-simulation runtime
// surface and provides helpers to wire them into gRPC servers and HTTP
// handlers.
type RuntimeCollector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec

	TimeGrantsTotal   *prometheus.CounterVec
	IterationsTotal   *prometheus.CounterVec
	QueueDepth        *prometheus.GaugeVec
	FederatesActive   prometheus.Gauge
	MessagesProcessed *prometheus.CounterVec
}

// NewRuntimeCollector registers runtime Prometheus metrics against the
// provided registerer, defaulting to the global registry when nil.
func NewRuntimeCollector(reg prometheus.Registerer) (*RuntimeCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cosim_rpc_requests_total",
		Help: "Total number of handled runtime RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"})
	requests, err := registerCounterVec(reg, requests, "cosim_rpc_requests_total")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cosim_rpc_request_duration_seconds",
		Help:    "Runtime RPC latency in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"service", "method"})
	durations, err = registerHistogramVec(reg, durations, "cosim_rpc_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	grants := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cosim_time_grants_total",
		Help: "Total number of time grants issued, labeled by node and whether the iteration limit was hit.",
	}, []string{"node", "iteration_limit"})
	grants, err = registerCounterVec(reg, grants, "cosim_time_grants_total")
	if err != nil {
		return nil, err
	}

	iterations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cosim_time_iterations_total",
		Help: "Total number of deferred iteration rounds before a grant, labeled by node.",
	}, []string{"node"})
	iterations, err = registerCounterVec(reg, iterations, "cosim_time_iterations_total")
	if err != nil {
		return nil, err
	}

	queueDepth := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cosim_queue_depth",
		Help: "Current depth of a node's priority/regular action queues.",
	}, []string{"node", "band"})
	queueDepth, err = registerGaugeVec(reg, queueDepth, "cosim_queue_depth")
	if err != nil {
		return nil, err
	}

	federates, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cosim_federates_active",
		Help: "Current number of federates in Initializing or Executing state.",
	}), "cosim_federates_active")
	if err != nil {
		return nil, err
	}

	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cosim_messages_processed_total",
		Help: "Total ActionMessages processed by a node's actor loop, labeled by action.",
	}, []string{"node", "action"})
	processed, err = registerCounterVec(reg, processed, "cosim_messages_processed_total")
	if err != nil {
		return nil, err
	}

	return &RuntimeCollector{
		gatherer:          gatherer,
		RPCRequests:       requests,
		RPCDurations:      durations,
		TimeGrantsTotal:   grants,
		IterationsTotal:   iterations,
		QueueDepth:        queueDepth,
		FederatesActive:   federates,
		MessagesProcessed: processed,
	}, nil
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *RuntimeCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		if c.RPCRequests != nil {
			c.RPCRequests.WithLabelValues(service, method, code).Inc()
		}
		if c.RPCDurations != nil {
			c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		}

		return resp, err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *RuntimeCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SplitMethod parses a fully-qualified gRPC method name into service and
// method components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
