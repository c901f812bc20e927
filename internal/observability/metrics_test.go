package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestUnaryInterceptorRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewRuntimeCollector(reg)
	if err != nil {
		t.Fatalf("NewRuntimeCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/cosim.runtime.v1.RuntimeService/Query"}

	_, err = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		time.Sleep(10 * time.Millisecond)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("interceptor handler returned error: %v", err)
	}

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("RuntimeService", "Query", "OK")); got != 1 {
		t.Fatalf("cosim_rpc_requests_total = %v, want 1", got)
	}

	if count := histogramSampleCount(t, reg, "cosim_rpc_request_duration_seconds", map[string]string{
		"service": "RuntimeService",
		"method":  "Query",
	}); count != 1 {
		t.Fatalf("cosim_rpc_request_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestUnaryInterceptorRecordsErrorCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewRuntimeCollector(reg)
	if err != nil {
		t.Fatalf("NewRuntimeCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/cosim.runtime.v1.RuntimeService/SendBatch"}

	_, _ = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.InvalidArgument, "boom")
	})

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("RuntimeService", "SendBatch", "InvalidArgument")); got != 1 {
		t.Fatalf("cosim_rpc_requests_total error label = %v, want 1", got)
	}
}

func TestMetricsHandlerExposesRuntimeGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewRuntimeCollector(reg)
	if err != nil {
		t.Fatalf("NewRuntimeCollector: %v", err)
	}
	collector.FederatesActive.Set(3)
	collector.QueueDepth.WithLabelValues("node(1)", "priority").Set(2)
	collector.TimeGrantsTotal.WithLabelValues("node(1)", "false").Inc()
	collector.RPCRequests.WithLabelValues("svc", "method", "OK").Inc()
	collector.RPCDurations.WithLabelValues("svc", "method").Observe(0.01)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"cosim_rpc_requests_total",
		"cosim_rpc_request_duration_seconds",
		"cosim_federates_active",
		"cosim_queue_depth",
		"cosim_time_grants_total",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
