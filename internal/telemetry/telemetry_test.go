package telemetry

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	colmetricpb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	metricpb "go.opentelemetry.io/proto/otlp/metrics/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/proto"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/run"
)

type captureCollector struct {
	colmetricpb.UnimplementedMetricsServiceServer

	mu       sync.Mutex
	requests []*colmetricpb.ExportMetricsServiceRequest
}

func (c *captureCollector) Export(ctx context.Context, req *colmetricpb.ExportMetricsServiceRequest) (*colmetricpb.ExportMetricsServiceResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, proto.Clone(req).(*colmetricpb.ExportMetricsServiceRequest))
	return &colmetricpb.ExportMetricsServiceResponse{}, nil
}

func (c *captureCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func (c *captureCollector) last() *colmetricpb.ExportMetricsServiceRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.requests) == 0 {
		return nil
	}
	return c.requests[len(c.requests)-1]
}

func startCollector(t *testing.T) (*captureCollector, *Exporter) {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	collector := &captureCollector{}
	srv := grpc.NewServer()
	colmetricpb.RegisterMetricsServiceServer(srv, collector)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///collector",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}

	exp := newWithConn(conn, Config{
		Endpoint:    "collector",
		Interval:    time.Hour, // flush manually in tests
		ServiceName: "segdac",
		RunID:       "r1",
		RunName:     "shift_small",
	})
	t.Cleanup(exp.Stop)
	return collector, exp
}

func findGauge(req *colmetricpb.ExportMetricsServiceRequest, name string) *metricpb.Gauge {
	for _, rm := range req.GetResourceMetrics() {
		for _, sm := range rm.GetScopeMetrics() {
			for _, m := range sm.GetMetrics() {
				if m.GetName() == name {
					return m.GetGauge()
				}
			}
		}
	}
	return nil
}

func TestExportCarriesRunResource(t *testing.T) {
	t.Parallel()

	collector, exp := startCollector(t)
	exp.Record("segdac.epoch.lr", 0, 0.01)
	exp.Flush(context.Background())

	req := collector.last()
	if req == nil {
		t.Fatal("collector received no request")
	}

	attrs := map[string]string{}
	for _, kv := range req.GetResourceMetrics()[0].GetResource().GetAttributes() {
		attrs[kv.GetKey()] = kv.GetValue().GetStringValue()
	}
	if attrs["service.name"] != "segdac" {
		t.Errorf("service.name = %q, want segdac", attrs["service.name"])
	}
	if attrs["run.id"] != "r1" || attrs["run.name"] != "shift_small" {
		t.Errorf("run attrs = %v, want run.id r1 and run.name shift_small", attrs)
	}
}

func TestRecordEpochEmitsGaugeFamily(t *testing.T) {
	t.Parallel()

	collector, exp := startCollector(t)
	exp.RecordEpoch(&run.EpochSummary{
		Epoch:      3,
		SourceLoss: 0.9,
		TargetLoss: 0.4,
		TotalLoss:  1.3,
		LR:         0.0075,
		Validated:  true,
		MeanIoU:    0.61,
		BestIoU:    0.61,
		PixelAcc:   0.92,
		MeanAcc:    0.8,
		Duration:   90 * time.Second,
	})
	exp.Flush(context.Background())

	req := collector.last()
	if req == nil {
		t.Fatal("collector received no request")
	}

	g := findGauge(req, "segdac.val.mean_iou")
	if g == nil {
		t.Fatal("segdac.val.mean_iou gauge missing")
	}
	dp := g.GetDataPoints()[0]
	if dp.GetAsDouble() != 0.61 {
		t.Errorf("mean_iou = %v, want 0.61", dp.GetAsDouble())
	}
	var epoch int64 = -1
	for _, kv := range dp.GetAttributes() {
		if kv.GetKey() == "epoch" {
			epoch = kv.GetValue().GetIntValue()
		}
	}
	if epoch != 3 {
		t.Errorf("epoch attribute = %d, want 3", epoch)
	}

	if g := findGauge(req, "segdac.epoch.total_loss"); g == nil || g.GetDataPoints()[0].GetAsDouble() != 1.3 {
		t.Error("segdac.epoch.total_loss missing or wrong")
	}
	if g := findGauge(req, "segdac.epoch.duration_ms"); g == nil || g.GetDataPoints()[0].GetAsDouble() != 90000 {
		t.Error("segdac.epoch.duration_ms missing or wrong")
	}
}

func TestUnvalidatedEpochSkipsValMetrics(t *testing.T) {
	t.Parallel()

	collector, exp := startCollector(t)
	exp.RecordEpoch(&run.EpochSummary{Epoch: 1, TotalLoss: 2.0})
	exp.Flush(context.Background())

	req := collector.last()
	if req == nil {
		t.Fatal("collector received no request")
	}
	if g := findGauge(req, "segdac.val.mean_iou"); g != nil {
		t.Error("val gauges present for unvalidated epoch")
	}
	if g := findGauge(req, "segdac.epoch.total_loss"); g == nil {
		t.Error("train gauges missing")
	}
}

func TestEmptyFlushSendsNothing(t *testing.T) {
	t.Parallel()

	collector, exp := startCollector(t)
	exp.Flush(context.Background())
	if n := collector.count(); n != 0 {
		t.Errorf("collector received %d requests, want 0", n)
	}
}

func TestPointsGroupByMetricName(t *testing.T) {
	t.Parallel()

	collector, exp := startCollector(t)
	exp.Record("segdac.epoch.lr", 0, 0.002)
	exp.Record("segdac.epoch.lr", 1, 0.004)
	exp.Record("segdac.epoch.total_loss", 1, 1.5)
	exp.Flush(context.Background())

	req := collector.last()
	if req == nil {
		t.Fatal("collector received no request")
	}
	g := findGauge(req, "segdac.epoch.lr")
	if g == nil {
		t.Fatal("lr gauge missing")
	}
	if len(g.GetDataPoints()) != 2 {
		t.Errorf("lr datapoints = %d, want 2", len(g.GetDataPoints()))
	}
}
