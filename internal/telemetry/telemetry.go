// Package telemetry exports epoch metrics to an OpenTelemetry collector over
// gRPC. Scalars are buffered as gauge datapoints and pushed on an interval;
// the run identity travels as resource attributes so collectors can fan
// multiple trainers into one backend.
package telemetry

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	colmetricpb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	metricpb "go.opentelemetry.io/proto/otlp/metrics/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/Martons00/Real-time-Domain-Adaptation-in-Semantic-Segmentation/internal/run"
)

const (
	scopeName     = "segdac"
	exportTimeout = 10 * time.Second
)

// Config wires the exporter to a collector and names the run it reports for.
type Config struct {
	Endpoint    string
	Interval    time.Duration
	ServiceName string
	RunID       string
	RunName     string
}

type point struct {
	name  string
	epoch int
	value float64
	at    time.Time
}

// Exporter batches gauge datapoints and ships them to the collector.
type Exporter struct {
	conn     *grpc.ClientConn
	client   colmetricpb.MetricsServiceClient
	resource *resourcepb.Resource

	mu      sync.Mutex
	pending []point

	interval time.Duration
	done     chan struct{}
	wg       sync.WaitGroup
}

// New dials the collector and starts the export loop. The connection is
// plaintext; collectors run next to the trainer.
func New(cfg Config) (*Exporter, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("telemetry: endpoint is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	conn, err := grpc.NewClient(cfg.Endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("telemetry: dial %s: %w", cfg.Endpoint, err)
	}
	return newWithConn(conn, cfg), nil
}

// newWithConn finishes construction on an established connection.
func newWithConn(conn *grpc.ClientConn, cfg Config) *Exporter {
	e := &Exporter{
		conn:     conn,
		client:   colmetricpb.NewMetricsServiceClient(conn),
		resource: buildResource(cfg),
		interval: cfg.Interval,
		done:     make(chan struct{}),
	}
	e.wg.Add(1)
	go e.loop()
	return e
}

func buildResource(cfg Config) *resourcepb.Resource {
	attrs := []*commonpb.KeyValue{
		strAttr("service.name", cfg.ServiceName),
		strAttr("run.id", cfg.RunID),
		strAttr("run.name", cfg.RunName),
	}
	return &resourcepb.Resource{Attributes: attrs}
}

func strAttr(key, value string) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: value}},
	}
}

// Record buffers one gauge datapoint.
func (e *Exporter) Record(name string, epoch int, value float64) {
	e.mu.Lock()
	e.pending = append(e.pending, point{name: name, epoch: epoch, value: value, at: time.Now()})
	e.mu.Unlock()
}

// RecordEpoch buffers the gauge family for one finished epoch. Validation
// metrics are only emitted for validated epochs.
func (e *Exporter) RecordEpoch(es *run.EpochSummary) {
	e.Record("segdac.epoch.source_loss", es.Epoch, es.SourceLoss)
	e.Record("segdac.epoch.target_loss", es.Epoch, es.TargetLoss)
	e.Record("segdac.epoch.total_loss", es.Epoch, es.TotalLoss)
	e.Record("segdac.epoch.lr", es.Epoch, es.LR)
	e.Record("segdac.epoch.duration_ms", es.Epoch, float64(es.Duration.Milliseconds()))
	if es.Validated {
		e.Record("segdac.val.mean_iou", es.Epoch, es.MeanIoU)
		e.Record("segdac.val.best_iou", es.Epoch, es.BestIoU)
		e.Record("segdac.val.pixel_acc", es.Epoch, es.PixelAcc)
		e.Record("segdac.val.mean_acc", es.Epoch, es.MeanAcc)
	}
}

func (e *Exporter) loop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.Flush(context.Background())
		case <-e.done:
			e.Flush(context.Background())
			return
		}
	}
}

// Flush exports everything buffered so far. Export failures drop the batch
// after logging; training never blocks on the collector.
func (e *Exporter) Flush(ctx context.Context) {
	e.mu.Lock()
	batch := e.pending
	e.pending = nil
	e.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, exportTimeout)
	defer cancel()

	req := &colmetricpb.ExportMetricsServiceRequest{
		ResourceMetrics: []*metricpb.ResourceMetrics{{
			Resource: e.resource,
			ScopeMetrics: []*metricpb.ScopeMetrics{{
				Scope:   &commonpb.InstrumentationScope{Name: scopeName},
				Metrics: gaugeMetrics(batch),
			}},
		}},
	}
	if _, err := e.client.Export(ctx, req); err != nil {
		log.Printf("telemetry: export of %d datapoints failed: %v", len(batch), err)
	}
}

// gaugeMetrics groups buffered points by metric name, one Gauge per name.
func gaugeMetrics(batch []point) []*metricpb.Metric {
	byName := make(map[string][]*metricpb.NumberDataPoint)
	for _, p := range batch {
		dp := &metricpb.NumberDataPoint{
			TimeUnixNano: uint64(p.at.UnixNano()),
			Attributes: []*commonpb.KeyValue{{
				Key:   "epoch",
				Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: int64(p.epoch)}},
			}},
			Value: &metricpb.NumberDataPoint_AsDouble{AsDouble: p.value},
		}
		byName[p.name] = append(byName[p.name], dp)
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	metrics := make([]*metricpb.Metric, 0, len(names))
	for _, name := range names {
		metrics = append(metrics, &metricpb.Metric{
			Name: name,
			Data: &metricpb.Metric_Gauge{Gauge: &metricpb.Gauge{DataPoints: byName[name]}},
		})
	}
	return metrics
}

// Stop flushes the remaining buffer and closes the connection.
func (e *Exporter) Stop() {
	close(e.done)
	e.wg.Wait()
	if err := e.conn.Close(); err != nil {
		log.Printf("telemetry: close connection: %v", err)
	}
}
