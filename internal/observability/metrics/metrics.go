package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the OTLP metrics push.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics holds the OTel instruments pushed over OTLP. The Prometheus
// scrape surface lives in SettlementMetrics and HTTPMetrics.
type Metrics struct {
	settlementRuns  metric.Int64Counter
	settledAmount   metric.Float64Histogram
	stockMovements  metric.Int64Counter
	taskTransitions metric.Int64Counter
}

// NewProvider installs the global meter provider. A disabled config gets a
// no-op provider so instruments can always be created.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.StopHook(provider.Shutdown))
	}
	if log != nil {
		log.Info("otlp metrics enabled",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}
	return provider, nil
}

// New creates the settlement instruments on the given provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(firstNonEmpty(cfg.ServiceName, "fieldops"))

	m := &Metrics{}
	var err error
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.settlementRuns, "fieldops_settlement_runs_total", "Invoice and payroll runs by outcome."},
		{&m.stockMovements, "fieldops_stock_movements_total", "Inventory ledger rows appended by type."},
		{&m.taskTransitions, "fieldops_task_transitions_total", "Task status changes."},
	}
	for _, c := range counters {
		if *c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, fmt.Errorf("create %s: %w", c.name, err)
		}
	}
	m.settledAmount, err = meter.Float64Histogram("fieldops_settled_amount",
		metric.WithDescription("Money settled per run: invoice totals and approved net pay."),
		metric.WithUnit("{USD}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create fieldops_settled_amount: %w", err)
	}
	return m, nil
}

// RecordSettlementRun counts payroll and invoice runs by outcome.
func (m *Metrics) RecordSettlementRun(ctx context.Context, operation, outcome string) {
	if m == nil {
		return
	}
	m.settlementRuns.Add(ctx, 1, withAttrs("operation", operation, "outcome", outcome))
}

// RecordSettledAmount records the money one successful run settled.
func (m *Metrics) RecordSettledAmount(ctx context.Context, operation string, amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.settledAmount.Record(ctx, amount.InexactFloat64(), withAttrs("operation", operation))
}

func (m *Metrics) RecordStockMovement(ctx context.Context, movementType string) {
	if m == nil {
		return
	}
	m.stockMovements.Add(ctx, 1, withAttrs("movement_type", movementType))
}

func (m *Metrics) RecordTaskTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.taskTransitions.Add(ctx, 1, withAttrs("from", from, "to", to))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	ctx := context.Background()
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		var opts []otlpmetrichttp.Option
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(ctx, opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// Label keys allowed on instruments. Ids and amounts never become labels.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"operation":     {},
	"outcome":       {},
	"movement_type": {},
	"from":          {},
	"to":            {},
}

// FilterAttributes drops labels outside the allowed set.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; ok {
			filtered = append(filtered, attr)
		}
	}
	return filtered
}

// withAttrs builds a filtered attribute option from key/value pairs.
func withAttrs(kv ...string) metric.MeasurementOption {
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs = append(attrs, attribute.String(kv[i], strings.TrimSpace(kv[i+1])))
	}
	return metric.WithAttributes(FilterAttributes(attrs...)...)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
