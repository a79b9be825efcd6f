package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/fieldops/internal/apperror"
)

const (
	OperationPayrollGenerate    = "payroll_generate"
	OperationPayrollRecalculate = "payroll_recalculate"
	OperationPayrollApprove     = "payroll_approve"
	OperationInvoiceGenerate    = "invoice_generate"
	OperationTransferAccept     = "transfer_accept"
	OperationRequestReceive     = "request_receive"
)

const (
	LockResourceTechnicianTasks = "technician_tasks"
	LockResourceUnbilledTasks   = "unbilled_tasks"
	LockResourceWallets         = "wallets"
	LockResourceInvoiceCounter  = "invoice_counter"
	LockResourceSettlementRun   = "settlement_run"
)

// SettlementMetrics captures settlement health signals scraped from /metrics.
type SettlementMetrics struct {
	runs         *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	errors       *prometheus.CounterVec
	tasksClaimed *prometheus.CounterVec
	lockWait     *prometheus.HistogramVec
}

// NewSettlementMetrics registers the collectors with registerer. A nil
// registerer uses the process default.
func NewSettlementMetrics(registerer prometheus.Registerer, cfg Config) *SettlementMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "fieldops"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "fieldops_settlement_operations_total",
		Help:        "Settlement operations by name.",
		ConstLabels: constLabels,
	}, []string{"operation"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "fieldops_settlement_operation_duration_seconds",
		Help:        "Settlement operation latency including lock waits.",
		Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		ConstLabels: constLabels,
	}, []string{"operation"})
	errs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "fieldops_settlement_operation_errors_total",
		Help:        "Settlement operation failures by error kind.",
		ConstLabels: constLabels,
	}, []string{"operation", "kind"})
	tasksClaimed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "fieldops_settlement_tasks_claimed_total",
		Help:        "Tasks claimed by a payroll or an invoice.",
		ConstLabels: constLabels,
	}, []string{"operation"})
	lockWait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "fieldops_settlement_lock_wait_seconds",
		Help:        "Time spent acquiring settlement row locks.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		ConstLabels: constLabels,
	}, []string{"resource"})

	registerer.MustRegister(runs, duration, errs, tasksClaimed, lockWait)

	return &SettlementMetrics{
		runs:         runs,
		duration:     duration,
		errors:       errs,
		tasksClaimed: tasksClaimed,
		lockWait:     lockWait,
	}
}

// Observe records one run of operation. It is meant to be deferred with the
// named error result.
func (m *SettlementMetrics) Observe(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(operation).Inc()
	m.duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		m.errors.WithLabelValues(operation, string(apperror.KindOf(err))).Inc()
	}
}

func (m *SettlementMetrics) AddTasksClaimed(operation string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.tasksClaimed.WithLabelValues(operation).Add(float64(count))
}

// ObserveLockWait records lock wait time for SELECT FOR UPDATE work.
func (m *SettlementMetrics) ObserveLockWait(resource string, d time.Duration) {
	if m == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	m.lockWait.WithLabelValues(resource).Observe(d.Seconds())
}
