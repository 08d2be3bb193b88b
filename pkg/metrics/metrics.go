package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitrymomot/billingkit/pkg/billing"
)

const (
	sweepRenewal = "renewal"
	sweepOverdue = "overdue"

	resultOK    = "ok"
	resultError = "error"
)

// Billing exposes the engine's activity as Prometheus metrics. It implements
// billing.SweepObserver and billing.InvoiceObserver.
type Billing struct {
	SweepRuns      *prometheus.CounterVec
	SweepDuration  *prometheus.HistogramVec
	Renewals       *prometheus.CounterVec
	OverdueResults *prometheus.CounterVec
	InvoicesIssued *prometheus.CounterVec
	InvoiceAmount  *prometheus.CounterVec
	InvoiceStatus  *prometheus.CounterVec
}

var (
	_ billing.SweepObserver   = (*Billing)(nil)
	_ billing.InvoiceObserver = (*Billing)(nil)
)

// NewBilling creates the collectors and registers them with reg.
func NewBilling(reg prometheus.Registerer) *Billing {
	m := &Billing{
		SweepRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_sweep_runs_total",
				Help: "Total number of sweep runs by sweep and result",
			},
			[]string{"sweep", "result"},
		),
		SweepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billing_sweep_duration_seconds",
				Help:    "Sweep run duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
			},
			[]string{"sweep"},
		),
		Renewals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_renewals_total",
				Help: "Due subscriptions handled by the renewal sweep, by outcome",
			},
			[]string{"outcome"},
		),
		OverdueResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_overdue_invoices_total",
				Help: "Invoices handled by the overdue sweep, by outcome",
			},
			[]string{"outcome"},
		),
		InvoicesIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_invoices_issued_total",
				Help: "Total number of invoices issued, by reason",
			},
			[]string{"reason"},
		),
		InvoiceAmount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_invoiced_amount_total",
				Help: "Sum of issued invoice totals, by currency",
			},
			[]string{"currency"},
		),
		InvoiceStatus: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_invoice_status_changes_total",
				Help: "Invoice status transitions",
			},
			[]string{"from", "to"},
		),
	}

	reg.MustRegister(
		m.SweepRuns,
		m.SweepDuration,
		m.Renewals,
		m.OverdueResults,
		m.InvoicesIssued,
		m.InvoiceAmount,
		m.InvoiceStatus,
	)
	return m
}

// ObserveRenewalSweep implements billing.SweepObserver.
func (m *Billing) ObserveRenewalSweep(report billing.SweepReport, err error) {
	m.observeRun(sweepRenewal, report.Duration.Seconds(), err)
	m.Renewals.WithLabelValues("renewed").Add(float64(report.Renewed))
	m.Renewals.WithLabelValues("skipped").Add(float64(report.Skipped))
	m.Renewals.WithLabelValues("failed").Add(float64(report.Failed))
}

// ObserveOverdueSweep implements billing.SweepObserver.
func (m *Billing) ObserveOverdueSweep(report billing.OverdueReport, err error) {
	m.observeRun(sweepOverdue, report.Duration.Seconds(), err)
	m.OverdueResults.WithLabelValues("overdue").Add(float64(report.Overdue))
	m.OverdueResults.WithLabelValues("delinquent").Add(float64(report.Delinquent))
	m.OverdueResults.WithLabelValues("failed").Add(float64(report.Failed))
}

// InvoiceIssued implements billing.InvoiceObserver.
func (m *Billing) InvoiceIssued(inv billing.Invoice) {
	m.InvoicesIssued.WithLabelValues(string(inv.Reason)).Inc()
	m.InvoiceAmount.WithLabelValues(inv.Currency).Add(inv.Total.InexactFloat64())
}

// InvoiceStatusChanged implements billing.InvoiceObserver.
func (m *Billing) InvoiceStatusChanged(inv billing.Invoice, from billing.InvoiceStatus) {
	m.InvoiceStatus.WithLabelValues(string(from), string(inv.Status)).Inc()
}

func (m *Billing) observeRun(sweep string, seconds float64, err error) {
	result := resultOK
	if err != nil {
		result = resultError
	}
	m.SweepRuns.WithLabelValues(sweep, result).Inc()
	m.SweepDuration.WithLabelValues(sweep).Observe(seconds)
}
