// Package metrics publishes billing engine activity to Prometheus.
//
//	reg := prometheus.NewRegistry()
//	m := metrics.NewBilling(reg)
//	sweep := billing.NewRenewalSweep(lifecycle, billing.WithSweepObserver(m))
//
// Serve reg with promhttp.HandlerFor to expose the collectors.
package metrics
