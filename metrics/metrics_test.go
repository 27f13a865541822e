package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/chigozirigeorge/verinest/metrics"
)

func TestMustRegisterAndCollect(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New()
	m.MustRegister(reg)

	m.LedgerOperations.WithLabelValues("credit", "ok").Inc()
	m.LedgerAmount.WithLabelValues("credit").Observe(5000)
	m.EscrowTransitions.WithLabelValues("fund", "ok").Inc()
	m.CacheHits.WithLabelValues("chat").Inc()
	m.CacheMisses.WithLabelValues("chat").Inc()
	m.SchedulerRuns.WithLabelValues("auto_confirm_deliveries", "ok").Inc()
	m.SchedulerDuration.WithLabelValues("auto_confirm_deliveries").Observe(0.5)
	m.ProviderCalls.WithLabelValues("verify", "ok").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"verinest_ledger_operations_total",
		"verinest_ledger_amount_kobo",
		"verinest_escrow_transitions_total",
		"verinest_cache_hits_total",
		"verinest_cache_misses_total",
		"verinest_scheduler_runs_total",
		"verinest_scheduler_duration_seconds",
		"verinest_payment_provider_calls_total",
	} {
		require.Truef(t, names[want], "missing collector %s", want)
	}
}

func TestLedgerOperationsCountsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New()
	m.MustRegister(reg)

	m.LedgerOperations.WithLabelValues("debit", "ok").Inc()
	m.LedgerOperations.WithLabelValues("debit", "ok").Inc()
	m.LedgerOperations.WithLabelValues("debit", "error").Inc()

	var metric dto.Metric
	require.NoError(t, m.LedgerOperations.WithLabelValues("debit", "ok").Write(&metric))
	require.Equal(t, float64(2), metric.GetCounter().GetValue())
}
