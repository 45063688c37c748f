/*
Package metrics provides Prometheus metrics collection and exposition for kiln.

Metrics are registered at package init via prometheus.MustRegister and exposed
over HTTP for scraping.

# Metrics Catalog

kiln_exec_total{mnemonic, outcome}: orchestrator exec invocations.
kiln_exec_duration_seconds{mnemonic}: wall-clock duration of exec.
kiln_fallback_total{mnemonic}: invocations delegated to the one-shot runner.
kiln_pool_borrow_total{mnemonic, outcome}: worker borrow attempts.
kiln_pool_return_total{mnemonic}: workers returned healthy.
kiln_pool_invalidate_total{mnemonic, reason}: workers invalidated, by failure.Kind
("cancelled" for context cancellation, "stderr_write" when writing the
worker's output fails).
kiln_pool_idle_workers{mnemonic}: registered only; nothing in kiln sets it,
so it exports no series (per-mnemonic idle counts are served by /debug/pool
and the /healthz and /readyz reports).
kiln_driver_response_bytes: size of parsed WorkResponse output payloads.
kiln_resource_acquire_wait_seconds: time blocked acquiring a resource handle.
kiln_resources_in_use{kind}: registered only; the resource manager does not
set it, so it exports no series.

# Usage

	timer := metrics.NewTimer()
	result, err := runner.Exec(ctx, spawn, policy)
	timer.ObserveDurationVec(metrics.ExecDuration, spawn.Mnemonic())

	http.Handle("/metrics", metrics.Handler())
*/
package metrics
