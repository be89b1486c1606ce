// Package metrics exports supervisor lifecycle counters to Prometheus.
//
// A Collector is registered as a supervisor.Observer and maintains:
//
//	glsupervisor_spawns_total
//	glsupervisor_restarts_total
//	glsupervisor_exits_total{result="clean|error|spawn_error"}
//	glsupervisor_child_up
//	glsupervisor_restart_budget_remaining
//	glsupervisor_uptime_seconds
//
// Every series carries a constant supervisor label. Handler exposes the
// collector's private registry; the status API mounts it.
package metrics
