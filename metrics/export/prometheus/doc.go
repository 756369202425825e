// Package prometheus renders goPin controller metrics in Prometheus text
// exposition format without a client library or global registry. Callers
// mount [Exporter.Handler] where they like.
//
// Example series:
//
//	gopin_unlock_attempts_total{method="pin",result="wrong_pin"} 3
//	gopin_lockout_locked 1
//	gopin_lockout_locked_until_seconds 1772366430.000
package prometheus
