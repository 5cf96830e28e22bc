// Package prometheus renders ticketauth engine metrics in the Prometheus
// text exposition format. Counters are named ticketauth_*_total; the
// authorize latency histogram is ticketauth_authorize_latency_seconds.
//
// Nothing is registered globally; mount [Exporter.Handler] where needed.
package prometheus
