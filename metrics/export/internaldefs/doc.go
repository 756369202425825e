// Package internaldefs defines the series goPin exports and reads them from
// a controller in one pass, so the Prometheus and OTel exporters agree on
// names, labels and values.
//
// Counters are grouped into labelled families (unlock attempts by method and
// result, set results, flow events). The lockout gauges are read from the
// failure store on each collection rather than from in-process counters.
package internaldefs
