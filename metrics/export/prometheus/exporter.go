package prometheus

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	goPin "github.com/MrEthical07/goPin"
	"github.com/MrEthical07/goPin/metrics/export/internaldefs"
)

// Exporter renders a controller's counters and lockout state in Prometheus
// text exposition format.
type Exporter struct {
	source internaldefs.Source
}

// New returns an exporter for controller.
func New(controller *goPin.Controller) *Exporter {
	if controller == nil {
		return &Exporter{}
	}
	return &Exporter{source: controller}
}

// NewFromSource returns an exporter over any [internaldefs.Source].
func NewFromSource(source internaldefs.Source) *Exporter {
	return &Exporter{source: source}
}

// Handler serves Render for the request context.
func (e *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(e.Render(r.Context())))
	})
}

// Render returns the current exposition. Counters and the latency histogram
// appear only when the controller keeps metrics; the lockout gauges whenever
// the failure store can be read.
func (e *Exporter) Render(ctx context.Context) string {
	if e == nil || e.source == nil {
		return ""
	}
	r := internaldefs.Read(ctx, e.source)

	var w expo
	if r.MetricsEnabled {
		for _, fam := range internaldefs.Families {
			w.header(fam.Name, fam.Help, "counter")
			for _, cv := range r.Counters {
				if cv.Series.Family == fam {
					w.sample(fam.Name, cv.Series.Labels, strconv.FormatUint(cv.Value, 10))
				}
			}
		}
	}
	if r.LatencyEnabled {
		w.header(internaldefs.LatencyName, internaldefs.LatencyHelp, "histogram")
		for i, bound := range internaldefs.LatencyBounds {
			le := internaldefs.Label{Key: "le", Value: formatBound(bound)}
			w.sample(internaldefs.LatencyName+"_bucket", []internaldefs.Label{le}, strconv.FormatUint(r.LatencyCumulative[i], 10))
		}
		w.sample(internaldefs.LatencyName+"_sum", nil, strconv.FormatFloat(r.LatencySum.Seconds(), 'g', -1, 64))
		w.sample(internaldefs.LatencyName+"_count", nil, strconv.FormatUint(r.LatencyCumulative[len(r.LatencyCumulative)-1], 10))
	}
	if r.MetricsEnabled || r.Audit.Dropped > 0 {
		fam := internaldefs.FamilyAudit
		w.header(fam.Name, fam.Help, "counter")
		w.sample(fam.Name, []internaldefs.Label{{Key: "class", Value: "security"}}, strconv.FormatUint(r.Audit.DroppedSecurity, 10))
		w.sample(fam.Name, []internaldefs.Label{{Key: "class", Value: "other"}}, strconv.FormatUint(r.Audit.Dropped-r.Audit.DroppedSecurity, 10))
	}
	if r.LockoutKnown {
		locked, left, until := r.LockoutValues()
		w.header(internaldefs.LockoutLockedName, internaldefs.LockoutLockedHelp, "gauge")
		w.sample(internaldefs.LockoutLockedName, nil, strconv.FormatInt(locked, 10))
		w.header(internaldefs.LockoutAttemptsLeftName, internaldefs.LockoutAttemptsLeftHelp, "gauge")
		w.sample(internaldefs.LockoutAttemptsLeftName, nil, strconv.FormatInt(left, 10))
		w.header(internaldefs.LockoutUntilName, internaldefs.LockoutUntilHelp, "gauge")
		w.sample(internaldefs.LockoutUntilName, nil, strconv.FormatFloat(until, 'f', 3, 64))
	}
	return w.String()
}

func formatBound(b float64) string {
	if b > 1e300 {
		return "+Inf"
	}
	return strconv.FormatFloat(b, 'g', -1, 64)
}

// expo accumulates exposition lines.
type expo struct {
	strings.Builder
}

func (w *expo) header(name, help, typ string) {
	w.WriteString("# HELP " + name + " " + escape(help, false) + "\n")
	w.WriteString("# TYPE " + name + " " + typ + "\n")
}

func (w *expo) sample(name string, labels []internaldefs.Label, value string) {
	w.WriteString(name)
	if len(labels) > 0 {
		w.WriteByte('{')
		for i, l := range labels {
			if i > 0 {
				w.WriteByte(',')
			}
			w.WriteString(l.Key + `="` + escape(l.Value, true) + `"`)
		}
		w.WriteByte('}')
	}
	w.WriteString(" " + value + "\n")
}

func escape(s string, quote bool) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	if quote {
		s = strings.ReplaceAll(s, `"`, `\"`)
	}
	return s
}
