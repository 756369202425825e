package otel

import (
	"context"
	"errors"
	"fmt"

	goPin "github.com/MrEthical07/goPin"
	"github.com/MrEthical07/goPin/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Exporter publishes a controller's counters and lockout state through
// observable instruments on a caller-supplied Meter.
type Exporter struct {
	source       internaldefs.Source
	registration metric.Registration

	families map[string]metric.Int64ObservableCounter
	attrs    []attribute.Set

	latencyBuckets metric.Int64ObservableGauge
	latencySum     metric.Float64ObservableGauge
	audit          metric.Int64ObservableCounter

	locked       metric.Int64ObservableGauge
	attemptsLeft metric.Int64ObservableGauge
	lockedUntil  metric.Float64ObservableGauge
}

// New registers instruments for controller on meter.
func New(meter metric.Meter, controller *goPin.Controller) (*Exporter, error) {
	if controller == nil {
		return nil, ErrNilSource
	}
	return NewFromSource(meter, controller)
}

// NewFromSource registers instruments for any [internaldefs.Source].
func NewFromSource(meter metric.Meter, source internaldefs.Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{
		source:   source,
		families: make(map[string]metric.Int64ObservableCounter, len(internaldefs.Families)),
		attrs:    make([]attribute.Set, len(internaldefs.CounterSeries)),
	}
	var observables []metric.Observable

	for _, fam := range internaldefs.Families {
		ins, err := meter.Int64ObservableCounter(fam.Name, metric.WithDescription(fam.Help))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", fam.Name, err)
		}
		e.families[fam.Name] = ins
		observables = append(observables, ins)
	}
	for i, s := range internaldefs.CounterSeries {
		e.attrs[i] = labelSet(s.Labels)
	}

	var err error
	if e.latencyBuckets, err = meter.Int64ObservableGauge(
		internaldefs.LatencyName+"_bucket",
		metric.WithDescription("Cumulative validate latency samples at or below le seconds."),
	); err != nil {
		return nil, fmt.Errorf("create latency buckets: %w", err)
	}
	if e.latencySum, err = meter.Float64ObservableGauge(
		internaldefs.LatencyName+"_sum",
		metric.WithDescription("Total validate latency in seconds."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("create latency sum: %w", err)
	}
	if e.audit, err = meter.Int64ObservableCounter(
		internaldefs.FamilyAudit.Name,
		metric.WithDescription(internaldefs.FamilyAudit.Help),
	); err != nil {
		return nil, fmt.Errorf("create audit counter: %w", err)
	}
	if e.locked, err = meter.Int64ObservableGauge(
		internaldefs.LockoutLockedName,
		metric.WithDescription(internaldefs.LockoutLockedHelp),
	); err != nil {
		return nil, fmt.Errorf("create lockout gauge: %w", err)
	}
	if e.attemptsLeft, err = meter.Int64ObservableGauge(
		internaldefs.LockoutAttemptsLeftName,
		metric.WithDescription(internaldefs.LockoutAttemptsLeftHelp),
	); err != nil {
		return nil, fmt.Errorf("create attempts gauge: %w", err)
	}
	if e.lockedUntil, err = meter.Float64ObservableGauge(
		internaldefs.LockoutUntilName,
		metric.WithDescription(internaldefs.LockoutUntilHelp),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("create lock deadline gauge: %w", err)
	}
	observables = append(observables, e.latencyBuckets, e.latencySum, e.audit, e.locked, e.attemptsLeft, e.lockedUntil)

	if e.registration, err = meter.RegisterCallback(e.observe, observables...); err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

func (e *Exporter) observe(ctx context.Context, o metric.Observer) error {
	r := internaldefs.Read(ctx, e.source)

	if r.MetricsEnabled {
		for i, cv := range r.Counters {
			o.ObserveInt64(e.families[cv.Series.Family.Name], int64(cv.Value), metric.WithAttributeSet(e.attrs[i]))
		}
	}
	if r.LatencyEnabled {
		for i, bound := range internaldefs.LatencyBounds {
			o.ObserveInt64(e.latencyBuckets, int64(r.LatencyCumulative[i]), metric.WithAttributes(attribute.Float64("le", bound)))
		}
		o.ObserveFloat64(e.latencySum, r.LatencySum.Seconds())
	}

	o.ObserveInt64(e.audit, int64(r.Audit.DroppedSecurity), metric.WithAttributes(attribute.String("class", "security")))
	o.ObserveInt64(e.audit, int64(r.Audit.Dropped-r.Audit.DroppedSecurity), metric.WithAttributes(attribute.String("class", "other")))

	if r.LockoutKnown {
		locked, left, until := r.LockoutValues()
		o.ObserveInt64(e.locked, locked)
		o.ObserveInt64(e.attemptsLeft, left)
		o.ObserveFloat64(e.lockedUntil, until)
	}
	return nil
}

// Close unregisters the callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}

func labelSet(labels []internaldefs.Label) attribute.Set {
	kvs := make([]attribute.KeyValue, 0, len(labels))
	for _, l := range labels {
		kvs = append(kvs, attribute.String(l.Key, l.Value))
	}
	return attribute.NewSet(kvs...)
}
