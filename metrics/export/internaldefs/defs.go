package internaldefs

import (
	"context"
	"math"
	"time"

	goPin "github.com/MrEthical07/goPin"
)

// Source is what both exporters read. *goPin.Controller implements it.
type Source interface {
	MetricsSnapshot() goPin.MetricsSnapshot
	AuditStats() goPin.AuditStats
	LockoutState(ctx context.Context) (goPin.LockoutState, error)
}

// Label is one label pair on a series.
type Label struct {
	Key   string
	Value string
}

// Family is a metric name shared by several labelled series.
type Family struct {
	Name string
	Help string
}

var (
	FamilyUnlock = Family{Name: "gopin_unlock_attempts_total", Help: "Unlock attempts by method and result."}
	FamilySet    = Family{Name: "gopin_pin_set_total", Help: "Confirmed set and change entries by result."}
	FamilyFlow   = Family{Name: "gopin_flow_events_total", Help: "Flow events outside the unlock and set results."}
	FamilyAudit  = Family{Name: "gopin_audit_dropped_total", Help: "Audit events not delivered, by class."}
)

// Families lists the counter families in exposition order.
var Families = []Family{FamilyUnlock, FamilySet, FamilyFlow}

// Series binds one controller counter to its family and labels.
type Series struct {
	ID     goPin.MetricID
	Family Family
	Labels []Label
}

func unlock(method, result string) []Label {
	return []Label{{Key: "method", Value: method}, {Key: "result", Value: result}}
}

func kind(key, value string) []Label {
	return []Label{{Key: key, Value: value}}
}

// CounterSeries maps every controller counter to a labelled series.
var CounterSeries = []Series{
	{ID: goPin.MetricUnlockSuccess, Family: FamilyUnlock, Labels: unlock("pin", "success")},
	{ID: goPin.MetricUnlockWrongPin, Family: FamilyUnlock, Labels: unlock("pin", "wrong_pin")},
	{ID: goPin.MetricUnlockLockedOut, Family: FamilyUnlock, Labels: unlock("pin", "locked_out")},
	{ID: goPin.MetricBiometricSuccess, Family: FamilyUnlock, Labels: unlock("biometric", "success")},
	{ID: goPin.MetricBiometricFallback, Family: FamilyUnlock, Labels: unlock("biometric", "fallback")},
	{ID: goPin.MetricPinSetSuccess, Family: FamilySet, Labels: kind("result", "saved")},
	{ID: goPin.MetricPinSetMismatch, Family: FamilySet, Labels: kind("result", "mismatch")},
	{ID: goPin.MetricLockoutEngaged, Family: FamilyFlow, Labels: kind("event", "lockout_engaged")},
	{ID: goPin.MetricStorageFailure, Family: FamilyFlow, Labels: kind("event", "storage_failure")},
	{ID: goPin.MetricFlowCancelled, Family: FamilyFlow, Labels: kind("event", "cancelled")},
	{ID: goPin.MetricStaleResultDropped, Family: FamilyFlow, Labels: kind("event", "stale_result_dropped")},
}

// Lockout gauges. Unlike the counters they are read from the failure store on
// every collection, so they reflect failures recorded by other instances.
const (
	LockoutLockedName       = "gopin_lockout_locked"
	LockoutLockedHelp       = "1 while PIN entry is locked out."
	LockoutAttemptsLeftName = "gopin_lockout_attempts_left"
	LockoutAttemptsLeftHelp = "Wrong PINs left before the next lock."
	LockoutUntilName        = "gopin_lockout_locked_until_seconds"
	LockoutUntilHelp        = "Unix time the current lock ends, 0 when unlocked."
)

// Validate latency histogram.
const (
	LatencyName = "gopin_validate_latency_seconds"
	LatencyHelp = "Vault PIN validation latency."
)

// LatencyBounds are the bucket upper bounds in seconds; the last is +Inf.
var LatencyBounds = [8]float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, math.Inf(1)}

// LockoutReadTimeout bounds the failure store read done per collection.
const LockoutReadTimeout = 2 * time.Second

// CounterValue is one series reading.
type CounterValue struct {
	Series Series
	Value  uint64
}

// Reading is one collection of everything goPin exports.
type Reading struct {
	// MetricsEnabled is false when the controller keeps no counters;
	// Counters and Latency are then empty.
	MetricsEnabled bool
	Counters       []CounterValue

	LatencyEnabled bool
	// LatencyCumulative holds running totals per bound.
	LatencyCumulative [8]uint64
	LatencySum        time.Duration

	Audit goPin.AuditStats

	// LockoutKnown is false when the failure store could not be read.
	LockoutKnown bool
	Lockout      goPin.LockoutState
}

// Read collects one Reading from src.
func Read(ctx context.Context, src Source) Reading {
	snap := src.MetricsSnapshot()
	r := Reading{
		MetricsEnabled: len(snap.Counters) > 0,
		Audit:          src.AuditStats(),
	}

	if r.MetricsEnabled {
		r.Counters = make([]CounterValue, 0, len(CounterSeries))
		for _, s := range CounterSeries {
			r.Counters = append(r.Counters, CounterValue{Series: s, Value: snap.Counters[s.ID]})
		}
	}

	if buckets, ok := snap.Histograms[goPin.MetricValidateLatency]; ok {
		r.LatencyEnabled = true
		var running uint64
		for i := range r.LatencyCumulative {
			if i < len(buckets) {
				running += buckets[i]
			}
			r.LatencyCumulative[i] = running
		}
		r.LatencySum = snap.HistogramSums[goPin.MetricValidateLatency]
	}

	readCtx, cancel := context.WithTimeout(ctx, LockoutReadTimeout)
	defer cancel()
	if st, err := src.LockoutState(readCtx); err == nil {
		r.LockoutKnown = true
		r.Lockout = st
	}
	return r
}

// LockoutValues returns the locked flag, attempts left and lock end as Unix
// seconds (0 when unlocked).
func (r Reading) LockoutValues() (locked int64, attemptsLeft int64, until float64) {
	if r.Lockout.IsLocked() {
		return 1, 0, float64(r.Lockout.Until.UnixMilli()) / 1000
	}
	return 0, int64(r.Lockout.AttemptsLeft), 0
}
