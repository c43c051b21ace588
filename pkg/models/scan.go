// Package models defines the value types shared by the probe engine and its callers.
package models

import "time"

// PortState classifies the outcome of a single TCP probe.
type PortState string

const (
	PortOpen     PortState = "open"
	PortClosed   PortState = "closed"
	PortTimedOut PortState = "timeout"
)

// ProbeCause records why a probe was classified Closed or TimedOut.
type ProbeCause string

const (
	CauseNone        ProbeCause = ""
	CauseRefused     ProbeCause = "refused"
	CauseUnreachable ProbeCause = "unreachable"
	CauseTimeout     ProbeCause = "timeout"
	CauseResolve     ProbeCause = "resolve"
)

// ScanState tracks the lifecycle of a single scan. A scanner services
// exactly one scan; there is no transition out of a terminal state.
type ScanState string

const (
	StateIdle      ScanState = "idle"
	StateRunning   ScanState = "running"
	StateCompleted ScanState = "completed"
	StateCancelled ScanState = "cancelled"
	StateFailed    ScanState = "failed"
)

// ScanTarget describes what to scan. Either a contiguous port range
// (StartPort..EndPort inclusive) or an explicit port set; when Ports is
// non-empty it takes precedence over the range. Constructed once per scan
// and never mutated.
type ScanTarget struct {
	Host      string `json:"host"`
	StartPort int    `json:"start_port"`
	EndPort   int    `json:"end_port"`
	Ports     []int  `json:"ports,omitempty"`
	Verbose   bool   `json:"verbose"`
}

// ScanOptions carries the tunables of a scan. The zero value is not
// usable directly; use DefaultScanOptions and override.
type ScanOptions struct {
	Concurrency int           `json:"concurrency"`
	Timeout     time.Duration `json:"timeout"`
	// RatePerSecond paces probe dispatch when > 0. Disabled by default.
	RatePerSecond float64 `json:"rate_per_second,omitempty"`
	// Precheck skips the sweep when the host does not answer an ICMP echo.
	Precheck bool `json:"precheck,omitempty"`
}

const (
	DefaultConcurrency  = 50
	DefaultProbeTimeout = 2 * time.Second
)

func DefaultScanOptions() ScanOptions {
	return ScanOptions{
		Concurrency: DefaultConcurrency,
		Timeout:     DefaultProbeTimeout,
	}
}

// ProbeOutcome is the per-port result produced by a prober. Immutable once
// created; probe failures are represented here, never as errors.
type ProbeOutcome struct {
	Port     int           `json:"port"`
	State    PortState     `json:"state"`
	Cause    ProbeCause    `json:"cause,omitempty"`
	RespTime time.Duration `json:"response_time"`
}

// ScanProgress is a point-in-time snapshot emitted during an active scan.
// Each snapshot is a value owned by the receiver. The final snapshot of a
// scan carries the completed Report and has Attempted == the number of
// ports actually probed.
type ScanProgress struct {
	Attempted int           `json:"attempted"`
	Planned   int           `json:"planned"`
	Latest    *ProbeOutcome `json:"latest,omitempty"`
	Report    *ScanReport   `json:"report,omitempty"`
}

// Fraction reports completion in [0,1].
func (p ScanProgress) Fraction() float64 {
	if p.Planned == 0 {
		return 0
	}

	return float64(p.Attempted) / float64(p.Planned)
}

// ScanReport is the terminal artifact of a scan: sorted, de-duplicated,
// built once at scan end.
type ScanReport struct {
	Host         string        `json:"host"`
	OpenPorts    []int         `json:"open_ports"`
	ClosedPorts  []int         `json:"closed_ports,omitempty"`
	PortsPlanned int           `json:"ports_planned"`
	PortsScanned int           `json:"ports_scanned"`
	Cancelled    bool          `json:"cancelled"`
	Elapsed      time.Duration `json:"elapsed"`
	StartedAt    time.Time     `json:"started_at"`
}
