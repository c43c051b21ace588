package scanner

import (
	"sort"
	"time"

	"github.com/d1childress/neo/pkg/models"
)

// accumulator collects probe outcomes during a scan. It is written only
// by the orchestrator loop, so it needs no lock. The final report is
// built once, at scan end.
type accumulator struct {
	planned   int
	verbose   bool
	attempted int
	open      []int
	closed    []int
	seen      map[int]struct{}
	startedAt time.Time
}

func newAccumulator(planned int, verbose bool) *accumulator {
	return &accumulator{
		planned:   planned,
		verbose:   verbose,
		seen:      make(map[int]struct{}, planned),
		startedAt: time.Now(),
	}
}

func (a *accumulator) add(outcome models.ProbeOutcome) {
	a.attempted++

	// Each port is planned exactly once, so this is a safety net, not a
	// normal path.
	if _, dup := a.seen[outcome.Port]; dup {
		return
	}

	a.seen[outcome.Port] = struct{}{}

	switch outcome.State {
	case models.PortOpen:
		a.open = append(a.open, outcome.Port)
	case models.PortClosed, models.PortTimedOut:
		if a.verbose {
			a.closed = append(a.closed, outcome.Port)
		}
	}
}

// finalize imposes ascending order regardless of probe completion order.
func (a *accumulator) finalize(host string, cancelled bool) *models.ScanReport {
	sort.Ints(a.open)
	sort.Ints(a.closed)

	return &models.ScanReport{
		Host:         host,
		OpenPorts:    a.open,
		ClosedPorts:  a.closed,
		PortsPlanned: a.planned,
		PortsScanned: a.attempted,
		Cancelled:    cancelled,
		Elapsed:      time.Since(a.startedAt),
		StartedAt:    a.startedAt,
	}
}
