package api

import (
	"sync"
	"time"

	"github.com/d1childress/neo/pkg/config"
	"github.com/d1childress/neo/pkg/models"
	"github.com/d1childress/neo/pkg/scanner"
)

// ScanRequest is the caller's description of a scan. Ports, when set,
// is a port-spec string ("22,80,8000-8100") and overrides the range.
type ScanRequest struct {
	Host          string          `json:"host"`
	StartPort     int             `json:"start_port"`
	EndPort       int             `json:"end_port"`
	Ports         string          `json:"ports,omitempty"`
	Verbose       bool            `json:"verbose"`
	Concurrency   int             `json:"concurrency,omitempty"`
	Timeout       config.Duration `json:"timeout,omitempty"`
	RatePerSecond float64         `json:"rate_per_second,omitempty"`
}

// ScanStatus is the poll-style view of a session.
type ScanStatus struct {
	ID        string               `json:"id"`
	State     models.ScanState     `json:"state"`
	Target    models.ScanTarget    `json:"target"`
	CreatedAt time.Time            `json:"created_at"`
	Progress  *models.ScanProgress `json:"progress,omitempty"`
	Report    *models.ScanReport   `json:"report,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// session binds one scan to its handle and fans progress out to
// websocket subscribers. The pump goroutine is the only writer of
// latest; subscribers receive snapshots, never shared state.
type session struct {
	id        string
	target    models.ScanTarget
	createdAt time.Time
	scanner   *scanner.PortScanner

	mu     sync.RWMutex
	latest *models.ScanProgress
	subs   map[chan models.ScanProgress]struct{}
	closed bool
}

func newSession(id string, target models.ScanTarget, sc *scanner.PortScanner) *session {
	return &session{
		id:        id,
		target:    target,
		createdAt: time.Now(),
		scanner:   sc,
		subs:      make(map[chan models.ScanProgress]struct{}),
	}
}

// pump drains the scan's progress stream until it closes.
func (s *session) pump(progress <-chan models.ScanProgress) {
	for p := range progress {
		s.mu.Lock()

		snapshot := p
		s.latest = &snapshot

		for sub := range s.subs {
			select {
			case sub <- p:
			default:
				// Slow subscriber: drop the intermediate event. The final
				// snapshot is re-read from latest on close, so nobody
				// misses the report.
			}
		}

		s.mu.Unlock()
	}

	s.mu.Lock()
	s.closed = true

	for sub := range s.subs {
		close(sub)
	}

	s.subs = make(map[chan models.ScanProgress]struct{})
	s.mu.Unlock()
}

// subscribe registers a progress listener. The returned channel closes
// when the scan finishes; a false second return means the scan is
// already over and the caller should just read the final status.
func (s *session) subscribe() (chan models.ScanProgress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false
	}

	sub := make(chan models.ScanProgress, 64)
	s.subs[sub] = struct{}{}

	return sub, true
}

func (s *session) unsubscribe(sub chan models.ScanProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[sub]; ok {
		delete(s.subs, sub)
		close(sub)
	}
}

func (s *session) status() ScanStatus {
	s.mu.RLock()
	latest := s.latest
	s.mu.RUnlock()

	st := ScanStatus{
		ID:        s.id,
		State:     s.scanner.State(),
		Target:    s.target,
		CreatedAt: s.createdAt,
		Progress:  latest,
	}

	if report, ok := s.scanner.Report(); ok {
		st.Report = report
	}

	return st
}

func (s *session) terminal() bool {
	switch s.scanner.State() {
	case models.StateCompleted, models.StateCancelled, models.StateFailed:
		return true
	default:
		return false
	}
}
