// Package scanner drives a bounded-concurrency TCP port scan end to end:
// plan validation, chunked probe dispatch, progress streaming, cooperative
// cancellation, and the final report.
package scanner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/d1childress/neo/pkg/logger"
	"github.com/d1childress/neo/pkg/models"
	"github.com/d1childress/neo/pkg/scan"
	"golang.org/x/time/rate"
)

var ErrAlreadyStarted = errors.New("scanner already started")

// HostPinger is the optional host-reachability precheck consulted before
// a sweep commits to its full port range.
type HostPinger interface {
	Ping(ctx context.Context, host string) (bool, time.Duration, error)
}

// PortScanner services exactly one scan. A new scan is a new instance;
// there is no transition out of a terminal state.
type PortScanner struct {
	target  models.ScanTarget
	opts    models.ScanOptions
	prober  scan.Prober
	limiter *scan.Limiter
	pacer   *rate.Limiter
	pinger  HostPinger
	logger  logger.Logger

	mu     sync.Mutex
	state  models.ScanState
	report *models.ScanReport

	cancelled  chan struct{}
	cancelOnce sync.Once
	done       chan struct{}
}

// New builds a scanner with the default TCP prober.
func New(target models.ScanTarget, opts models.ScanOptions, log logger.Logger) *PortScanner {
	return NewWithProber(target, opts, scan.NewTCPProber(opts.Timeout, log), log)
}

// NewWithProber builds a scanner around an injected prober.
func NewWithProber(target models.ScanTarget, opts models.ScanOptions, prober scan.Prober, log logger.Logger) *PortScanner {
	if opts.Concurrency <= 0 {
		opts.Concurrency = models.DefaultConcurrency
	}

	if opts.Timeout <= 0 {
		opts.Timeout = models.DefaultProbeTimeout
	}

	s := &PortScanner{
		target:    target,
		opts:      opts,
		prober:    prober,
		limiter:   scan.NewLimiter(opts.Concurrency),
		logger:    log,
		state:     models.StateIdle,
		cancelled: make(chan struct{}),
		done:      make(chan struct{}),
	}

	if opts.RatePerSecond > 0 {
		s.pacer = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}

	return s
}

// SetPinger attaches a host precheck. Only honored when the scan options
// request it; must be called before Start.
func (s *PortScanner) SetPinger(p HostPinger) {
	s.pinger = p
}

// Start validates the target and launches the scan. A validation failure
// transitions to Failed and returns the configuration error without
// emitting any events. On success the returned channel delivers one
// progress event per resolved probe; the last event before close carries
// the completed report. The channel is buffered for the whole plan, so
// the scan never blocks on a slow consumer.
func (s *PortScanner) Start(ctx context.Context) (<-chan models.ScanProgress, error) {
	s.mu.Lock()

	if s.state != models.StateIdle {
		s.mu.Unlock()
		return nil, ErrAlreadyStarted
	}

	plan, err := scan.NewPlan(s.target)
	if err != nil {
		s.state = models.StateFailed
		s.mu.Unlock()
		close(s.done)

		return nil, err
	}

	s.state = models.StateRunning
	s.mu.Unlock()

	progress := make(chan models.ScanProgress, plan.Len()+1)

	go s.run(ctx, plan, progress)

	return progress, nil
}

// Cancel requests cooperative cancellation. Idempotent; safe from any
// goroutine; a no-op after the scan has finished. Probes already in
// flight are allowed to finish, bounded by their own timeout.
func (s *PortScanner) Cancel() {
	s.cancelOnce.Do(func() {
		close(s.cancelled)
	})
}

func (s *PortScanner) State() models.ScanState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Report returns the final report once the scan has finished.
func (s *PortScanner) Report() (*models.ScanReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.report, s.report != nil
}

// Done closes when the scan reaches a terminal state.
func (s *PortScanner) Done() <-chan struct{} {
	return s.done
}

func (s *PortScanner) run(ctx context.Context, plan *scan.Plan, progress chan<- models.ScanProgress) {
	defer close(progress)

	acc := newAccumulator(plan.Len(), s.target.Verbose)

	if s.skipForPrecheck(ctx) {
		s.finish(acc, false, progress)
		return
	}

	cancelled := false

	for _, chunk := range plan.Chunks(s.limiter.Cap()) {
		select {
		case <-s.cancelled:
			cancelled = true
		case <-ctx.Done():
			cancelled = true
		default:
		}

		if cancelled {
			break
		}

		for outcome := range s.runChunk(ctx, plan.Host(), chunk) {
			acc.add(outcome)

			progress <- models.ScanProgress{
				Attempted: acc.attempted,
				Planned:   acc.planned,
				Latest:    &outcome,
			}
		}
	}

	if ctx.Err() != nil {
		cancelled = true
	}

	s.finish(acc, cancelled, progress)
}

// runChunk dispatches one chunk through the limiter and streams outcomes
// back as probes resolve. The returned channel closes once the chunk has
// fully resolved; chunks never overlap.
func (s *PortScanner) runChunk(ctx context.Context, host string, ports []int) <-chan models.ProbeOutcome {
	out := make(chan models.ProbeOutcome, len(ports))

	go func() {
		defer close(out)

		var wg sync.WaitGroup

		for _, port := range ports {
			if s.pacer != nil {
				if err := s.pacer.Wait(ctx); err != nil {
					break
				}
			}

			if err := s.limiter.Acquire(ctx); err != nil {
				break
			}

			wg.Add(1)

			go func(port int) {
				defer wg.Done()
				defer s.limiter.Release()

				out <- s.prober.Probe(ctx, host, port)
			}(port)
		}

		wg.Wait()
	}()

	return out
}

// skipForPrecheck reports whether the sweep should be skipped because the
// host answered nothing. Precheck errors (no privilege, resolution
// failure) degrade to a normal sweep rather than blocking it.
func (s *PortScanner) skipForPrecheck(ctx context.Context) bool {
	if !s.opts.Precheck || s.pinger == nil {
		return false
	}

	up, rtt, err := s.pinger.Ping(ctx, s.target.Host)
	if err != nil {
		s.logger.Warn().Err(err).Str("host", s.target.Host).Msg("host precheck unavailable, sweeping anyway")
		return false
	}

	if !up {
		s.logger.Info().Str("host", s.target.Host).Msg("host did not answer echo, skipping sweep")
		return true
	}

	s.logger.Debug().Str("host", s.target.Host).Dur("rtt", rtt).Msg("host precheck passed")

	return false
}

func (s *PortScanner) finish(acc *accumulator, cancelled bool, progress chan<- models.ScanProgress) {
	report := acc.finalize(s.target.Host, cancelled)

	s.mu.Lock()

	s.report = report
	if cancelled {
		s.state = models.StateCancelled
	} else {
		s.state = models.StateCompleted
	}

	s.mu.Unlock()

	close(s.done)

	progress <- models.ScanProgress{
		Attempted: report.PortsScanned,
		Planned:   report.PortsPlanned,
		Report:    report,
	}

	s.logger.Info().
		Str("host", report.Host).
		Int("planned", report.PortsPlanned).
		Int("scanned", report.PortsScanned).
		Int("open", len(report.OpenPorts)).
		Bool("cancelled", report.Cancelled).
		Dur("elapsed", report.Elapsed).
		Msg("scan finished")
}
