package scan

import (
	"context"
	"errors"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/d1childress/neo/pkg/logger"
	"github.com/d1childress/neo/pkg/models"
)

// TCPProber attempts one TCP connection per call and classifies the
// result within a fixed upper bound on wait time. No data is sent or
// read; an accepted handshake is closed immediately. No retries.
type TCPProber struct {
	timeout time.Duration
	dialer  net.Dialer
	logger  logger.Logger
}

var _ Prober = (*TCPProber)(nil)

func NewTCPProber(timeout time.Duration, log logger.Logger) *TCPProber {
	if timeout <= 0 {
		timeout = models.DefaultProbeTimeout
	}

	return &TCPProber{
		timeout: timeout,
		logger:  log,
	}
}

func (p *TCPProber) Probe(ctx context.Context, host string, port int) models.ProbeOutcome {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	conn, err := p.dialer.DialContext(probeCtx, "tcp", addr)

	outcome := models.ProbeOutcome{
		Port:     port,
		RespTime: time.Since(start),
	}

	if err == nil {
		outcome.State = models.PortOpen

		if cerr := conn.Close(); cerr != nil {
			p.logger.Debug().Err(cerr).Str("addr", addr).Msg("failed to close probe connection")
		}

		return outcome
	}

	outcome.State, outcome.Cause = Classify(err)

	return outcome
}

// Classify maps a dial error onto the probe taxonomy. Anything that is
// not an active refusal or a no-route report counts as TimedOut: a bad
// probe never fails the batch, it just degrades to filtered.
func Classify(err error) (models.PortState, models.ProbeCause) {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return models.PortClosed, models.CauseRefused
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return models.PortClosed, models.CauseUnreachable
	case errors.Is(err, context.DeadlineExceeded):
		return models.PortTimedOut, models.CauseTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return models.PortTimedOut, models.CauseResolve
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.PortTimedOut, models.CauseTimeout
	}

	return models.PortTimedOut, models.CauseTimeout
}
