package scan

import "context"

// Limiter admits at most a fixed number of in-flight probes. Acquire
// blocks until a slot frees or the context ends; Release must run on
// every exit path out of a probe, normal or not (defer it).
//
// Unbounded fan-out over a 65535-port range exhausts file descriptors
// and the ephemeral port space; all probe dispatch goes through here.
type Limiter struct {
	slots chan struct{}
}

const defaultMaxInFlight = 50

// NewLimiter creates a limiter admitting max concurrent holders.
// Non-positive max falls back to the documented default of 50.
func NewLimiter(max int) *Limiter {
	if max <= 0 {
		max = defaultMaxInFlight
	}

	return &Limiter{slots: make(chan struct{}, max)}
}

func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Limiter) Release() {
	select {
	case <-l.slots:
	default:
		panic("limiter: release without acquire")
	}
}

// InFlight reports the number of currently held slots.
func (l *Limiter) InFlight() int {
	return len(l.slots)
}

// Cap reports the maximum number of concurrent holders.
func (l *Limiter) Cap() int {
	return cap(l.slots)
}
