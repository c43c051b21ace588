package scan

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/d1childress/neo/pkg/models"
)

const (
	minPort = 1
	maxPort = 65535
)

// Plan is the validated, deterministic sequence of ports a scan will
// probe, ascending. Repeated runs with identical input probe the same
// ports in the same order.
type Plan struct {
	host  string
	ports []int
}

// NewPlan validates a target and materializes its port sequence.
// No network activity happens here; a rejected target never probes.
func NewPlan(target models.ScanTarget) (*Plan, error) {
	if strings.TrimSpace(target.Host) == "" {
		return nil, ErrEmptyHost
	}

	if len(target.Ports) > 0 {
		ports, err := normalizePorts(target.Ports)
		if err != nil {
			return nil, err
		}

		return &Plan{host: target.Host, ports: ports}, nil
	}

	if target.StartPort < minPort || target.StartPort > maxPort ||
		target.EndPort < minPort || target.EndPort > maxPort {
		return nil, ErrPortOutOfRange
	}

	if target.StartPort > target.EndPort {
		return nil, ErrPortOrder
	}

	ports := make([]int, 0, target.EndPort-target.StartPort+1)
	for p := target.StartPort; p <= target.EndPort; p++ {
		ports = append(ports, p)
	}

	return &Plan{host: target.Host, ports: ports}, nil
}

func (p *Plan) Host() string {
	return p.host
}

// Ports returns the planned sequence. Callers must not mutate it.
func (p *Plan) Ports() []int {
	return p.ports
}

func (p *Plan) Len() int {
	return len(p.ports)
}

// Chunks partitions the sequence into batches of at most size ports,
// preserving order. Chunk boundaries are the scan's cancellation
// checkpoints, so chunks never exceed the concurrency cap.
func (p *Plan) Chunks(size int) [][]int {
	if size <= 0 {
		size = defaultMaxInFlight
	}

	chunks := make([][]int, 0, (len(p.ports)+size-1)/size)

	for start := 0; start < len(p.ports); start += size {
		end := start + size
		if end > len(p.ports) {
			end = len(p.ports)
		}

		chunks = append(chunks, p.ports[start:end])
	}

	return chunks
}

// normalizePorts validates an explicit port set, de-duplicates it, and
// imposes ascending order.
func normalizePorts(in []int) ([]int, error) {
	seen := make(map[int]struct{}, len(in))

	for _, p := range in {
		if p < minPort || p > maxPort {
			return nil, ErrPortOutOfRange
		}

		seen[p] = struct{}{}
	}

	ports := make([]int, 0, len(seen))
	for p := range seen {
		ports = append(ports, p)
	}

	sort.Ints(ports)

	return ports, nil
}

// ParsePortSpec parses a port specification into a sorted, de-duplicated
// port set. Supported forms: "22", "22,80,443", "1-1024", and mixes of
// those ("22,80,8000-8100").
func ParsePortSpec(spec string) ([]int, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, ErrEmptyPortSpec
	}

	seen := make(map[int]struct{})

	for _, token := range strings.Split(spec, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			return nil, fmt.Errorf("%w: empty token", ErrInvalidPortSpec)
		}

		if err := parseToken(token, seen); err != nil {
			return nil, err
		}
	}

	ports := make([]int, 0, len(seen))
	for p := range seen {
		ports = append(ports, p)
	}

	sort.Ints(ports)

	return ports, nil
}

func parseToken(token string, seen map[int]struct{}) error {
	if strings.Contains(token, "-") {
		bounds := strings.SplitN(token, "-", 2)

		start, err := strconv.Atoi(strings.TrimSpace(bounds[0]))
		if err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidPortSpec, token)
		}

		end, err := strconv.Atoi(strings.TrimSpace(bounds[1]))
		if err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidPortSpec, token)
		}

		if start < minPort || end < minPort || start > maxPort || end > maxPort {
			return ErrPortOutOfRange
		}

		if start > end {
			return fmt.Errorf("%w: %q", ErrPortOrder, token)
		}

		for p := start; p <= end; p++ {
			seen[p] = struct{}{}
		}

		return nil
	}

	v, err := strconv.Atoi(token)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidPortSpec, token)
	}

	if v < minPort || v > maxPort {
		return ErrPortOutOfRange
	}

	seen[v] = struct{}{}

	return nil
}
