package scan

import (
	"context"

	"github.com/d1childress/neo/pkg/models"
)

//go:generate mockgen -destination=mock_scan.go -package=scan github.com/d1childress/neo/pkg/scan Prober

// Prober performs one bounded reachability probe against host:port.
// Implementations must return within their configured timeout and must
// never report an error: every failure mode is a classification.
type Prober interface {
	Probe(ctx context.Context, host string, port int) models.ProbeOutcome
}
