package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/d1childress/neo/pkg/logger"
	"github.com/d1childress/neo/pkg/models"
)

var errInvalidDuration = errors.New("invalid duration")

// Duration accepts both "2s" strings and raw nanosecond numbers in JSON.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		// parse numeric as nanoseconds
		*d = Duration(time.Duration(value))
		return nil
	case string:
		dur, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%w: %w", errInvalidDuration, err)
		}

		*d = Duration(dur)

		return nil
	default:
		return errInvalidDuration
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// ScanServiceConfig configures the scan API daemon.
type ScanServiceConfig struct {
	ListenAddr  string        `json:"listen_addr"` // e.g., :8090
	Concurrency int           `json:"concurrency"` // default per-scan cap
	Timeout     Duration      `json:"timeout"`     // default per-probe timeout
	MaxSessions int           `json:"max_sessions"`
	Logging     logger.Config `json:"logging"`
}

func (c *ScanServiceConfig) Validate() error {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8090"
	}

	if c.Concurrency <= 0 {
		c.Concurrency = models.DefaultConcurrency
	}

	if time.Duration(c.Timeout) <= 0 {
		c.Timeout = Duration(models.DefaultProbeTimeout)
	}

	if c.MaxSessions <= 0 {
		c.MaxSessions = 16
	}

	return nil
}

// ScanDefaults converts the service defaults into per-scan options.
func (c *ScanServiceConfig) ScanDefaults() models.ScanOptions {
	opts := models.DefaultScanOptions()
	opts.Concurrency = c.Concurrency
	opts.Timeout = time.Duration(c.Timeout)

	return opts
}
