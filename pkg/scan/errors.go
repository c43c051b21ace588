package scan

import "errors"

// Configuration errors. These are the only errors that cross a scan-start
// boundary; everything probe-level is absorbed into outcomes.
var (
	ErrEmptyHost       = errors.New("host must not be empty")
	ErrPortOutOfRange  = errors.New("port out of range 1-65535")
	ErrPortOrder       = errors.New("start port exceeds end port")
	ErrEmptyPortSpec   = errors.New("empty port spec")
	ErrInvalidPortSpec = errors.New("invalid port spec")
)
