package policy

import "errors"

// Sentinel kinds for policy configuration errors.
var (
	ErrInvalidThresholds = errors.New("policy thresholds must satisfy 0 <= suggest < flagged < auto_link <= 1")
)
