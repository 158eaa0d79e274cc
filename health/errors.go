package health

import "errors"

var (
	// ErrCheckTimeout is the Result.Error of a check that outlived its deadline.
	ErrCheckTimeout = errors.New("health: check timeout")

	// ErrCheckerNotFound is returned by Aggregator.Check for an unknown name.
	ErrCheckerNotFound = errors.New("health: checker not found")

	// ErrPingFailed wraps the error of a failed ping probe.
	ErrPingFailed = errors.New("health: ping failed")
)
