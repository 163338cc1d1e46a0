// Package domain provides shared types and sentinel errors for the kitesim project.
package domain

import "errors"

// External is the sentinel firm ID used for parties outside the modeled chain:
// the end consumer placing demand orders and the raw-material source that the
// raw-materials producer "orders" from.
const External = -99

// Sentinel errors for the two fatal failure classes. Both abort a run:
// a configuration error before any simulation is constructed, a state
// invariant violation as soon as it is detected. Neither is retried.
var (
	// ErrConfiguration marks out-of-range or internally inconsistent run
	// parameters. Checked with errors.Is.
	ErrConfiguration = errors.New("configuration error")

	// ErrStateInvariant marks a violated simulation invariant (negative
	// inventory, over-fulfilled order, negative production counter). These
	// represent logic bugs, not recoverable runtime conditions.
	ErrStateInvariant = errors.New("state invariant violation")
)
