// Package busywait bounds the polling loops used to wait on peripherals.
package busywait

import "github.com/pkg/errors"

// ErrTimeout is returned when a peripheral never reports completion.
var ErrTimeout = errors.New("busy-wait timed out")

// DefaultLimit is the number of polls used when a limit is not configured.
const DefaultLimit = 100000

// Until polls done until it returns true, at most limit times. A limit of
// zero or less means DefaultLimit.
func Until(limit int, done func() bool) error {
	if limit <= 0 {
		limit = DefaultLimit
	}
	for i := 0; i < limit; i++ {
		if done() {
			return nil
		}
	}
	return ErrTimeout
}
