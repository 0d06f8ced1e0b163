package kernel

import (
	"runtime"

	_ "go.uber.org/automaxprocs" // adjusts GOMAXPROCS to the container's CPU quota on import
)

// DefaultQueueSize is used when a pipeline's RunOptions don't set one
// explicitly (spec.md §4.3 default bounded-queue capacity).
const DefaultQueueSize = 1000

// DefaultMapConcurrency sizes a MAP step's worker semaphore when the step
// itself doesn't set MapMaxConcurrency, scaling off GOMAXPROCS the way the
// teacher's pack sizes worker pools off automaxprocs-adjusted CPU counts
// rather than a hardcoded constant.
func DefaultMapConcurrency() int {
	n := runtime.GOMAXPROCS(0)
	if n < 1 {
		return 1
	}
	return n
}
