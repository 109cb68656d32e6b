package parallel

import (
	"runtime"

	"github.com/klauspost/cpuid/v2"
)

// DefaultWorkers returns the available hardware parallelism: the scheduler's
// GOMAXPROCS, capped by the logical core count reported by the CPU.
func DefaultWorkers() int {
	n := runtime.GOMAXPROCS(0)
	if logical := cpuid.CPU.LogicalCores; logical > 0 && logical < n {
		n = logical
	}
	if n < 1 {
		n = 1
	}
	return n
}
