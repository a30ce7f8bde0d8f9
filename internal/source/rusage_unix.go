//go:build unix

package source

import "golang.org/x/sys/unix"

// processUsage reads resource usage of the agent process.
// Params: none.
// Returns: CPU time in microseconds, max RSS, faults and context switches; nil on error.
func processUsage() map[string]any {
	var usage unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &usage); err != nil {
		return nil
	}
	return map[string]any{
		"utime_us": usage.Utime.Nano() / 1000,
		"stime_us": usage.Stime.Nano() / 1000,
		"maxrss":   int64(usage.Maxrss),
		"minflt":   int64(usage.Minflt),
		"majflt":   int64(usage.Majflt),
		"nvcsw":    int64(usage.Nvcsw),
		"nivcsw":   int64(usage.Nivcsw),
	}
}
