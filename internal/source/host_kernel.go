package source

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

type kernelLoadAverages struct {
	load1  float64
	load5  float64
	load15 float64
}

type kernelCounters struct {
	ctxt         uint64
	intr         uint64
	softirq      uint64
	forks        uint64
	procsRunning uint64
	procsBlocked uint64
}

// parseKernelLoadAverages parses the first three load-average values from /proc/loadavg.
// Params: payload is /proc/loadavg file body.
// Returns: parsed load averages or parse error.
func parseKernelLoadAverages(payload []byte) (kernelLoadAverages, error) {
	fields := strings.Fields(string(payload))
	if len(fields) < 3 {
		return kernelLoadAverages{}, fmt.Errorf("expected at least 3 fields")
	}

	var values [3]float64
	for idx, label := range []string{"load1", "load5", "load15"} {
		value, err := strconv.ParseFloat(fields[idx], 64)
		if err != nil {
			return kernelLoadAverages{}, fmt.Errorf("parse %s: %w", label, err)
		}
		values[idx] = value
	}

	return kernelLoadAverages{load1: values[0], load5: values[1], load15: values[2]}, nil
}

// parseKernelCounters parses required counters from /proc/stat.
// Params: payload is /proc/stat file body.
// Returns: parsed kernel counters or error naming the first missing field.
func parseKernelCounters(payload []byte) (kernelCounters, error) {
	counters := kernelCounters{}
	targets := []struct {
		field string
		dst   *uint64
		seen  bool
	}{
		{field: "ctxt", dst: &counters.ctxt},
		{field: "intr", dst: &counters.intr},
		{field: "softirq", dst: &counters.softirq},
		{field: "processes", dst: &counters.forks},
		{field: "procs_running", dst: &counters.procsRunning},
		{field: "procs_blocked", dst: &counters.procsBlocked},
	}

	scanner := bufio.NewScanner(bytes.NewReader(payload))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		for idx := range targets {
			if targets[idx].field != fields[0] {
				continue
			}
			if len(fields) < 2 {
				return kernelCounters{}, fmt.Errorf("%s field has no value", fields[0])
			}
			value, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				return kernelCounters{}, fmt.Errorf("parse %s: %w", fields[0], err)
			}
			*targets[idx].dst = value
			targets[idx].seen = true
		}
	}
	if err := scanner.Err(); err != nil {
		return kernelCounters{}, fmt.Errorf("scan /proc/stat: %w", err)
	}

	for _, target := range targets {
		if !target.seen {
			return kernelCounters{}, fmt.Errorf("missing %s field", target.field)
		}
	}
	return counters, nil
}
