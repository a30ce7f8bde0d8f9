package source

import (
	"context"
	"fmt"
	"math"
	"os"
	"runtime"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	netio "github.com/shirou/gopsutil/v4/net"

	"perfagent/internal/match"
)

// HostDomain is the object-name domain of host objects.
const HostDomain = "host"

// HostSource exposes raw host counters and gauges read with gopsutil.
// Params: source name; readers are replaceable in tests.
// Returns: host attribute source.
type HostSource struct {
	name string

	readCPU        func(context.Context, bool) ([]cpu.TimesStat, error)
	readMemory     func(context.Context) (*mem.VirtualMemoryStat, error)
	readSwap       func(context.Context) (*mem.SwapMemoryStat, error)
	readDiskIO     func(context.Context, ...string) (map[string]disk.IOCountersStat, error)
	readPartitions func(context.Context, bool) ([]disk.PartitionStat, error)
	readUsage      func(context.Context, string) (*disk.UsageStat, error)
	readNet        func(context.Context, bool) ([]netio.IOCountersStat, error)
	readFile       func(string) ([]byte, error)
	kernel         bool
}

// NewHostSource creates a host source backed by gopsutil and procfs.
// Params: name registered source name.
// Returns: configured host source.
func NewHostSource(name string) *HostSource {
	return &HostSource{
		name:           name,
		readCPU:        cpu.TimesWithContext,
		readMemory:     mem.VirtualMemoryWithContext,
		readSwap:       mem.SwapMemoryWithContext,
		readDiskIO:     disk.IOCountersWithContext,
		readPartitions: disk.PartitionsWithContext,
		readUsage:      disk.UsageWithContext,
		readNet:        netio.IOCountersWithContext,
		readFile:       os.ReadFile,
		kernel:         runtime.GOOS == "linux",
	}
}

// Name returns the registered source name.
// Params: none.
// Returns: source name.
func (s *HostSource) Name() string {
	return s.name
}

// Objects reads all host object groups in fixed order.
// Params: ctx for cancellation.
// Returns: CPU, Memory, Swap, Disk, FileSystem, Network and Kernel objects or read error.
func (s *HostSource) Objects(ctx context.Context) ([]Object, error) {
	objects := make([]Object, 0, 32)

	cpuObjects, err := s.cpuObjects(ctx)
	if err != nil {
		return nil, err
	}
	objects = append(objects, cpuObjects...)

	memoryObjects, err := s.memoryObjects(ctx)
	if err != nil {
		return nil, err
	}
	objects = append(objects, memoryObjects...)

	diskObjects, err := s.diskObjects(ctx)
	if err != nil {
		return nil, err
	}
	objects = append(objects, diskObjects...)

	objects = append(objects, s.fileSystemObjects(ctx)...)

	netObjects, err := s.networkObjects(ctx)
	if err != nil {
		return nil, err
	}
	objects = append(objects, netObjects...)

	if s.kernel {
		kernelObject, err := s.kernelObject(ctx)
		if err != nil {
			return nil, err
		}
		objects = append(objects, kernelObject)
	}

	return objects, nil
}

// cpuObjects reads cumulative CPU times for total and each core.
// Params: ctx for cancellation.
// Returns: one object per CPU line or read error.
func (s *HostSource) cpuObjects(ctx context.Context) ([]Object, error) {
	total, err := s.readCPU(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("read total CPU times: %w", err)
	}
	perCore, err := s.readCPU(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("read per-core CPU times: %w", err)
	}

	objects := make([]Object, 0, len(total)+len(perCore))
	for _, stat := range append(total, perCore...) {
		objects = append(objects, Object{
			Name: match.NewObjectName(HostDomain, "type", "CPU", "name", stat.CPU),
			Attrs: map[string]any{
				"user":    cpuMillis(stat.User),
				"system":  cpuMillis(stat.System),
				"idle":    cpuMillis(stat.Idle),
				"nice":    cpuMillis(stat.Nice),
				"iowait":  cpuMillis(stat.Iowait),
				"irq":     cpuMillis(stat.Irq),
				"softirq": cpuMillis(stat.Softirq),
				"steal":   cpuMillis(stat.Steal),
				"total":   cpuMillis(stat.Total()),
			},
		})
	}
	return objects, nil
}

// memoryObjects reads RAM and swap state.
// Params: ctx for cancellation.
// Returns: Memory and Swap objects or read error.
func (s *HostSource) memoryObjects(ctx context.Context) ([]Object, error) {
	vm, err := s.readMemory(ctx)
	if err != nil {
		return nil, fmt.Errorf("read virtual memory: %w", err)
	}
	sm, err := s.readSwap(ctx)
	if err != nil {
		return nil, fmt.Errorf("read swap memory: %w", err)
	}

	return []Object{
		{
			Name: match.NewObjectName(HostDomain, "type", "Memory"),
			Attrs: map[string]any{
				"total":     counterValue(vm.Total),
				"used":      counterValue(vm.Used),
				"free":      counterValue(vm.Free),
				"available": counterValue(vm.Available),
				"buffers":   counterValue(vm.Buffers),
				"cached":    counterValue(vm.Cached),
				"util":      finiteOrZero(vm.UsedPercent),
			},
		},
		{
			Name: match.NewObjectName(HostDomain, "type", "Swap"),
			Attrs: map[string]any{
				"total": counterValue(sm.Total),
				"used":  counterValue(sm.Used),
				"free":  counterValue(sm.Free),
				"sin":   counterValue(sm.Sin),
				"sout":  counterValue(sm.Sout),
				"util":  finiteOrZero(sm.UsedPercent),
			},
		},
	}, nil
}

// diskObjects reads IO counters of top-level block devices.
// Params: ctx for cancellation.
// Returns: one Disk object per base device, sorted by device name.
func (s *HostSource) diskObjects(ctx context.Context) ([]Object, error) {
	stats, err := s.readDiskIO(ctx)
	if err != nil {
		return nil, fmt.Errorf("read disk counters: %w", err)
	}

	names := make([]string, 0, len(stats))
	for name := range stats {
		if isBaseDiskDevice(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	objects := make([]Object, 0, len(names))
	for _, name := range names {
		stat := stats[name]
		objects = append(objects, Object{
			Name: match.NewObjectName(HostDomain, "type", "Disk", "name", normalizeDeviceName(name)),
			Attrs: map[string]any{
				"reads":       counterValue(stat.ReadCount),
				"writes":      counterValue(stat.WriteCount),
				"read_bytes":  counterValue(stat.ReadBytes),
				"write_bytes": counterValue(stat.WriteBytes),
				"read_time":   counterValue(stat.ReadTime),
				"write_time":  counterValue(stat.WriteTime),
				"io_time":     counterValue(stat.IoTime),
				"weighted_io": counterValue(stat.WeightedIO),
				"inflight":    counterValue(stat.IopsInProgress),
			},
		})
	}
	return objects, nil
}

// fileSystemObjects reads usage of mounted filesystems; unreadable mounts are skipped.
// Params: ctx for cancellation.
// Returns: one FileSystem object per readable mount.
func (s *HostSource) fileSystemObjects(ctx context.Context) []Object {
	partitions, err := s.readPartitions(ctx, false)
	if err != nil {
		return nil
	}

	objects := make([]Object, 0, len(partitions))
	for _, part := range partitions {
		mountPoint := strings.TrimSpace(part.Mountpoint)
		if mountPoint == "" {
			continue
		}
		usage, err := s.readUsage(ctx, mountPoint)
		if err != nil || usage == nil {
			continue
		}

		objects = append(objects, Object{
			Name: match.NewObjectName(HostDomain, "type", "FileSystem", "mount", mountPoint),
			Attrs: map[string]any{
				"fstype":       part.Fstype,
				"total":        counterValue(usage.Total),
				"used":         counterValue(usage.Used),
				"free":         counterValue(usage.Free),
				"util":         finiteOrZero(usage.UsedPercent),
				"inodes_total": counterValue(usage.InodesTotal),
				"inodes_used":  counterValue(usage.InodesUsed),
				"inodes_free":  counterValue(usage.InodesFree),
				"readonly":     readonlyValue(part.Opts),
			},
		})
	}
	return objects
}

// networkObjects reads per-interface traffic counters.
// Params: ctx for cancellation.
// Returns: one Network object per interface or read error.
func (s *HostSource) networkObjects(ctx context.Context) ([]Object, error) {
	stats, err := s.readNet(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("read net counters: %w", err)
	}

	objects := make([]Object, 0, len(stats))
	for _, stat := range stats {
		objects = append(objects, Object{
			Name: match.NewObjectName(HostDomain, "type", "Network", "name", stat.Name),
			Attrs: map[string]any{
				"rx_bytes":   counterValue(stat.BytesRecv),
				"tx_bytes":   counterValue(stat.BytesSent),
				"rx_packets": counterValue(stat.PacketsRecv),
				"tx_packets": counterValue(stat.PacketsSent),
				"rx_errors":  counterValue(stat.Errin),
				"tx_errors":  counterValue(stat.Errout),
				"rx_drops":   counterValue(stat.Dropin),
				"tx_drops":   counterValue(stat.Dropout),
			},
		})
	}
	return objects, nil
}

// kernelObject reads raw /proc/stat counters and /proc/loadavg.
// Params: ctx for cancellation.
// Returns: Kernel object or read/parse error.
func (s *HostSource) kernelObject(ctx context.Context) (Object, error) {
	select {
	case <-ctx.Done():
		return Object{}, ctx.Err()
	default:
	}

	loadPayload, err := s.readFile("/proc/loadavg")
	if err != nil {
		return Object{}, fmt.Errorf("read /proc/loadavg: %w", err)
	}
	load, err := parseKernelLoadAverages(loadPayload)
	if err != nil {
		return Object{}, fmt.Errorf("parse /proc/loadavg: %w", err)
	}

	statPayload, err := s.readFile("/proc/stat")
	if err != nil {
		return Object{}, fmt.Errorf("read /proc/stat: %w", err)
	}
	counters, err := parseKernelCounters(statPayload)
	if err != nil {
		return Object{}, fmt.Errorf("parse /proc/stat: %w", err)
	}

	return Object{
		Name: match.NewObjectName(HostDomain, "type", "Kernel"),
		Attrs: map[string]any{
			"load1":         load.load1,
			"load5":         load.load5,
			"load15":        load.load15,
			"ctxt":          counterValue(counters.ctxt),
			"intr":          counterValue(counters.intr),
			"softirq":       counterValue(counters.softirq),
			"forks":         counterValue(counters.forks),
			"procs_running": counterValue(counters.procsRunning),
			"procs_blocked": counterValue(counters.procsBlocked),
		},
	}, nil
}

// cpuMillis converts cumulative CPU seconds into integral milliseconds.
// Params: seconds from gopsutil TimesStat.
// Returns: counter in milliseconds.
func cpuMillis(seconds float64) int64 {
	if math.IsNaN(seconds) || seconds <= 0 {
		return 0
	}
	return int64(seconds * 1000)
}

// finiteOrZero replaces NaN and Inf with zero.
// Params: value gauge value.
// Returns: finite value.
func finiteOrZero(value float64) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0
	}
	return value
}

// readonlyValue maps partition mount options to readonly flag (0/1).
// Params: opts mount option list from partition info.
// Returns: 1 for read-only, 0 otherwise.
func readonlyValue(opts []string) int64 {
	for _, option := range opts {
		if strings.EqualFold(strings.TrimSpace(option), "ro") {
			return 1
		}
	}
	return 0
}
