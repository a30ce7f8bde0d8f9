package source

import (
	"context"
	"errors"
	"testing"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	netio "github.com/shirou/gopsutil/v4/net"
)

func TestIsBaseDiskDevice(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{name: "sda", want: true},
		{name: "sda3", want: false},
		{name: "/dev/sda", want: true},
		{name: "/dev/sda3", want: false},
		{name: "xvda", want: true},
		{name: "xvda1", want: false},
		{name: "nvme0n1", want: true},
		{name: "nvme0n1p1", want: false},
		{name: "mmcblk0", want: true},
		{name: "mmcblk0p2", want: false},
		{name: "loop0", want: false},
		{name: "ram1", want: false},
		{name: "dm-0", want: true},
		{name: "md127", want: true},
		{name: "weird_device", want: true},
		{name: "", want: false},
		{name: "   ", want: false},
	}

	for _, tc := range cases {
		if got := isBaseDiskDevice(tc.name); got != tc.want {
			t.Fatalf("isBaseDiskDevice(%q)=%v want %v", tc.name, got, tc.want)
		}
	}
}

// TestParseKernelCounters verifies /proc/stat and /proc/loadavg parsing.
// Params: testing.T for assertions.
// Returns: none.
func TestParseKernelCounters(t *testing.T) {
	load, err := parseKernelLoadAverages([]byte("0.12 1.34 5.67 1/234 5678\n"))
	if err != nil {
		t.Fatalf("parseKernelLoadAverages() error: %v", err)
	}
	if load.load1 != 0.12 || load.load5 != 1.34 || load.load15 != 5.67 {
		t.Fatalf("unexpected load values: %#v", load)
	}

	got, err := parseKernelCounters([]byte(
		"cpu  1 2 3 4 5 6 7 8 9 10\n" +
			"intr 120 1 2 3\n" +
			"ctxt 400\n" +
			"processes 45\n" +
			"procs_running 7\n" +
			"procs_blocked 2\n" +
			"softirq 88 0 1 2\n",
	))
	if err != nil {
		t.Fatalf("parseKernelCounters() error: %v", err)
	}
	want := kernelCounters{ctxt: 400, intr: 120, softirq: 88, forks: 45, procsRunning: 7, procsBlocked: 2}
	if got != want {
		t.Fatalf("unexpected counters: %#v", got)
	}

	if _, err := parseKernelCounters([]byte("ctxt 1\n")); err == nil {
		t.Fatalf("expected missing field error")
	}
}

// TestHostSourceObjects verifies object naming and raw counter attributes.
// Params: testing.T for assertions.
// Returns: none.
func TestHostSourceObjects(t *testing.T) {
	src := fakeHostSource()

	objects, err := src.Objects(context.Background())
	if err != nil {
		t.Fatalf("Objects() error: %v", err)
	}

	byName := make(map[string]Object, len(objects))
	for _, object := range objects {
		byName[object.Name.String()] = object
	}

	expected := []string{
		"host:type=CPU,name=cpu-total",
		"host:type=CPU,name=cpu0",
		"host:type=Memory",
		"host:type=Swap",
		"host:type=Disk,name=sda",
		"host:type=FileSystem,mount=/",
		"host:type=Network,name=eth0",
		"host:type=Kernel",
	}
	if len(objects) != len(expected) {
		t.Fatalf("unexpected object count: got=%d want=%d", len(objects), len(expected))
	}
	for idx, name := range expected {
		if objects[idx].Name.String() != name {
			t.Fatalf("object[%d]=%s want %s", idx, objects[idx].Name, name)
		}
	}

	if got := byName["host:type=CPU,name=cpu-total"].Attrs["user"]; got != int64(1500) {
		t.Fatalf("unexpected cpu user millis: %#v", got)
	}
	if got := byName["host:type=Disk,name=sda"].Attrs["reads"]; got != int64(10) {
		t.Fatalf("unexpected disk reads: %#v", got)
	}
	if got := byName["host:type=FileSystem,mount=/"].Attrs["readonly"]; got != int64(1) {
		t.Fatalf("unexpected readonly flag: %#v", got)
	}
	if got := byName["host:type=Kernel"].Attrs["ctxt"]; got != int64(200) {
		t.Fatalf("unexpected ctxt: %#v", got)
	}
}

// TestHostSourceObjectsError verifies read errors fail the listing.
// Params: testing.T for assertions.
// Returns: none.
func TestHostSourceObjectsError(t *testing.T) {
	src := fakeHostSource()
	src.readMemory = func(context.Context) (*mem.VirtualMemoryStat, error) {
		return nil, errors.New("boom")
	}

	if _, err := src.Objects(context.Background()); err == nil {
		t.Fatalf("expected memory read error")
	}
}

func fakeHostSource() *HostSource {
	src := NewHostSource("host")
	src.kernel = true
	src.readCPU = func(_ context.Context, perCPU bool) ([]cpu.TimesStat, error) {
		if perCPU {
			return []cpu.TimesStat{{CPU: "cpu0", User: 0.5, Idle: 2}}, nil
		}
		return []cpu.TimesStat{{CPU: "cpu-total", User: 1.5, System: 0.25, Idle: 4}}, nil
	}
	src.readMemory = func(context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{Total: 1000, Used: 400, Free: 600, Available: 550, UsedPercent: 40}, nil
	}
	src.readSwap = func(context.Context) (*mem.SwapMemoryStat, error) {
		return &mem.SwapMemoryStat{Total: 100, Used: 10}, nil
	}
	src.readDiskIO = func(context.Context, ...string) (map[string]disk.IOCountersStat, error) {
		return map[string]disk.IOCountersStat{
			"sda":   {ReadCount: 10, WriteCount: 20},
			"sda1":  {ReadCount: 5},
			"loop0": {},
		}, nil
	}
	src.readPartitions = func(context.Context, bool) ([]disk.PartitionStat, error) {
		return []disk.PartitionStat{
			{Mountpoint: "/", Fstype: "ext4", Opts: []string{"ro", "relatime"}},
			{Mountpoint: "/broken"},
		}, nil
	}
	src.readUsage = func(_ context.Context, path string) (*disk.UsageStat, error) {
		if path == "/broken" {
			return nil, errors.New("permission denied")
		}
		return &disk.UsageStat{Path: path, Total: 100, Used: 25, Free: 75, UsedPercent: 25}, nil
	}
	src.readNet = func(context.Context, bool) ([]netio.IOCountersStat, error) {
		return []netio.IOCountersStat{{Name: "eth0", BytesRecv: 1024, BytesSent: 2048}}, nil
	}
	src.readFile = func(path string) ([]byte, error) {
		switch path {
		case "/proc/loadavg":
			return []byte("0.50 0.25 0.10 1/200 3000\n"), nil
		case "/proc/stat":
			return []byte("intr 100 1 2\nctxt 200\nprocesses 50\nprocs_running 4\nprocs_blocked 1\nsoftirq 300 1\n"), nil
		default:
			return nil, errors.New("unexpected path")
		}
	}
	return src
}
