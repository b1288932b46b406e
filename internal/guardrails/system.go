package guardrails

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// SystemProbe builds guardrail snapshots from the local machine: filesystem
// headroom under a directory, CPU load from /proc/stat, and callbacks into
// the engine for running-job and transfer counts.
type SystemProbe struct {
	dir          string
	runningJobs  func() int
	transferBusy func() bool

	mu        sync.Mutex
	lastTotal uint64
	lastIdle  uint64
}

// NewSystemProbe constructs a probe rooted at dir. Either callback may be nil
// when the corresponding signal has no source.
func NewSystemProbe(dir string, runningJobs func() int, transferBusy func() bool) *SystemProbe {
	return &SystemProbe{dir: dir, runningJobs: runningJobs, transferBusy: transferBusy}
}

// Snapshot probes live machine state. The CPU figure is a delta against the
// previous snapshot, so the first call reports 0.
func (p *SystemProbe) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	var snapshot Snapshot
	if p.runningJobs != nil {
		snapshot.RunningJobs = p.runningJobs()
	}
	if p.transferBusy != nil {
		snapshot.RecordingActive = p.transferBusy()
	}

	free, err := freeSpaceGB(p.dir)
	if err != nil {
		return Snapshot{}, err
	}
	snapshot.FreeSpaceGB = free

	cpu, err := p.cpuPercent()
	if err != nil {
		return Snapshot{}, err
	}
	snapshot.CPUPercent = cpu

	return snapshot, nil
}

// FreeSpaceAt reports filesystem headroom under dir, for guardrails that
// name their own path instead of the probe root.
func (p *SystemProbe) FreeSpaceAt(ctx context.Context, dir string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return freeSpaceGB(dir)
}

func freeSpaceGB(dir string) (float64, error) {
	if dir == "" {
		dir = "/"
	}
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", dir, err)
	}
	free := uint64(st.Bavail) * uint64(st.Bsize)
	return float64(free) / (1 << 30), nil
}

// cpuPercent samples the aggregate cpu line of /proc/stat and reports busy
// time as a share of the interval since the previous sample.
func (p *SystemProbe) cpuPercent() (float64, error) {
	total, idle, err := readCPUSample()
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	deltaTotal := total - p.lastTotal
	deltaIdle := idle - p.lastIdle
	first := p.lastTotal == 0
	p.lastTotal = total
	p.lastIdle = idle

	if first || deltaTotal == 0 {
		return 0, nil
	}
	busy := float64(deltaTotal-deltaIdle) / float64(deltaTotal)
	return busy * 100, nil
}

func readCPUSample() (total, idle uint64, err error) {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return 0, 0, fmt.Errorf("read cpu stats: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 || fields[0] != "cpu" {
			continue
		}
		for i, field := range fields[1:] {
			value, parseErr := strconv.ParseUint(field, 10, 64)
			if parseErr != nil {
				return 0, 0, fmt.Errorf("parse cpu stats: %w", parseErr)
			}
			total += value
			// idle + iowait
			if i == 3 || i == 4 {
				idle += value
			}
		}
		return total, idle, nil
	}
	return 0, 0, fmt.Errorf("no aggregate cpu line in /proc/stat")
}
