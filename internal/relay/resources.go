package relay

import (
	"os"
	"runtime"
	"sync"

	"github.com/shirou/gopsutil/v4/process"
)

// processGauge reads CPU and memory usage off the running process for the
// stats snapshots. Both pipeline roles share one gauge so the CPU delta is
// diffed against a single baseline. CPU percentages are normalized to the
// whole machine, so a busy loop on one of eight cores reads as 12.5.
type processGauge struct {
	mu   sync.Mutex
	proc *process.Process
	cpus float64
}

func newProcessGauge() *processGauge {
	gauge := &processGauge{cpus: float64(runtime.NumCPU())}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		gauge.proc = proc
	}
	return gauge
}

func (g *processGauge) Snapshot() ResourceUsage {
	if g == nil {
		return ResourceUsage{}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	usage := ResourceUsage{Goroutines: runtime.NumGoroutine()}
	if g.proc == nil {
		return usage
	}

	// Percent with a zero interval diffs against the previous call, so
	// the first snapshot reads zero.
	if pct, err := g.proc.Percent(0); err == nil && g.cpus > 0 {
		usage.CPUPercent = pct / g.cpus
	}
	if mem, err := g.proc.MemoryInfo(); err == nil && mem != nil {
		usage.MemoryBytes = mem.RSS
	}
	return usage
}
