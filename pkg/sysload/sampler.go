package sysload

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Reading is one raw utilization sample.
type Reading struct {
	// CPU is the busy fraction across all cores, 0..1.
	CPU float64
	// Memory is the used fraction of physical memory, 0..1.
	Memory float64
	// Goroutines is the current goroutine count.
	Goroutines int
}

// Sampler reads raw utilization figures. Implementations must be safe for
// repeated calls from one goroutine.
type Sampler interface {
	Sample(ctx context.Context) (Reading, error)
}

// goroutinesPerProc is the goroutine count per scheduler proc treated as
// full runtime saturation when deriving composite utilization.
const goroutinesPerProc = 500

// SystemSampler reads host utilization through gopsutil plus the Go runtime.
type SystemSampler struct{}

// Sample implements Sampler. CPU utilization is measured since the previous
// call, so the first sample of a fresh process reflects boot-relative usage.
func (SystemSampler) Sample(ctx context.Context) (Reading, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Reading{}, fmt.Errorf("sample cpu: %w", err)
	}

	var cpuFrac float64
	if len(percents) > 0 {
		cpuFrac = percents[0] / 100
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Reading{}, fmt.Errorf("sample memory: %w", err)
	}

	return Reading{
		CPU:        cpuFrac,
		Memory:     vm.UsedPercent / 100,
		Goroutines: runtime.NumGoroutine(),
	}, nil
}

// Utilization folds a reading into the single figure the level machine
// consumes: the worst of CPU, memory, and goroutine pressure.
func (r Reading) Utilization() float64 {
	goroutinePressure := float64(r.Goroutines) / float64(runtime.GOMAXPROCS(0)*goroutinesPerProc)
	if goroutinePressure > 1 {
		goroutinePressure = 1
	}

	u := r.CPU
	if r.Memory > u {
		u = r.Memory
	}

	if goroutinePressure > u {
		u = goroutinePressure
	}

	return u
}
