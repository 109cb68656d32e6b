// Package hostinfo reports the CPU and memory of the machine a run executes
// on, so run logs can be compared across hosts.
package hostinfo

import (
	"context"
	"runtime"

	"github.com/klauspost/cpuid/v2"
	psutil "github.com/shirou/gopsutil/v3/cpu"
	psmem "github.com/shirou/gopsutil/v3/mem"
)

type Snapshot struct {
	CPUModel      string   `json:"cpu_model"`
	PhysicalCores int      `json:"physical_cores"`
	LogicalCores  int      `json:"logical_cores"`
	GOMAXPROCS    int      `json:"gomaxprocs"`
	CPUPercent    float64  `json:"cpu_percent"`
	TotalMemory   uint64   `json:"total_memory"`
	AvailMemory   uint64   `json:"available_memory"`
	MemoryPercent float64  `json:"memory_percent"`
	GoVersion     string   `json:"go_version"`
	Warnings      []string `json:"warnings,omitempty"`
}

// Collect gathers a snapshot. Probes that fail on this platform are recorded
// as warnings and fall back to what cpuid and the runtime report.
func Collect(ctx context.Context) Snapshot {
	snap := Snapshot{
		CPUModel:      cpuid.CPU.BrandName,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
		GOMAXPROCS:    runtime.GOMAXPROCS(0),
		GoVersion:     runtime.Version(),
	}

	if infos, err := psutil.InfoWithContext(ctx); err != nil {
		snap.Warnings = append(snap.Warnings, "cpu info: "+err.Error())
	} else if len(infos) > 0 && snap.CPUModel == "" {
		snap.CPUModel = infos[0].ModelName
	}
	if n, err := psutil.CountsWithContext(ctx, true); err == nil && n > 0 {
		snap.LogicalCores = n
	}
	if n, err := psutil.CountsWithContext(ctx, false); err == nil && n > 0 {
		snap.PhysicalCores = n
	}
	if pct, err := psutil.PercentWithContext(ctx, 0, false); err != nil {
		snap.Warnings = append(snap.Warnings, "cpu percent: "+err.Error())
	} else if len(pct) > 0 {
		snap.CPUPercent = pct[0]
	}
	if vm, err := psmem.VirtualMemoryWithContext(ctx); err != nil {
		snap.Warnings = append(snap.Warnings, "memory: "+err.Error())
	} else {
		snap.TotalMemory = vm.Total
		snap.AvailMemory = vm.Available
		snap.MemoryPercent = vm.UsedPercent
	}

	if snap.LogicalCores <= 0 {
		snap.LogicalCores = runtime.NumCPU()
	}
	if snap.CPUModel == "" {
		snap.CPUModel = "unknown"
	}
	return snap
}

// LogAttrs flattens the snapshot into slog key/value pairs.
func (s Snapshot) LogAttrs() []any {
	return []any{
		"cpu", s.CPUModel,
		"physical_cores", s.PhysicalCores,
		"logical_cores", s.LogicalCores,
		"gomaxprocs", s.GOMAXPROCS,
		"total_memory", s.TotalMemory,
		"memory_percent", s.MemoryPercent,
	}
}
