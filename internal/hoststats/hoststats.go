// Package hoststats samples the local host's resource usage so an operator
// can judge whether the load generator itself, rather than the target, is
// the bottleneck during a run.
package hoststats

import (
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is a point-in-time read of host CPU, memory, and load.
type Snapshot struct {
	CPUPercent   float64 `json:"cpuPercent"`
	MemTotal     uint64  `json:"memTotal"`
	MemUsed      uint64  `json:"memUsed"`
	MemAvailable uint64  `json:"memAvailable"`
	LoadAvg1     float64 `json:"loadAvg1"`
	LoadAvg5     float64 `json:"loadAvg5"`
	LoadAvg15    float64 `json:"loadAvg15"`
}

// Sample collects a fresh Snapshot. Individual gopsutil calls are allowed to
// fail independently (e.g. load averages are unavailable on some platforms);
// a failed field is simply left zero rather than failing the whole sample.
func Sample() Snapshot {
	var snap Snapshot

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		snap.CPUPercent = percents[0]
	}

	if memInfo, err := mem.VirtualMemory(); err == nil && memInfo != nil {
		snap.MemTotal = memInfo.Total
		snap.MemUsed = memInfo.Used
		snap.MemAvailable = memInfo.Available
	}

	if loadAvg, err := load.Avg(); err == nil && loadAvg != nil {
		snap.LoadAvg1 = loadAvg.Load1
		snap.LoadAvg5 = loadAvg.Load5
		snap.LoadAvg15 = loadAvg.Load15
	}

	return snap
}
