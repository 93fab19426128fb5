// Package hoststats takes a snapshot of host resource usage for the health
// endpoint.
package hoststats

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

const (
	mb = 1024.0 * 1024.0
	gb = mb * 1024.0
)

// Stats is one snapshot. Values that could not be read stay zero.
type Stats struct {
	CPULoad      float64 `json:"cpu_load"`
	RAMUsedMB    float64 `json:"ram_used_mb"`
	RAMTotalMB   float64 `json:"ram_total_mb"`
	ProcessRSSMB float64 `json:"process_rss_mb"`
	DiskUsedGB   float64 `json:"disk_used_gb"`
	DiskTotalGB  float64 `json:"disk_total_gb"`
}

// Collect reads CPU, memory, process and disk usage. A failing probe is
// logged and skipped; Collect itself never fails.
func Collect(ctx context.Context, logger *slog.Logger, sample time.Duration) Stats {
	var s Stats

	if pct, err := cpu.PercentWithContext(ctx, sample, false); err == nil && len(pct) > 0 {
		s.CPULoad = pct[0]
	} else if err != nil {
		logger.Warn("Failed to read CPU stats", "error", err)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		// Total - Available excludes page cache from "used".
		s.RAMUsedMB = float64(vm.Total-vm.Available) / mb
		s.RAMTotalMB = float64(vm.Total) / mb
	} else {
		logger.Warn("Failed to read memory stats", "error", err)
	}

	if p, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if mi, err := p.MemoryInfoWithContext(ctx); err == nil {
			s.ProcessRSSMB = float64(mi.RSS) / mb
		}
	}

	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		s.DiskUsedGB = float64(du.Used) / gb
		s.DiskTotalGB = float64(du.Total) / gb
	} else {
		logger.Warn("Failed to read disk stats", "error", err)
	}

	return s
}
