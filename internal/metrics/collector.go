package metrics

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Sample is one snapshot of host and process usage
type Sample struct {
	CPUPercent        float64
	ProcessCPUPercent float64
	IOWaitPercent     float64
	MemoryUsed        uint64
	MemoryTotal       uint64
	MemoryPercent     float64
	DiskReadPerSec    uint64
	DiskWritePerSec   uint64
	Timestamp         time.Time
}

// Collector periodically samples host metrics, logs them and publishes them
// as gauges
type Collector struct {
	interval time.Duration
	logger   *zap.Logger
	proc     *process.Process

	lastCPU  *cpu.TimesStat
	lastDisk map[string]disk.IOCountersStat
	lastAt   time.Time

	mu   sync.RWMutex
	last *Sample
}

// NewCollector creates a collector. Intervals under a second fall back to 30s.
func NewCollector(interval time.Duration, logger *zap.Logger) *Collector {
	if interval < time.Second {
		interval = 30 * time.Second
	}
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &Collector{interval: interval, logger: logger, proc: proc}
}

// Start samples until ctx is cancelled
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// first sample sets the cpu/disk baselines
	c.Collect()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Metrics collection stopped")
			return
		case <-ticker.C:
			c.Collect()
		}
	}
}

// Last returns the most recent sample, or nil before the first one
func (c *Collector) Last() *Sample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// Collect takes one sample
func (c *Collector) Collect() *Sample {
	s := &Sample{Timestamp: time.Now()}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	}
	if c.proc != nil {
		if pct, err := c.proc.Percent(0); err == nil {
			s.ProcessCPUPercent = pct
		}
	}
	s.IOWaitPercent = c.ioWait()

	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemoryUsed = vm.Used
		s.MemoryTotal = vm.Total
		s.MemoryPercent = vm.UsedPercent
	}
	s.DiskReadPerSec, s.DiskWritePerSec = c.diskRates(s.Timestamp)

	c.mu.Lock()
	c.last = s
	c.mu.Unlock()

	systemCPU.Set(s.CPUPercent)
	processCPU.Set(s.ProcessCPUPercent)
	memoryUsed.Set(float64(s.MemoryUsed))

	c.logger.Info("System metrics",
		zap.Float64("sys_cpu", s.CPUPercent),
		zap.Float64("proc_cpu", s.ProcessCPUPercent),
		zap.Float64("iowait", s.IOWaitPercent),
		zap.Float64("mem_pct", s.MemoryPercent),
		zap.String("mem_used", humanize.IBytes(s.MemoryUsed)),
		zap.String("disk_r", humanize.IBytes(s.DiskReadPerSec)+"/s"),
		zap.String("disk_w", humanize.IBytes(s.DiskWritePerSec)+"/s"),
	)
	return s
}

// ioWait returns the share of CPU time spent waiting on I/O since the last sample
func (c *Collector) ioWait() float64 {
	times, err := cpu.Times(false)
	if err != nil || len(times) == 0 {
		return 0
	}
	cur := times[0]
	prev := c.lastCPU
	c.lastCPU = &cur
	if prev == nil {
		return 0
	}

	total := (cur.User - prev.User) + (cur.System - prev.System) + (cur.Idle - prev.Idle) +
		(cur.Iowait - prev.Iowait) + (cur.Irq - prev.Irq) + (cur.Softirq - prev.Softirq) +
		(cur.Steal - prev.Steal)
	if total <= 0 {
		return 0
	}
	return (cur.Iowait - prev.Iowait) / total * 100
}

// diskRates returns bytes read and written per second across all disks
func (c *Collector) diskRates(now time.Time) (read, write uint64) {
	counters, err := disk.IOCounters()
	if err != nil {
		return 0, 0
	}
	prev, prevAt := c.lastDisk, c.lastAt
	c.lastDisk, c.lastAt = counters, now
	if prev == nil {
		return 0, 0
	}

	elapsed := now.Sub(prevAt).Seconds()
	if elapsed < 0.1 {
		return 0, 0
	}
	var dr, dw uint64
	for name, cur := range counters {
		last, ok := prev[name]
		if !ok {
			continue
		}
		// counters can wrap or reset
		if cur.ReadBytes >= last.ReadBytes {
			dr += cur.ReadBytes - last.ReadBytes
		}
		if cur.WriteBytes >= last.WriteBytes {
			dw += cur.WriteBytes - last.WriteBytes
		}
	}
	return uint64(float64(dr) / elapsed), uint64(float64(dw) / elapsed)
}
