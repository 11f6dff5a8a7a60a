package async

import (
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/ticketpulse/errors"
)

const gib = 1 << 30

// Local synthesis dominates a worker's footprint; the reserve stays with the host.
const (
	gbPerWorker    = 2.5
	gbHostReserve  = 2.0
	maxRecommended = 32
)

// SystemMetrics is the pool and host snapshot served by the health endpoint
type SystemMetrics struct {
	WorkersActive int     `json:"workers_active"`
	WorkersTotal  int     `json:"workers_total"`
	JobsProcessed int     `json:"jobs_processed"`
	JobsQueued    int     `json:"jobs_queued"`
	JobsRunning   int     `json:"jobs_running"`
	MemoryUsedGB  float64 `json:"memory_used_gb"`
	MemoryTotalGB float64 `json:"memory_total_gb"`
	MemoryPercent float64 `json:"memory_percent"`
	Load1         float64 `json:"load1,omitempty"` // unset where the OS has no load average
}

type memorySnapshot struct {
	total, available uint64
}

func (m memorySnapshot) usedGB() float64      { return float64(m.total-m.available) / gib }
func (m memorySnapshot) totalGB() float64     { return float64(m.total) / gib }
func (m memorySnapshot) availableGB() float64 { return float64(m.available) / gib }

func readMemory() (memorySnapshot, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return memorySnapshot{}, errors.Wrap(err, "read virtual memory")
	}
	return memorySnapshot{total: vm.Total, available: vm.Available}, nil
}

// recommendedWorkers sizes the pool to the memory left after the host reserve,
// clamped to [1, maxRecommended].
func recommendedWorkers(availableGB float64) int {
	n := int((availableGB - gbHostReserve) / gbPerWorker)
	return max(1, min(n, maxRecommended))
}

// GetSystemMetrics never fails; parts it cannot read are left zero.
func (wp *WorkerPool) GetSystemMetrics() SystemMetrics {
	wp.mu.Lock()
	m := SystemMetrics{
		WorkersActive: wp.activeWorkers,
		WorkersTotal:  wp.workers,
		JobsProcessed: wp.jobsProcessed,
	}
	wp.mu.Unlock()

	if queued, running, err := wp.queue.GetJobCounts(); err == nil {
		m.JobsQueued, m.JobsRunning = queued, running
	}
	if snap, err := readMemory(); err == nil && snap.total > 0 {
		m.MemoryUsedGB = snap.usedGB()
		m.MemoryTotalGB = snap.totalGB()
		m.MemoryPercent = m.MemoryUsedGB / m.MemoryTotalGB * 100
	}
	if avg, err := load.Avg(); err == nil {
		m.Load1 = avg.Load1
	}
	return m
}

// memoryPressure reports how far the configured worker count overshoots what
// available memory supports. ok is false when memory can't be read or there is no
// overshoot.
func (wp *WorkerPool) memoryPressure() (recommended int, snap memorySnapshot, ok bool) {
	snap, err := readMemory()
	if err != nil {
		return 0, snap, false
	}
	recommended = recommendedWorkers(snap.availableGB())
	return recommended, snap, wp.workers > recommended
}
