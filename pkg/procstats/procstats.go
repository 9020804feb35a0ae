// Package procstats reads best-effort resource usage for a single PID from
// /proc, used only to populate the diagnostic fields of GET /metrics
// (memory_usage_mb, cpu_usage_percent). Nothing here is used for
// scheduling or admission decisions; a read failure yields zero values
// rather than an error, since the backend process may have exited
// between the snapshot and the read.
package procstats

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

var clockTicksPerSecond = 100.0 // standard USER_HZ on Linux; not configurable at runtime via /proc

// Sample is a point-in-time resource reading for one process.
type Sample struct {
	MemoryMB   float64
	CPUPercent float64
}

// cpuSnapshot is the previous reading used to derive a CPU percentage from
// the monotonically increasing utime+stime counters.
type cpuSnapshot struct {
	totalTicks float64
	at         time.Time
}

// Reader tracks the previous CPU sample per PID so successive calls can
// derive a rate instead of reporting a meaningless cumulative total.
type Reader struct {
	mu   sync.Mutex
	prev map[int]cpuSnapshot
}

// NewReader creates a Reader.
func NewReader() *Reader {
	return &Reader{prev: make(map[int]cpuSnapshot)}
}

// Sample reads /proc/<pid>/status for RSS and /proc/<pid>/stat for CPU
// ticks, returning a zero Sample if the process is gone or /proc is
// unavailable (e.g. non-Linux).
func (r *Reader) Sample(pid int) Sample {
	mem := readRSSMB(pid)
	cpu := r.readCPUPercent(pid)
	return Sample{MemoryMB: mem, CPUPercent: cpu}
}

// Forget drops any retained CPU baseline for pid, called when a process
// exits so a future reused PID doesn't inherit a stale snapshot.
func (r *Reader) Forget(pid int) {
	r.mu.Lock()
	delete(r.prev, pid)
	r.mu.Unlock()
}

func readRSSMB(pid int) float64 {
	f, err := os.Open(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return 0
		}
		return kb / 1024
	}
	return 0
}

func (r *Reader) readCPUPercent(pid int) float64 {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0
	}

	// Fields are space-separated; the process name field (2nd) may itself
	// contain spaces inside parens, so split after the closing paren.
	parenEnd := strings.LastIndexByte(string(data), ')')
	if parenEnd < 0 || parenEnd+2 >= len(data) {
		return 0
	}
	fields := strings.Fields(string(data[parenEnd+2:]))
	// After the comm field, fields[11] and fields[12] (0-indexed) are
	// utime and stime (fields 14 and 15 in the full /proc/pid/stat layout).
	if len(fields) < 13 {
		return 0
	}
	utime, err1 := strconv.ParseFloat(fields[11], 64)
	stime, err2 := strconv.ParseFloat(fields[12], 64)
	if err1 != nil || err2 != nil {
		return 0
	}
	total := utime + stime
	now := time.Now()

	r.mu.Lock()
	prev, ok := r.prev[pid]
	r.prev[pid] = cpuSnapshot{totalTicks: total, at: now}
	r.mu.Unlock()

	if !ok {
		return 0
	}
	elapsed := now.Sub(prev.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	deltaTicks := total - prev.totalTicks
	if deltaTicks < 0 {
		return 0
	}
	return (deltaTicks / clockTicksPerSecond) / elapsed * 100
}
