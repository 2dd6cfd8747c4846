// Copyright 2025 AUTHORS
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics samples host resource usage for the telemetry
// heartbeat and the get_consumption_* dispatcher handlers. Every
// operation is non-blocking: CPU usage is a delta against the previous
// call's /proc/stat snapshot, never a sleeping two-sample measurement.
package metrics

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

var pseudoFilesystems = map[string]bool{
	"proc": true, "sysfs": true, "devtmpfs": true, "devpts": true,
	"tmpfs": true, "cgroup": true, "cgroup2": true, "overlay": true,
	"squashfs": true, "autofs": true, "mqueue": true, "debugfs": true,
	"tracefs": true, "securityfs": true, "pstore": true, "bpf": true,
	"configfs": true, "fusectl": true, "hugetlbfs": true, "binfmt_misc": true,
}

// cpuTimes is one snapshot of the aggregate "cpu" line of /proc/stat, in
// USER_HZ jiffies.
type cpuTimes struct {
	idle  uint64
	total uint64
}

// Sampler collects point-in-time readings of CPU, memory, disk, and
// uptime. memory_total and disk_total are computed once, lazily, and
// cached for the process lifetime per spec §4.3; everything else is
// recomputed on every call.
type Sampler struct {
	// Root is kept only for compatibility with callers that want disk
	// accounting scoped to a single mount point (tests); production
	// use leaves it empty and aggregates every physical filesystem.
	Root string

	totalsOnce sync.Once
	memTotal   uint64
	diskTotal  uint64
	totalsErr  error

	mu       sync.Mutex
	prevCPU  cpuTimes
	haveCPU  bool
	bootTime time.Time
}

// CPUUsagePercent returns the percentage of CPU time spent non-idle
// since the previous call, in [0, 100]. The first call after process
// start always returns 0: there is no prior snapshot to delta against.
// This never sleeps to take a second sample, per spec's non-blocking
// requirement.
func (s *Sampler) CPUUsagePercent() (float64, error) {
	cur, err := readProcStat()
	if err != nil {
		return 0, fmt.Errorf("metrics: cpu_usage_percent: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.prevCPU
	had := s.haveCPU
	s.prevCPU = cur
	s.haveCPU = true
	if !had {
		return 0, nil
	}

	totalDelta := cur.total - prev.total
	idleDelta := cur.idle - prev.idle
	if totalDelta == 0 {
		return 0, nil
	}
	busy := float64(totalDelta-idleDelta) / float64(totalDelta) * 100
	if busy < 0 {
		busy = 0
	}
	if busy > 100 {
		busy = 100
	}
	return busy, nil
}

// MemoryUsedBytes returns currently-used memory: total minus available.
func (s *Sampler) MemoryUsedBytes() (uint64, error) {
	total, avail, err := memInfo()
	if err != nil {
		return 0, fmt.Errorf("metrics: memory_used_bytes: %w", err)
	}
	if avail > total {
		return 0, nil
	}
	return total - avail, nil
}

// MemoryTotalBytes returns total installed memory, read on the first
// call to either total and cached for the process lifetime. A failure
// on that first read is cached too, and both totals share one cached
// error.
func (s *Sampler) MemoryTotalBytes() (uint64, error) {
	s.loadTotals()
	return s.memTotal, s.totalsErr
}

// DiskUsedBytes returns used bytes summed across every physical
// filesystem, deduplicated by backing device.
func (s *Sampler) DiskUsedBytes() (uint64, error) {
	used, _, err := diskUsage(s.Root)
	if err != nil {
		return 0, fmt.Errorf("metrics: disk_used_bytes: %w", err)
	}
	return used, nil
}

// DiskTotalBytes returns total capacity summed across every physical
// filesystem, deduplicated by backing device, read and cached the same
// way as MemoryTotalBytes.
func (s *Sampler) DiskTotalBytes() (uint64, error) {
	s.loadTotals()
	return s.diskTotal, s.totalsErr
}

// UptimeSeconds returns seconds since the kernel booted.
func (s *Sampler) UptimeSeconds() (float64, error) {
	up, err := uptime()
	if err != nil {
		return 0, fmt.Errorf("metrics: uptime_seconds: %w", err)
	}
	return up.Seconds(), nil
}

func (s *Sampler) loadTotals() {
	s.totalsOnce.Do(func() {
		if _, total, err := diskUsage(s.Root); err != nil {
			s.totalsErr = fmt.Errorf("metrics: disk_total_bytes: %w", err)
		} else {
			s.diskTotal = total
		}
		if total, _, err := memInfo(); err != nil {
			if s.totalsErr == nil {
				s.totalsErr = fmt.Errorf("metrics: memory_total_bytes: %w", err)
			}
		} else {
			s.memTotal = total
		}
	})
}

// Sample gathers every reading in one call, for the telemetry emitter
// and get_consumption_* handlers. A failure in one subsystem doesn't
// prevent the others from being reported: the partial Sample is
// returned alongside a non-nil error describing what failed. The
// telemetry emitter logs such an error and skips that tick.
type Sample struct {
	CPUCount        int
	CPUUsagePercent float64
	MemoryUsed      uint64
	MemoryTotal     uint64
	DiskUsed        uint64
	DiskTotal       uint64
	Uptime          time.Duration
}

func (s *Sampler) Sample() (Sample, error) {
	var sm Sample
	var errs []string

	sm.CPUCount = runtime.NumCPU()

	if pct, err := s.CPUUsagePercent(); err != nil {
		errs = append(errs, err.Error())
	} else {
		sm.CPUUsagePercent = pct
	}

	if used, err := s.MemoryUsedBytes(); err != nil {
		errs = append(errs, err.Error())
	} else {
		sm.MemoryUsed = used
	}
	// The totals share one cached error, so each keeps the value it read
	// even when the error belongs to the other.
	memTotal, err := s.MemoryTotalBytes()
	if err != nil {
		errs = append(errs, err.Error())
	}
	sm.MemoryTotal = memTotal

	if used, err := s.DiskUsedBytes(); err != nil {
		errs = append(errs, err.Error())
	} else {
		sm.DiskUsed = used
	}
	diskTotal, err := s.DiskTotalBytes()
	if err != nil {
		errs = append(errs, err.Error())
	}
	sm.DiskTotal = diskTotal

	if upSecs, err := s.UptimeSeconds(); err != nil {
		errs = append(errs, err.Error())
	} else {
		sm.Uptime = time.Duration(upSecs * float64(time.Second))
	}

	if len(errs) > 0 {
		return sm, fmt.Errorf("metrics: partial sample: %s", strings.Join(errs, "; "))
	}
	return sm, nil
}

func readProcStat() (cpuTimes, error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return cpuTimes{}, fmt.Errorf("open /proc/stat: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return cpuTimes{}, fmt.Errorf("empty /proc/stat")
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) < 5 || fields[0] != "cpu" {
		return cpuTimes{}, fmt.Errorf("malformed /proc/stat line: %q", scanner.Text())
	}

	var total, idle uint64
	for i, f := range fields[1:] {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return cpuTimes{}, fmt.Errorf("parse /proc/stat field %d: %w", i, err)
		}
		total += v
		// Fields are user, nice, system, idle, iowait, irq, softirq,
		// steal, guest, guest_nice in order; idle is index 3, iowait 4.
		// Both count as non-busy time.
		if i == 3 || i == 4 {
			idle += v
		}
	}
	return cpuTimes{idle: idle, total: total}, nil
}

func memInfo() (total, available uint64, err error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, 0, fmt.Errorf("open /proc/meminfo: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		var kb uint64
		switch fields[0] {
		case "MemTotal:":
			if kb, err = strconv.ParseUint(fields[1], 10, 64); err == nil {
				total = kb * 1024
			}
		case "MemAvailable:":
			if kb, err = strconv.ParseUint(fields[1], 10, 64); err == nil {
				available = kb * 1024
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return total, available, fmt.Errorf("scan /proc/meminfo: %w", err)
	}
	return total, available, nil
}

func uptime() (time.Duration, error) {
	data, err := os.ReadFile("/proc/uptime")
	if err != nil {
		return 0, fmt.Errorf("read /proc/uptime: %w", err)
	}
	fields := strings.Fields(string(data))
	if len(fields) < 1 {
		return 0, fmt.Errorf("malformed /proc/uptime")
	}
	secs, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("parse /proc/uptime: %w", err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// mountEntry is one parsed line of /proc/mounts.
type mountEntry struct {
	device     string
	mountPoint string
	fsType     string
}

// realFilesystems parses /proc/mounts, returning the mount points whose
// filesystem type is not one of the pseudo filesystems the kernel
// synthesizes (tmpfs, devtmpfs, overlay, squashfs, autofs, proc, sysfs,
// cgroup, devpts, ...), deduplicated by backing device so a bind mount
// or an overlay's lowerdir doesn't get counted twice.
func realFilesystems() ([]string, error) {
	entries, err := parseMounts()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.mountPoint)
	}
	return out, nil
}

func parseMounts() ([]mountEntry, error) {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return nil, fmt.Errorf("open /proc/mounts: %w", err)
	}
	defer f.Close()

	seenDevices := map[string]bool{}
	var out []mountEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		device, mountPoint, fsType := fields[0], fields[1], fields[2]
		if pseudoFilesystems[fsType] {
			continue
		}
		if !strings.HasPrefix(device, "/") {
			// Virtual/network devices (tmpfs-like pseudo-devices,
			// overlay's "overlay" token, NFS shares) aren't physical
			// partitions; skip them.
			continue
		}
		if seenDevices[device] {
			continue
		}
		seenDevices[device] = true
		out = append(out, mountEntry{device: device, mountPoint: mountPoint, fsType: fsType})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan /proc/mounts: %w", err)
	}
	return out, nil
}

// diskUsage sums used/total bytes across every physical mount, or, if
// root is non-empty, reports just that one mount point (used by tests
// and by any caller that wants a single filesystem's accounting).
func diskUsage(root string) (used, total uint64, err error) {
	if root != "" {
		return statOne(root)
	}

	mounts, err := parseMounts()
	if err != nil {
		return 0, 0, err
	}
	if len(mounts) == 0 {
		return statOne("/")
	}

	for _, m := range mounts {
		u, t, err := statOne(m.mountPoint)
		if err != nil {
			// A mount can disappear or be unreadable (permission
			// denied on a container-restricted path) between listing
			// and statfs; skip it rather than failing the whole
			// aggregate.
			continue
		}
		used += u
		total += t
	}
	return used, total, nil
}

func statOne(path string) (used, total uint64, err error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	bsize := uint64(st.Bsize)
	total = st.Blocks * bsize
	free := st.Bfree * bsize
	if free > total {
		return 0, total, nil
	}
	return total - free, total, nil
}
