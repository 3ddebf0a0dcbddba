package collector

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"labwatch/internal/models"
)

const bytesPerGB = 1024 * 1024 * 1024

// HostCollector samples the local host: CPU percent from /proc/stat deltas, used memory and used
// disk space in GB, and network latency in milliseconds through its Prober.
type HostCollector struct {
	ProcRoot    string
	DiskPath    string
	CPUInterval time.Duration
	Prober      Prober

	mu      sync.Mutex
	prevCPU *cpuSample
}

type cpuSample struct {
	total uint64
	idle  uint64
}

func NewHostCollector(diskPath string, prober Prober) *HostCollector {
	if diskPath == "" {
		diskPath = "/"
	}
	return &HostCollector{ProcRoot: "/proc", DiskPath: diskPath, CPUInterval: time.Second, Prober: prober}
}

func (h *HostCollector) Sample(ctx context.Context, kind models.ComponentKind) (float64, error) {
	var v float64
	var err error
	switch kind {
	case models.KindCPU:
		v, err = h.cpuPercent(ctx)
	case models.KindMemory:
		v, err = h.memUsedGB()
	case models.KindDisk:
		v, err = diskUsedGB(h.DiskPath)
	case models.KindPing:
		if h.Prober == nil {
			err = errors.New("no latency prober configured")
		} else {
			var d time.Duration
			d, err = h.Prober.Probe(ctx)
			v = float64(d) / float64(time.Millisecond)
		}
	default:
		err = fmt.Errorf("unsupported component kind")
	}
	if err != nil {
		return 0, &AcquisitionError{Kind: kind, Err: err}
	}
	return v, nil
}

// cpuPercent compares against the previous reading. On the first call it takes a second reading
// CPUInterval later so the value is never derived from a single snapshot.
func (h *HostCollector) cpuPercent(ctx context.Context) (float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	total, idle, err := readCPU(filepath.Join(h.ProcRoot, "stat"))
	if err != nil {
		return 0, err
	}
	if h.prevCPU == nil {
		h.prevCPU = &cpuSample{total: total, idle: idle}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(h.CPUInterval):
		}
		total, idle, err = readCPU(filepath.Join(h.ProcRoot, "stat"))
		if err != nil {
			return 0, err
		}
	}
	prev := h.prevCPU
	h.prevCPU = &cpuSample{total: total, idle: idle}
	if total <= prev.total {
		return 0, nil
	}
	deltaTotal := total - prev.total
	deltaIdle := idle - prev.idle
	return 100 * (1 - float64(deltaIdle)/float64(deltaTotal)), nil
}

func (h *HostCollector) memUsedGB() (float64, error) {
	total, avail, err := readMem(filepath.Join(h.ProcRoot, "meminfo"))
	if err != nil {
		return 0, err
	}
	return float64(total-avail) / bytesPerGB, nil
}

func readCPU(path string) (total, idle uint64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := s.Text()
		if strings.HasPrefix(line, "cpu ") {
			parts := strings.Fields(line)
			if len(parts) < 5 {
				return 0, 0, errors.New("invalid cpu line")
			}
			vals := make([]uint64, 0, len(parts)-1)
			for _, p := range parts[1:] {
				v, e := strconv.ParseUint(p, 10, 64)
				if e != nil {
					return 0, 0, e
				}
				vals = append(vals, v)
				total += v
			}
			idle = vals[3]
			if len(vals) > 4 {
				idle += vals[4]
			}
			return total, idle, nil
		}
	}
	if err := s.Err(); err != nil {
		return 0, 0, err
	}
	return 0, 0, errors.New("cpu line not found")
}

func readMem(path string) (total, available uint64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		fields := strings.Fields(s.Text())
		if len(fields) < 2 {
			continue
		}
		if fields[0] == "MemTotal:" {
			total, _ = strconv.ParseUint(fields[1], 10, 64)
			total *= 1024
		}
		if fields[0] == "MemAvailable:" {
			available, _ = strconv.ParseUint(fields[1], 10, 64)
			available *= 1024
		}
	}
	if total == 0 || available > total {
		return 0, 0, errors.New("meminfo parse failed")
	}
	return total, available, nil
}

func diskUsedGB(path string) (float64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, err
	}
	total := st.Blocks * uint64(st.Bsize)
	free := st.Bavail * uint64(st.Bsize)
	return float64(total-free) / bytesPerGB, nil
}
