package metrics

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// ProcessMetrics is one resource sample of the supervised child.
type ProcessMetrics struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryMB   float64   `json:"memory_mb"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

// Sampler reads CPU and memory usage of a pid with gopsutil and keeps a short
// ring of recent samples per name. Sampling is driven by the caller (the
// liveness tick), so there is no goroutine here.
type Sampler struct {
	maxHistory int

	mu      sync.Mutex
	handles map[string]*process.Process
	rings   map[string]*ring

	cpu     *prometheus.GaugeVec
	rss     *prometheus.GaugeVec
	threads *prometheus.GaugeVec
}

type ring struct {
	buf      []ProcessMetrics
	startIdx int
	count    int
}

func (r *ring) add(m ProcessMetrics) {
	if r.count < len(r.buf) {
		r.buf[(r.startIdx+r.count)%len(r.buf)] = m
		r.count++
		return
	}
	r.buf[r.startIdx] = m
	r.startIdx = (r.startIdx + 1) % len(r.buf)
}

func (r *ring) list() []ProcessMetrics {
	out := make([]ProcessMetrics, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.startIdx+i)%len(r.buf)]
	}
	return out
}

func NewSampler(maxHistory int) *Sampler {
	if maxHistory <= 0 {
		maxHistory = 60
	}
	return &Sampler{
		maxHistory: maxHistory,
		handles:    make(map[string]*process.Process),
		rings:      make(map[string]*ring),
		cpu: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "service", Name: "cpu_percent",
			Help: "CPU usage percentage of the supervised service.",
		}, []string{"name"}),
		rss: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "service", Name: "memory_rss_bytes",
			Help: "Resident memory of the supervised service.",
		}, []string{"name"}),
		threads: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "service", Name: "num_threads",
			Help: "Thread count of the supervised service.",
		}, []string{"name"}),
	}
}

// Register adds the sampler's gauges to r.
func (s *Sampler) Register(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{s.cpu, s.rss, s.threads} {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Sample reads the current usage of pid and records it under name.
// The gopsutil handle is reused while the pid stays the same so that
// CPUPercent measures the interval between calls.
func (s *Sampler) Sample(name string, pid int) (ProcessMetrics, error) {
	if pid <= 0 {
		return ProcessMetrics{}, fmt.Errorf("invalid pid %d", pid)
	}
	s.mu.Lock()
	h := s.handles[name]
	s.mu.Unlock()
	if h == nil || h.Pid != int32(pid) {
		var err error
		h, err = process.NewProcess(int32(pid))
		if err != nil {
			return ProcessMetrics{}, fmt.Errorf("failed to create process handle: %w", err)
		}
	}
	cpu, err := h.CPUPercent()
	if err != nil {
		cpu = 0
	}
	mem, err := h.MemoryInfo()
	if err != nil {
		return ProcessMetrics{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	threads, _ := h.NumThreads()
	m := ProcessMetrics{
		PID:        int32(pid),
		CPUPercent: cpu,
		MemoryRSS:  mem.RSS,
		MemoryMB:   float64(mem.RSS) / 1024 / 1024,
		NumThreads: threads,
		Timestamp:  time.Now(),
	}

	s.mu.Lock()
	s.handles[name] = h
	r := s.rings[name]
	if r == nil {
		r = &ring{buf: make([]ProcessMetrics, s.maxHistory)}
		s.rings[name] = r
	}
	r.add(m)
	s.mu.Unlock()

	s.cpu.WithLabelValues(name).Set(m.CPUPercent)
	s.rss.WithLabelValues(name).Set(float64(m.MemoryRSS))
	s.threads.WithLabelValues(name).Set(float64(m.NumThreads))
	return m, nil
}

// Clear zeroes the gauges and forgets the handle once the child is gone.
// History is kept.
func (s *Sampler) Clear(name string) {
	s.mu.Lock()
	delete(s.handles, name)
	s.mu.Unlock()
	s.cpu.WithLabelValues(name).Set(0)
	s.rss.WithLabelValues(name).Set(0)
	s.threads.WithLabelValues(name).Set(0)
}

// Latest returns the most recent sample for name.
func (s *Sampler) Latest(name string) (ProcessMetrics, bool) {
	h := s.History(name)
	if len(h) == 0 {
		return ProcessMetrics{}, false
	}
	return h[len(h)-1], true
}

// History returns samples for name, oldest first.
func (s *Sampler) History(name string) []ProcessMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rings[name]
	if r == nil {
		return nil
	}
	return r.list()
}
