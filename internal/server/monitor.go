package server

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"optflow-sim-go/internal/types"
)

// Monitor is a record publisher feeding the websocket broadcast. It keeps
// the latest record per camera and forwards at most one per camera per
// interval; a full channel drops the update.
type Monitor struct {
	interval time.Duration
	out      chan any
	now      func() time.Time

	mu     sync.Mutex
	last   map[string]time.Time
	latest map[string]types.FlowUpdate

	sent    atomic.Uint64
	dropped atomic.Uint64
}

func NewMonitor(interval time.Duration, buffer int) *Monitor {
	if buffer < 1 {
		buffer = 16
	}
	return &Monitor{
		interval: interval,
		out:      make(chan any, buffer),
		now:      time.Now,
		last:     make(map[string]time.Time),
		latest:   make(map[string]types.FlowUpdate),
	}
}

func (m *Monitor) Messages() <-chan any {
	return m.out
}

func (m *Monitor) Publish(meta types.RecordMeta, rec types.OpticalFlow) {
	update := types.FlowUpdate{
		Type:      "flow",
		Camera:    meta.Camera,
		ImageID:   meta.ImageID,
		StartTime: meta.StartTime,
		Record:    rec,
	}
	now := m.now()

	m.mu.Lock()
	m.latest[meta.Camera] = update
	last, seen := m.last[meta.Camera]
	due := !seen || now.Sub(last) >= m.interval
	if due {
		m.last[meta.Camera] = now
	}
	m.mu.Unlock()

	if !due {
		return
	}
	select {
	case m.out <- update:
		m.sent.Add(1)
	default:
		m.dropped.Add(1)
	}
}

// Snapshot returns the latest update of every camera, ordered by camera.
func (m *Monitor) Snapshot() any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.latest) == 0 {
		return nil
	}
	updates := make([]types.FlowUpdate, 0, len(m.latest))
	for _, u := range m.latest {
		updates = append(updates, u)
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].Camera < updates[j].Camera })
	return map[string]any{"type": "snapshot", "cameras": updates}
}

func (m *Monitor) Stats() (sent, dropped uint64) {
	return m.sent.Load(), m.dropped.Load()
}
