package core

import (
	"sync"

	"github.com/spaghettifunk/lumen/engine/containers"
)

const AVG_COUNT = 30

// FrameMetrics keeps a rolling frame time average and a once-per-second FPS count.
type FrameMetrics struct {
	mu                 sync.RWMutex
	samples            *containers.RingQueue[float64]
	msAvg              float64
	frames             int
	accumulatedFrameMS float64
	fps                float64
	total              uint64
}

func NewFrameMetrics() *FrameMetrics {
	return &FrameMetrics{
		samples: containers.NewRingQueue[float64](AVG_COUNT),
	}
}

// Update records one frame that took frameElapsedTime seconds.
func (m *FrameMetrics) Update(frameElapsedTime float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameMS := frameElapsedTime * 1000.0
	m.samples.Push(frameMS)
	sum := 0.0
	m.samples.Each(func(v float64) { sum += v })
	m.msAvg = sum / float64(m.samples.Len())

	m.accumulatedFrameMS += frameMS
	m.frames++
	if m.accumulatedFrameMS >= 1000 {
		m.fps = float64(m.frames)
		m.accumulatedFrameMS -= 1000
		m.frames = 0
	}
	m.total++
}

func (m *FrameMetrics) FPS() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fps
}

// FrameTime returns the rolling average frame time in milliseconds.
func (m *FrameMetrics) FrameTime() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.msAvg
}

func (m *FrameMetrics) Frame() (float64, float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fps, m.msAvg
}

func (m *FrameMetrics) TotalFrames() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.total
}
