package progress

import (
	"sync"
	"time"
)

const (
	// rateAlpha weights the newest rate sample in the moving average.
	rateAlpha = 0.2
	// sampleInterval is the shortest span a rate sample may cover. Progress
	// arrives once per frame, many times per display refresh.
	sampleInterval = 100 * time.Millisecond
)

// Stats is a point-in-time view of one transfer.
type Stats struct {
	BytesDone int64
	Total     int64 // 0 until the size is declared
	RateBps   float64
	ETA       time.Duration
	Percent   float64
	StartedAt time.Time
}

// Meter turns cumulative byte counts into an exponentially smoothed rate and
// an ETA. It is safe for concurrent use.
type Meter struct {
	mu  sync.Mutex
	now func() time.Time

	total     int64
	done      int64
	startedAt time.Time

	sampledAt   time.Time
	sampledDone int64
	rateBps     float64
}

// NewMeter returns a meter using the wall clock.
func NewMeter() *Meter {
	return NewMeterWithNow(time.Now)
}

// NewMeterWithNow returns a meter with a custom time source (for tests).
func NewMeterWithNow(now func() time.Time) *Meter {
	if now == nil {
		now = time.Now
	}
	return &Meter{now: now}
}

// Start resets the meter. The total may be unknown (0) until the first
// payload frame declares it.
func (m *Meter) Start(totalBytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total = totalBytes
	m.done = 0
	m.startedAt = m.now()
	m.sampledAt = m.startedAt
	m.sampledDone = 0
	m.rateBps = 0
}

// Update records the cumulative number of bytes received. Counts that do
// not move forward are ignored.
func (m *Meter) Update(done int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if done <= m.done {
		return
	}
	m.done = done

	now := m.now()
	elapsed := now.Sub(m.sampledAt)
	if elapsed < sampleInterval {
		return
	}
	inst := float64(m.done-m.sampledDone) / elapsed.Seconds()
	if m.rateBps == 0 {
		m.rateBps = inst
	} else {
		m.rateBps = rateAlpha*inst + (1-rateAlpha)*m.rateBps
	}
	m.sampledAt = now
	m.sampledDone = m.done
}

// SetTotal sets the expected number of bytes.
func (m *Meter) SetTotal(totalBytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total = totalBytes
}

// Snapshot returns the current stats. Before the first full sample the rate
// is the average since Start.
func (m *Meter) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	rate := m.rateBps
	if rate == 0 && m.done > 0 {
		if elapsed := m.now().Sub(m.startedAt).Seconds(); elapsed > 0 {
			rate = float64(m.done) / elapsed
		}
	}

	stats := Stats{
		BytesDone: m.done,
		Total:     m.total,
		RateBps:   rate,
		StartedAt: m.startedAt,
	}
	if m.total > 0 {
		stats.Percent = min(float64(m.done)/float64(m.total)*100, 100)
	}
	if rate > 0 && m.total > m.done {
		stats.ETA = time.Duration(float64(m.total-m.done) / rate * float64(time.Second))
	}
	return stats
}
