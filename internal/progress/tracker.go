package progress

import (
	"sort"
	"sync"
	"time"

	"github.com/sheerbytes/dcfile/internal/reassembly"
)

// TransferRow is the display state of one transfer in flight.
type TransferRow struct {
	ID             string
	Chunks         int
	ExpectedChunks uint32
	Stats          Stats
}

// ReceiverView is everything the receiver display shows.
type ReceiverView struct {
	Listen    string
	OutDir    string
	Active    []TransferRow
	Completed int
	Failed    int
	LastSaved string
}

type activeTransfer struct {
	meter          *Meter
	chunks         int
	expectedChunks uint32
}

// Tracker aggregates decoder events from any number of connections.
// Its methods match the reassembly.Options hooks.
type Tracker struct {
	mu     sync.Mutex
	now    func() time.Time
	view   ReceiverView
	active map[string]*activeTransfer
}

// NewTracker returns an empty tracker.
func NewTracker(listen, outDir string) *Tracker {
	return NewTrackerWithNow(listen, outDir, time.Now)
}

// NewTrackerWithNow returns a tracker with a custom time source (for tests).
func NewTrackerWithNow(listen, outDir string, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		now:    now,
		view:   ReceiverView{Listen: listen, OutDir: outDir},
		active: make(map[string]*activeTransfer),
	}
}

// SetListen updates the address shown in the header.
func (t *Tracker) SetListen(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.view.Listen = addr
}

// Start registers a new transfer.
func (t *Tracker) Start(transferID string) {
	m := NewMeterWithNow(t.now)
	m.Start(0)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[transferID] = &activeTransfer{meter: m}
}

// Update applies a decoder progress event. Transfers that ended leave the
// active set; errored and aborted ones count as failed.
func (t *Tracker) Update(p reassembly.Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch p.State {
	case reassembly.StateCompleted:
		delete(t.active, p.TransferID)
		return
	case reassembly.StateErrored, reassembly.StateIdle:
		delete(t.active, p.TransferID)
		t.view.Failed++
		return
	}

	a, ok := t.active[p.TransferID]
	if !ok {
		m := NewMeterWithNow(t.now)
		m.Start(0)
		a = &activeTransfer{meter: m}
		t.active[p.TransferID] = a
	}
	a.chunks = p.Chunks
	a.expectedChunks = p.ExpectedChunks
	if p.DeclaredSize > 0 {
		a.meter.SetTotal(int64(p.DeclaredSize))
	}
	a.meter.Update(p.ReceivedBytes)
}

// Saved records a file written to path.
func (t *Tracker) Saved(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.view.Completed++
	t.view.LastSaved = path
}

// View returns a snapshot for rendering, with transfers ordered by start time.
func (t *Tracker) View() ReceiverView {
	t.mu.Lock()
	defer t.mu.Unlock()
	v := t.view
	v.Active = make([]TransferRow, 0, len(t.active))
	for id, a := range t.active {
		v.Active = append(v.Active, TransferRow{
			ID:             id,
			Chunks:         a.chunks,
			ExpectedChunks: a.expectedChunks,
			Stats:          a.meter.Snapshot(),
		})
	}
	sort.Slice(v.Active, func(i, j int) bool {
		if !v.Active[i].Stats.StartedAt.Equal(v.Active[j].Stats.StartedAt) {
			return v.Active[i].Stats.StartedAt.Before(v.Active[j].Stats.StartedAt)
		}
		return v.Active[i].ID < v.Active[j].ID
	})
	return v
}
