// Package telemetry holds a thread-safe bounded history of control-loop
// snapshots, and exposes it to consumers over HTTP/SSE and into sqlite.
//
// The hub is the only object shared between the control-loop goroutine and
// its consumers. Every critical section is copy-in/copy-out; encoding and
// I/O happen outside the lock on both sides.
package telemetry

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// StepRecord is an immutable snapshot of one control tick. Created by the
// loop, owned by the hub once recorded.
type StepRecord struct {
	Step          int       `json:"step"`
	Timestamp     time.Time `json:"timestamp"`
	CurrentQ      []float64 `json:"current_q"`
	TargetQ       []float64 `json:"target_q"`
	RawAction     []float64 `json:"raw_action"`
	WasClamped    bool      `json:"was_clamped"`
	LoopDtMs      float64   `json:"loop_dt_ms"`
	InferenceDtMs float64   `json:"inference_dt_ms"`
	BufferDepth   int       `json:"buffer_depth"`
	// DriftRad is the per-joint departure from the episode reference pose.
	// The watchdog and the dashboard read the same figure.
	DriftRad []float64 `json:"drift_rad"`
}

func (r StepRecord) clone() StepRecord {
	out := r
	out.CurrentQ = append([]float64(nil), r.CurrentQ...)
	out.TargetQ = append([]float64(nil), r.TargetQ...)
	out.RawAction = append([]float64(nil), r.RawAction...)
	out.DriftRad = append([]float64(nil), r.DriftRad...)
	return out
}

// Status holds the loop's coarse state flags for consumers.
type Status struct {
	Running    bool   `json:"running"`
	Frozen     bool   `json:"frozen"`
	EpisodeID  string `json:"episode_id"`
	Violations int    `json:"violations"`
}

// Snapshot is a consistent copy of everything a consumer can see.
type Snapshot struct {
	Latest      *StepRecord  `json:"latest"`
	History     []StepRecord `json:"history"`
	LatestImage []byte       `json:"-"`
	Status      Status       `json:"status"`
}

// Hub is the bounded telemetry history. One mutex guards all mutable fields;
// no method blocks on I/O while holding it.
type Hub struct {
	mu          sync.Mutex
	ring        []StepRecord
	head        int // index of the oldest entry
	count       int
	capacity    int
	latestImage []byte
	status      Status
	subscribers map[string]chan StepRecord
}

// NewHub creates a hub retaining up to capacity step records.
func NewHub(capacity int) *Hub {
	if capacity < 1 {
		capacity = 1
	}
	return &Hub{
		ring:        make([]StepRecord, capacity),
		capacity:    capacity,
		subscribers: make(map[string]chan StepRecord),
	}
}

// RecordStep appends a record, evicting the oldest once capacity is reached,
// and fans it out to subscribers. O(1) amortized; subscribers that are not
// draining lose records rather than slowing the producer.
func (h *Hub) RecordStep(rec StepRecord) {
	rec = rec.clone()

	h.mu.Lock()
	if h.count < h.capacity {
		h.ring[(h.head+h.count)%h.capacity] = rec
		h.count++
	} else {
		h.ring[h.head] = rec
		h.head = (h.head + 1) % h.capacity
	}
	// Non-blocking sends, still under the lock so no send can race a
	// concurrent Unsubscribe close.
	for _, ch := range h.subscribers {
		select {
		case ch <- rec:
		default:
			// Drop: last-write-wins for slow consumers.
		}
	}
	h.mu.Unlock()
}

// RecordImage overwrites the single latest-frame slot. Images are not
// retained historically. The caller encodes before this call.
func (h *Hub) RecordImage(jpeg []byte) {
	buf := append([]byte(nil), jpeg...)
	h.mu.Lock()
	h.latestImage = buf
	h.mu.Unlock()
}

// SetStatus publishes the loop's coarse state flags.
func (h *Hub) SetStatus(s Status) {
	h.mu.Lock()
	h.status = s
	h.mu.Unlock()
}

// Latest returns a copy of the most recent record, if any.
func (h *Hub) Latest() (StepRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return StepRecord{}, false
	}
	return h.ring[(h.head+h.count-1)%h.capacity].clone(), true
}

// History returns copies of up to the n most recent records, oldest first.
func (h *Hub) History(n int) []StepRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n > h.count || n < 0 {
		n = h.count
	}
	out := make([]StepRecord, 0, n)
	for i := h.count - n; i < h.count; i++ {
		out = append(out, h.ring[(h.head+i)%h.capacity].clone())
	}
	return out
}

// Image returns the current latest-frame bytes, or nil.
func (h *Hub) Image() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]byte(nil), h.latestImage...)
}

// GetSnapshot returns a consistent copy of latest record, history and status.
func (h *Hub) GetSnapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	snap := Snapshot{Status: h.status}
	if h.count > 0 {
		latest := h.ring[(h.head+h.count-1)%h.capacity].clone()
		snap.Latest = &latest
	}
	snap.History = make([]StepRecord, 0, h.count)
	for i := 0; i < h.count; i++ {
		snap.History = append(snap.History, h.ring[(h.head+i)%h.capacity].clone())
	}
	snap.LatestImage = append([]byte(nil), h.latestImage...)
	return snap
}

// Subscribe registers a channel receiving every recorded step. The returned
// id identifies the channel for Unsubscribe.
func (h *Hub) Subscribe() (string, <-chan StepRecord) {
	id := randomID()
	ch := make(chan StepRecord, 1)
	h.mu.Lock()
	h.subscribers[id] = ch
	h.mu.Unlock()
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value).
func randomID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
