package topic

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mpago/mpago/internal/fifoutil"
	"github.com/mpago/mpago/pkg/mpaerr"
)

// ErrBackpressure is returned when a write is dropped because the slot's
// FIFO already holds enough queued bytes that writing more would exceed its
// granted capacity. This is the sole backpressure policy (spec §4.2): the
// producer never blocks, and the dropped record leaves the slot's state
// unchanged.
var ErrBackpressure = errors.New("topic: write dropped: capacity exhausted")

// writeToSlot is the primitive every publish helper funnels through
// (spec §4.2). It never blocks: a full kernel FIFO or a dead reader both
// return promptly, the former as ErrBackpressure with no state change, the
// latter by transitioning the slot to Disconnected.
func (t *Topic) writeToSlot(s *Slot, data []byte) error {
	s.mu.Lock()
	if s.state == StateDisconnected || s.fd == nil {
		s.mu.Unlock()
		return fmt.Errorf("topic: %w", mpaerr.ErrNotConnected)
	}

	queued, err := fifoutil.BytesQueued(s.fd)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("topic: query queued bytes: %w", err)
	}
	if queued+len(data) > s.capacity {
		s.mu.Unlock()
		t.log.Debug("dropping write: capacity exhausted",
			slog.Int("slot", s.index), slog.Int("queued", queued), slog.Int("len", len(data)), slog.Int("capacity", s.capacity))
		return ErrBackpressure
	}

	n, werr := s.fd.Write(data)
	switch {
	case werr == nil && n == len(data):
		s.state = StateConnected
		s.mu.Unlock()
		return nil
	case werr == nil:
		s.mu.Unlock()
		return fmt.Errorf("topic: partial write (%d/%d bytes): congestion", n, len(data))
	default:
		return t.disconnectSlotLocked(s, werr)
	}
}

// writeListToSlot performs the capacity check once for the combined length
// of chunks, then writes them as a sequence inside the slot mutex so they
// land contiguously in the kernel FIFO (spec §4.2 "Multi-buffer writes").
// If a chunk fails, the remaining chunks are skipped for this slot.
func (t *Topic) writeListToSlot(s *Slot, chunks [][]byte) error {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}

	s.mu.Lock()
	if s.state == StateDisconnected || s.fd == nil {
		s.mu.Unlock()
		return fmt.Errorf("topic: %w", mpaerr.ErrNotConnected)
	}

	queued, err := fifoutil.BytesQueued(s.fd)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("topic: query queued bytes: %w", err)
	}
	if queued+total > s.capacity {
		s.mu.Unlock()
		t.log.Debug("dropping list write: capacity exhausted",
			slog.Int("slot", s.index), slog.Int("queued", queued), slog.Int("total", total), slog.Int("capacity", s.capacity))
		return ErrBackpressure
	}

	for _, chunk := range chunks {
		n, werr := s.fd.Write(chunk)
		if werr != nil {
			return t.disconnectSlotLocked(s, werr)
		}
		if n != len(chunk) {
			s.mu.Unlock()
			return fmt.Errorf("topic: partial write (%d/%d bytes): congestion", n, len(chunk))
		}
	}
	s.state = StateConnected
	s.mu.Unlock()
	return nil
}

// disconnectSlotLocked handles a terminal write error: it transitions the
// slot to Disconnected, closes and unlinks its FIFO, and invokes the
// disconnect callback outside the slot mutex (spec §4.2 step 4, §7
// "Propagation": callbacks run outside any mutex). s.mu must be held on
// entry; it is released before returning.
func (t *Topic) disconnectSlotLocked(s *Slot, writeErr error) error {
	wasLive := s.state == StateConnected || s.state == StateInitialized
	if wasLive {
		s.state = StateDisconnected
		s.disconnectedAt = time.Now()
		if s.fd != nil {
			s.fd.Close()
			s.fd = nil
		}
		s.acceptingPFrames = false
		os.Remove(s.path)
	}
	s.mu.Unlock()

	if wasLive {
		t.mu.RLock()
		onDisconnect := t.onDisconnect
		auditJoins, auditStore, topicName := t.auditJoins, t.audit, t.name
		t.mu.RUnlock()
		if onDisconnect != nil {
			onDisconnect(t, s)
		}
		if auditJoins && auditStore != nil {
			auditStore.Record(topicName, s.Index(), s.baseName, s.AssignedName(), "disconnect")
		}
	}
	return fmt.Errorf("topic: write failed: %w: %w", writeErr, mpaerr.ErrNotConnected)
}

// liveSlots returns a snapshot of every slot currently in the table. The
// topic mutex is released before any write is attempted, per spec §9
// "Per-slot vs topic locking": a slow consumer must never block the join
// handshake or control loop.
func (t *Topic) liveSlots() []*Slot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]*Slot(nil), t.slots...)
}

// Write fans bytes out to every currently attached slot (spec §4.2
// write(topic, bytes)). An error on one slot never affects another; errors
// are observable only through the connect/disconnect callbacks and the
// client-state queries (spec §7 "User-visible failure").
func (t *Topic) Write(data []byte) {
	for _, s := range t.liveSlots() {
		if err := t.writeToSlot(s, data); err != nil {
			t.log.Debug("write to slot failed", slog.Int("slot", s.index), slog.String("error", err.Error()))
		}
	}
}

// WriteList fans a multi-chunk record out to every currently attached slot
// (spec §4.2 write_list(topic, vec_of_slices)).
func (t *Topic) WriteList(chunks [][]byte) {
	for _, s := range t.liveSlots() {
		if err := t.writeListToSlot(s, chunks); err != nil {
			t.log.Debug("write_list to slot failed", slog.Int("slot", s.index), slog.String("error", err.Error()))
		}
	}
}

// WriteToClient writes directly to the slot at idx (spec §4.2
// write_to_client(topic, slot, bytes)).
func (t *Topic) WriteToClient(idx int, data []byte) error {
	t.mu.RLock()
	if idx < 0 || idx >= len(t.slots) {
		t.mu.RUnlock()
		return fmt.Errorf("topic: %w", mpaerr.ErrChannelOutOfBounds)
	}
	s := t.slots[idx]
	t.mu.RUnlock()
	return t.writeToSlot(s, data)
}

// WriteString fans a NUL-terminated string out to every attached slot
// (spec §4.2 write_string(topic, nul_terminated)).
func (t *Topic) WriteString(s string) {
	if len(s) == 0 || s[len(s)-1] != 0 {
		s += "\x00"
	}
	t.Write([]byte(s))
}
