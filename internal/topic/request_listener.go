package topic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/mpago/mpago/internal/fifoutil"
	"github.com/mpago/mpago/internal/observability"
	"github.com/mpago/mpago/pkg/mpaerr"
)

const (
	requestReadBufSize   = 256
	maxBaseNameLen       = 31
	listenerPollInterval = 20 * time.Millisecond
)

// requestListenerLoop polls the request FIFO (opened non-blocking) for join
// requests until ctx is cancelled. The original library blocks on read and
// cancels via a no-op-handler signal causing EINTR; this replaces that with
// a non-blocking poll on a short interval, the substitution spec §9 "Design
// Notes" calls out explicitly for languages with first-class cancellation.
func (t *Topic) requestListenerLoop(ctx context.Context) {
	defer t.wg.Done()

	buf := make([]byte, requestReadBufSize)
	ticker := time.NewTicker(listenerPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n, err := t.requestFile.Read(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) || isAgain(err) || errors.Is(err, io.EOF) {
				continue
			}
			t.log.Warn("request listener read error", slog.String("error", err.Error()))
			continue
		}
		if n == 0 {
			continue
		}
		t.handleJoinRequest(buf[:n])
	}
}

// isAgain reports whether err wraps EAGAIN/EWOULDBLOCK from a non-blocking
// read with nothing queued.
func isAgain(err error) bool {
	return errors.Is(err, fifoutil.ErrWouldBlock)
}

// sanitizeBaseName truncates at the first byte outside the printable ASCII
// range [0x20, 0x7A] (spec §4.3 step 1) and enforces the max length.
func sanitizeBaseName(raw []byte) string {
	end := 0
	for end < len(raw) && raw[end] >= 0x20 && raw[end] <= 0x7A {
		end++
	}
	if end > maxBaseNameLen {
		end = maxBaseNameLen
	}
	return string(raw[:end])
}

// handleJoinRequest runs the full handshake of spec §4.3 for one raw
// request message.
func (t *Topic) handleJoinRequest(raw []byte) {
	base := sanitizeBaseName(raw)
	if base == "" {
		t.log.Debug("dropping empty join request")
		return
	}

	// correlationID has no equivalent in the original library (joins were
	// identified only by slot index); it exists purely to tie together the
	// handful of log lines a single join handshake produces.
	correlationID := uuid.NewString()
	log := observability.WithCorrelationID(t.log, correlationID)

	slot, reused, err := t.claimSlot(base)
	if err != nil {
		log.Warn("join request failed", slog.String("base", base), slog.String("error", err.Error()))
		return
	}

	path := slot.path
	if err := fifoutil.CreateFIFO(path); err != nil {
		log.Warn("failed to create client FIFO", slog.String("path", path), slog.String("error", err.Error()))
		t.abandonSlot(slot)
		return
	}

	t.mu.RLock()
	retryInterval := t.cfg.NameSuffixRetry.Duration()
	retryBudget := t.cfg.JoinOpenRetryBudget.Duration()
	t.mu.RUnlock()
	if retryInterval <= 0 {
		retryInterval = time.Millisecond
	}
	attempts := int(retryBudget / retryInterval)
	if attempts <= 0 {
		attempts = 500
	}

	fd, err := fifoutil.OpenWriteRetry(path, attempts, retryInterval)
	if err != nil {
		os.Remove(path)
		log.Warn("client never opened read end, aborting join", slog.String("path", path), slog.String("error", err.Error()))
		t.abandonSlot(slot)
		return
	}

	t.mu.RLock()
	capacity := t.dataPipeCapacity
	t.mu.RUnlock()

	granted, err := fifoutil.SetPipeCapacity(fd, capacity)
	if err != nil {
		fd.Close()
		os.Remove(path)
		log.Warn("failed to set client pipe capacity", slog.String("path", path), slog.String("error", err.Error()))
		t.abandonSlot(slot)
		return
	}

	slot.mu.Lock()
	slot.fd = fd
	slot.capacity = granted
	slot.state = StateInitialized
	slot.acceptingPFrames = false
	slot.mu.Unlock()

	log.Info("client joined",
		slog.String("base", base),
		slog.String("assigned_name", slot.assignedName),
		slog.Bool("reused", reused),
		slog.String("capacity", humanize.Bytes(uint64(granted))),
	)

	t.mu.RLock()
	auditJoins, auditStore, topicName := t.auditJoins, t.audit, t.name
	t.mu.RUnlock()
	if auditJoins && auditStore != nil {
		auditStore.Record(topicName, slot.index, base, slot.assignedName, "join")
	}

	t.mu.RLock()
	onConnect := t.onConnect
	onRequest := t.onRequest
	header := t.header
	t.mu.RUnlock()

	if onConnect != nil {
		onConnect(t, slot)
	}

	if header != nil {
		t.deliverStickyHeader(slot, header)
	}

	if onRequest != nil {
		onRequest(t, raw)
	}
}

// abandonSlot marks a slot Disconnected after a join handshake fails before
// the slot ever reached Connected. Without this, a slot whose FIFO was never
// created (or never opened, or never capacity-set) is stranded at
// Initialized with no backing FIFO on disk: claimSlot only reuses
// Disconnected slots, and nameInUseLocked still reports the name taken, so
// the assigned name would be burned forever and every retry under the same
// base name would be forced to the next suffix instead of reusing this one.
func (t *Topic) abandonSlot(s *Slot) {
	s.mu.Lock()
	s.state = StateDisconnected
	s.disconnectedAt = time.Now()
	if s.fd != nil {
		s.fd.Close()
		s.fd = nil
	}
	s.acceptingPFrames = false
	s.mu.Unlock()
}

// claimSlot implements spec §4.3 steps 2-3 and §4.3 "Name disambiguation":
// it reuses a Disconnected slot with a matching base name, or allocates a
// new slot with a name disambiguated by the smallest non-colliding suffix
// in [0, 8).
func (t *Topic) claimSlot(base string) (*Slot, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range t.slots {
		s.mu.Lock()
		match := s.baseName == base && s.state == StateDisconnected
		s.mu.Unlock()
		if match {
			return s, true, nil
		}
	}

	maxSuffix := t.cfg.MaxNameSuffix
	if maxSuffix <= 0 {
		maxSuffix = 8
	}
	for suffix := 0; suffix < maxSuffix; suffix++ {
		assigned := fmt.Sprintf("%s%d", base, suffix)
		if t.nameInUseLocked(assigned) {
			continue
		}
		path := filepath.Join(t.dir, assigned)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		slot := &Slot{
			index:        t.nClients,
			baseName:     base,
			assignedName: assigned,
			path:         path,
			state:        StateInitialized,
		}
		t.slots = append(t.slots, slot)
		t.nClients++
		return slot, false, nil
	}

	return nil, false, fmt.Errorf("topic: %w", mpaerr.ErrReachedMaxNameIndex)
}

// nameInUseLocked reports whether assigned is already held by any slot,
// whatever its state. Callers must hold t.mu.
func (t *Topic) nameInUseLocked(assigned string) bool {
	for _, s := range t.slots {
		s.mu.Lock()
		name := s.assignedName
		s.mu.Unlock()
		if name == assigned {
			return true
		}
	}
	return false
}
