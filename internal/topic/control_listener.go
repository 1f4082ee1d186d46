package topic

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	"golang.org/x/sys/unix"
)

// controlErrorBackoff is how long the control listener sleeps after a
// non-terminal read error before retrying (spec §4.4 "other errors are
// logged and the task resumes after a 500 ms sleep").
const controlErrorBackoff = 500 * time.Millisecond

// applyControlPriority pins the calling goroutine to its OS thread and
// requests SCHED_FIFO at the given priority (1-99), mirroring the realtime
// control-thread scheduling the original library's host applications set up
// around pipe_server_control_thread. Errors are logged and otherwise
// ignored: SCHED_FIFO generally requires CAP_SYS_NICE, and a topic must
// keep working for unprivileged callers.
func (t *Topic) applyControlPriority(priority int) {
	runtime.LockOSThread()
	if priority > 99 {
		priority = 99
	}
	err := unix.SchedSetscheduler(0, unix.SCHED_FIFO, &unix.SchedParam{Priority: int32(priority)})
	if err != nil {
		t.log.Warn("failed to set control thread realtime priority", slog.Int("priority", priority), slog.String("error", err.Error()))
		return
	}
	t.log.Debug("control thread scheduled SCHED_FIFO", slog.Int("priority", priority))
}

// controlListenerLoop polls the control FIFO for command strings until ctx
// is cancelled, cutting each read at its first NUL byte before dispatch
// (spec §4.4). Like the request listener, it replaces the original's
// signal-cancelled blocking read with a non-blocking poll (spec §9).
func (t *Topic) controlListenerLoop(ctx context.Context) {
	defer t.wg.Done()

	t.mu.RLock()
	bufSize := t.controlReadBufSize
	priority := t.controlPriority
	t.mu.RUnlock()

	if priority > 0 {
		t.applyControlPriority(priority)
	}
	if bufSize <= 0 {
		bufSize = 1024
	}
	buf := make([]byte, bufSize)

	ticker := time.NewTicker(listenerPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n, err := t.controlFile.Read(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) || isAgain(err) || errors.Is(err, io.EOF) {
				continue
			}
			t.log.Warn("control listener read error", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return
			case <-time.After(controlErrorBackoff):
			}
			continue
		}
		if n == 0 {
			continue
		}

		command := buf[:n]
		if idx := bytes.IndexByte(command, 0); idx >= 0 {
			command = command[:idx]
		}
		if len(command) == 0 {
			continue
		}

		t.mu.RLock()
		onControl := t.onControl
		t.mu.RUnlock()
		if onControl != nil {
			onControl(t, append([]byte(nil), command...))
		}
	}
}
