// Package fifoutil wraps the Linux syscalls a FIFO-based publish/subscribe
// server needs that the standard library does not expose: mkfifo(2),
// FIONREAD via ioctl(2), and F_SETPIPE_SZ via fcntl(2). It
// knows nothing about topics or clients; internal/topic composes these
// primitives into the join handshake and publish path.
package fifoutil

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// PipeMaxSizePath is the kernel knob read as a best-effort upper bound when
// F_SETPIPE_SZ is refused for the requested size (spec §4.3 step 6).
const PipeMaxSizePath = "/proc/sys/fs/pipe-max-size"

// ErrWouldBlock is the error a non-blocking read/write on an empty/full FIFO
// returns. Callers poll on this rather than blocking, replacing the
// original library's signal-interrupted blocking read (spec §9).
var ErrWouldBlock = unix.EAGAIN

// CreateFIFO calls mkfifo(path, 0666), tolerating an "already exists" error
// the way the original server does (a stale FIFO left by a crashed
// producer is reused, not treated as fatal).
func CreateFIFO(path string) error {
	if err := unix.Mkfifo(path, 0666); err != nil && err != unix.EEXIST {
		return fmt.Errorf("fifoutil: mkfifo %s: %w", path, err)
	}
	return nil
}

// OpenWriteRetry opens path for non-blocking write-only access, retrying
// up to attempts times with a sleep of interval between tries. This covers
// the window between a writer creating the FIFO and a reader opening its
// end: a non-blocking open for write fails with ENXIO until some reader has
// the read end open (spec §4.3 step 5).
func OpenWriteRetry(path string, attempts int, interval time.Duration) (*os.File, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		fd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK, 0)
		if err == nil {
			return os.NewFile(uintptr(fd), path), nil
		}
		lastErr = err
		time.Sleep(interval)
	}
	return nil, fmt.Errorf("fifoutil: open %s for write timed out after %d attempts: %w", path, attempts, lastErr)
}

// OpenReadWrite opens path for non-blocking read-write access. Opening the
// server's own end read-write (rather than read-only) means the server
// never blocks on open even before any client has connected, since the
// kernel is satisfied the FIFO already has a reader (spec §4.1).
func OpenReadWrite(path string) (*os.File, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("fifoutil: open %s read-write: %w", path, err)
	}
	return os.NewFile(uintptr(fd), path), nil
}

// BytesQueued returns the number of bytes currently queued in the FIFO
// backing f, via the FIONREAD ioctl.
func BytesQueued(f *os.File) (int, error) {
	n, err := unix.IoctlGetInt(int(f.Fd()), unix.FIONREAD)
	if err != nil {
		return 0, fmt.Errorf("fifoutil: FIONREAD: %w", err)
	}
	return n, nil
}

// SetPipeCapacity requests a kernel pipe capacity of size bytes for f via
// F_SETPIPE_SZ, falling back to the system maximum (read from
// /proc/sys/fs/pipe-max-size, or 1 MiB if that can't be read) if the
// kernel refuses the request. It returns the actual granted capacity, and
// an error if the granted capacity ends up <= 0 (spec §9 Open Question:
// "a zero or negative granted capacity" is a hard join failure here).
func SetPipeCapacity(f *os.File, size int) (int, error) {
	granted, err := unix.FcntlInt(f.Fd(), unix.F_SETPIPE_SZ, size)
	if err != nil || granted < size {
		fallback := systemMaxPipeSize()
		granted, err = unix.FcntlInt(f.Fd(), unix.F_SETPIPE_SZ, fallback)
	}
	if err != nil {
		return 0, fmt.Errorf("fifoutil: F_SETPIPE_SZ: %w", err)
	}
	if granted <= 0 {
		return 0, fmt.Errorf("fifoutil: kernel granted non-positive pipe capacity %d", granted)
	}
	return granted, nil
}

// systemMaxPipeSize reads /proc/sys/fs/pipe-max-size as a best-effort upper
// bound, defaulting to 1 MiB if it cannot be read or parsed.
func systemMaxPipeSize() int {
	const defaultMax = 1024 * 1024
	data, err := os.ReadFile(PipeMaxSizePath)
	if err != nil {
		return defaultMax
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || n <= 0 {
		return defaultMax
	}
	return n
}
