package topic

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mpago/mpago/internal/audit"
	"github.com/mpago/mpago/internal/config"
	"github.com/mpago/mpago/internal/fifoutil"
	"github.com/mpago/mpago/internal/observability"
	"github.com/mpago/mpago/pkg/mpaerr"
	"github.com/mpago/mpago/pkg/wire"
)

// ConnectFunc is invoked outside any internal lock whenever a slot
// transitions to Initialized (join) or back to Initialized (reconnect).
type ConnectFunc func(t *Topic, s *Slot)

// DisconnectFunc is invoked outside any internal lock whenever a slot
// transitions to Disconnected.
type DisconnectFunc func(t *Topic, s *Slot)

// ControlFunc is invoked outside any internal lock for every command
// received on the control FIFO.
type ControlFunc func(t *Topic, command []byte)

// RequestFunc is the deprecated raw-request hook: invoked with every join
// request's raw bytes after the handshake completes, mirroring the
// original library's catch-all request callback.
type RequestFunc func(t *Topic, raw []byte)

// videoHeader is the sticky last-observed H.264/H.265 parameter-set NAL,
// replayed to every newly attached client before its first I-frame.
type videoHeader struct {
	meta    wire.CameraImageMetadata
	payload []byte
}

// Topic binds a directory of named FIFOs to a publish/subscribe channel
// (spec §2, §3 "Topic").
type Topic struct {
	index int
	cfg   config.TopicConfig
	log   *slog.Logger

	mu sync.RWMutex // guards: state transitions, callbacks, listener lifecycle, slot table

	name string
	dir  string

	requestPath string
	controlPath string
	infoPath    string

	requestFile *os.File
	controlFile *os.File

	info *Info

	controlEnabled     bool
	controlPriority    int // 0 = inherit, 1-99 = realtime FIFO priority (advisory; see DESIGN.md)
	controlReadBufSize int
	debug              bool

	dataPipeCapacity int

	auditJoins bool
	audit      *audit.Store

	slots    []*Slot
	nClients int

	header *videoHeader

	running    bool
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup

	onConnect    ConnectFunc
	onDisconnect DisconnectFunc
	onControl    ControlFunc
	onRequest    RequestFunc
}

// CreateOptions configures optional features of a topic beyond the
// required name/type (spec §3 "feature flags").
type CreateOptions struct {
	Type                string
	ServerName          string
	DataPipeCapacity    int
	ControlEnabled      bool
	ControlPipeCapacity int
	ControlReadBufSize  int
	ControlPriority     int
	Debug               bool
	AuditJoins          bool
}

// Create validates opts, lays out the topic directory, writes the info
// document, and starts the request listener (and control listener, if
// enabled). See spec §4.1.
func create(ctx context.Context, idx int, root, name string, opts CreateOptions, cfg config.TopicConfig, log *slog.Logger, auditStore *audit.Store) (*Topic, error) {
	if name == "" || strings.Contains(name, "/") || name == "unknown" {
		return nil, fmt.Errorf("topic: invalid name %q: %w", name, mpaerr.ErrInvalidArgument)
	}

	dataCap := opts.DataPipeCapacity
	if dataCap <= 0 {
		dataCap = int(cfg.DataPipeCapacity)
	}
	if dataCap < 4*1024 {
		log.Warn("data pipe capacity below 4 KiB, coercing to default",
			slog.Int("requested", dataCap), slog.Int64("default", cfg.DataPipeCapacity.Int64()))
		dataCap = int(cfg.DataPipeCapacity)
	}
	if config.ExceedsWarnThreshold(config.ByteSize(dataCap)) {
		log.Warn("data pipe capacity exceeds 256 MiB", slog.Int("requested", dataCap))
	}

	dir := filepath.Join(root, name) + string(filepath.Separator)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("topic: create directory: %w: %w", err, mpaerr.ErrFilesystemError)
	}

	sessionID := ulid.Make().String()

	t := &Topic{
		index:              idx,
		cfg:                cfg,
		log:                observability.WithComponent(log, "topic").With(slog.String("topic", name), slog.String("session_id", sessionID)),
		name:               name,
		dir:                dir,
		requestPath:        filepath.Join(dir, "request"),
		controlPath:        filepath.Join(dir, "control"),
		infoPath:           filepath.Join(dir, "info"),
		controlEnabled:     opts.ControlEnabled,
		controlPriority:    opts.ControlPriority,
		controlReadBufSize: opts.ControlReadBufSize,
		debug:              opts.Debug,
		dataPipeCapacity:   dataCap,
		auditJoins:         opts.AuditJoins,
		audit:              auditStore,
		info: &Info{
			Name:       name,
			Location:   dir,
			Type:       opts.Type,
			ServerName: opts.ServerName,
			SessionID:  sessionID,
			SizeBytes:  int64(dataCap),
			ServerPID:  os.Getpid(),
		},
	}
	if t.controlReadBufSize <= 0 {
		t.controlReadBufSize = int(cfg.ControlReadBufSize)
	}

	if err := writeInfoFile(t.infoPath, t.info); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	if err := fifoutil.CreateFIFO(t.requestPath); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("topic: %w: %w", err, mpaerr.ErrFilesystemError)
	}
	reqFile, err := fifoutil.OpenReadWrite(t.requestPath)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("topic: %w: %w", err, mpaerr.ErrFilesystemError)
	}
	t.requestFile = reqFile

	if opts.ControlEnabled {
		if err := fifoutil.CreateFIFO(t.controlPath); err != nil {
			t.teardownLocked()
			return nil, fmt.Errorf("topic: %w: %w", err, mpaerr.ErrFilesystemError)
		}
		ctlFile, err := fifoutil.OpenReadWrite(t.controlPath)
		if err != nil {
			t.teardownLocked()
			return nil, fmt.Errorf("topic: %w: %w", err, mpaerr.ErrFilesystemError)
		}
		ctlCap := opts.ControlPipeCapacity
		if ctlCap <= 0 {
			ctlCap = int(cfg.ControlPipeCapacity)
		}
		if _, err := fifoutil.SetPipeCapacity(ctlFile, ctlCap); err != nil {
			log.Warn("failed to set control pipe capacity", slog.String("error", err.Error()))
		}
		t.controlFile = ctlFile
	}

	listenerCtx, cancel := context.WithCancel(ctx)
	t.cancelFunc = cancel
	t.running = true

	t.wg.Add(1)
	go t.requestListenerLoop(listenerCtx)

	if opts.ControlEnabled {
		t.wg.Add(1)
		go t.controlListenerLoop(listenerCtx)
	}

	t.log.Info("topic created", slog.String("dir", dir), slog.Int("data_pipe_capacity", dataCap))
	return t, nil
}

// teardownLocked removes whatever partial state create() built up before
// failing; callers hold no lock at this point since the topic isn't
// published to the registry yet.
func (t *Topic) teardownLocked() {
	if t.requestFile != nil {
		t.requestFile.Close()
	}
	if t.controlFile != nil {
		t.controlFile.Close()
	}
	os.RemoveAll(t.dir)
}

// Name returns the topic's directory name.
func (t *Topic) Name() string { return t.name }

// Dir returns the topic's base directory path.
func (t *Topic) Dir() string { return t.dir }

// Index returns the topic's channel index within its registry.
func (t *Topic) Index() int { return t.index }

// OnConnect registers the connect callback, replacing any previous one.
func (t *Topic) OnConnect(fn ConnectFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onConnect = fn
}

// OnDisconnect registers the disconnect callback, replacing any previous one.
func (t *Topic) OnDisconnect(fn DisconnectFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDisconnect = fn
}

// OnControl registers the control-command callback, replacing any previous one.
func (t *Topic) OnControl(fn ControlFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onControl = fn
}

// OnRequest registers the deprecated raw-request callback.
func (t *Topic) OnRequest(fn RequestFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRequest = fn
}

// Info returns the topic's live info document for mutation; call UpdateInfo
// afterward to persist changes (spec §4.7).
func (t *Topic) Info() *Info { return t.info }

// UpdateInfo rewrites the info file from the current document (spec §4.7).
func (t *Topic) UpdateInfo() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.running {
		return fmt.Errorf("topic: %w", mpaerr.ErrInfoNotAvailable)
	}
	return writeInfoFile(t.infoPath, t.info)
}

// NumClients returns the number of slots ever allocated on this topic
// (monotonic; never compacted while running, per spec §3).
func (t *Topic) NumClients() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nClients
}

// ClientState returns the state of the slot at index idx.
func (t *Topic) ClientState(idx int) (State, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if idx < 0 || idx >= len(t.slots) {
		return 0, fmt.Errorf("topic: %w", mpaerr.ErrChannelOutOfBounds)
	}
	return t.slots[idx].State(), nil
}

// ClientDisconnectedSince reports how long the slot at idx has been
// Disconnected, and whether it is disconnected at all. Used by
// internal/reaper to judge staleness against a grace period.
func (t *Topic) ClientDisconnectedSince(idx int) (time.Duration, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if idx < 0 || idx >= len(t.slots) {
		return 0, false, fmt.Errorf("topic: %w", mpaerr.ErrChannelOutOfBounds)
	}
	since, disconnected := t.slots[idx].DisconnectedSince()
	return since, disconnected, nil
}

// Close marks the topic not-running, cancels the listener tasks and joins
// them with a bounded wait, closes every fd, and recursively removes the
// topic directory (spec §4.1 "Close").
func (t *Topic) Close() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	t.onConnect = nil
	t.onDisconnect = nil
	t.onControl = nil
	t.onRequest = nil
	cancel := t.cancelFunc
	reqFile := t.requestFile
	ctlFile := t.controlFile
	slots := append([]*Slot(nil), t.slots...)
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	joined := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(t.cfg.ListenerJoinTimeout.Duration()):
		t.log.Warn("listener join timed out", slog.Duration("timeout", t.cfg.ListenerJoinTimeout.Duration()))
	}

	if reqFile != nil {
		reqFile.Close()
	}
	if ctlFile != nil {
		ctlFile.Close()
	}
	for _, s := range slots {
		s.mu.Lock()
		if s.fd != nil {
			s.fd.Close()
		}
		s.mu.Unlock()
	}

	if err := os.RemoveAll(t.dir); err != nil {
		return fmt.Errorf("topic: remove directory: %w", err)
	}
	t.log.Info("topic closed")
	return nil
}
