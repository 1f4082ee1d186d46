package topic

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mpago/mpago/internal/audit"
	"github.com/mpago/mpago/internal/config"
	"github.com/mpago/mpago/pkg/mpaerr"
)

// cell is one slot in the registry's topic table: claimed tracks whether
// the index is in use, independent of whether Topic itself is non-nil, so
// get_next_available_channel (spec §4.8) can reserve an index before the
// (potentially slow) directory setup in Topic.Create runs.
type cell struct {
	claimed bool
	topic   *Topic
}

// Registry owns every topic live in this process, mirroring the original
// library's module-level topic array re-expressed as an owned, internally
// synchronized collection (spec §9 "Global state").
type Registry struct {
	claimMu sync.Mutex // protects the claimed bit of every cell (spec §5)
	cells   []cell

	root string
	cfg  config.TopicConfig
	log  *slog.Logger

	auditStore *audit.Store
}

// NewRegistry creates a registry rooted at cfg.Root.
func NewRegistry(cfg config.TopicConfig, log *slog.Logger) *Registry {
	return &Registry{root: cfg.Root, cfg: cfg, log: log}
}

// SetAuditStore attaches an audit store that every subsequently created
// topic with CreateOptions.AuditJoins set will record join/disconnect
// events to. Pass nil to disable.
func (r *Registry) SetAuditStore(store *audit.Store) {
	r.claimMu.Lock()
	defer r.claimMu.Unlock()
	r.auditStore = store
}

// nextAvailableChannel scans the table under the claim mutex and reserves
// the first unclaimed index, growing the table if every existing cell is
// claimed (spec §4.8). Returns an error if name already belongs to a live
// topic: uniqueness is checked against the registry's own live topics, not
// the filesystem, per spec §3 ("base directory is unique across live
// topics") — the original `pipe_server_create` in server.c checks the
// in-memory array of running servers, never stat()s the path, so a
// directory left behind by an unclean exit must not block recreating the
// same topic name.
func (r *Registry) nextAvailableChannel(name string) (int, error) {
	r.claimMu.Lock()
	defer r.claimMu.Unlock()

	for _, c := range r.cells {
		if c.claimed && c.topic != nil && c.topic.Name() == name {
			return 0, fmt.Errorf("topic: name %q already in use by a live topic: %w", name, mpaerr.ErrDirectoryInUse)
		}
	}

	for i := range r.cells {
		if !r.cells[i].claimed {
			r.cells[i].claimed = true
			return i, nil
		}
	}
	r.cells = append(r.cells, cell{claimed: true})
	return len(r.cells) - 1, nil
}

func (r *Registry) release(idx int) {
	r.claimMu.Lock()
	defer r.claimMu.Unlock()
	if idx >= 0 && idx < len(r.cells) {
		r.cells[idx] = cell{}
	}
}

func (r *Registry) publish(idx int, t *Topic) {
	r.claimMu.Lock()
	defer r.claimMu.Unlock()
	r.cells[idx].topic = t
}

// Create reserves a channel index and creates a topic at <root>/<name>/.
func (r *Registry) Create(ctx context.Context, name string, opts CreateOptions) (*Topic, error) {
	idx, err := r.nextAvailableChannel(name)
	if err != nil {
		return nil, err
	}

	r.claimMu.Lock()
	auditStore := r.auditStore
	r.claimMu.Unlock()

	t, err := create(ctx, idx, r.root, name, opts, r.cfg, r.log, auditStore)
	if err != nil {
		r.release(idx)
		return nil, err
	}
	r.publish(idx, t)
	return t, nil
}

// Get returns the topic at channel index idx.
func (r *Registry) Get(idx int) (*Topic, error) {
	r.claimMu.Lock()
	defer r.claimMu.Unlock()
	if idx < 0 || idx >= len(r.cells) || !r.cells[idx].claimed || r.cells[idx].topic == nil {
		return nil, fmt.Errorf("topic: %w", mpaerr.ErrChannelOutOfBounds)
	}
	return r.cells[idx].topic, nil
}

// Close closes the topic at idx and releases its channel index.
func (r *Registry) Close(idx int) error {
	t, err := r.Get(idx)
	if err != nil {
		return err
	}
	if err := t.Close(); err != nil {
		return err
	}
	r.release(idx)
	return nil
}

// TopicNames returns the name of every currently live topic.
func (r *Registry) TopicNames() []string {
	r.claimMu.Lock()
	defer r.claimMu.Unlock()
	names := make([]string, 0, len(r.cells))
	for _, c := range r.cells {
		if c.claimed && c.topic != nil {
			names = append(names, c.topic.Name())
		}
	}
	return names
}

// GetByName returns the topic with the given name, if any is currently live.
func (r *Registry) GetByName(name string) (*Topic, error) {
	r.claimMu.Lock()
	defer r.claimMu.Unlock()
	for _, c := range r.cells {
		if c.claimed && c.topic != nil && c.topic.Name() == name {
			return c.topic, nil
		}
	}
	return nil, fmt.Errorf("topic: %w", mpaerr.ErrChannelOutOfBounds)
}

// CloseAll closes every live topic (spec §4.1 "Close-all").
func (r *Registry) CloseAll() {
	r.claimMu.Lock()
	indices := make([]int, 0, len(r.cells))
	for i, c := range r.cells {
		if c.claimed && c.topic != nil {
			indices = append(indices, i)
		}
	}
	r.claimMu.Unlock()

	for _, idx := range indices {
		if err := r.Close(idx); err != nil {
			r.log.Warn("error closing topic during CloseAll", slog.Int("index", idx), slog.String("error", err.Error()))
		}
	}
}
