// Package watch re-reads SavedVariables files whenever the game client
// rewrites them.
//
// Each watched file gets its own Handle with its own goroutine, debounce
// timer and size tracker. A Registry owns the handles; there is no global
// watcher list.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const (
	// DebounceInterval is how long a file must stay quiet after a change
	// before it is read.
	DebounceInterval = time.Second

	// RetryInterval is how often a missing directory is probed again. The
	// game creates the SavedVariables tree on first login, which can be
	// long after the agent starts.
	RetryInterval = 30 * time.Second
)

// Handler receives the full content of a watched file after every debounced
// change, and once at startup. It runs on the handle's goroutine, so calls
// for one file never overlap.
type Handler func(ctx context.Context, path string, content []byte)

// State is the position of a handle in its change cycle.
type State int32

const (
	// StateIdle means no change is waiting to be processed.
	StateIdle State = iota
	// StateDebouncing means a change arrived and the handle is waiting for
	// the file to settle.
	StateDebouncing
	// StateReading means the file is being read and handed to the handler.
	StateReading
	// StateWaitingForDir means the parent directory does not exist yet.
	StateWaitingForDir
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDebouncing:
		return "debouncing"
	case StateReading:
		return "reading"
	case StateWaitingForDir:
		return "waiting-for-dir"
	default:
		return "unknown"
	}
}

// Config holds configuration for a Registry.
type Config struct {
	// Debounce is the quiet period after a change. Defaults to DebounceInterval.
	Debounce time.Duration

	// RetryInterval is the probe interval for a missing directory.
	// Defaults to RetryInterval.
	RetryInterval time.Duration

	// Logger for watcher activity.
	Logger *zap.Logger
}

// DefaultConfig returns the production timings.
func DefaultConfig() *Config {
	return &Config{
		Debounce:      DebounceInterval,
		RetryInterval: RetryInterval,
		Logger:        zap.NewNop(),
	}
}

// ErrClosed is returned by Watch after Close.
var ErrClosed = errors.New("watch: registry closed")

// Registry owns a set of independently cancellable watch handles.
type Registry struct {
	config *Config

	mu      sync.Mutex
	handles map[string]*Handle
	closed  bool
}

// NewRegistry creates an empty registry. A nil config uses DefaultConfig.
func NewRegistry(config *Config) *Registry {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	c := *config
	if c.Debounce <= 0 {
		c.Debounce = defaults.Debounce
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = defaults.RetryInterval
	}
	if c.Logger == nil {
		c.Logger = defaults.Logger
	}

	return &Registry{
		config:  &c,
		handles: make(map[string]*Handle),
	}
}

// Watch starts watching path and returns its handle. The handler is called
// immediately if the file already exists. Watching a path twice is an error.
func (r *Registry) Watch(path string, handler Handler) (*Handle, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if _, exists := r.handles[abs]; exists {
		return nil, fmt.Errorf("already watching %s", abs)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		path:     abs,
		dir:      filepath.Dir(abs),
		handler:  handler,
		config:   r.config,
		logger:   r.config.Logger.With(zap.String("path", abs)),
		watcher:  watcher,
		cancel:   cancel,
		done:     make(chan struct{}),
		registry: r,
	}
	h.setState(StateWaitingForDir)
	r.handles[abs] = h

	go h.run(ctx)
	return h, nil
}

// Len returns the number of active handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Paths returns the watched paths in sorted order.
func (r *Registry) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	paths := make([]string, 0, len(r.handles))
	for p := range r.handles {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Watching reports whether path has an active handle.
func (r *Registry) Watching(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handles[abs]
	return ok
}

// Close cancels every handle and waits for them to exit. In-flight handler
// calls are allowed to finish.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
}

func (r *Registry) remove(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handles[h.path] == h {
		delete(r.handles, h.path)
	}
}

// Handle is one watched file.
type Handle struct {
	path     string
	dir      string
	handler  Handler
	config   *Config
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
	cancel   context.CancelFunc
	done     chan struct{}
	registry *Registry

	tracker sizeTracker
	state   atomic.Int32
}

// Path returns the absolute path being watched.
func (h *Handle) Path() string {
	return h.path
}

// State returns where the handle currently is in its change cycle.
func (h *Handle) State() State {
	return State(h.state.Load())
}

// Done is closed once the handle's goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Cancel stops watching and blocks until the handle has exited. It is safe
// to call more than once.
func (h *Handle) Cancel() {
	h.cancel()
	<-h.done
	h.registry.remove(h)
}

func (h *Handle) setState(s State) {
	h.state.Store(int32(s))
}

// run alternates between waiting for the directory and watching it, until
// the handle is cancelled.
func (h *Handle) run(ctx context.Context) {
	defer close(h.done)
	defer func() {
		if err := h.watcher.Close(); err != nil {
			h.logger.Warn("failed to close watcher", zap.Error(err))
		}
	}()

	for {
		if !h.awaitDir(ctx) {
			return
		}

		// Startup read, and re-read after the directory came back.
		h.fire(ctx)

		if !h.watchDir(ctx) {
			return
		}
		h.tracker.reset()
	}
}

// awaitDir adds the parent directory to the watcher, probing on the retry
// interval until it exists. It returns false when cancelled.
func (h *Handle) awaitDir(ctx context.Context) bool {
	for attempt := 0; ; attempt++ {
		err := h.watcher.Add(h.dir)
		if err == nil {
			h.logger.Debug("watching directory", zap.String("dir", h.dir))
			h.setState(StateIdle)
			return true
		}

		h.setState(StateWaitingForDir)
		switch {
		case errors.Is(err, fs.ErrNotExist) && attempt > 0:
			h.logger.Debug("directory still missing", zap.String("dir", h.dir))
		case errors.Is(err, fs.ErrNotExist):
			h.logger.Info("directory not present yet, will retry",
				zap.String("dir", h.dir), zap.Duration("interval", h.config.RetryInterval))
		default:
			h.logger.Warn("failed to watch directory, will retry",
				zap.String("dir", h.dir), zap.Error(err))
		}

		timer := time.NewTimer(h.config.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

// watchDir processes events until the handle is cancelled (false) or the
// directory itself goes away (true).
func (h *Handle) watchDir(ctx context.Context) bool {
	debounce := time.NewTimer(h.config.Debounce)
	debounce.Stop()
	defer debounce.Stop()

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return false

		case event, ok := <-h.watcher.Events:
			if !ok {
				return false
			}

			if filepath.Clean(event.Name) == h.dir && event.Has(fsnotify.Remove|fsnotify.Rename) {
				h.logger.Info("directory removed, waiting for it to return", zap.String("dir", h.dir))
				_ = h.watcher.Remove(h.dir)
				return true
			}

			if filepath.Clean(event.Name) != h.path {
				continue
			}
			if !event.Has(fsnotify.Create | fsnotify.Write | fsnotify.Rename | fsnotify.Remove) {
				continue
			}

			h.logger.Debug("file event", zap.Stringer("op", event.Op))
			h.setState(StateDebouncing)
			debounce.Reset(h.config.Debounce)
			pending = debounce.C

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return false
			}
			h.logger.Warn("watcher error", zap.Error(err))

		case <-pending:
			pending = nil
			h.fire(ctx)
		}
	}
}

// fire reads the whole file and hands it to the handler. A file that has
// disappeared sends the handle straight back to idle.
func (h *Handle) fire(ctx context.Context) {
	h.setState(StateReading)
	defer h.setState(StateIdle)

	info, err := os.Stat(h.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			h.logger.Debug("file not present")
			h.tracker.reset()
			return
		}
		h.logger.Warn("failed to stat file", zap.Error(err))
		return
	}

	from, truncated := h.tracker.observe(info.Size())
	if truncated {
		h.logger.Info("file shrank, reading from the start", zap.Int64("size", info.Size()))
	}

	// The whole table is re-parsed every time: entries can disappear, so
	// reading only the new tail would miss removals.
	content, err := os.ReadFile(h.path)
	if err != nil {
		h.logger.Warn("failed to read file", zap.Error(err))
		return
	}
	h.tracker.advance(int64(len(content)))

	h.logger.Debug("file changed",
		zap.Int("bytes", len(content)), zap.Int64("previous", from))

	// Handler work (a sync) is not abandoned when the handle is cancelled.
	h.handler(context.WithoutCancel(ctx), h.path, content)
}
