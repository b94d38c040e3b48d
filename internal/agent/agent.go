// Package agent runs the keystone sync loop on a player's machine.
//
// The agent:
//  1. Resolves the game's retail directory, retrying until it exists
//  2. Watches the addon's SavedVariables file in every account
//  3. Parses each change and sends the records to the backend
//  4. Rescans for accounts created after startup
//  5. In host mode, also serves the backend in-process
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/guildkeys/keysync/internal/install"
	"github.com/guildkeys/keysync/internal/logging"
	"github.com/guildkeys/keysync/internal/savedvars"
	"github.com/guildkeys/keysync/internal/schema"
	"github.com/guildkeys/keysync/internal/server"
	"github.com/guildkeys/keysync/internal/syncclient"
	"github.com/guildkeys/keysync/internal/watch"
)

// Sender delivers one batch of records. *syncclient.Client implements it.
type Sender interface {
	Send(ctx context.Context, records []schema.Keystone) (*syncclient.Ack, error)
}

// Config holds configuration for the agent.
type Config struct {
	// WowPath overrides the install location. Empty probes platform defaults.
	WowPath string

	// AddonName selects <AddonName>.lua in each account's SavedVariables.
	AddonName string

	// ResolveInterval is how often a missing install is probed again.
	ResolveInterval time.Duration

	// RescanInterval is how often new account directories are picked up.
	RescanInterval time.Duration

	// Watch configures the file watchers. Nil uses watch.DefaultConfig.
	Watch *watch.Config

	// Server, when set, is started alongside the watchers (host mode) and
	// stopped on shutdown.
	Server *server.Server

	// Logger for agent activity.
	Logger *zap.Logger
}

// DefaultConfig returns the production settings.
func DefaultConfig() *Config {
	return &Config{
		AddonName:       "KeystoneSync",
		ResolveInterval: 30 * time.Second,
		RescanInterval:  30 * time.Second,
	}
}

// Stats counts what the agent has done since it started.
type Stats struct {
	Reads    int64
	Records  int64
	Synced   int64
	Failures int64
}

// Agent ties install discovery, watching, parsing and sending together.
type Agent struct {
	config  Config
	sender  Sender
	logger  *zap.Logger
	resolve func(string) (string, error)

	reads    atomic.Int64
	records  atomic.Int64
	synced   atomic.Int64
	failures atomic.Int64
}

// New creates an agent that sends through sender.
func New(sender Sender, config *Config) (*Agent, error) {
	if sender == nil {
		return nil, fmt.Errorf("sender cannot be nil")
	}
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	c := *config
	if c.AddonName == "" {
		c.AddonName = defaults.AddonName
	}
	if c.ResolveInterval <= 0 {
		c.ResolveInterval = defaults.ResolveInterval
	}
	if c.RescanInterval <= 0 {
		c.RescanInterval = defaults.RescanInterval
	}
	logger := logging.OrNop(c.Logger).Named("agent")
	if c.Watch == nil {
		c.Watch = watch.DefaultConfig()
	}
	w := *c.Watch
	if w.Logger == nil {
		w.Logger = logger.Named("watch")
	}
	c.Watch = &w

	return &Agent{
		config:  c,
		sender:  sender,
		logger:  logger,
		resolve: install.Resolve,
	}, nil
}

// Stats returns a snapshot of the agent's counters.
func (a *Agent) Stats() Stats {
	return Stats{
		Reads:    a.reads.Load(),
		Records:  a.records.Load(),
		Synced:   a.synced.Load(),
		Failures: a.failures.Load(),
	}
}

// Run blocks until ctx is cancelled. It returns nil on a clean shutdown.
func (a *Agent) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if srv := a.config.Server; srv != nil {
		if err := srv.Start(); err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		a.logger.Info("serving roster backend", zap.String("addr", srv.Addr()))
		g.Go(func() error {
			<-ctx.Done()
			return srv.Stop()
		})
	}

	g.Go(func() error {
		return a.watchLoop(ctx)
	})

	return g.Wait()
}

func (a *Agent) watchLoop(ctx context.Context) error {
	root, err := a.awaitRoot(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	a.logger.Info("found game directory", zap.String("root", root))

	registry := watch.NewRegistry(a.config.Watch)
	defer registry.Close()

	a.scanAccounts(registry, root)

	ticker := time.NewTicker(a.config.RescanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("stopping", zap.Int("watched", registry.Len()), zap.Strings("files", registry.Paths()))
			return nil
		case <-ticker.C:
			a.scanAccounts(registry, root)
		}
	}
}

// awaitRoot probes for the install until it exists or ctx is done.
func (a *Agent) awaitRoot(ctx context.Context) (string, error) {
	for attempt := 0; ; attempt++ {
		root, err := a.resolve(a.config.WowPath)
		if err == nil {
			return root, nil
		}
		if !errors.Is(err, install.ErrNotFound) {
			return "", fmt.Errorf("failed to resolve game directory: %w", err)
		}
		if attempt == 0 {
			a.logger.Info("game directory not found, will retry",
				zap.Duration("interval", a.config.ResolveInterval), zap.Error(err))
		} else {
			a.logger.Debug("game directory still missing")
		}

		timer := time.NewTimer(a.config.ResolveInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
}

// scanAccounts starts a watch for every account not yet watched. The file
// itself may not exist yet; the watcher picks it up when the game writes it.
func (a *Agent) scanAccounts(registry *watch.Registry, root string) {
	accounts, err := install.AccountDirs(root)
	if err != nil {
		a.logger.Warn("failed to list accounts", zap.Error(err))
		return
	}
	for _, account := range accounts {
		path := install.SavedVariablesPath(account, a.config.AddonName)
		if registry.Watching(path) {
			continue
		}
		if _, err := registry.Watch(path, a.handle); err != nil {
			a.logger.Warn("failed to watch file", zap.String("path", path), zap.Error(err))
			continue
		}
		a.logger.Info("watching", zap.String("path", path))
	}
}

// handle parses one read of a SavedVariables file and sends the result,
// even when no records were found, so the backend sees the sync.
func (a *Agent) handle(ctx context.Context, path string, content []byte) {
	a.reads.Add(1)
	logger := a.logger.With(zap.String("path", path))

	report := savedvars.Scan(string(content))
	a.records.Add(int64(len(report.Records)))

	logger.Debug("parsed file",
		zap.Int("bytes", len(content)),
		zap.Bool("table_found", report.TableFound),
		zap.Int("records", len(report.Records)),
		zap.Int("skipped", len(report.Skipped)),
		zap.Bool("truncated", report.Truncated))

	if report.Degraded() && logger.Core().Enabled(zap.DebugLevel) {
		for _, s := range report.Skipped {
			logger.Debug("skipped entry",
				zap.String("key", s.Key), zap.String("reason", s.Reason), zap.Int("offset", s.Offset))
		}
		if err := savedvars.CheckComplete(string(content)); err != nil {
			logger.Debug("document is incomplete", zap.Error(err))
		}
	}

	ack, err := a.sender.Send(ctx, report.Records)
	if err != nil {
		a.failures.Add(1)
		// The client has already logged the failure with its details.
		logger.Debug("sync not delivered, waiting for the next change", zap.Error(err))
		return
	}
	a.synced.Add(1)
	logger.Info("synced", zap.Int("records", len(report.Records)), zap.Int("upserted", ack.Upserted))
}
