// Package plugin holds the process-wide state of the controller: the loop
// every session runs on, the event bus, the registry, the backend factory
// and the presets read from launch.json.
//
// Callers outside the loop (the MCP server, the CLI, signal handling) go
// through the methods of Plugin, which marshal onto the loop.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ctagard/debugctl/internal/adapters"
	"github.com/ctagard/debugctl/internal/config"
	dbgerrors "github.com/ctagard/debugctl/internal/errors"
	"github.com/ctagard/debugctl/internal/event"
	"github.com/ctagard/debugctl/internal/eventloop"
	"github.com/ctagard/debugctl/internal/logging"
	"github.com/ctagard/debugctl/internal/presets"
	"github.com/ctagard/debugctl/internal/registry"
	"github.com/ctagard/debugctl/internal/session"
	"github.com/ctagard/debugctl/pkg/types"
)

// Plugin is created once at startup and closed at exit
type Plugin struct {
	Config   *config.Config
	Logger   *zap.Logger
	Loop     *eventloop.Loop
	Bus      *event.Bus
	Registry *registry.Registry
	Factory  *adapters.Factory
	Presets  *presets.Store

	env     *session.Env
	watcher *presets.Watcher
	closed  bool
}

// Options customizes New. Zero values select the defaults.
type Options struct {
	// Factory replaces the backend factory built from the config
	Factory session.Factory

	UI           registry.UIContext
	Perspectives func(id, name string) registry.Perspective
	Breakpoints  session.BreakpointSource
}

// New assembles the plugin. Nothing runs until Start.
func New(cfg *config.Config, logger *zap.Logger, opts Options) *Plugin {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = logging.Nop()
	}

	p := &Plugin{
		Config:  cfg,
		Logger:  logger,
		Loop:    eventloop.New(logging.ForComponent(logger, "loop")),
		Bus:     event.NewBus(logging.ForComponent(logger, "bus")),
		Factory: adapters.NewFactory(cfg, logging.ForComponent(logger, "adapters")),
		Presets: presets.NewStore(),
	}
	p.Registry = registry.New(registry.Options{
		Bus:          p.Bus,
		UI:           opts.UI,
		Perspectives: opts.Perspectives,
		Logger:       logging.ForComponent(logger, "registry"),
	})

	var factory session.Factory = p.Factory
	if opts.Factory != nil {
		factory = opts.Factory
	}
	p.env = &session.Env{
		Loop:        p.Loop,
		Bus:         p.Bus,
		Registry:    p.Registry,
		Factory:     factory,
		Breakpoints: opts.Breakpoints,
		Counters:    &session.Counters{},
		MaxSessions: cfg.MaxSessions,
		Logger:      logging.ForComponent(logger, "session"),
	}
	return p
}

// Env returns the environment shared by all sessions
func (p *Plugin) Env() *session.Env {
	return p.env
}

// Start runs the loop and loads the configured launch.json, if any
func (p *Plugin) Start() error {
	if err := p.Loop.Start(); err != nil {
		return err
	}
	if p.Config.LaunchJSON == "" {
		return nil
	}
	if err := p.LoadPresets(context.Background(), p.Config.LaunchJSON); err != nil {
		return err
	}

	w, err := presets.Watch(p.Config.LaunchJSON, logging.ForComponent(p.Logger, "presets"), func(list []presets.Preset) {
		p.Presets.Set(p.Config.LaunchJSON, list)
		entries := p.Presets.Entries()
		p.Loop.Post(func() { p.Registry.SetPresets(entries) })
	})
	if err != nil {
		// Presets still work, they just do not follow edits
		p.Logger.Warn("cannot watch launch.json", zap.Error(err))
		return nil
	}
	p.watcher = w
	return nil
}

// LoadPresets reads path and replaces the registry presets with its
// configurations
func (p *Plugin) LoadPresets(ctx context.Context, path string) error {
	list, err := presets.LoadPresets(path, logging.ForComponent(p.Logger, "presets"))
	if err != nil {
		return dbgerrors.ConfigInvalid("launch_json", err.Error()).WithCause(err)
	}
	p.Presets.Set(path, list)
	entries := p.Presets.Entries()
	return p.Do(ctx, func() error {
		p.Registry.SetPresets(entries)
		return nil
	})
}

// Do runs fn on the loop and returns its error
func (p *Plugin) Do(ctx context.Context, fn func() error) error {
	var ferr error
	if err := p.Loop.Sync(ctx, func() { ferr = fn() }); err != nil {
		return err
	}
	return ferr
}

// StartSession configures and starts a session. A native backend left on
// auto falls back to the configured default backend.
func (p *Plugin) StartSession(ctx context.Context, params types.RunParameters) (types.SessionInfo, error) {
	if params.StartMode != types.AttachToQmlServer &&
		(params.CppEngineType == "" || params.CppEngineType == types.BackendAuto) {
		params.CppEngineType = types.ParseBackendKind(p.Config.DefaultBackend)
	}

	var info types.SessionInfo
	err := p.Do(ctx, func() error {
		c, err := session.Configure(p.env, params)
		if err != nil {
			return err
		}
		if err := c.Start(); err != nil {
			return err
		}
		info = c.Info()
		return nil
	})
	return info, err
}

// StartPreset starts the preset with the given id or name
func (p *Plugin) StartPreset(ctx context.Context, key string) (types.SessionInfo, error) {
	preset, ok := p.Presets.Get(key)
	if !ok {
		return types.SessionInfo{}, dbgerrors.SessionNotFound(key)
	}
	return p.StartSession(ctx, preset.Params)
}

// WithSession runs fn on the loop with the live session id
func (p *Plugin) WithSession(ctx context.Context, id string, fn func(c *session.Controller) error) error {
	return p.Do(ctx, func() error {
		c, err := p.lookup(id)
		if err != nil {
			return err
		}
		return fn(c)
	})
}

// lookup must run on the loop. An empty id means the current session.
func (p *Plugin) lookup(id string) (*session.Controller, error) {
	if id == "" {
		if s, ok := p.Registry.CurrentEngine().(*session.Controller); ok {
			return s, nil
		}
		return nil, dbgerrors.SessionNotFound("current")
	}
	e := p.Registry.Lookup(id)
	if e == nil || e.Preset() {
		return nil, dbgerrors.SessionNotFound(id)
	}
	c, ok := e.Session().(*session.Controller)
	if !ok {
		return nil, dbgerrors.SessionNotFound(id)
	}
	return c, nil
}

// Sessions lists live sessions in registration order
func (p *Plugin) Sessions(ctx context.Context) ([]types.SessionInfo, error) {
	var out []types.SessionInfo
	err := p.Do(ctx, func() error {
		for _, s := range p.Registry.Sessions() {
			if c, ok := s.(*session.Controller); ok {
				out = append(out, c.Info())
			}
		}
		return nil
	})
	return out, err
}

// Entries lists presets and live sessions
func (p *Plugin) Entries(ctx context.Context) ([]types.EntryInfo, error) {
	var out []types.EntryInfo
	err := p.Do(ctx, func() error {
		out = p.Registry.Info()
		return nil
	})
	return out, err
}

// Activate makes the entry with id current
func (p *Plugin) Activate(ctx context.Context, id string) error {
	return p.Do(ctx, func() error { return p.Registry.Activate(id) })
}

// Shutdown stops every live session and waits for them to finish, at most
// for the configured grace period. It reports whether sessions were still
// live when the grace period ran out.
func (p *Plugin) Shutdown(ctx context.Context) (bool, error) {
	drained := make(chan struct{})
	var subID string
	var forced bool
	err := p.Do(ctx, func() error {
		forced = p.Registry.ShutdownAll()
		if p.Registry.Len() == 0 {
			close(drained)
			return nil
		}
		subID = p.Bus.Subscribe(event.TypeSessionUnregistered, func(event.Event) {
			if p.Registry.Len() == 0 {
				select {
				case <-drained:
				default:
					close(drained)
				}
			}
		})
		return nil
	})
	if err != nil {
		return false, err
	}
	if subID != "" {
		defer p.Bus.Unsubscribe(subID)
	}
	if !forced {
		p.Logger.Debug("no session needed stopping")
	}

	grace := time.NewTimer(p.Config.ShutdownGrace)
	defer grace.Stop()
	select {
	case <-drained:
		return false, nil
	case <-grace.C:
		p.Logger.Warn("sessions did not finish within the grace period",
			zap.Duration("grace", p.Config.ShutdownGrace))
		return true, nil
	case <-ctx.Done():
		return true, ctx.Err()
	}
}

// Close shuts all sessions down and stops the loop. Calling Close twice is
// harmless.
func (p *Plugin) Close(ctx context.Context) error {
	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	if p.watcher != nil {
		if err := p.watcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close watcher: %w", err))
		}
	}
	if _, err := p.Shutdown(ctx); err != nil && !errors.Is(err, eventloop.ErrStopped) {
		errs = append(errs, err)
	}
	if err := p.Loop.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop loop: %w", err))
	}
	return errors.Join(errs...)
}
