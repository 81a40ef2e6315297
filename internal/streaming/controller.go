package streaming

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"rtsp-orchestrator/internal/platform/metrics"
)

// DefaultPort is the RTSP port used when none is configured.
const DefaultPort uint16 = 8554

// ControllerConfig holds the Controller's tunables.
type ControllerConfig struct {
	// Port is used by Restart when the controller has never been started.
	Port uint16
	// TeardownTimeout bounds each engine teardown during release and stop.
	// Zero waits for the engine indefinitely.
	TeardownTimeout time.Duration
}

type request struct {
	fn   func()
	done chan struct{}
}

// Controller owns the mount registry, the instance pool and the session
// manager, and drives the server lifecycle Idle -> Running -> Stopping -> Idle.
//
// While running, every registry, instance and session mutation happens on a
// single dispatch loop goroutine; callers reach it through the exported
// context-taking methods.
type Controller struct {
	executor Executor
	listener Listener
	log      *slog.Logger
	metrics  *metrics.Metrics
	cfg      ControllerConfig

	// lifecycle serialises Start, Stop and Restart.
	lifecycle sync.Mutex

	mu        sync.RWMutex
	state     RunState
	port      uint16
	templates []Template
	endpoint  Endpoint
	requests  chan request
	cancel    context.CancelFunc
	done      chan struct{}
	observers []func(SessionInfo)

	registry *Registry
	pool     *InstancePool
	sessions *SessionManager
}

// NewController returns an idle controller.
func NewController(executor Executor, listener Listener, log *slog.Logger, m *metrics.Metrics, cfg ControllerConfig) *Controller {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	return &Controller{
		executor: executor,
		listener: listener,
		log:      log,
		metrics:  m,
		cfg:      cfg,
		state:    RunStateIdle,
		port:     cfg.Port,
	}
}

// OnSessionClosed registers fn to be called, from the dispatch loop, for
// every session that is closed. fn must not call back into the Controller.
func (c *Controller) OnSessionClosed(fn func(SessionInfo)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Start validates and registers templates (all or none), attaches the
// listening endpoint on port and starts the dispatch loop.
func (c *Controller) Start(port uint16, templates []Template) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	return c.start(port, templates)
}

func (c *Controller) start(port uint16, templates []Template) error {
	c.mu.RLock()
	state := c.state
	observers := append([](func(SessionInfo))(nil), c.observers...)
	c.mu.RUnlock()

	if state != RunStateIdle {
		return ErrAlreadyRunning
	}

	registry := NewRegistry(c.executor)
	if err := registry.RegisterAll(templates); err != nil {
		c.log.Error("mount registration failed", slog.String("error", err.Error()))
		return err
	}

	ep, err := c.listener.Listen(port)
	if err != nil {
		c.log.Error("listen failed", slog.Int("port", int(port)), slog.String("error", err.Error()))
		return &BindError{Port: port, Err: err}
	}

	pool := NewInstancePool(c.executor, registry, c.log, c.metrics)
	pool.teardownTimeout = c.cfg.TeardownTimeout
	sessions := NewSessionManager(registry, pool, c.log, c.metrics)
	if len(observers) > 0 {
		sessions.onClose = func(info SessionInfo) {
			for _, fn := range observers {
				fn(info)
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	requests := make(chan request)
	done := make(chan struct{})

	c.mu.Lock()
	c.registry = registry
	c.pool = pool
	c.sessions = sessions
	c.endpoint = ep
	c.port = port
	c.templates = registry.Templates()
	c.requests = requests
	c.cancel = cancel
	c.done = done
	c.state = RunStateRunning
	c.mu.Unlock()

	c.syncGauges()
	go c.run(ctx, requests, done)

	c.log.Info("server running",
		slog.Int("port", int(port)),
		slog.String("endpoint", ep.Addr()),
		slog.Int("mounts", registry.Len()))
	return nil
}

// Stop closes every session, tears down every instance, detaches the
// endpoint and returns to Idle, in that order. Calling Stop while idle is a no-op.
func (c *Controller) Stop() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	c.stop()
}

func (c *Controller) stop() {
	c.mu.Lock()
	if c.state != RunStateRunning {
		c.mu.Unlock()
		return
	}
	c.state = RunStateStopping
	cancel, done, ep := c.cancel, c.done, c.endpoint
	c.mu.Unlock()

	// the loop is the only mutator while running; wait for it before
	// touching the tables from here.
	cancel()
	<-done

	c.log.Info("server stopping",
		slog.Int("sessions", c.sessions.Len()),
		slog.Int("instances", c.pool.Len()))

	var result *multierror.Error
	if err := c.sessions.CloseAll(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.pool.ForceStopAll(); err != nil {
		result = multierror.Append(result, err)
	}
	c.listener.Detach(ep)
	templates := c.registry.Templates()
	c.registry.Clear()

	if err := result.ErrorOrNil(); err != nil {
		c.log.Error("teardown errors during stop", slog.String("error", err.Error()))
	}

	c.mu.Lock()
	c.state = RunStateIdle
	c.templates = templates
	c.endpoint = nil
	c.requests = nil
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()

	c.syncGauges()
	c.log.Info("server stopped")
}

// Restart stops the server if running and starts it again on the same port.
// A nil templates slice reuses the current mount set. New templates are
// validated before anything is stopped, so a bad set leaves the server as it was.
func (c *Controller) Restart(ctx context.Context, templates []Template) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if templates == nil {
		if c.State() == RunStateRunning {
			var current []Template
			if err := c.dispatch(ctx, func() { current = c.registry.Templates() }); err != nil {
				return err
			}
			templates = current
		} else {
			c.mu.RLock()
			templates = append([]Template(nil), c.templates...)
			c.mu.RUnlock()
		}
	} else if err := NewRegistry(c.executor).RegisterAll(templates); err != nil {
		return err
	}

	c.mu.RLock()
	port := c.port
	c.mu.RUnlock()

	c.log.Info("server restarting", slog.Int("port", int(port)), slog.Int("mounts", len(templates)))
	c.stop()
	return c.start(port, templates)
}

// State returns the current run state.
func (c *Controller) State() RunState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Status returns a summary of the controller. Counts are only filled while
// running and ctx is live.
func (c *Controller) Status(ctx context.Context) Status {
	c.mu.RLock()
	st := Status{State: c.state.String(), Port: c.port}
	if c.endpoint != nil {
		st.Endpoint = c.endpoint.Addr()
	}
	c.mu.RUnlock()

	err := c.dispatch(ctx, func() {
		st.Mounts = c.registry.Len()
		st.Sessions = c.sessions.Len()
		st.Instances = c.pool.Len()
	})
	if err != nil && !errors.Is(err, ErrNotRunning) {
		c.log.Debug("status counts unavailable", slog.String("error", err.Error()))
	}
	return st
}

// OpenSession binds a new client session to the mount at path.
func (c *Controller) OpenSession(ctx context.Context, path string) (SessionInfo, error) {
	var info SessionInfo
	var err error
	if derr := c.dispatch(ctx, func() {
		var s *Session
		if s, err = c.sessions.Open(path); err == nil {
			info = s.info()
		}
	}); derr != nil {
		return SessionInfo{}, derr
	}
	return info, err
}

// CloseSession closes the session with the given id; unknown ids are ignored.
func (c *Controller) CloseSession(ctx context.Context, id string) error {
	return c.dispatch(ctx, func() {
		if err := c.sessions.Close(id); err != nil {
			c.log.Error("session teardown failed",
				slog.String("session_id", id),
				slog.String("error", err.Error()))
		}
	})
}

// Register adds or replaces a mount on the running server.
func (c *Controller) Register(ctx context.Context, t Template) error {
	var err error
	if derr := c.dispatch(ctx, func() { err = c.registry.Register(t) }); derr != nil {
		return derr
	}
	if err == nil {
		c.log.Info("mount registered", slog.String("mount_path", t.MountPath), slog.String("sharing", string(t.Sharing)))
	}
	return err
}

// Unregister removes a mount from the running server.
func (c *Controller) Unregister(ctx context.Context, path string) error {
	var err error
	if derr := c.dispatch(ctx, func() { err = c.registry.Unregister(path) }); derr != nil {
		return derr
	}
	if err == nil {
		c.log.Info("mount unregistered", slog.String("mount_path", path))
	}
	return err
}

// Mounts lists the registered mounts.
func (c *Controller) Mounts(ctx context.Context) ([]MountInfo, error) {
	var out []MountInfo
	err := c.dispatch(ctx, func() { out = c.registry.List() })
	return out, err
}

// Sessions lists the open sessions.
func (c *Controller) Sessions(ctx context.Context) ([]SessionInfo, error) {
	var out []SessionInfo
	err := c.dispatch(ctx, func() { out = c.sessions.List() })
	return out, err
}

// Instances lists the live pipeline instances.
func (c *Controller) Instances(ctx context.Context) ([]InstanceInfo, error) {
	var out []InstanceInfo
	err := c.dispatch(ctx, func() { out = c.pool.List() })
	return out, err
}

// dispatch runs fn on the loop and waits for it to finish.
func (c *Controller) dispatch(ctx context.Context, fn func()) error {
	c.mu.RLock()
	state, requests, done := c.state, c.requests, c.done
	c.mu.RUnlock()

	if state != RunStateRunning {
		return ErrNotRunning
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	req := request{fn: fn, done: make(chan struct{})}
	select {
	case requests <- req:
	case <-done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	<-req.done
	return nil
}

func (c *Controller) run(ctx context.Context, requests <-chan request, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case req := <-requests:
			req.fn()
			c.syncGauges()
			close(req.done)
		case <-ctx.Done():
			return
		}
	}
}

// syncGauges must run on the loop, or while the loop is not running.
func (c *Controller) syncGauges() {
	if c.metrics == nil || c.registry == nil {
		return
	}
	c.metrics.SetGauges(c.sessions.Len(), c.pool.Len(), c.registry.Len())
}
