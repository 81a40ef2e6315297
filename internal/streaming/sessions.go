package streaming

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"rtsp-orchestrator/internal/platform/metrics"
)

// SessionManager tracks client sessions and their instance bindings.
type SessionManager struct {
	registry *Registry
	pool     *InstancePool
	log      *slog.Logger
	metrics  *metrics.Metrics

	// onClose, if set, is told about every session that goes away.
	onClose func(SessionInfo)

	sessions map[string]*Session
}

// NewSessionManager returns an empty manager.
func NewSessionManager(registry *Registry, pool *InstancePool, log *slog.Logger, m *metrics.Metrics) *SessionManager {
	return &SessionManager{
		registry: registry,
		pool:     pool,
		log:      log,
		metrics:  m,
		sessions: make(map[string]*Session),
	}
}

// Open binds a new session to an instance of the mount at path.
// No session is created when the mount is unknown or the engine fails.
func (m *SessionManager) Open(path string) (*Session, error) {
	tpl, ok := m.registry.Resolve(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMountNotFound, path)
	}

	inst, err := m.pool.Acquire(tpl)
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:        uuid.NewString(),
		MountPath: tpl.MountPath,
		Instance:  inst,
		OpenedAt:  time.Now().UTC(),
	}
	m.sessions[s.ID] = s
	m.registry.bind(tpl.MountPath)
	m.metrics.IncSessionsOpened()

	m.log.Debug("session opened",
		slog.String("session_id", s.ID),
		slog.String("mount_path", s.MountPath),
		slog.String("instance_id", inst.ID),
		slog.Int("ref_count", inst.RefCount))
	return s, nil
}

// Close untracks the session and releases its instance. Unknown ids are
// ignored. The returned error is a teardown failure, reported for logging.
func (m *SessionManager) Close(id string) error {
	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	delete(m.sessions, id)
	m.registry.unbind(s.MountPath)
	m.metrics.IncSessionsClosed()

	info := s.info()
	err := m.pool.Release(s.Instance)

	m.log.Debug("session closed",
		slog.String("session_id", id),
		slog.String("mount_path", s.MountPath),
		slog.String("instance_id", info.InstanceID))
	if m.onClose != nil {
		m.onClose(info)
	}
	return err
}

// CloseAll closes every session. Releases are independent so order does not matter.
func (m *SessionManager) CloseAll() error {
	var result *multierror.Error
	for id := range m.sessions {
		if err := m.Close(id); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// List returns snapshots of all sessions, oldest first.
func (m *SessionManager) List() []SessionInfo {
	out := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.info())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

// Len returns the number of open sessions.
func (m *SessionManager) Len() int {
	return len(m.sessions)
}
