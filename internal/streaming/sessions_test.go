package streaming

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSessionManager_Open(t *testing.T) {
	exec := newFakeExecutor(nil)
	reg, pool, sm := newTestRegistry(exec)
	require.NoError(t, reg.RegisterAll([]Template{
		{MountPath: "/video1", Description: h264Pipeline, Sharing: SharingShared},
		{MountPath: "/broken", Description: "videotestsrc ! broken", Sharing: SharingPerClient},
	}))

	t.Run("unknown_mount", func(t *testing.T) {
		s, err := sm.Open("/nope")
		require.Nil(t, s)
		require.ErrorIs(t, err, ErrMountNotFound)
		require.Equal(t, 0, sm.Len())
	})

	t.Run("engine_failure_creates_no_session", func(t *testing.T) {
		s, err := sm.Open("/broken")
		require.Nil(t, s)
		require.ErrorIs(t, err, ErrInstantiationFailed)
		require.Equal(t, 0, sm.Len())
		require.Equal(t, 0, reg.sessionCount("/broken"))
		require.Equal(t, 0, pool.Len())
	})

	t.Run("binds_to_shared_instance", func(t *testing.T) {
		a, err := sm.Open("video1")
		require.NoError(t, err)
		b, err := sm.Open("/video1/")
		require.NoError(t, err)

		require.NotEqual(t, a.ID, b.ID)
		require.Equal(t, "/video1", a.MountPath)
		require.Same(t, a.Instance, b.Instance)
		require.Equal(t, 2, a.Instance.RefCount)

		require.Same(t, a, sm.sessions[a.ID])
		require.Equal(t, 2, reg.sessionCount("/video1"))
	})
}

func TestSessionManager_Close(t *testing.T) {
	exec := newFakeExecutor(nil)
	reg, pool, sm := newTestRegistry(exec)
	require.NoError(t, reg.Register(Template{MountPath: "/video2", Description: vp8Pipeline, Sharing: SharingPerClient}))

	var closed []SessionInfo
	sm.onClose = func(info SessionInfo) { closed = append(closed, info) }

	s, err := sm.Open("/video2")
	require.NoError(t, err)
	inst := s.Instance

	require.NoError(t, sm.Close(s.ID))
	require.Equal(t, InstanceStopped, inst.State)
	require.Equal(t, 0, pool.Len())
	require.Equal(t, 0, reg.sessionCount("/video2"))

	require.Len(t, closed, 1)
	require.Equal(t, s.ID, closed[0].ID)
	require.Equal(t, inst.ID, closed[0].InstanceID)
	require.Equal(t, "engine1", closed[0].Engine.ID())

	t.Run("idempotent", func(t *testing.T) {
		require.NoError(t, sm.Close(s.ID))
		require.NoError(t, sm.Close("never-existed"))
		_, tornDown, _ := exec.counts()
		require.Equal(t, 1, tornDown)
		require.Len(t, closed, 1)
	})
}

func TestSessionManager_Close_reports_teardown_error(t *testing.T) {
	exec := newFakeExecutor(nil)
	exec.teardownErr = errors.New("pipeline refused to stop")
	reg, pool, sm := newTestRegistry(exec)
	require.NoError(t, reg.Register(Template{MountPath: "/video1", Description: h264Pipeline, Sharing: SharingShared}))

	s, err := sm.Open("/video1")
	require.NoError(t, err)

	err = sm.Close(s.ID)
	require.ErrorIs(t, err, exec.teardownErr)
	require.Equal(t, 0, sm.Len())
	require.Equal(t, 0, pool.Len())
}

func TestSessionManager_CloseAll(t *testing.T) {
	exec := newFakeExecutor(nil)
	reg, pool, sm := newTestRegistry(exec)
	require.NoError(t, reg.RegisterAll([]Template{
		{MountPath: "/video1", Description: h264Pipeline, Sharing: SharingShared},
		{MountPath: "/video2", Description: vp8Pipeline, Sharing: SharingPerClient},
	}))

	for _, path := range []string{"/video1", "/video1", "/video2", "/video2", "/video1"} {
		_, err := sm.Open(path)
		require.NoError(t, err)
	}
	require.Equal(t, 5, sm.Len())
	require.Len(t, sm.List(), 5)
	require.Equal(t, 3, pool.Len())

	require.NoError(t, sm.CloseAll())
	require.Equal(t, 0, sm.Len())
	require.Equal(t, 0, pool.Len())

	instantiated, tornDown, live := exec.counts()
	require.Equal(t, 3, instantiated)
	require.Equal(t, 3, tornDown)
	require.Equal(t, 0, live)
}
