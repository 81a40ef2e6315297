package streaming

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInstancePool_Acquire_shared(t *testing.T) {
	exec := newFakeExecutor(nil)
	reg, pool, _ := newTestRegistry(exec)
	require.NoError(t, reg.Register(Template{MountPath: "/video1", Description: h264Pipeline, Sharing: SharingShared}))
	tpl, _ := reg.Resolve("/video1")

	const n = 5
	insts := make([]*Instance, n)
	for i := range insts {
		inst, err := pool.Acquire(tpl)
		require.NoError(t, err)
		insts[i] = inst
	}
	for _, inst := range insts[1:] {
		require.Same(t, insts[0], inst)
	}
	require.Equal(t, n, insts[0].RefCount)
	require.Equal(t, InstanceRunning, insts[0].State)

	for i, inst := range insts {
		require.NoError(t, pool.Release(inst))
		require.Equal(t, n-i-1, inst.RefCount)
	}

	instantiated, tornDown, _ := exec.counts()
	require.Equal(t, 1, instantiated)
	require.Equal(t, 1, tornDown)
	require.Equal(t, InstanceStopped, insts[0].State)
	require.Equal(t, 0, pool.Len())
	require.Nil(t, reg.sharedInstance("/video1"))

	t.Run("release_after_stop_is_noop", func(t *testing.T) {
		require.NoError(t, pool.Release(insts[0]))
		_, tornDown, _ := exec.counts()
		require.Equal(t, 1, tornDown)
	})

	t.Run("new_instance_after_stop", func(t *testing.T) {
		inst, err := pool.Acquire(tpl)
		require.NoError(t, err)
		require.NotEqual(t, insts[0].ID, inst.ID)
		require.Equal(t, 1, inst.RefCount)
	})
}

func TestInstancePool_Acquire_per_client(t *testing.T) {
	exec := newFakeExecutor(nil)
	reg, pool, _ := newTestRegistry(exec)
	require.NoError(t, reg.Register(Template{MountPath: "/video2", Description: vp8Pipeline, Sharing: SharingPerClient}))
	tpl, _ := reg.Resolve("/video2")

	a, err := pool.Acquire(tpl)
	require.NoError(t, err)
	b, err := pool.Acquire(tpl)
	require.NoError(t, err)
	c, err := pool.Acquire(tpl)
	require.NoError(t, err)

	require.NotEqual(t, a.ID, b.ID)
	require.NotEqual(t, b.ID, c.ID)
	for _, inst := range []*Instance{a, b, c} {
		require.Equal(t, 1, inst.RefCount)
	}
	require.Equal(t, 3, pool.Len())

	require.NoError(t, pool.Release(b))
	require.Equal(t, InstanceStopped, b.State)
	require.Equal(t, InstanceRunning, a.State)
	require.Equal(t, InstanceRunning, c.State)
	require.Equal(t, 2, pool.Len())
}

func TestInstancePool_Acquire_engine_error(t *testing.T) {
	exec := newFakeExecutor(nil)
	reg, pool, _ := newTestRegistry(exec)
	require.NoError(t, reg.Register(Template{MountPath: "/video1", Description: "videotestsrc ! broken", Sharing: SharingShared}))
	tpl, _ := reg.Resolve("/video1")

	inst, err := pool.Acquire(tpl)
	require.Nil(t, inst)
	require.ErrorIs(t, err, ErrInstantiationFailed)

	var ee *EngineError
	require.ErrorAs(t, err, &ee)
	require.Equal(t, "instantiate", ee.Op)
	require.Equal(t, 0, pool.Len())
	require.Nil(t, reg.sharedInstance("/video1"))
}

func TestInstancePool_ForceStopAll(t *testing.T) {
	exec := newFakeExecutor(nil)
	reg, pool, _ := newTestRegistry(exec)
	require.NoError(t, reg.RegisterAll([]Template{
		{MountPath: "/video1", Description: h264Pipeline, Sharing: SharingShared},
		{MountPath: "/video2", Description: vp8Pipeline, Sharing: SharingPerClient},
	}))
	shared, _ := reg.Resolve("/video1")
	perClient, _ := reg.Resolve("/video2")

	s, err := pool.Acquire(shared)
	require.NoError(t, err)
	_, err = pool.Acquire(shared)
	require.NoError(t, err)
	p, err := pool.Acquire(perClient)
	require.NoError(t, err)

	require.NoError(t, pool.ForceStopAll())
	require.Equal(t, InstanceStopped, s.State)
	require.Equal(t, InstanceStopped, p.State)
	require.Equal(t, 0, s.RefCount)
	require.Equal(t, 0, pool.Len())

	_, tornDown, live := exec.counts()
	require.Equal(t, 2, tornDown)
	require.Equal(t, 0, live)

	// releasing handles held by now-closed sessions must not tear down again
	require.NoError(t, pool.Release(s))
	_, tornDown, _ = exec.counts()
	require.Equal(t, 2, tornDown)
}

func TestInstancePool_teardown_timeout(t *testing.T) {
	exec := newFakeExecutor(nil)
	exec.teardownHang = make(chan struct{})
	defer close(exec.teardownHang)

	reg, pool, _ := newTestRegistry(exec)
	pool.teardownTimeout = 20 * time.Millisecond
	require.NoError(t, reg.Register(Template{MountPath: "/video1", Description: h264Pipeline, Sharing: SharingShared}))
	tpl, _ := reg.Resolve("/video1")

	inst, err := pool.Acquire(tpl)
	require.NoError(t, err)

	err = pool.Release(inst)
	require.Error(t, err)
	require.Equal(t, InstanceStopped, inst.State)
	require.Equal(t, 0, pool.Len())
}
