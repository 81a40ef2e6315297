package streaming

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeMountPath(t *testing.T) {
	for _, ca := range []struct {
		in   string
		want string
		ok   bool
	}{
		{"/video1", "/video1", true},
		{"video1", "/video1", true},
		{"/video1/", "/video1", true},
		{"/live/cam1", "/live/cam1", true},
		{"", "", false},
		{"/", "", false},
		{"/a//b", "", false},
	} {
		t.Run(ca.in, func(t *testing.T) {
			got, err := NormalizeMountPath(ca.in)
			if !ca.ok {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, ca.want, got)
		})
	}
}

func TestParseSharing(t *testing.T) {
	s, err := ParseSharing("Shared")
	require.NoError(t, err)
	require.Equal(t, SharingShared, s)

	s, err = ParseSharing("per_client")
	require.NoError(t, err)
	require.Equal(t, SharingPerClient, s)

	_, err = ParseSharing("sometimes")
	require.Error(t, err)
}

func TestRegistry_Register(t *testing.T) {
	reg, _, _ := newTestRegistry(newFakeExecutor(nil))

	t.Run("normalises_path", func(t *testing.T) {
		err := reg.Register(Template{MountPath: "video1/", Description: h264Pipeline, Sharing: SharingShared})
		require.NoError(t, err)

		tpl, ok := reg.Resolve("/video1")
		require.True(t, ok)
		require.Equal(t, "/video1", tpl.MountPath)
		require.Equal(t, SharingShared, tpl.Sharing)
	})

	t.Run("replaces_inactive", func(t *testing.T) {
		err := reg.Register(Template{MountPath: "/video1", Description: vp8Pipeline, Sharing: SharingPerClient})
		require.NoError(t, err)

		tpl, ok := reg.Resolve("/video1")
		require.True(t, ok)
		require.Equal(t, vp8Pipeline, tpl.Description)
		require.Equal(t, 1, reg.Len())
	})

	t.Run("invalid_description", func(t *testing.T) {
		err := reg.Register(Template{MountPath: "/video2", Description: "invalid ! rtph264pay", Sharing: SharingShared})
		require.ErrorIs(t, err, ErrValidationFailed)
		require.ErrorIs(t, err, ErrInvalidTemplate)

		var te *TemplateError
		require.True(t, errors.As(err, &te))
		require.Equal(t, "/video2", te.MountPath)

		_, ok := reg.Resolve("/video2")
		require.False(t, ok)
		require.Equal(t, 1, reg.Len())
	})

	t.Run("empty_description", func(t *testing.T) {
		err := reg.Register(Template{MountPath: "/video3", Sharing: SharingShared})
		require.ErrorIs(t, err, ErrValidationFailed)
	})

	t.Run("unknown_sharing", func(t *testing.T) {
		err := reg.Register(Template{MountPath: "/video3", Description: h264Pipeline, Sharing: "sometimes"})
		require.ErrorIs(t, err, ErrInvalidTemplate)
	})
}

func TestRegistry_Register_duplicate_with_sessions(t *testing.T) {
	reg, _, sm := newTestRegistry(newFakeExecutor(nil))
	require.NoError(t, reg.Register(Template{MountPath: "/video1", Description: h264Pipeline, Sharing: SharingShared}))

	s, err := sm.Open("/video1")
	require.NoError(t, err)

	err = reg.Register(Template{MountPath: "/video1", Description: vp8Pipeline, Sharing: SharingShared})
	require.ErrorIs(t, err, ErrDuplicateMount)

	tpl, _ := reg.Resolve("/video1")
	require.Equal(t, h264Pipeline, tpl.Description)

	require.NoError(t, sm.Close(s.ID))
	require.NoError(t, reg.Register(Template{MountPath: "/video1", Description: vp8Pipeline, Sharing: SharingShared}))
}

func TestRegistry_RegisterAll_all_or_nothing(t *testing.T) {
	reg, _, _ := newTestRegistry(newFakeExecutor(nil))

	err := reg.RegisterAll([]Template{
		{MountPath: "/video1", Description: h264Pipeline, Sharing: SharingShared},
		{MountPath: "/video2", Description: "invalid", Sharing: SharingPerClient},
		{MountPath: "/video3", Description: vp8Pipeline, Sharing: SharingPerClient},
	})
	var te *TemplateError
	require.True(t, errors.As(err, &te))
	require.Equal(t, "/video2", te.MountPath)
	require.Equal(t, 0, reg.Len())

	err = reg.RegisterAll([]Template{
		{MountPath: "/video1", Description: h264Pipeline, Sharing: SharingShared},
		{MountPath: "video1/", Description: vp8Pipeline, Sharing: SharingShared},
	})
	require.ErrorIs(t, err, ErrInvalidTemplate)
	require.Equal(t, 0, reg.Len())

	require.NoError(t, reg.RegisterAll([]Template{
		{MountPath: "/video2", Description: vp8Pipeline, Sharing: SharingPerClient},
		{MountPath: "/video1", Description: h264Pipeline, Sharing: SharingShared},
	}))
	mounts := reg.List()
	require.Len(t, mounts, 2)
	require.Equal(t, "/video1", mounts[0].MountPath)
	require.Equal(t, "/video2", mounts[1].MountPath)
}

func TestRegistry_Unregister(t *testing.T) {
	exec := newFakeExecutor(nil)
	reg, _, sm := newTestRegistry(exec)
	require.NoError(t, reg.Register(Template{MountPath: "/video1", Description: h264Pipeline, Sharing: SharingShared}))

	t.Run("not_found", func(t *testing.T) {
		require.ErrorIs(t, reg.Unregister("/missing"), ErrMountNotFound)
	})

	s1, err := sm.Open("/video1")
	require.NoError(t, err)
	s2, err := sm.Open("/video1")
	require.NoError(t, err)

	t.Run("in_use", func(t *testing.T) {
		require.ErrorIs(t, reg.Unregister("/video1"), ErrMountInUse)
		require.NoError(t, sm.Close(s1.ID))
		require.ErrorIs(t, reg.Unregister("/video1"), ErrMountInUse)
	})

	t.Run("after_last_close", func(t *testing.T) {
		require.NoError(t, sm.Close(s2.ID))
		require.NoError(t, reg.Unregister("/video1"))
		_, ok := reg.Resolve("/video1")
		require.False(t, ok)
	})

	_, tornDown, live := exec.counts()
	require.Equal(t, 1, tornDown)
	require.Equal(t, 0, live)
}

func TestRegistry_List_reports_shared_instance(t *testing.T) {
	reg, _, sm := newTestRegistry(newFakeExecutor(nil))
	require.NoError(t, reg.Register(Template{MountPath: "/video1", Description: h264Pipeline, Sharing: SharingShared}))

	s, err := sm.Open("/video1")
	require.NoError(t, err)

	mounts := reg.List()
	require.Len(t, mounts, 1)
	require.Equal(t, 1, mounts[0].Sessions)
	require.Equal(t, s.Instance.ID, mounts[0].SharedInstance)
	require.Equal(t, 1, reg.sessionCount("/video1"))
}
