package storage_test

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/commonjava/folofix/internal/testutil/fakeindy"
	"github.com/commonjava/folofix/pkg/storage"
)

func TestResolve(t *testing.T) {
	r, err := storage.NewResolver(afero.NewMemMapFs(), "/var/lib/indy/storage")
	require.NoError(t, err)

	cases := []struct {
		key, path, want string
	}{
		{"maven:hosted:build_test-1", "/org/x/1.0/x-1.0.jar", "/var/lib/indy/storage/maven/hosted-build_test-1/org/x/1.0/x-1.0.jar"},
		{"maven:remote:central", "org/x/1.0/x-1.0.pom", "/var/lib/indy/storage/maven/remote-central/org/x/1.0/x-1.0.pom"},
		{"npm:group:public", "//a/-/a-1.0.tgz", "/var/lib/indy/storage/npm/group-public/a/-/a-1.0.tgz"},
		{"hosted:local", "/a.zip", "/var/lib/indy/storage/maven/hosted-local/a.zip"},
		{"maven:remote:group", "/org/x.jar", "/var/lib/indy/storage/maven/remote-group/org/x.jar"},
		{"maven:group:hosted", "/org/x.jar", "/var/lib/indy/storage/maven/group-hosted/org/x.jar"},
		{"maven:hosted:remote", "/org/x.jar", "/var/lib/indy/storage/maven/hosted-remote/org/x.jar"},
	}
	for _, c := range cases {
		t.Run(c.key, func(t *testing.T) {
			require.Equal(t, filepath.FromSlash(c.want), r.Resolve(c.key, c.path))
			// memoized prefix gives the same answer
			require.Equal(t, filepath.FromSlash(c.want), r.Resolve(c.key, c.path))
		})
	}
}

func TestSize(t *testing.T) {
	fsys := afero.NewMemMapFs()
	r, err := storage.NewResolver(fsys, "/storage")
	require.NoError(t, err)

	entry := fakeindy.Entry("maven:hosted:build-1", "/org/x/1.0/x-1.0.jar", []byte("0123456789"))

	t.Run("missing", func(t *testing.T) {
		_, ok, err := r.Size(entry)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("present", func(t *testing.T) {
		require.NoError(t, afero.WriteFile(fsys, "/storage/maven/hosted-build-1/org/x/1.0/x-1.0.jar", []byte("01234"), 0644))
		size, ok, err := r.Size(entry)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, int64(5), size)
	})
}
