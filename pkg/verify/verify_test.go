package verify_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commonjava/folofix/internal/testutil/fakeindy"
	"github.com/commonjava/folofix/pkg/checksum"
	"github.com/commonjava/folofix/pkg/fetch"
	"github.com/commonjava/folofix/pkg/folo"
	"github.com/commonjava/folofix/pkg/storage"
	"github.com/commonjava/folofix/pkg/verify"
)

const (
	cacheDir   = "/cache"
	reportsDir = "/reports"
)

type fetchFailures map[string]error

func (f fetchFailures) FetchFailure(cachePath string) error {
	return f[cachePath]
}

func newVerifier(t *testing.T, fsys afero.Fs, opts ...verify.Option) *verify.Verifier {
	t.Helper()
	u, err := url.Parse("http://indy.example")
	require.NoError(t, err)
	planner := verify.NewPlanner(folo.NewClient(*u), cacheDir)
	return verify.New(fsys, planner, checksum.NewVerifier(fsys, nil), reportsDir, opts...)
}

func cache(t *testing.T, fsys afero.Fs, trackingID string, entry folo.ArtifactEntry, data []byte) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fsys, verify.CachePath(cacheDir, trackingID, entry), data, 0644))
}

func hundredBytes() []byte {
	return bytes.Repeat([]byte("x"), 100)
}

func TestVerify(t *testing.T) {
	t.Run("matching download passes", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		data := hundredBytes()
		entry := fakeindy.Entry("maven:remote:central", "/org/x/1.0/x-1.0.jar", data)
		cache(t, fsys, "build-1", entry, data)

		report := &folo.TrackingReport{Key: folo.TrackingKey{ID: "build-1"}, Downloads: []folo.ArtifactEntry{entry}}
		res, err := newVerifier(t, fsys).Verify(t.Context(), report, nil)
		require.NoError(t, err)
		assert.True(t, res.Passed())
		assert.Equal(t, 1, res.Checked)
		assert.Empty(t, res.MismatchFile)

		exists, err := afero.Exists(fsys, verify.MismatchFile(reportsDir, "build-1"))
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("short download fails on size", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		data := hundredBytes()
		entry := fakeindy.Entry("maven:remote:central", "/org/x/1.0/x-1.0.jar", data)
		cache(t, fsys, "build-1", entry, data[:99])

		report := &folo.TrackingReport{Key: folo.TrackingKey{ID: "build-1"}, Downloads: []folo.ArtifactEntry{entry}}
		res, err := newVerifier(t, fsys).Verify(t.Context(), report, nil)
		require.NoError(t, err)
		require.False(t, res.Passed())
		require.Len(t, res.Results, 1)

		r := res.Results[0]
		assert.Equal(t, "org/x/1.0/x-1.0.jar", r.Path)
		assert.Equal(t, verify.Download, r.Dataset)
		assert.Equal(t, "http://indy.example/api/maven/remote/central/org/x/1.0/x-1.0.jar", r.LocalURL)
		require.NotNil(t, r.Size)
		assert.False(t, r.Size.Success)
		assert.Equal(t, int64(100), *r.Size.Record)
		assert.Equal(t, int64(99), *r.Size.Calculated)
		assert.False(t, r.MD5.Success)
		assert.False(t, r.SHA1.Success)

		require.Equal(t, verify.MismatchFile(reportsDir, "build-1"), res.MismatchFile)
		b, err := afero.ReadFile(fsys, res.MismatchFile)
		require.NoError(t, err)
		assert.Contains(t, string(b), "\n  \"results\": [")

		var written struct {
			Results []map[string]json.RawMessage `json:"results"`
		}
		require.NoError(t, json.Unmarshal(b, &written))
		require.Len(t, written.Results, 1)
		assert.JSONEq(t, `{"success":false,"record":100,"calculated":99}`, string(written.Results[0]["size"]))
		assert.JSONEq(t, `"download"`, string(written.Results[0]["type"]))
	})

	t.Run("non-artifact entries are not checked", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		entry := fakeindy.Entry("maven:hosted:build-1", "/org/x/1.0/x-1.0.jar.sha1", []byte("abc"))
		meta := fakeindy.Entry("maven:hosted:build-1", "/org/x/maven-metadata.xml", []byte("abc"))

		report := &folo.TrackingReport{
			Key:       folo.TrackingKey{ID: "build-1"},
			Uploads:   []folo.ArtifactEntry{entry},
			Downloads: []folo.ArtifactEntry{meta},
		}
		res, err := newVerifier(t, fsys).Verify(t.Context(), report, nil)
		require.NoError(t, err)
		assert.True(t, res.Passed())
		assert.Zero(t, res.Checked)
	})

	t.Run("empty report passes", func(t *testing.T) {
		res, err := newVerifier(t, afero.NewMemMapFs()).Verify(t.Context(), &folo.TrackingReport{Key: folo.TrackingKey{ID: "empty"}}, nil)
		require.NoError(t, err)
		assert.True(t, res.Passed())
	})

	t.Run("fetch failures are recorded", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		entry := fakeindy.Entry("maven:remote:central", "/a/a.pom", []byte("pom"))
		report := &folo.TrackingReport{Key: folo.TrackingKey{ID: "build-2"}, Downloads: []folo.ArtifactEntry{entry}}
		failures := fetchFailures{
			verify.CachePath(cacheDir, "build-2", entry): &fetch.FetchError{URL: "http://indy.example/a/a.pom", StatusCode: 502},
		}

		res, err := newVerifier(t, fsys).Verify(t.Context(), report, failures)
		require.NoError(t, err)
		require.Len(t, res.Results, 1)
		require.NotNil(t, res.Results[0].Error)
		assert.Equal(t, verify.KindFetchError, res.Results[0].Error.Kind)
		assert.Contains(t, res.Results[0].Error.Message, "502")
		assert.Nil(t, res.Results[0].Size)
	})

	t.Run("a dropped connection is a fetch error", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		entry := fakeindy.Entry("maven:remote:central", "/a/a.jar", []byte("jar"))
		report := &folo.TrackingReport{Key: folo.TrackingKey{ID: "build-2"}, Downloads: []folo.ArtifactEntry{entry}}
		failures := fetchFailures{
			verify.CachePath(cacheDir, "build-2", entry): fmt.Errorf("fetching: %w", &fetch.FetchError{URL: "http://indy.example/a/a.jar", Err: io.ErrUnexpectedEOF}),
		}

		res, err := newVerifier(t, fsys).Verify(t.Context(), report, failures)
		require.NoError(t, err)
		require.Len(t, res.Results, 1)
		assert.Equal(t, verify.KindFetchError, res.Results[0].Error.Kind)
		assert.Contains(t, res.Results[0].Error.Message, "unexpected EOF")
	})

	t.Run("a download that could not be cached is an io error", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		entry := fakeindy.Entry("maven:remote:central", "/a/a.jar", []byte("jar"))
		report := &folo.TrackingReport{Key: folo.TrackingKey{ID: "build-2"}, Downloads: []folo.ArtifactEntry{entry}}
		failures := fetchFailures{
			verify.CachePath(cacheDir, "build-2", entry): errors.New("creating /cache/build-2/a: permission denied"),
		}

		res, err := newVerifier(t, fsys).Verify(t.Context(), report, failures)
		require.NoError(t, err)
		require.Len(t, res.Results, 1)
		assert.Equal(t, verify.KindIOError, res.Results[0].Error.Kind)
		assert.Contains(t, res.Results[0].Error.Message, "permission denied")
		assert.Nil(t, res.Results[0].Size)
	})

	t.Run("missing cache file is an io error", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		entry := fakeindy.Entry("maven:remote:central", "/a/a.zip", []byte("zip"))
		report := &folo.TrackingReport{Key: folo.TrackingKey{ID: "build-3"}, Uploads: []folo.ArtifactEntry{entry}}

		res, err := newVerifier(t, fsys).Verify(t.Context(), report, fetchFailures{})
		require.NoError(t, err)
		require.Len(t, res.Results, 1)
		assert.Equal(t, verify.KindIOError, res.Results[0].Error.Kind)
		assert.False(t, res.Results[0].Success())
	})

	t.Run("a failing entry does not hide its siblings", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		good := fakeindy.Entry("maven:hosted:build-4", "/a/good.jar", []byte("good"))
		bad := fakeindy.Entry("maven:hosted:build-4", "/a/bad.jar", []byte("bad"))
		worse := fakeindy.Entry("maven:remote:central", "/b/worse.tar.gz", []byte("worse"))
		cache(t, fsys, "build-4", good, []byte("good"))
		cache(t, fsys, "build-4", bad, []byte("BAD"))

		report := &folo.TrackingReport{
			Key:       folo.TrackingKey{ID: "build-4"},
			Uploads:   []folo.ArtifactEntry{good, bad},
			Downloads: []folo.ArtifactEntry{worse},
		}
		res, err := newVerifier(t, fsys).Verify(t.Context(), report, nil)
		require.NoError(t, err)
		assert.Equal(t, 3, res.Checked)
		require.Len(t, res.Results, 2)

		// uploads come before downloads
		assert.Equal(t, "a/bad.jar", res.Results[0].Path)
		assert.Equal(t, verify.Upload, res.Results[0].Dataset)
		assert.True(t, res.Results[0].Size.Success)
		assert.False(t, res.Results[0].MD5.Success)
		assert.False(t, res.Results[0].SHA1.Success)

		assert.Equal(t, "b/worse.tar.gz", res.Results[1].Path)
		assert.Equal(t, verify.KindIOError, res.Results[1].Error.Kind)
	})

	t.Run("storage disagreement is fatal", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		data := hundredBytes()
		entry := fakeindy.Entry("maven:hosted:build-5", "/org/x/1.0/x-1.0.jar", data)
		cache(t, fsys, "build-5", entry, data)

		resolver, err := storage.NewResolver(fsys, "/storage")
		require.NoError(t, err)
		require.NoError(t, afero.WriteFile(fsys, resolver.ResolveEntry(entry), data[:80], 0644))

		report := &folo.TrackingReport{Key: folo.TrackingKey{ID: "build-5"}, Uploads: []folo.ArtifactEntry{entry}}
		res, err := newVerifier(t, fsys, verify.WithStorage(resolver)).Verify(t.Context(), report, nil)
		require.NoError(t, err)
		require.Len(t, res.Results, 1)

		size := res.Results[0].Size
		assert.True(t, size.Fatal)
		assert.Equal(t, int64(80), *size.Storage)
		assert.True(t, res.Results[0].MD5.Success)
	})

	t.Run("missing storage copy falls back to the download", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		data := []byte("content")
		entry := fakeindy.Entry("maven:hosted:build-6", "/a/a.jar", data)
		cache(t, fsys, "build-6", entry, data)

		resolver, err := storage.NewResolver(fsys, "/storage")
		require.NoError(t, err)

		report := &folo.TrackingReport{Key: folo.TrackingKey{ID: "build-6"}, Uploads: []folo.ArtifactEntry{entry}}
		res, err := newVerifier(t, fsys, verify.WithStorage(resolver)).Verify(t.Context(), report, nil)
		require.NoError(t, err)
		assert.True(t, res.Passed())
	})

	t.Run("sha256 is checked when enabled and recorded", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		data := []byte("content")
		entry := fakeindy.Entry("maven:hosted:build-7", "/a/a.jar", data)
		entry.SHA256 = "00"
		cache(t, fsys, "build-7", entry, data)
		report := &folo.TrackingReport{Key: folo.TrackingKey{ID: "build-7"}, Uploads: []folo.ArtifactEntry{entry}}

		res, err := newVerifier(t, fsys).Verify(t.Context(), report, nil)
		require.NoError(t, err)
		assert.True(t, res.Passed())

		res, err = newVerifier(t, fsys, verify.WithSHA256(true)).Verify(t.Context(), report, nil)
		require.NoError(t, err)
		require.Len(t, res.Results, 1)
		assert.False(t, res.Results[0].SHA256.Success)
	})

	t.Run("a clean run removes an old mismatch file", func(t *testing.T) {
		fsys := afero.NewMemMapFs()
		data := []byte("content")
		entry := fakeindy.Entry("maven:hosted:build-8", "/a/a.jar", data)
		cache(t, fsys, "build-8", entry, data)
		old := verify.MismatchFile(reportsDir, "build-8")
		require.NoError(t, afero.WriteFile(fsys, old, []byte(`{"results":[]}`), 0644))

		report := &folo.TrackingReport{Key: folo.TrackingKey{ID: "build-8"}, Uploads: []folo.ArtifactEntry{entry}}
		res, err := newVerifier(t, fsys).Verify(t.Context(), report, nil)
		require.NoError(t, err)
		assert.True(t, res.Passed())

		exists, err := afero.Exists(fsys, old)
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("mismatch file cannot be written", func(t *testing.T) {
		base := afero.NewMemMapFs()
		entry := fakeindy.Entry("maven:hosted:build-9", "/a/a.jar", []byte("content"))
		cache(t, base, "build-9", entry, []byte("other"))

		fsys := afero.NewReadOnlyFs(base)
		report := &folo.TrackingReport{Key: folo.TrackingKey{ID: "build-9"}, Uploads: []folo.ArtifactEntry{entry}}
		res, err := newVerifier(t, fsys).Verify(t.Context(), report, nil)
		require.Error(t, err)
		require.NotNil(t, res)
		assert.False(t, res.Passed())
	})
}

func TestPlan(t *testing.T) {
	u, err := url.Parse("http://indy.example")
	require.NoError(t, err)
	planner := verify.NewPlanner(folo.NewClient(*u), cacheDir)

	direct := fakeindy.Entry("maven:remote:central", "/org/a/1/a-1.pom", nil)
	direct.LocalURL = "http://other.example/content/a-1.pom"
	synth := fakeindy.Entry("npm:group:public", "/b/-/b-1.0.tar.gz", nil)
	skipped := fakeindy.Entry("maven:remote:central", "/org/a/1/a-1.pom.md5", nil)

	report := &folo.TrackingReport{
		Key:       folo.TrackingKey{ID: "build-1"},
		Uploads:   []folo.ArtifactEntry{skipped, synth},
		Downloads: []folo.ArtifactEntry{direct},
	}
	targets := planner.Plan(report)
	require.Len(t, targets, 2)

	assert.Equal(t, verify.Upload, targets[0].Dataset)
	assert.Equal(t, "http://indy.example/api/npm/group/public/b/-/b-1.0.tar.gz", targets[0].ContentURL)
	assert.Equal(t, filepath.FromSlash("/cache/build-1/b/-/b-1.0.tar.gz"), targets[0].CachePath)

	assert.Equal(t, verify.Download, targets[1].Dataset)
	assert.Equal(t, "http://other.example/content/a-1.pom", targets[1].ContentURL)
}

func TestCachePath(t *testing.T) {
	cases := []struct {
		name, id, path, want string
	}{
		{"namespaced", "build-1", "/org/x.jar", "/cache/build-1/org/x.jar"},
		{"same path other report", "build-2", "/org/x.jar", "/cache/build-2/org/x.jar"},
		{"entry path cannot escape", "build-1", "/../../etc/x.jar", "/cache/build-1/etc/x.jar"},
		{"id cannot escape", "../../etc", "/x.jar", "/cache/etc/x.jar"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := verify.CachePath(cacheDir, c.id, folo.ArtifactEntry{Path: c.path})
			assert.Equal(t, filepath.FromSlash(c.want), got)
		})
	}
}
