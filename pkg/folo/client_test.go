package folo_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/commonjava/folofix/internal/testutil/fakeindy"
	"github.com/commonjava/folofix/pkg/folo"
)

func TestListSealed(t *testing.T) {
	t.Run("returns sealed IDs", func(t *testing.T) {
		srv := fakeindy.New(t)
		srv.SealID("build-1")
		srv.SealID("build-2")

		ids, err := folo.NewClient(srv.URL()).ListSealed(t.Context())
		require.NoError(t, err)
		require.Equal(t, []string{"build-1", "build-2"}, ids)
	})

	t.Run("treats a null list as empty", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"sealed":null}`))
		}))
		defer server.Close()
		endpoint, err := url.Parse(server.URL)
		require.NoError(t, err)

		ids, err := folo.NewClient(*endpoint).ListSealed(t.Context())
		require.NoError(t, err)
		require.Empty(t, ids)
	})

	t.Run("accepts numeric IDs", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"sealed":["a", 42]}`))
		}))
		defer server.Close()
		endpoint, err := url.Parse(server.URL)
		require.NoError(t, err)

		ids, err := folo.NewClient(*endpoint).ListSealed(t.Context())
		require.NoError(t, err)
		require.Equal(t, []string{"a", "42"}, ids)
	})

	t.Run("fails with a service error on non-200", func(t *testing.T) {
		srv := fakeindy.New(t)
		srv.FailSealed(http.StatusInternalServerError)

		_, err := folo.NewClient(srv.URL()).ListSealed(t.Context())
		var svcErr *folo.ServiceError
		require.ErrorAs(t, err, &svcErr)
		require.Equal(t, http.StatusInternalServerError, svcErr.StatusCode)
		require.NotErrorIs(t, err, folo.ErrNotFound)
	})

	t.Run("distinguishes a missing endpoint", func(t *testing.T) {
		srv := fakeindy.New(t)
		srv.FailSealed(http.StatusNotFound)

		_, err := folo.NewClient(srv.URL()).ListSealed(t.Context())
		require.ErrorIs(t, err, folo.ErrNotFound)
	})
}

func TestFetchReport(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		srv := fakeindy.New(t)
		entry := fakeindy.Entry("maven:hosted:build-1", "/org/x/1.0/x-1.0.jar", []byte("jar"))
		srv.AddReport(t, folo.TrackingReport{
			Key:       folo.TrackingKey{ID: "build-1"},
			Downloads: []folo.ArtifactEntry{entry},
		})

		report, err := folo.NewClient(srv.URL()).FetchReport(t.Context(), "build-1")
		require.NoError(t, err)
		require.NotNil(t, report)
		require.Equal(t, "build-1", report.TrackingID())
		require.Empty(t, report.Uploads)
		require.Equal(t, []folo.ArtifactEntry{entry}, report.Downloads)
		require.NotEmpty(t, report.Raw)
	})

	t.Run("keeps unknown fields in the raw copy", func(t *testing.T) {
		srv := fakeindy.New(t)
		srv.AddRawReport("build-1", []byte(`{"key":{"id":"build-1"},"uploads":[],"downloads":[],"extra":{"a":1}}`))

		report, err := folo.NewClient(srv.URL()).FetchReport(t.Context(), "build-1")
		require.NoError(t, err)

		var raw map[string]any
		require.NoError(t, json.Unmarshal(report.Raw, &raw))
		require.Contains(t, raw, "extra")
	})

	t.Run("not found is absent, not an error", func(t *testing.T) {
		srv := fakeindy.New(t)

		report, err := folo.NewClient(srv.URL()).FetchReport(t.Context(), "missing")
		require.NoError(t, err)
		require.Nil(t, report)
	})

	t.Run("error", func(t *testing.T) {
		srv := fakeindy.New(t)
		srv.FailReport("build-1", http.StatusBadGateway)

		_, err := folo.NewClient(srv.URL()).FetchReport(t.Context(), "build-1")
		var svcErr *folo.ServiceError
		require.ErrorAs(t, err, &svcErr)
		require.Equal(t, http.StatusBadGateway, svcErr.StatusCode)
	})
}

func TestContentURL(t *testing.T) {
	endpoint, err := url.Parse("http://indy.example.com:8080")
	require.NoError(t, err)
	c := folo.NewClient(*endpoint)

	t.Run("prefers the local URL", func(t *testing.T) {
		entry := folo.ArtifactEntry{
			LocalURL: "http://indy.example.com:8080/api/content/maven/hosted/x/a.jar",
			Path:     "/a.jar",
		}
		require.Equal(t, entry.LocalURL, c.ContentURL(entry))
	})

	t.Run("synthesizes from the store key", func(t *testing.T) {
		entry := fakeindy.Entry("maven:remote:central", "/org/x/1.0/x-1.0.pom", nil)
		require.Equal(t,
			"http://indy.example.com:8080/api/maven/remote/central/org/x/1.0/x-1.0.pom",
			c.ContentURL(entry))
	})
}
