package folo_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/commonjava/folofix/pkg/folo"
)

func TestParseStoreKey(t *testing.T) {
	k, err := folo.ParseStoreKey("maven:hosted:build_1")
	require.NoError(t, err)
	require.Equal(t, folo.StoreKey{PackageType: "maven", StoreType: "hosted", Name: "build_1"}, k)
	require.Equal(t, "maven:hosted:build_1", k.String())

	legacy, err := folo.ParseStoreKey("remote:central")
	require.NoError(t, err)
	require.Equal(t, folo.StoreKey{PackageType: folo.DefaultPackageType, StoreType: "remote", Name: "central"}, legacy)

	_, err = folo.ParseStoreKey("nope")
	require.Error(t, err)
	_, err = folo.ParseStoreKey("a:b:c:d")
	require.Error(t, err)
}

func TestDecodeReport(t *testing.T) {
	raw := []byte(`{
		"key": {"id": "build-7"},
		"uploads": [{"storeKey": "maven:hosted:build-7", "path": "/a/b.jar", "size": 3, "md5": "m", "sha1": "s", "localUrl": "http://x/a/b.jar"}],
		"downloads": [{"storeKey": "npm:group:public", "path": "/c/d.tar.gz", "size": 5, "md5": "m2", "sha1": "s2", "accessChannel": "NATIVE"}]
	}`)

	report, err := folo.DecodeReport(raw, "ignored")
	require.NoError(t, err)
	require.Equal(t, "build-7", report.TrackingID())
	require.Len(t, report.Uploads, 1)
	require.Equal(t, "a/b.jar", report.Uploads[0].RelativePath())
	require.Equal(t, "http://x/a/b.jar", report.Uploads[0].LocalURL)
	require.Equal(t, "npm", report.Downloads[0].StoreKey.PackageType)
	require.Equal(t, "NATIVE", report.Downloads[0].AccessChannel)
	require.JSONEq(t, string(raw), string(report.Raw))

	t.Run("falls back to the requested ID", func(t *testing.T) {
		report, err := folo.DecodeReport([]byte(`{"uploads":[]}`), "build-8")
		require.NoError(t, err)
		require.Equal(t, "build-8", report.TrackingID())
	})

	t.Run("rejects a malformed store key", func(t *testing.T) {
		_, err := folo.DecodeReport([]byte(`{"uploads":[{"storeKey":"bad"}]}`), "x")
		require.Error(t, err)
	})
}

func TestStoreKeyJSON(t *testing.T) {
	b, err := json.Marshal(folo.ArtifactEntry{StoreKey: folo.StoreKey{PackageType: "maven", StoreType: "group", Name: "public"}})
	require.NoError(t, err)
	require.Contains(t, string(b), `"storeKey":"maven:group:public"`)
}
