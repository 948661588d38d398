// Package storage maps tracking entries onto the repository manager's
// on-disk storage layout.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/afero"

	"github.com/commonjava/folofix/pkg/folo"
)

var log = logging.Logger("folofix/storage")

// DefaultPrefixCacheSize bounds the number of memoized store-key prefixes.
const DefaultPrefixCacheSize = 1024

// Resolver locates artifact files under a storage root. Store types are
// joined to the store name with a hyphen; the package type is its own
// directory level:
//
//	maven:hosted:build_1 + /org/x.jar -> <root>/maven/hosted-build_1/org/x.jar
type Resolver struct {
	root     string
	fs       afero.Fs
	prefixes *lru.Cache[string, string]
}

func NewResolver(fsys afero.Fs, root string) (*Resolver, error) {
	prefixes, err := lru.New[string, string](DefaultPrefixCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating prefix cache: %w", err)
	}
	return &Resolver{root: root, fs: fsys, prefixes: prefixes}, nil
}

// Resolve returns the storage path for the given raw store key and entry
// path. Legacy two-part keys resolve under [folo.DefaultPackageType].
func (r *Resolver) Resolve(storeKey, path string) string {
	prefix, ok := r.prefixes.Get(storeKey)
	if !ok {
		prefix = keyPrefix(storeKey)
		r.prefixes.Add(storeKey, prefix)
	}
	return filepath.Join(r.root, prefix, strings.TrimLeft(path, "/"))
}

// ResolveEntry is Resolve for a tracking entry.
func (r *Resolver) ResolveEntry(entry folo.ArtifactEntry) string {
	return r.Resolve(entry.StoreKey.String(), entry.Path)
}

// Size stats the stored copy of entry. ok is false when the file does not
// exist in storage.
func (r *Resolver) Size(entry folo.ArtifactEntry) (size int64, ok bool, err error) {
	p := r.ResolveEntry(entry)
	info, err := r.fs.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warnw("artifact missing from storage", "path", p, "store-key", entry.StoreKey.String())
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("stat %s: %w", p, err)
	}
	return info.Size(), true, nil
}

func keyPrefix(storeKey string) string {
	k, err := folo.ParseStoreKey(storeKey)
	if err != nil {
		log.Warnw("unparseable store key", "store-key", storeKey, "err", err)
		return filepath.Join(strings.Split(storeKey, ":")...)
	}
	return filepath.Join(k.PackageType, k.StoreType+"-"+k.Name)
}
