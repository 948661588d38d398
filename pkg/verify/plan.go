package verify

import (
	"path/filepath"
	"strings"

	"github.com/commonjava/folofix/pkg/folo"
)

type Dataset string

const (
	Upload   Dataset = "upload"
	Download Dataset = "download"
)

// DefaultExtensions are the artifact suffixes that get checked. Entries for
// anything else (checksums, metadata, signatures) are ignored entirely.
var DefaultExtensions = []string{".jar", ".pom", ".tar.gz", ".zip"}

// URLResolver picks the URL an entry's content is downloaded from.
// [*folo.Client] is the usual implementation.
type URLResolver interface {
	ContentURL(entry folo.ArtifactEntry) string
}

// Target is one entry of a report, resolved for fetching and checking.
type Target struct {
	Dataset    Dataset
	Entry      folo.ArtifactEntry
	ContentURL string
	CachePath  string
}

// Planner turns a report into the targets that get fetched and verified. The
// loaders and the verifiers share one so both stages agree on URLs and cache
// paths.
type Planner struct {
	urls       URLResolver
	cacheDir   string
	extensions []string
}

// NewPlanner returns a planner caching content under cacheDir. With no
// extensions given, [DefaultExtensions] is used.
func NewPlanner(urls URLResolver, cacheDir string, extensions ...string) *Planner {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	return &Planner{urls: urls, cacheDir: cacheDir, extensions: extensions}
}

// Plan lists the targets of report: uploads first, then downloads, each in
// report order, skipping entries that are not artifacts.
func (p *Planner) Plan(report *folo.TrackingReport) []Target {
	var targets []Target
	add := func(ds Dataset, entries []folo.ArtifactEntry) {
		for _, entry := range entries {
			if !p.Qualifies(entry.Path) {
				continue
			}
			targets = append(targets, Target{
				Dataset:    ds,
				Entry:      entry,
				ContentURL: p.urls.ContentURL(entry),
				CachePath:  CachePath(p.cacheDir, report.TrackingID(), entry),
			})
		}
	}
	add(Upload, report.Uploads)
	add(Download, report.Downloads)
	return targets
}

// Qualifies reports whether path carries one of the checked extensions.
func (p *Planner) Qualifies(path string) bool {
	for _, ext := range p.extensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

// CachePath is where entry's content is cached for the given report. Content
// is namespaced per report so identical paths from different builds never
// share a file, and neither the ID nor the entry path can climb out of
// cacheDir.
func CachePath(cacheDir, trackingID string, entry folo.ArtifactEntry) string {
	id := filepath.Clean(string(filepath.Separator) + trackingID)
	rel := filepath.Clean(string(filepath.Separator) + filepath.FromSlash(entry.RelativePath()))
	return filepath.Join(cacheDir, id, rel)
}
