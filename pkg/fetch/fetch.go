// Package fetch downloads artifact content into the local content cache.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/commonjava/folofix/pkg/build"
)

var (
	log    = logging.Logger("folofix/fetch")
	tracer = otel.Tracer("folofix/fetch")
	meter  = otel.Meter("folofix/fetch")
)

var fetchThroughput, _ = meter.Float64Histogram(
	"fetch.throughput",
	metric.WithDescription("Throughput of artifact downloads"),
	metric.WithUnit("By/s"),
)

type Outcome int

const (
	// Fetched means the content was downloaded and written to the destination.
	Fetched Outcome = iota + 1
	// Skipped means the destination already existed or another worker was
	// writing it.
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Fetched:
		return "fetched"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// FetchError reports a download that the content server or the network
// failed: either a non-200 response, or a transport error (StatusCode 0)
// while requesting or reading the body. Local filesystem failures are never
// a FetchError.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("downloading %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("downloading %s: unexpected status %d", e.URL, e.StatusCode)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Fetcher writes each destination at most once. A destination that exists is
// never overwritten. Concurrent fetches of one destination within a process
// collapse to a single download; across processes the existence check is
// best-effort (check-then-act), which is tolerable because the content for a
// destination is identical.
type Fetcher struct {
	fs     afero.Fs
	client *http.Client

	mu       sync.Mutex
	inflight map[string]struct{}
}

func New(fsys afero.Fs, client *http.Client) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{
		fs:       fsys,
		client:   client,
		inflight: map[string]struct{}{},
	}
}

// Fetch downloads url to dest unless dest already exists.
func (f *Fetcher) Fetch(ctx context.Context, dest, url string) (_ Outcome, retErr error) {
	ctx, span := tracer.Start(ctx, "fetch", trace.WithAttributes(
		attribute.String("url", url),
		attribute.String("dest", dest),
	))
	defer func() {
		if retErr != nil {
			span.SetStatus(codes.Error, retErr.Error())
			span.RecordError(retErr)
		}
		span.End()
	}()

	if exists, err := afero.Exists(f.fs, dest); err != nil {
		return 0, fmt.Errorf("checking %s: %w", dest, err)
	} else if exists {
		log.Debugw("destination exists, skipping", "dest", dest)
		return Skipped, nil
	}

	if !f.claim(dest) {
		log.Debugw("destination being fetched by another worker, skipping", "dest", dest)
		return Skipped, nil
	}
	defer f.release(dest)

	// the previous holder of the claim may have just finished
	if exists, err := afero.Exists(f.fs, dest); err != nil {
		return 0, fmt.Errorf("checking %s: %w", dest, err)
	} else if exists {
		return Skipped, nil
	}

	dir := filepath.Dir(dest)
	if err := f.fs.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("creating %s: %w", dir, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("creating request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", build.UserAgent())

	start := time.Now()
	res, err := f.client.Do(req)
	if err != nil {
		return 0, &FetchError{URL: url, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return 0, &FetchError{URL: url, StatusCode: res.StatusCode}
	}

	body := &bodyReader{r: res.Body}
	n, err := f.write(dest, body)
	if err != nil {
		if body.err != nil {
			return 0, &FetchError{URL: url, Err: body.err}
		}
		return 0, err
	}

	elapsed := time.Since(start).Seconds()
	if elapsed > 0 {
		fetchThroughput.Record(ctx, float64(n)/elapsed)
	}
	span.SetAttributes(attribute.Int64("bytes", n))
	log.Debugw("fetched", "url", url, "dest", dest, "bytes", n)
	return Fetched, nil
}

// write streams body into a temporary sibling of dest and renames it into
// place, so dest never holds a partial download.
func (f *Fetcher) write(dest string, body io.Reader) (int64, error) {
	tmp, err := afero.TempFile(f.fs, filepath.Dir(dest), "."+filepath.Base(dest)+".part-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file for %s: %w", dest, err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = f.fs.Remove(tmpName)
		return 0, fmt.Errorf("writing %s: %w", dest, err)
	}

	if err := f.fs.Rename(tmpName, dest); err != nil {
		_ = f.fs.Remove(tmpName)
		return 0, fmt.Errorf("moving download into %s: %w", dest, err)
	}
	return n, nil
}

// bodyReader remembers a failed read so a dropped connection can be told
// apart from a failed local write.
type bodyReader struct {
	r   io.Reader
	err error
}

func (b *bodyReader) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err != nil && err != io.EOF {
		b.err = err
	}
	return n, err
}

func (f *Fetcher) claim(dest string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.inflight[dest]; ok {
		return false
	}
	f.inflight[dest] = struct{}{}
	return true
}

func (f *Fetcher) release(dest string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.inflight, dest)
}
