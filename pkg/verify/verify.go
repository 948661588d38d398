// Package verify checks every artifact of a tracking report against its
// cached download and writes a mismatch file for the ones that disagree.
package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/commonjava/folofix/pkg/checksum"
	"github.com/commonjava/folofix/pkg/fetch"
	"github.com/commonjava/folofix/pkg/folo"
	"github.com/commonjava/folofix/pkg/storage"
)

var (
	log    = logging.Logger("folofix/verify")
	tracer = otel.Tracer("folofix/verify")
)

type ErrorKind string

const (
	// KindFetchError marks an entry whose content could not be downloaded.
	KindFetchError ErrorKind = "fetch_error"
	// KindIOError marks an entry whose cached content could not be read.
	KindIOError ErrorKind = "io_error"
)

// ErrorOutcome records why an entry could not be checked. An entry carrying
// one always counts as a failure.
type ErrorOutcome struct {
	Success bool      `json:"success"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Result is the outcome of checking one entry.
type Result struct {
	Path     string                  `json:"path"`
	LocalURL string                  `json:"local_url"`
	Dataset  Dataset                 `json:"type"`
	Size     *checksum.SizeOutcome   `json:"size,omitempty"`
	MD5      *checksum.DigestOutcome `json:"md5,omitempty"`
	SHA1     *checksum.DigestOutcome `json:"sha1,omitempty"`
	SHA256   *checksum.DigestOutcome `json:"sha256,omitempty"`
	Error    *ErrorOutcome           `json:"error,omitempty"`
}

// Success is true when the entry was fully checked and every check passed.
func (r Result) Success() bool {
	if r.Error != nil {
		return false
	}
	if r.Size != nil && !r.Size.Success {
		return false
	}
	for _, d := range []*checksum.DigestOutcome{r.MD5, r.SHA1, r.SHA256} {
		if d != nil && !d.Success {
			return false
		}
	}
	return true
}

// Errors lists the failures of r as typed errors.
func (r Result) Errors() []error {
	var errs []error
	if r.Error != nil {
		errs = append(errs, fmt.Errorf("%s: %s", r.Error.Kind, r.Error.Message))
	}
	if r.Size != nil {
		if err := r.Size.Err(); err != nil {
			errs = append(errs, err)
		}
	}
	digests := []struct {
		algo    checksum.Algorithm
		outcome *checksum.DigestOutcome
	}{
		{checksum.MD5, r.MD5},
		{checksum.SHA1, r.SHA1},
		{checksum.SHA256, r.SHA256},
	}
	for _, d := range digests {
		if d.outcome == nil {
			continue
		}
		if err := d.outcome.Err(d.algo); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// ReportResult summarizes the verification of one report.
type ReportResult struct {
	TrackingID string
	// Checked is the number of entries that qualified for checking.
	Checked int
	// Results holds the failing entries only.
	Results []Result
	// MismatchFile is the path of the written mismatch file, if any.
	MismatchFile string
}

func (r *ReportResult) Passed() bool {
	return len(r.Results) == 0
}

// FetchFailures reports the download failure recorded for a cache path, or
// nil if there was none.
type FetchFailures interface {
	FetchFailure(cachePath string) error
}

// MismatchFile is the name of the mismatch file for trackingID.
func MismatchFile(reportsDir, trackingID string) string {
	return filepath.Join(reportsDir, trackingID+"-mismatched.json")
}

type Verifier struct {
	fs         afero.Fs
	planner    *Planner
	checks     *checksum.Verifier
	reportsDir string

	storage  *storage.Resolver
	sidecars bool
	sha256   bool
}

type Option func(*Verifier)

// WithStorage compares recorded sizes against the repository manager's own
// storage as well as the download.
func WithStorage(r *storage.Resolver) Option {
	return func(v *Verifier) {
		v.storage = r
	}
}

// WithSidecars records the digests served next to each artifact.
func WithSidecars(enabled bool) Option {
	return func(v *Verifier) {
		v.sidecars = enabled
	}
}

// WithSHA256 also checks SHA-256 for entries that record one.
func WithSHA256(enabled bool) Option {
	return func(v *Verifier) {
		v.sha256 = enabled
	}
}

func New(fsys afero.Fs, planner *Planner, checks *checksum.Verifier, reportsDir string, opts ...Option) *Verifier {
	v := &Verifier{
		fs:         fsys,
		planner:    planner,
		checks:     checks,
		reportsDir: reportsDir,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks every qualifying entry of report. Entries are independent:
// one that cannot be read is recorded as a failure and the rest still run.
// The returned error is only about writing the mismatch file.
func (v *Verifier) Verify(ctx context.Context, report *folo.TrackingReport, failures FetchFailures) (_ *ReportResult, retErr error) {
	ctx, span := tracer.Start(ctx, "verify-report", trace.WithAttributes(
		attribute.String("tracking-id", report.TrackingID()),
	))
	defer func() {
		if retErr != nil {
			span.SetStatus(codes.Error, retErr.Error())
			span.RecordError(retErr)
		}
		span.End()
	}()

	targets := v.planner.Plan(report)
	log.Infow("verifying report", "tracking-id", report.TrackingID(),
		"uploads", len(report.Uploads), "downloads", len(report.Downloads), "checked", len(targets))

	result := &ReportResult{TrackingID: report.TrackingID(), Checked: len(targets)}
	for _, t := range targets {
		r := v.check(ctx, t, failures)
		if r.Success() {
			continue
		}
		log.Warnw("entry failed verification", "tracking-id", report.TrackingID(), "path", r.Path, "url", r.LocalURL, "errors", errors.Join(r.Errors()...))
		result.Results = append(result.Results, r)
	}
	span.SetAttributes(attribute.Int("checked", result.Checked), attribute.Int("failed", len(result.Results)))

	mismatchFile := MismatchFile(v.reportsDir, report.TrackingID())
	if result.Passed() {
		// a clean run supersedes the findings of an earlier one
		if err := v.fs.Remove(mismatchFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return result, fmt.Errorf("removing stale %s: %w", mismatchFile, err)
		}
		log.Infow("report verified", "tracking-id", report.TrackingID())
		return result, nil
	}

	if err := v.writeMismatches(mismatchFile, result.Results); err != nil {
		return result, err
	}
	result.MismatchFile = mismatchFile
	log.Warnw("report failed verification", "tracking-id", report.TrackingID(), "failed", len(result.Results), "mismatch-file", mismatchFile)
	return result, nil
}

// failureKind classifies a recorded download failure. Only failures of the
// content server or the network count as fetch errors; a download that could
// not be written to the cache is an io error.
func failureKind(err error) ErrorKind {
	var fe *fetch.FetchError
	if errors.As(err, &fe) {
		return KindFetchError
	}
	return KindIOError
}

func (v *Verifier) check(ctx context.Context, t Target, failures FetchFailures) Result {
	r := Result{
		Path:     t.Entry.RelativePath(),
		LocalURL: t.ContentURL,
		Dataset:  t.Dataset,
	}

	if failures != nil {
		if err := failures.FetchFailure(t.CachePath); err != nil {
			r.Error = &ErrorOutcome{Kind: failureKind(err), Message: err.Error()}
			return r
		}
	}

	info, err := v.fs.Stat(t.CachePath)
	if err != nil {
		r.Error = &ErrorOutcome{Kind: KindIOError, Message: err.Error()}
		return r
	}

	var stored *int64
	if v.storage != nil {
		size, ok, err := v.storage.Size(t.Entry)
		switch {
		case err != nil:
			log.Warnw("reading stored size", "path", r.Path, "error", err)
		case ok:
			stored = &size
		}
	}
	size := checksum.VerifySize(t.Entry.Size, info.Size(), stored)
	r.Size = &size

	r.MD5 = v.digest(ctx, &r, checksum.MD5, t, t.Entry.MD5)
	r.SHA1 = v.digest(ctx, &r, checksum.SHA1, t, t.Entry.SHA1)
	if v.sha256 && t.Entry.SHA256 != "" {
		r.SHA256 = v.digest(ctx, &r, checksum.SHA256, t, t.Entry.SHA256)
	}
	return r
}

// digest runs one checksum. A read failure is recorded on r and yields no
// outcome, leaving the other checks to run.
func (v *Verifier) digest(ctx context.Context, r *Result, algo checksum.Algorithm, t Target, expected string) *checksum.DigestOutcome {
	var sidecar string
	if v.sidecars {
		sidecar = algo.SidecarURL(t.ContentURL)
	}
	outcome, err := v.checks.VerifyDigest(ctx, algo, t.CachePath, expected, sidecar)
	if err != nil {
		if r.Error == nil {
			r.Error = &ErrorOutcome{Kind: KindIOError, Message: err.Error()}
		}
		return nil
	}
	return &outcome
}

type mismatches struct {
	Results []Result `json:"results"`
}

func (v *Verifier) writeMismatches(name string, results []Result) error {
	b, err := json.MarshalIndent(mismatches{Results: results}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding mismatches: %w", err)
	}
	if err := v.fs.MkdirAll(filepath.Dir(name), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(name), err)
	}
	if err := afero.WriteFile(v.fs, name, b, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}
