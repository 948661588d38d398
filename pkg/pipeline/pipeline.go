// Package pipeline verifies many tracking reports at once. Loaders pull
// reports and queue their content for fetching, fetchers fill the content
// cache, and once every fetch has been attempted the verifiers check each
// report against what was downloaded.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/commonjava/folofix/internal/ctxutil"
	"github.com/commonjava/folofix/pkg/bus"
	"github.com/commonjava/folofix/pkg/bus/events"
	"github.com/commonjava/folofix/pkg/fetch"
	"github.com/commonjava/folofix/pkg/folo"
	"github.com/commonjava/folofix/pkg/verify"
	"github.com/commonjava/folofix/pkg/workgroup"
)

var (
	log    = logging.Logger("folofix/pipeline")
	tracer = otel.Tracer("folofix/pipeline")
	meter  = otel.Meter("folofix/pipeline")
)

var reportsVerified, _ = meter.Int64Counter(
	"reports.verified",
	metric.WithDescription("Tracking reports verified, by outcome"),
)

// DefaultWorkers is the pool size used for any stage left unset.
const DefaultWorkers = 4

// ReportSource is where tracking reports come from. [*folo.Client] is the
// usual implementation.
type ReportSource interface {
	ListSealed(ctx context.Context) ([]string, error)
	FetchReport(ctx context.Context, trackingID string) (*folo.TrackingReport, error)
}

type Options struct {
	Source   ReportSource
	Planner  *verify.Planner
	Fetcher  *fetch.Fetcher
	Verifier *verify.Verifier
	// FS holds the raw report copies and the content cache.
	FS         afero.Fs
	ReportsDir string

	Loaders   int
	Fetchers  int
	Verifiers int
	// QueueSize bounds the download queue. It defaults to four slots per
	// fetcher.
	QueueSize int

	Bus bus.Publisher
}

type Pipeline struct {
	opts Options
}

func New(opts Options) (*Pipeline, error) {
	switch {
	case opts.Source == nil:
		return nil, errors.New("pipeline: report source is required")
	case opts.Planner == nil:
		return nil, errors.New("pipeline: planner is required")
	case opts.Fetcher == nil:
		return nil, errors.New("pipeline: fetcher is required")
	case opts.Verifier == nil:
		return nil, errors.New("pipeline: verifier is required")
	case opts.FS == nil:
		return nil, errors.New("pipeline: filesystem is required")
	case opts.ReportsDir == "":
		return nil, errors.New("pipeline: reports directory is required")
	}
	for _, n := range []*int{&opts.Loaders, &opts.Fetchers, &opts.Verifiers} {
		if *n < 1 {
			*n = DefaultWorkers
		}
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 4 * opts.Fetchers
	}
	if opts.Bus == nil {
		opts.Bus = bus.Discard
	}
	return &Pipeline{opts: opts}, nil
}

// ReportFile is the raw copy of a report kept while it is being verified.
func ReportFile(reportsDir, trackingID string) string {
	return filepath.Join(reportsDir, trackingID+".json")
}

type fetchJob struct {
	TrackingID string
	URL        string
	Dest       string
}

type loadedReport struct {
	report *folo.TrackingReport
	file   string
}

// RunSealed verifies every report the service lists as sealed.
func (p *Pipeline) RunSealed(ctx context.Context) (*RunReport, error) {
	return p.RunSealedWithID(ctx, uuid.New())
}

func (p *Pipeline) RunSealedWithID(ctx context.Context, runID uuid.UUID) (*RunReport, error) {
	ids, err := p.opts.Source.ListSealed(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing sealed reports: %w", err)
	}
	log.Infow("found sealed reports", "count", len(ids))
	return p.RunWithID(ctx, runID, ids)
}

// Run verifies the reports with the given tracking IDs.
func (p *Pipeline) Run(ctx context.Context, ids []string) (*RunReport, error) {
	return p.RunWithID(ctx, uuid.New(), ids)
}

// RunWithID is [Pipeline.Run] under a caller-chosen run ID, so progress
// subscribers can attach to the run's topics before it starts.
//
// Problems with single reports or artifacts are recorded in the returned
// report and never stop the run. An error means the run itself was cut short,
// by cancellation or a crashed worker; the partial report is still returned.
// Repeated IDs are verified once.
func (p *Pipeline) RunWithID(ctx context.Context, runID uuid.UUID, ids []string) (_ *RunReport, retErr error) {
	ids = uniqueIDs(ids)
	ctx, span := tracer.Start(ctx, "run", trace.WithAttributes(
		attribute.String("run-id", runID.String()),
		attribute.Int("reports", len(ids)),
	))
	defer func() {
		if retErr != nil {
			span.SetStatus(codes.Error, retErr.Error())
			span.RecordError(retErr)
		}
		span.End()
	}()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	r := &run{Pipeline: p, id: runID, rec: newRecorder(runID, len(ids))}
	log.Infow("starting run", "run-id", runID, "reports", len(ids),
		"loaders", p.opts.Loaders, "fetchers", p.opts.Fetchers, "verifiers", p.opts.Verifiers)

	// every ID yields at most one report, so loaders never block on this
	verifyQueue := make(chan loadedReport, len(ids))
	if err := r.loadAndFetch(ctx, ids, verifyQueue); err != nil {
		cancel(err)
		return r.rec.finish(), fmt.Errorf("run %s: %w", runID, ctxutil.Annotate(ctx, err))
	}
	close(verifyQueue)

	if err := r.verifyAll(ctx, verifyQueue); err != nil {
		cancel(err)
		return r.rec.finish(), fmt.Errorf("run %s: %w", runID, ctxutil.Annotate(ctx, err))
	}

	report := r.rec.finish()
	log.Infow("run finished", "run-id", runID, "reports", len(report.Reports),
		"failed", len(report.Failed()), "missing", len(report.Missing),
		"load-failures", len(report.LoadFailures), "fetch-failures", len(report.FetchFailures))
	return report, nil
}

type run struct {
	*Pipeline
	id  uuid.UUID
	rec *recorder
}

// loadAndFetch runs the load and fetch stages together and returns once both
// have drained. The download queue is closed as soon as the last loader
// finishes.
func (r *run) loadAndFetch(ctx context.Context, ids []string, verifyQueue chan<- loadedReport) error {
	idQueue := make(chan string)
	fetchQueue := make(chan fetchJob, r.opts.QueueSize)

	r.stage(events.StageLoad, events.Running, nil)
	r.stage(events.StageFetch, events.Running, nil)

	eg, ctx := workgroup.WithContext(ctx)
	eg.Go(func() error {
		defer close(idQueue)
		for _, id := range ids {
			select {
			case idQueue <- id:
			case <-ctx.Done():
				return context.Cause(ctx)
			}
		}
		return nil
	})

	var loading sync.WaitGroup
	loading.Add(r.opts.Loaders)
	eg.GoN(r.opts.Loaders, func(int) error {
		defer loading.Done()
		return workgroup.Drain(ctx, idQueue, func(id string) error {
			return r.load(ctx, id, fetchQueue, verifyQueue)
		})
	})
	eg.Go(func() error {
		loading.Wait()
		close(fetchQueue)
		r.stage(events.StageLoad, events.Stopped, ctx.Err())
		return nil
	})

	eg.GoN(r.opts.Fetchers, func(int) error {
		return workgroup.Drain(ctx, fetchQueue, func(job fetchJob) error {
			return r.fetch(ctx, job)
		})
	})

	err := eg.Wait()
	r.stage(events.StageFetch, events.Stopped, err)
	return err
}

func (r *run) verifyAll(ctx context.Context, verifyQueue <-chan loadedReport) error {
	r.stage(events.StageVerify, events.Running, nil)
	eg, ctx := workgroup.WithContext(ctx)
	eg.GoN(r.opts.Verifiers, func(int) error {
		return workgroup.Drain(ctx, verifyQueue, func(item loadedReport) error {
			return r.verify(ctx, item)
		})
	})
	err := eg.Wait()
	r.stage(events.StageVerify, events.Stopped, err)
	return err
}

// load pulls one report, keeps a raw copy and queues its content. Service
// problems are recorded against the ID; only cancellation is returned.
func (r *run) load(ctx context.Context, id string, fetchQueue chan<- fetchJob, verifyQueue chan<- loadedReport) error {
	report, err := r.opts.Source.FetchReport(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return ctxutil.Annotate(ctx, err)
		}
		log.Errorw("loading tracking report", "tracking-id", id, "error", err)
		r.rec.loadFailed(id, err)
		r.publish(events.TopicReport(r.id), events.ReportLoaded{TrackingID: id, Error: err})
		return nil
	}
	if report == nil {
		log.Warnw("tracking report not available", "tracking-id", id)
		r.rec.missing(id)
		r.publish(events.TopicReport(r.id), events.ReportLoaded{TrackingID: id, Missing: true})
		return nil
	}

	file, err := r.writeReport(report)
	if err != nil {
		log.Errorw("keeping copy of tracking report", "tracking-id", id, "error", err)
		r.rec.loadFailed(id, err)
		r.publish(events.TopicReport(r.id), events.ReportLoaded{TrackingID: id, Error: err})
		return nil
	}

	targets := r.opts.Planner.Plan(report)
	queued := map[string]struct{}{}
	for _, t := range targets {
		if _, ok := queued[t.CachePath]; ok {
			continue
		}
		queued[t.CachePath] = struct{}{}
		select {
		case fetchQueue <- fetchJob{TrackingID: report.TrackingID(), URL: t.ContentURL, Dest: t.CachePath}:
		case <-ctx.Done():
			return context.Cause(ctx)
		}
	}

	select {
	case verifyQueue <- loadedReport{report: report, file: file}:
	case <-ctx.Done():
		return context.Cause(ctx)
	}

	log.Infow("loaded tracking report", "tracking-id", id,
		"uploads", len(report.Uploads), "downloads", len(report.Downloads), "queued", len(queued))
	r.publish(events.TopicReport(r.id), events.ReportLoaded{TrackingID: id, Targets: len(queued)})
	return nil
}

// writeReport stores the report as received, indented for reading.
func (r *run) writeReport(report *folo.TrackingReport) (string, error) {
	var b []byte
	if len(report.Raw) > 0 {
		var buf bytes.Buffer
		if err := json.Indent(&buf, report.Raw, "", "  "); err != nil {
			return "", fmt.Errorf("formatting report: %w", err)
		}
		b = buf.Bytes()
	} else {
		var err error
		if b, err = json.MarshalIndent(report, "", "  "); err != nil {
			return "", fmt.Errorf("encoding report: %w", err)
		}
	}

	if err := r.opts.FS.MkdirAll(r.opts.ReportsDir, 0755); err != nil {
		return "", fmt.Errorf("creating %s: %w", r.opts.ReportsDir, err)
	}
	name := ReportFile(r.opts.ReportsDir, report.TrackingID())
	if err := afero.WriteFile(r.opts.FS, name, b, 0644); err != nil {
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	return name, nil
}

// fetch downloads one artifact. A failed download is recorded so the
// verifier can report it; only cancellation is returned.
func (r *run) fetch(ctx context.Context, job fetchJob) error {
	outcome, err := r.opts.Fetcher.Fetch(ctx, job.Dest, job.URL)
	if err != nil {
		if ctx.Err() != nil {
			return ctxutil.Annotate(ctx, err)
		}
		log.Warnw("fetching content", "tracking-id", job.TrackingID, "url", job.URL, "error", err)
		r.rec.fetchFailed(job, err)
		r.publish(events.TopicFetch(r.id), events.ContentFetched{
			TrackingID: job.TrackingID, URL: job.URL, Dest: job.Dest, Outcome: events.Failed, Error: err,
		})
		return nil
	}

	evt := events.ContentFetched{TrackingID: job.TrackingID, URL: job.URL, Dest: job.Dest, Outcome: events.Skipped}
	switch outcome {
	case fetch.Fetched:
		var size int64
		if info, err := r.opts.FS.Stat(job.Dest); err == nil {
			size = info.Size()
		}
		r.rec.fetched(size)
		evt.Outcome = events.Fetched
		evt.Bytes = size
	default:
		r.rec.skipped()
	}
	r.publish(events.TopicFetch(r.id), evt)
	return nil
}

// verify checks one report and removes its raw copy if it passed.
func (r *run) verify(ctx context.Context, item loadedReport) error {
	if ctx.Err() != nil {
		return ctxutil.Stopped(ctx)
	}

	id := item.report.TrackingID()
	status := ReportStatus{TrackingID: id, ReportFile: item.file}

	res, err := r.opts.Verifier.Verify(ctx, item.report, r.rec)
	if res != nil {
		status.Checked = res.Checked
		status.Failed = len(res.Results)
		status.MismatchFile = res.MismatchFile
	}
	switch {
	case err != nil:
		log.Errorw("verifying tracking report", "tracking-id", id, "error", err)
		status.Error = err.Error()
	case res.Passed():
		status.Passed = true
		if err := r.opts.FS.Remove(item.file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warnw("removing verified report copy", "file", item.file, "error", err)
		} else {
			status.ReportFile = ""
		}
	}

	reportsVerified.Add(ctx, 1, metric.WithAttributes(attribute.Bool("passed", status.Passed)))
	r.rec.verified(status)
	r.publish(events.TopicVerify(r.id), events.ReportVerified{
		TrackingID:   id,
		Checked:      status.Checked,
		Failed:       status.Failed,
		MismatchFile: status.MismatchFile,
		Error:        err,
	})
	return nil
}

func (r *run) stage(name events.StageName, status events.StageStatus, err error) {
	log.Debugw("stage", "run-id", r.id, "stage", name, "status", status, "error", err)
	r.publish(events.TopicStage(r.id), events.Stage{Name: name, Status: status, Error: err})
}

func (r *run) publish(topic string, evt any) {
	r.opts.Bus.Publish(topic, evt)
}

// uniqueIDs drops repeated tracking IDs, keeping first-seen order.
func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
