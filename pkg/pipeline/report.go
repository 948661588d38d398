package pipeline

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrUnverified is returned by [RunReport.Err] when a run leaves any report
// unverified: a mismatch, a failed load or a failed verification.
var ErrUnverified = errors.New("unverified tracking reports")

// ReportStatus is the outcome for one loaded report.
type ReportStatus struct {
	TrackingID string `json:"tracking_id"`
	Passed     bool   `json:"passed"`
	Checked    int    `json:"checked"`
	Failed     int    `json:"failed"`
	// ReportFile is the retained raw copy. It is empty once a report passes
	// and its copy has been removed.
	ReportFile   string `json:"report_file,omitempty"`
	MismatchFile string `json:"mismatch_file,omitempty"`
	Error        string `json:"error,omitempty"`
}

type LoadFailure struct {
	TrackingID string `json:"tracking_id"`
	Error      string `json:"error"`
}

type FetchFailure struct {
	TrackingID string `json:"tracking_id"`
	URL        string `json:"url"`
	Dest       string `json:"dest"`
	Error      string `json:"error"`
}

// RunReport is everything a run found out.
type RunReport struct {
	RunID     uuid.UUID `json:"run_id"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
	Requested int       `json:"requested"`

	Reports       []ReportStatus `json:"reports"`
	LoadFailures  []LoadFailure  `json:"load_failures,omitempty"`
	Missing       []string       `json:"missing,omitempty"`
	FetchFailures []FetchFailure `json:"fetch_failures,omitempty"`

	Fetched      int   `json:"fetched"`
	Skipped      int   `json:"skipped"`
	FetchedBytes int64 `json:"fetched_bytes"`
}

// Failed lists the reports that did not pass.
func (r *RunReport) Failed() []ReportStatus {
	var out []ReportStatus
	for _, s := range r.Reports {
		if !s.Passed {
			out = append(out, s)
		}
	}
	return out
}

// Clean is true when every loaded report passed and nothing failed to load.
// Reports the service no longer has are not counted against a run.
func (r *RunReport) Clean() bool {
	return len(r.LoadFailures) == 0 && len(r.Failed()) == 0
}

// Err wraps [ErrUnverified] with a summary when the run is not clean.
func (r *RunReport) Err() error {
	if r.Clean() {
		return nil
	}
	var ids []string
	for _, s := range r.Failed() {
		ids = append(ids, s.TrackingID)
	}
	for _, f := range r.LoadFailures {
		ids = append(ids, f.TrackingID)
	}
	return fmt.Errorf("%w: %s", ErrUnverified, strings.Join(ids, ", "))
}

// recorder collects outcomes from concurrent workers.
type recorder struct {
	mu     sync.Mutex
	report *RunReport
	// failures maps cache paths to the error that kept them from being
	// fetched.
	failures map[string]error
}

func newRecorder(runID uuid.UUID, requested int) *recorder {
	return &recorder{
		report: &RunReport{
			RunID:     runID,
			Started:   time.Now(),
			Requested: requested,
		},
		failures: map[string]error{},
	}
}

func (r *recorder) loadFailed(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.LoadFailures = append(r.report.LoadFailures, LoadFailure{TrackingID: id, Error: err.Error()})
}

func (r *recorder) missing(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Missing = append(r.report.Missing, id)
}

func (r *recorder) fetched(bytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Fetched++
	r.report.FetchedBytes += bytes
}

func (r *recorder) skipped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Skipped++
}

func (r *recorder) fetchFailed(job fetchJob, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[job.Dest] = err
	r.report.FetchFailures = append(r.report.FetchFailures, FetchFailure{
		TrackingID: job.TrackingID,
		URL:        job.URL,
		Dest:       job.Dest,
		Error:      err.Error(),
	})
}

// FetchFailure makes the recorder usable as a [verify.FetchFailures].
func (r *recorder) FetchFailure(cachePath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures[cachePath]
}

func (r *recorder) verified(status ReportStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Reports = append(r.report.Reports, status)
}

// finish stamps the report and puts everything in a stable order.
func (r *recorder) finish() *RunReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Finished = time.Now()
	slices.SortFunc(r.report.Reports, func(a, b ReportStatus) int {
		return strings.Compare(a.TrackingID, b.TrackingID)
	})
	slices.SortFunc(r.report.LoadFailures, func(a, b LoadFailure) int {
		return strings.Compare(a.TrackingID, b.TrackingID)
	})
	slices.Sort(r.report.Missing)
	slices.SortFunc(r.report.FetchFailures, func(a, b FetchFailure) int {
		return strings.Compare(a.Dest, b.Dest)
	})
	return r.report
}
