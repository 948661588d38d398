// Package jsonout renders a verification run as newline-delimited JSON.
package jsonout

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/commonjava/folofix/pkg/bus"
	"github.com/commonjava/folofix/pkg/bus/events"
	"github.com/commonjava/folofix/pkg/pipeline"
)

// JSONEmitter writes JSON events as newline-delimited JSON (NDJSON) to a writer.
// It is safe for concurrent use.
type JSONEmitter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONEmitter(w io.Writer) *JSONEmitter {
	return &JSONEmitter{enc: json.NewEncoder(w)}
}

// Emit writes v as a single JSON line.
func (e *JSONEmitter) Emit(v any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.enc.Encode(v)
}

// EmitRunStart emits the first line of a run.
func (e *JSONEmitter) EmitRunStart(runID uuid.UUID, ids []string) {
	e.Emit(RunStartEvent{
		Type:        "run_start",
		RunID:       runID.String(),
		TrackingIDs: ids,
	})
}

// EmitRunSummary emits the totals of a run. For a run that was cut short it
// carries the partial totals and is followed by a run_error line.
func (e *JSONEmitter) EmitRunSummary(r *pipeline.RunReport) {
	e.Emit(RunSummaryEvent{
		Type:      "run_summary",
		Clean:     r.Clean(),
		Elapsed:   r.Finished.Sub(r.Started).Round(time.Millisecond).String(),
		RunReport: r,
	})
}

// EmitRunError emits a run that could not finish.
func (e *JSONEmitter) EmitRunError(runID uuid.UUID, err error) {
	e.Emit(RunErrorEvent{
		Type:  "run_error",
		RunID: runID.String(),
		Error: err.Error(),
	})
}

// Subscribe registers bus event handlers that emit NDJSON for each event of
// the run. The returned detach func removes them.
func Subscribe(emitter *JSONEmitter, sub bus.Subscriber, runID uuid.UUID) (detach func(), err error) {
	return bus.Attach(sub,
		bus.Handler{Topic: events.TopicReport(runID), Fn: func(evt events.ReportLoaded) {
			emitter.Emit(ReportLoadedEvent{
				Type:       "report_loaded",
				TrackingID: evt.TrackingID,
				Targets:    evt.Targets,
				Missing:    evt.Missing,
				Error:      errString(evt.Error),
			})
		}},
		bus.Handler{Topic: events.TopicFetch(runID), Fn: func(evt events.ContentFetched) {
			emitter.Emit(ContentFetchedEvent{
				Type:       "content_fetched",
				TrackingID: evt.TrackingID,
				URL:        evt.URL,
				Dest:       evt.Dest,
				Outcome:    string(evt.Outcome),
				Bytes:      evt.Bytes,
				Error:      errString(evt.Error),
			})
		}},
		bus.Handler{Topic: events.TopicVerify(runID), Fn: func(evt events.ReportVerified) {
			ve := ReportVerifiedEvent{
				Type:       "report_verified",
				TrackingID: evt.TrackingID,
				Passed:     evt.Error == nil && evt.Failed == 0,
				Checked:    evt.Checked,
				Failed:     evt.Failed,
				Error:      errString(evt.Error),
			}
			if evt.MismatchFile != "" {
				s := evt.MismatchFile
				ve.MismatchFile = &s
			}
			emitter.Emit(ve)
		}},
		bus.Handler{Topic: events.TopicStage(runID), Fn: func(evt events.Stage) {
			emitter.Emit(StageEvent{
				Type:   "stage",
				Name:   string(evt.Name),
				Status: string(evt.Status),
				Error:  errString(evt.Error),
			})
		}},
	)
}

func errString(err error) *string {
	if err == nil {
		return nil
	}
	s := err.Error()
	return &s
}

// Event types for NDJSON output. Each has a "type" discriminator field.

type RunStartEvent struct {
	Type        string   `json:"type"`
	RunID       string   `json:"run_id"`
	TrackingIDs []string `json:"tracking_ids,omitempty"`
}

type ReportLoadedEvent struct {
	Type       string  `json:"type"`
	TrackingID string  `json:"tracking_id"`
	Targets    int     `json:"targets"`
	Missing    bool    `json:"missing"`
	Error      *string `json:"error,omitempty"`
}

type ContentFetchedEvent struct {
	Type       string  `json:"type"`
	TrackingID string  `json:"tracking_id"`
	URL        string  `json:"url"`
	Dest       string  `json:"dest"`
	Outcome    string  `json:"outcome"`
	Bytes      int64   `json:"bytes"`
	Error      *string `json:"error,omitempty"`
}

type ReportVerifiedEvent struct {
	Type         string  `json:"type"`
	TrackingID   string  `json:"tracking_id"`
	Passed       bool    `json:"passed"`
	Checked      int     `json:"checked"`
	Failed       int     `json:"failed"`
	MismatchFile *string `json:"mismatch_file,omitempty"`
	Error        *string `json:"error,omitempty"`
}

type StageEvent struct {
	Type   string  `json:"type"`
	Name   string  `json:"name"`
	Status string  `json:"status"`
	Error  *string `json:"error,omitempty"`
}

// RunSummaryEvent carries the whole run report alongside its verdict.
type RunSummaryEvent struct {
	Type    string `json:"type"`
	Clean   bool   `json:"clean"`
	Elapsed string `json:"elapsed"`
	*pipeline.RunReport
}

type RunErrorEvent struct {
	Type  string `json:"type"`
	RunID string `json:"run_id"`
	Error string `json:"error"`
}
