package events

import (
	"fmt"

	"github.com/google/uuid"
)

const (
	reportTopic = "event.report"
	fetchTopic  = "event.fetch"
	verifyTopic = "event.verify"
	stageTopic  = "event.stage"
)

func TopicReport(runID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", reportTopic, runID)
}

func TopicFetch(runID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", fetchTopic, runID)
}

func TopicVerify(runID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", verifyTopic, runID)
}

func TopicStage(runID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", stageTopic, runID)
}

// ReportLoaded is published once per requested tracking ID when its load
// attempt finishes.
type ReportLoaded struct {
	TrackingID string
	// Targets is the number of artifacts queued for fetching.
	Targets int
	// Missing is set when the service does not have the report.
	Missing bool
	Error   error
}

type FetchOutcome string

const (
	Fetched FetchOutcome = "fetched"
	Skipped FetchOutcome = "skipped"
	Failed  FetchOutcome = "failed"
)

// ContentFetched is published once per download attempt.
type ContentFetched struct {
	TrackingID string
	URL        string
	Dest       string
	Outcome    FetchOutcome
	// Bytes is the size of a fresh download.
	Bytes int64
	Error error
}

// ReportVerified is published once per loaded report when its verification
// finishes.
type ReportVerified struct {
	TrackingID   string
	Checked      int
	Failed       int
	MismatchFile string
	Error        error
}

type StageName string

const (
	StageLoad   StageName = "load"
	StageFetch  StageName = "fetch"
	StageVerify StageName = "verify"
)

type StageStatus string

const (
	Running StageStatus = "Running"
	Stopped StageStatus = "Stopped"
)

// Stage marks a pipeline stage starting or draining.
type Stage struct {
	Name   StageName
	Status StageStatus
	Error  error
}
