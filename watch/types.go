package watch

import (
	"maps"
	"time"
)

// ProcessType is the classification of a resource against its last known state.
type ProcessType int

const (
	ProcessNew ProcessType = iota + 1
	ProcessUpdated
	ProcessRetry
	ProcessRetryAfterBan
	ProcessBanned
	ProcessNothingToDo
)

// ProcessTypes lists every classification in declaration order.
var ProcessTypes = []ProcessType{
	ProcessNew, ProcessUpdated, ProcessRetry, ProcessRetryAfterBan, ProcessBanned, ProcessNothingToDo,
}

func (p ProcessType) String() string {
	switch p {
	case ProcessNew:
		return "New"
	case ProcessUpdated:
		return "Updated"
	case ProcessRetry:
		return "Retry"
	case ProcessRetryAfterBan:
		return "RetryAfterBan"
	case ProcessBanned:
		return "Banned"
	case ProcessNothingToDo:
		return "NothingToDo"
	default:
		return "Unknown"
	}
}

// NeedsProcessing reports whether resources with this classification are queued.
func (p ProcessType) NeedsProcessing() bool {
	switch p {
	case ProcessNew, ProcessUpdated, ProcessRetry, ProcessRetryAfterBan:
		return true
	default:
		return false
	}
}

// ResultType is the outcome of processing one resource.
// The zero value means the resource has not been processed yet.
type ResultType int

const (
	ResultNormal ResultType = iota + 1
	ResultNoNewData
	ResultNoAction
	ResultError
	ResultSkipped
)

// ResultTypes lists every outcome in declaration order.
var ResultTypes = []ResultType{ResultNormal, ResultNoNewData, ResultNoAction, ResultError, ResultSkipped}

func (r ResultType) String() string {
	switch r {
	case ResultNormal:
		return "Normal"
	case ResultNoNewData:
		return "NoNewData"
	case ResultNoAction:
		return "NoAction"
	case ResultError:
		return "Error"
	case ResultSkipped:
		return "Skipped"
	default:
		return "Unknown"
	}
}

// RunType tells whether a run was started by the schedule or by an operator.
type RunType string

const (
	RunScheduled RunType = "scheduled"
	RunManual    RunType = "manual"
)

// RunPhase is the state of the run state machine.
type RunPhase string

const (
	PhaseIdle        RunPhase = "idle"
	PhaseListing     RunPhase = "listing"
	PhaseClassifying RunPhase = "classifying"
	PhaseProcessing  RunPhase = "processing"
	PhasePersisting  RunPhase = "persisting"
	PhaseCompleted   RunPhase = "completed"
	PhaseFailed      RunPhase = "failed"
)

// ResourceDescriptor is one entry of a tenant listing. Produced fresh on every
// run by the Source and never persisted.
type ResourceDescriptor struct {
	ResourceID string
	Modified   time.Time
	Metadata   map[string]any // source specific, opaque to the core
}

// ResourceState is the last persisted observation of a resource.
type ResourceState struct {
	ResourceID  string
	Checksum    string
	Modified    time.Time
	RetryCount  int
	BannedUntil *time.Time
	Extensions  map[string]any
}

// Clone returns a copy that shares no mutable fields with s.
func (s *ResourceState) Clone() *ResourceState {
	if s == nil {
		return nil
	}
	c := *s
	if s.BannedUntil != nil {
		until := *s.BannedUntil
		c.BannedUntil = &until
	}
	c.Extensions = maps.Clone(s.Extensions)
	return &c
}

// IsBanned reports whether the ban on s is still active at now.
func (s *ResourceState) IsBanned(now time.Time) bool {
	return s != nil && s.BannedUntil != nil && s.BannedUntil.After(now)
}

// Payload is the fetched content of a resource.
type Payload struct {
	Data     []byte
	Checksum string
}

// ProcessContext follows one resource through a single run.
// Index and Total are informational: resources are processed in no
// particular order.
type ProcessContext struct {
	Index       int
	Total       int
	Current     ResourceDescriptor
	LastState   *ResourceState
	NewState    *ResourceState
	ProcessType ProcessType
	ResultType  ResultType
	Err         error
	Elapsed     time.Duration
}

// RunSummary is the aggregate outcome of one run.
type RunSummary struct {
	RunID      string
	Tenant     string
	RunType    RunType
	StartedAt  time.Time
	Elapsed    time.Duration
	Phase      RunPhase
	Found      int
	Queued     int
	Classified map[ProcessType]int
	Results    map[ResultType]int
	Outcome    RunOutcome
	Err        error
}

func newRunSummary(runID, tenant string, runType RunType, startedAt time.Time) *RunSummary {
	return &RunSummary{
		RunID:      runID,
		Tenant:     tenant,
		RunType:    runType,
		StartedAt:  startedAt,
		Phase:      PhaseIdle,
		Classified: make(map[ProcessType]int, len(ProcessTypes)),
		Results:    make(map[ResultType]int, len(ResultTypes)),
	}
}

// Failed reports whether the run ended on a run-fatal condition.
func (s *RunSummary) Failed() bool {
	return s.Err != nil
}

// RunOutcome is how a finished run counts toward the consecutive-failure limit.
type RunOutcome string

const (
	OutcomeSucceeded RunOutcome = "succeeded"
	OutcomeFailed    RunOutcome = "failed"
	OutcomeCancelled RunOutcome = "cancelled"
)

// AllFailed reports whether every queued resource ended in ResultError.
func (s *RunSummary) AllFailed() bool {
	return s.Queued > 0 && s.Results[ResultError] == s.Queued
}
