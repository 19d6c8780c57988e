// Package agent contains the dual-model execution coordinator: a slow
// planning and reviewing model decomposes a goal into steps and audits
// progress, while a fast worker model performs one UI step at a time. The
// coordinator arbitrates between the two.
package agent

import (
	"context"

	"github.com/autoglm/autoagent/backend/device"
)

// TaskPlan is produced once per task by the planner. Steps are read-only
// after creation except when a REPLAN decision replaces them.
type TaskPlan struct {
	Goal        string
	SelectedApp string
	Steps       []string
}

// PlanResult is the outcome of a planning call. Exactly one of the two
// variants is returned.
type PlanResult interface {
	planResult()
}

// PlanProposal carries a usable plan.
type PlanProposal struct {
	Plan *TaskPlan
}

// PlanQuestion means the planner needs clarification before it can plan.
// The task does not start.
type PlanQuestion struct {
	Question string
}

func (PlanProposal) planResult() {}
func (PlanQuestion) planResult() {}

// WorkerStatus classifies the worker's own assessment after a step. The
// coordinator treats this enumeration as closed.
type WorkerStatus string

const (
	StatusInProgress WorkerStatus = "IN_PROGRESS"
	StatusCompleted  WorkerStatus = "COMPLETED"
	StatusStuck      WorkerStatus = "STUCK"
	StatusFailed     WorkerStatus = "FAILED"
	StatusNeedsUser  WorkerStatus = "NEEDS_USER"
)

// WorkerReport describes one worker step. Screenshot ownership transfers to
// the context store when the coordinator caches it; the report must not
// release it afterwards.
type WorkerReport struct {
	SubTask    string
	StepsTaken int
	Actions    []string
	Successes  []bool
	Screenshot device.Screenshot
	Status     WorkerStatus
	Message    string
}

// Worker executes one UI step at a time.
type Worker interface {
	CheckAvailability(ctx context.Context) bool
	ResetStepCount()
	// SetGuidance hands reviewer guidance to the worker; it applies to the
	// next step only.
	SetGuidance(text string)
	ExecuteSingleStep(ctx context.Context, goal string) (*WorkerReport, error)
}

// ToolKind identifies an auxiliary context request from the reviewer.
type ToolKind string

const (
	ToolCurrentUI         ToolKind = "GET_UI"
	ToolHistoryScreenshot ToolKind = "GET_HISTORY_SCREENSHOT"
	ToolHistoryUI         ToolKind = "GET_HISTORY_UI"
)

// ToolResult carries the resolved payload for a tool request. Exactly one of
// Text or Image is set.
type ToolResult struct {
	Text  string
	Image []byte
}

// Decision is the reviewer's verdict on a report. It is a closed set of
// variants; exactly one payload is meaningful per variant.
type Decision interface {
	decision()
}

// NextStep continues execution, optionally steering the worker with an
// explicit instruction.
type NextStep struct {
	Instruction string
}

// Replan replaces the remaining plan steps. An empty list means the reviewer
// offered no replacement and the current plan stands.
type Replan struct {
	Steps  []string
	Reason string
}

// Finish ends the task successfully.
type Finish struct {
	Message string
}

// GetInfo asks the coordinator to resolve a tool request and feed the result
// back for a follow-up decision.
type GetInfo struct {
	Tool ToolKind
	Step int
}

// AskUser means the reviewer needs user input to proceed.
type AskUser struct {
	Question string
}

// DecisionError ends the task with an error.
type DecisionError struct {
	Message string
}

func (NextStep) decision()      {}
func (Replan) decision()        {}
func (Finish) decision()        {}
func (GetInfo) decision()       {}
func (AskUser) decision()       {}
func (DecisionError) decision() {}

// ContextSnapshot is a read-only projection of task state built fresh before
// each reviewer call.
type ContextSnapshot struct {
	Goal        string
	Plan        *TaskPlan
	CurrentStep int
	TotalSteps  int
	// History holds the most recent execution log entries, bounded by
	// the coordinator's review window.
	History []string
	Notes       []string
	CurrentApp  string
	Screenshot  device.Screenshot
}

// ResultKind is the terminal outcome of a task.
type ResultKind string

const (
	ResultSuccess   ResultKind = "success"
	ResultError     ResultKind = "error"
	ResultCancelled ResultKind = "cancelled"
)

// TaskResult is the only thing external callers observe about a finished
// task.
type TaskResult struct {
	Kind    ResultKind
	Message string
	Steps   int
}

func Success(message string, steps int) TaskResult {
	return TaskResult{Kind: ResultSuccess, Message: message, Steps: steps}
}

func Errored(reason string, steps int) TaskResult {
	return TaskResult{Kind: ResultError, Message: reason, Steps: steps}
}

func Cancelled(steps int) TaskResult {
	return TaskResult{Kind: ResultCancelled, Message: "task cancelled", Steps: steps}
}
