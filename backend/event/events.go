package event

import "github.com/google/uuid"

// TaskStarted fires when a task goal has been accepted for planning.
type TaskStarted struct {
	TaskID uuid.UUID
	Goal   string
}

func (TaskStarted) Event() {}

// PlanProposed fires when the planner has produced a step list and the
// confirmation countdown is about to begin.
type PlanProposed struct {
	TaskID      uuid.UUID
	SelectedApp string
	Steps       []string
}

func (PlanProposed) Event() {}

// CountdownTick fires once per second while a proposed plan awaits
// confirmation. Remaining counts down to zero.
type CountdownTick struct {
	TaskID    uuid.UUID
	Remaining int
}

func (CountdownTick) Event() {}

// PlanConfirmed fires when the plan was confirmed, either explicitly or by
// countdown expiry.
type PlanConfirmed struct {
	TaskID uuid.UUID
	Auto   bool
}

func (PlanConfirmed) Event() {}

// QuestionAsked fires when the reviewer wants input from the user: during
// planning (the task then ends) or mid-task, where the loop keeps going and
// the question is informational.
type QuestionAsked struct {
	TaskID   uuid.UUID
	Question string
}

func (QuestionAsked) Event() {}

// StepExecuted fires after each worker step.
type StepExecuted struct {
	TaskID     uuid.UUID
	Step       int
	SubTask    string
	Status     string
	Message    string
	StepsTaken int
}

func (StepExecuted) Event() {}

// ReviewStarted fires when an asynchronous progress review is dispatched.
type ReviewStarted struct {
	TaskID uuid.UUID
	Step   int
}

func (ReviewStarted) Event() {}

// ReviewResolved fires when a review produced an actionable decision or was
// discarded. Outcome is one of "applied", "no_objection", "timeout",
// "superseded".
type ReviewResolved struct {
	TaskID   uuid.UUID
	Step     int
	Outcome  string
	Decision string
}

func (ReviewResolved) Event() {}

// NoteAdded fires when the planner records a note for later steps.
type NoteAdded struct {
	TaskID uuid.UUID
	Note   string
}

func (NoteAdded) Event() {}

// UserActionRequired fires when the worker reports that manual intervention
// (login, captcha, payment) is needed and execution is paused.
type UserActionRequired struct {
	TaskID  uuid.UUID
	Step    int
	Message string
}

func (UserActionRequired) Event() {}

// TaskResumed fires when execution continues after user intervention.
type TaskResumed struct {
	TaskID uuid.UUID
}

func (TaskResumed) Event() {}

// TaskFinished fires exactly once per task with the terminal outcome.
// Outcome is one of "success", "error", "cancelled".
type TaskFinished struct {
	TaskID  uuid.UUID
	Outcome string
	Message string
	Steps   int
}

func (TaskFinished) Event() {}
