package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/autoglm/autoagent/backend/device"
	"github.com/autoglm/autoagent/backend/event"
)

const (
	maxTotalSteps  = 50
	reviewInterval = 3

	defaultConfirmTicks  = 3
	defaultTickInterval  = time.Second
	defaultStepDelay     = 300 * time.Millisecond
	defaultReviewTimeout = 8 * time.Second

	toolFollowUpLimit = 3

	// reviewHistoryWindow bounds how many recent history entries the
	// reviewer sees per prompt.
	reviewHistoryWindow = 5
)

// interrupt bundles the flag and its reason into one atomically swapped
// value so readers never observe a torn pair.
type interrupt struct {
	reason   string
	userStop bool
}

// Coordinator owns the task lifecycle: plan, confirm, step loop, periodic
// asynchronous review, interrupt handling, and termination. One task runs at
// a time.
type Coordinator struct {
	reviewer Reviewer
	worker   Worker
	store    *ContextStore
	observer device.Observer
	bus      *event.Bus
	metrics  *coordinatorMetrics

	running   atomic.Bool
	interrupt atomic.Pointer[interrupt]

	mu         sync.Mutex
	taskCancel context.CancelFunc
	confirmCh  chan bool
	resumeCh   chan struct{}
	notesSeen  int

	reviewMu     sync.Mutex
	reviewCancel context.CancelFunc
	reviewGen    uint64

	// loop timing, adjustable in tests
	confirmTicks  int
	tickInterval  time.Duration
	stepDelay     time.Duration
	reviewTimeout time.Duration
	maxSteps      int
}

type CoordinatorOption func(*Coordinator)

// WithObserver wires the live device observer used for current-UI tool
// requests and foreground app tracking.
func WithObserver(obs device.Observer) CoordinatorOption {
	return func(c *Coordinator) { c.observer = obs }
}

// WithBus wires the event bus task lifecycle events are published on.
func WithBus(bus *event.Bus) CoordinatorOption {
	return func(c *Coordinator) { c.bus = bus }
}

// WithMetrics registers coordinator metrics on the given registry.
func WithMetrics(registry prometheusRegisterer) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = newCoordinatorMetrics(registry) }
}

func NewCoordinator(reviewer Reviewer, worker Worker, store *ContextStore, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		reviewer:      reviewer,
		worker:        worker,
		store:         store,
		confirmTicks:  defaultConfirmTicks,
		tickInterval:  defaultTickInterval,
		stepDelay:     defaultStepDelay,
		reviewTimeout: defaultReviewTimeout,
		maxSteps:      maxTotalSteps,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsRunning reports whether a task is currently executing.
func (c *Coordinator) IsRunning() bool {
	return c.running.Load()
}

// StartTask plans and executes a task to completion. It returns an error
// result immediately when a task is already running. Cleanup is guaranteed on
// every exit path: caches reset, reviewer conversation cleared, in-flight
// review and waits cancelled.
func (c *Coordinator) StartTask(ctx context.Context, goal string) TaskResult {
	if !c.running.CompareAndSwap(false, true) {
		return Errored("a task is already running", 0)
	}

	taskID := uuid.New()
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.taskCancel = cancel
	c.notesSeen = 0
	c.mu.Unlock()

	c.interrupt.Store(nil)
	c.store.Reset()
	c.worker.ResetStepCount()

	defer func() {
		c.cancelAsyncReview()
		cancel()
		c.reviewer.ClearHistory()
		c.store.Reset()
		c.mu.Lock()
		c.taskCancel = nil
		c.confirmCh = nil
		c.resumeCh = nil
		c.mu.Unlock()
		c.interrupt.Store(nil)
		c.running.Store(false)
	}()

	c.publish(event.TaskStarted{TaskID: taskID, Goal: goal})
	slog.Info("task started", "task_id", taskID, "goal", goal)

	result := c.runTask(ctx, taskID, goal)

	c.metrics.taskFinished(string(result.Kind))
	c.publish(event.TaskFinished{
		TaskID:  taskID,
		Outcome: string(result.Kind),
		Message: result.Message,
		Steps:   result.Steps,
	})
	slog.Info("task finished", "task_id", taskID, "outcome", result.Kind, "steps", result.Steps)

	return result
}

// ConfirmPlan confirms a pending plan before the countdown expires. No-op
// when no confirmation is pending.
func (c *Coordinator) ConfirmPlan() {
	c.signalConfirmation(true)
}

// CancelPlan rejects a pending plan; the task ends as cancelled. No-op when
// no confirmation is pending.
func (c *Coordinator) CancelPlan() {
	c.signalConfirmation(false)
}

func (c *Coordinator) signalConfirmation(ok bool) {
	c.mu.Lock()
	ch := c.confirmCh
	c.confirmCh = nil
	c.mu.Unlock()
	if ch != nil {
		ch <- ok
	}
}

// Stop requests cancellation of the running task. The task resolves as
// cancelled at the next checkpoint, even when blocked in a reviewer or
// worker call.
func (c *Coordinator) Stop() {
	if !c.running.Load() {
		return
	}
	c.interrupt.Store(&interrupt{reason: "stopped by user", userStop: true})
	c.mu.Lock()
	cancel := c.taskCancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Resume continues execution after the worker paused for user intervention.
// No-op when nothing is paused.
func (c *Coordinator) Resume() {
	c.mu.Lock()
	ch := c.resumeCh
	c.resumeCh = nil
	c.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

func (c *Coordinator) runTask(ctx context.Context, taskID uuid.UUID, goal string) TaskResult {
	planRes := c.reviewer.PlanTask(ctx, goal)
	if c.cancelled(ctx) {
		return Cancelled(0)
	}

	var plan *TaskPlan
	switch pr := planRes.(type) {
	case PlanQuestion:
		c.publish(event.QuestionAsked{TaskID: taskID, Question: pr.Question})
		return Errored("clarification needed: "+pr.Question, 0)
	case PlanProposal:
		plan = pr.Plan
	default:
		return Errored("planner returned no usable plan", 0)
	}

	c.store.SetPlan(plan)
	c.publish(event.PlanProposed{TaskID: taskID, SelectedApp: plan.SelectedApp, Steps: plan.Steps})
	slog.Info("plan proposed", "task_id", taskID, "app", plan.SelectedApp, "steps", len(plan.Steps))

	confirmed, err := c.awaitConfirmation(ctx, taskID)
	if err != nil || !confirmed {
		return Cancelled(0)
	}

	return c.runLoop(ctx, taskID, plan)
}

// awaitConfirmation runs the countdown at one second resolution. Expiry
// auto-confirms; the wait favors progress over blocking.
func (c *Coordinator) awaitConfirmation(ctx context.Context, taskID uuid.UUID) (bool, error) {
	ch := make(chan bool, 1)
	c.mu.Lock()
	c.confirmCh = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.confirmCh = nil
		c.mu.Unlock()
	}()

	remaining := c.confirmTicks
	c.publish(event.CountdownTick{TaskID: taskID, Remaining: remaining})

	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case ok := <-ch:
			if !ok {
				return false, nil
			}
			c.publish(event.PlanConfirmed{TaskID: taskID})
			return true, nil
		case <-ticker.C:
			remaining--
			if remaining <= 0 {
				c.publish(event.PlanConfirmed{TaskID: taskID, Auto: true})
				return true, nil
			}
			c.publish(event.CountdownTick{TaskID: taskID, Remaining: remaining})
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

func (c *Coordinator) runLoop(ctx context.Context, taskID uuid.UUID, plan *TaskPlan) TaskResult {
	step := 0
	stepsSinceReview := 0

	for step < c.maxSteps {
		if sig := c.interrupt.Swap(nil); sig != nil {
			if sig.userStop {
				return Cancelled(step)
			}
			if result, done := c.handleInterrupt(ctx, taskID, step, sig); done {
				return result
			}
			// reviewer guidance applied, no worker step this iteration
			continue
		}
		if c.cancelled(ctx) {
			return Cancelled(step)
		}

		step++
		report, err := c.worker.ExecuteSingleStep(ctx, plan.Goal)
		if err != nil {
			var bridgeErr *device.BridgeError
			switch {
			case errors.As(err, &bridgeErr):
				return Errored(fmt.Sprintf("privileged execution fault: %v", err), step)
			case c.cancelled(ctx):
				return Cancelled(step)
			default:
				report = &WorkerReport{
					SubTask: plan.Goal,
					Status:  StatusFailed,
					Message: err.Error(),
				}
			}
		}

		c.recordStep(ctx, taskID, step, report)

		switch report.Status {
		case StatusCompleted:
			if result, done := c.confirmCompletion(ctx, taskID, step, report); done {
				return result
			}
		case StatusNeedsUser:
			if result, done := c.awaitResume(ctx, taskID, step, report); done {
				return result
			}
		case StatusStuck, StatusFailed:
			if result, done := c.requestHelp(ctx, taskID, step, report); done {
				return result
			}
		case StatusInProgress:
		default:
			return Errored(fmt.Sprintf("worker reported unknown status %q", report.Status), step)
		}

		stepsSinceReview++
		if stepsSinceReview >= reviewInterval {
			stepsSinceReview = 0
			c.launchAsyncReview(ctx, taskID, step, report)
		}

		select {
		case <-time.After(c.stepDelay):
		case <-ctx.Done():
			return Cancelled(step)
		}
	}

	return Errored(fmt.Sprintf("step ceiling (%d) reached without completion", c.maxSteps), c.maxSteps)
}

// handleInterrupt blocks on a reviewer follow-up decision using a synthetic
// report describing the wait. Returns done=true when the decision terminates
// the task.
func (c *Coordinator) handleInterrupt(ctx context.Context, taskID uuid.UUID, step int, sig *interrupt) (TaskResult, bool) {
	slog.Info("interrupt observed", "step", step, "reason", sig.reason)

	report := &WorkerReport{
		SubTask: "awaiting new instruction",
		Status:  StatusInProgress,
		Message: sig.reason,
	}

	decision := c.reviewWithTools(ctx, taskID, report, step)
	if c.cancelled(ctx) {
		return Cancelled(step), true
	}

	switch d := decision.(type) {
	case Finish:
		return Success(d.Message, step), true
	case DecisionError:
		return Errored(d.Message, step), true
	case AskUser:
		c.publish(event.QuestionAsked{TaskID: taskID, Question: d.Question})
		slog.Info("reviewer asked for user input, continuing", "step", step, "question", d.Question)
		return TaskResult{}, false
	default:
		c.applyGuidance(decision)
		return TaskResult{}, false
	}
}

// confirmCompletion synchronously verifies a COMPLETED report. Finishing is
// high-stakes, so this blocks the loop. Only FINISH ends the task; anything
// else resumes it.
func (c *Coordinator) confirmCompletion(ctx context.Context, taskID uuid.UUID, step int, report *WorkerReport) (TaskResult, bool) {
	decision := c.reviewWithTools(ctx, taskID, report, step)
	if c.cancelled(ctx) {
		return Cancelled(step), true
	}

	switch d := decision.(type) {
	case Finish:
		return Success(d.Message, step), true
	case DecisionError:
		return Errored(d.Message, step), true
	default:
		slog.Info("completion not confirmed, continuing", "step", step)
		c.applyGuidance(decision)
		return TaskResult{}, false
	}
}

// requestHelp escalates a STUCK or FAILED report to the reviewer, blocking
// the loop until guidance arrives.
func (c *Coordinator) requestHelp(ctx context.Context, taskID uuid.UUID, step int, report *WorkerReport) (TaskResult, bool) {
	decision := c.reviewWithTools(ctx, taskID, report, step)
	if c.cancelled(ctx) {
		return Cancelled(step), true
	}

	switch d := decision.(type) {
	case Finish:
		return Success(d.Message, step), true
	case DecisionError:
		return Errored(d.Message, step), true
	case AskUser:
		c.publish(event.QuestionAsked{TaskID: taskID, Question: d.Question})
		slog.Info("reviewer asked for user input, continuing", "step", step, "question", d.Question)
		return TaskResult{}, false
	default:
		c.applyGuidance(decision)
		return TaskResult{}, false
	}
}

func (c *Coordinator) awaitResume(ctx context.Context, taskID uuid.UUID, step int, report *WorkerReport) (TaskResult, bool) {
	ch := make(chan struct{})
	c.mu.Lock()
	c.resumeCh = ch
	c.mu.Unlock()

	c.publish(event.UserActionRequired{TaskID: taskID, Step: step, Message: report.Message})
	slog.Info("waiting for user intervention", "step", step, "message", report.Message)

	select {
	case <-ch:
		c.publish(event.TaskResumed{TaskID: taskID})
		return TaskResult{}, false
	case <-ctx.Done():
		return Cancelled(step), true
	}
}

// applyGuidance surfaces a non-terminal decision to the worker and plan.
func (c *Coordinator) applyGuidance(decision Decision) {
	switch d := decision.(type) {
	case NextStep:
		if d.Instruction != "" {
			c.worker.SetGuidance(d.Instruction)
		}
	case Replan:
		if len(d.Steps) > 0 {
			c.store.ReplaceSteps(d.Steps)
			c.worker.SetGuidance(d.Steps[0])
		}
	}
}

// launchAsyncReview dispatches the latest report for review without blocking
// the loop. Any still-pending review is superseded and its result discarded.
func (c *Coordinator) launchAsyncReview(ctx context.Context, taskID uuid.UUID, step int, report *WorkerReport) {
	c.reviewMu.Lock()
	if c.reviewCancel != nil {
		c.reviewCancel()
	}
	c.reviewGen++
	gen := c.reviewGen
	rctx, rcancel := context.WithTimeout(ctx, c.reviewTimeout)
	c.reviewCancel = rcancel
	c.reviewMu.Unlock()

	c.publish(event.ReviewStarted{TaskID: taskID, Step: step})

	go func() {
		defer rcancel()

		decision := c.reviewWithTools(rctx, taskID, report, step)

		if rctx.Err() != nil {
			outcome := "superseded"
			if errors.Is(rctx.Err(), context.DeadlineExceeded) {
				// timeout means no objection
				outcome = "timeout"
			}
			c.metrics.reviewResolved(outcome)
			c.publish(event.ReviewResolved{TaskID: taskID, Step: step, Outcome: outcome})
			return
		}

		c.reviewMu.Lock()
		current := gen == c.reviewGen
		c.reviewMu.Unlock()
		if !current {
			c.metrics.reviewResolved("superseded")
			c.publish(event.ReviewResolved{TaskID: taskID, Step: step, Outcome: "superseded"})
			return
		}

		outcome := "applied"
		switch d := decision.(type) {
		case NextStep:
			outcome = "no_objection"
		case Replan:
			c.setInterrupt(d.Reason)
		case Finish:
			c.setInterrupt(d.Message)
		case AskUser:
			c.setInterrupt(d.Question)
		case DecisionError:
			c.setInterrupt(d.Message)
		}
		c.metrics.reviewResolved(outcome)
		c.publish(event.ReviewResolved{TaskID: taskID, Step: step, Outcome: outcome, Decision: decisionName(decision)})
	}()
}

// reviewWithTools runs a review and resolves any GET_INFO follow-ups, bounded
// so a confused model cannot loop forever.
func (c *Coordinator) reviewWithTools(ctx context.Context, taskID uuid.UUID, report *WorkerReport, step int) Decision {
	decision := c.reviewer.Review(ctx, report, c.buildSnapshot(step, report))

	for range toolFollowUpLimit {
		gi, ok := decision.(GetInfo)
		if !ok {
			break
		}
		result := c.resolveTool(ctx, gi)
		decision = c.reviewer.ContinueWithToolResult(ctx, gi.Tool, result, c.buildSnapshot(step, report))
	}

	c.publishNewNotes(taskID)
	return decision
}

// publishNewNotes emits a NoteAdded event for every note the reviewer has
// absorbed since the last review cycle.
func (c *Coordinator) publishNewNotes(taskID uuid.UUID) {
	notes := c.reviewer.Notes()

	c.mu.Lock()
	seen := c.notesSeen
	if seen > len(notes) {
		seen = 0
	}
	fresh := notes[seen:]
	c.notesSeen = len(notes)
	c.mu.Unlock()

	for _, note := range fresh {
		c.publish(event.NoteAdded{TaskID: taskID, Note: note})
	}
}

func (c *Coordinator) resolveTool(ctx context.Context, gi GetInfo) *ToolResult {
	switch gi.Tool {
	case ToolCurrentUI:
		if c.observer == nil {
			return nil
		}
		tree, err := c.observer.DumpUITree(ctx)
		if err != nil {
			slog.Warn("ui tree dump failed", "error", err)
			return nil
		}
		return &ToolResult{Text: tree}
	case ToolHistoryScreenshot:
		shot, ok := c.store.Screenshot(gi.Step)
		if !ok {
			return nil
		}
		return &ToolResult{Image: shot.PNG()}
	case ToolHistoryUI:
		tree, ok := c.store.UITree(gi.Step)
		if !ok {
			return nil
		}
		return &ToolResult{Text: tree}
	}
	return nil
}

// recordStep caches the step's artifacts and appends a history entry. The
// screenshot's ownership transfers to the context store here.
func (c *Coordinator) recordStep(ctx context.Context, taskID uuid.UUID, step int, report *WorkerReport) {
	c.store.CacheScreenshot(step, report.Screenshot)

	if c.observer != nil {
		if tree, err := c.observer.DumpUITree(ctx); err == nil {
			c.store.CacheUITree(step, tree)
		}
		if app, err := c.observer.ForegroundApp(ctx); err == nil {
			c.store.SetCurrentApp(app)
		}
	}

	entry := fmt.Sprintf("step %d: %s [%s]", step, report.SubTask, report.Status)
	if report.Message != "" {
		entry += " " + report.Message
	}
	c.store.AppendHistory(entry)

	c.metrics.stepExecuted()
	c.publish(event.StepExecuted{
		TaskID:     taskID,
		Step:       step,
		SubTask:    report.SubTask,
		Status:     string(report.Status),
		Message:    report.Message,
		StepsTaken: report.StepsTaken,
	})
	slog.Debug("step executed",
		"step", step,
		"subtask", report.SubTask,
		"status", report.Status,
		"actions", len(report.Actions),
	)
}

func (c *Coordinator) buildSnapshot(step int, report *WorkerReport) *ContextSnapshot {
	plan := c.store.Plan()
	goal := ""
	if plan != nil {
		goal = plan.Goal
	}
	return &ContextSnapshot{
		Goal:        goal,
		Plan:        plan,
		CurrentStep: step,
		TotalSteps:  c.maxSteps,
		History:     c.store.HistoryTail(reviewHistoryWindow),
		Notes:       c.reviewer.Notes(),
		CurrentApp:  c.store.CurrentApp(),
		Screenshot:  report.Screenshot,
	}
}

// setInterrupt publishes a reviewer-issued interrupt unless a user stop is
// already pending; a user stop is never overwritten.
func (c *Coordinator) setInterrupt(reason string) {
	if strings.TrimSpace(reason) == "" {
		reason = "review requested a course change"
	}
	for {
		cur := c.interrupt.Load()
		if cur != nil && cur.userStop {
			return
		}
		if c.interrupt.CompareAndSwap(cur, &interrupt{reason: reason}) {
			return
		}
	}
}

func (c *Coordinator) cancelAsyncReview() {
	c.reviewMu.Lock()
	defer c.reviewMu.Unlock()
	if c.reviewCancel != nil {
		c.reviewCancel()
		c.reviewCancel = nil
	}
	c.reviewGen++
}

func (c *Coordinator) cancelled(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	sig := c.interrupt.Load()
	return sig != nil && sig.userStop
}

func (c *Coordinator) publish(e any) {
	if c.bus == nil {
		return
	}
	switch ev := e.(type) {
	case event.TaskStarted:
		event.Publish(c.bus, ev)
	case event.PlanProposed:
		event.Publish(c.bus, ev)
	case event.CountdownTick:
		event.Publish(c.bus, ev)
	case event.PlanConfirmed:
		event.Publish(c.bus, ev)
	case event.QuestionAsked:
		event.Publish(c.bus, ev)
	case event.StepExecuted:
		event.Publish(c.bus, ev)
	case event.ReviewStarted:
		event.Publish(c.bus, ev)
	case event.ReviewResolved:
		event.Publish(c.bus, ev)
	case event.NoteAdded:
		event.Publish(c.bus, ev)
	case event.UserActionRequired:
		event.Publish(c.bus, ev)
	case event.TaskResumed:
		event.Publish(c.bus, ev)
	case event.TaskFinished:
		event.Publish(c.bus, ev)
	}
}

func decisionName(d Decision) string {
	switch d.(type) {
	case NextStep:
		return "NEXT_STEP"
	case Replan:
		return "REPLAN"
	case Finish:
		return "FINISH"
	case GetInfo:
		return "GET_INFO"
	case AskUser:
		return "ASK_USER"
	case DecisionError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}
