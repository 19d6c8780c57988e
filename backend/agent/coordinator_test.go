package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/autoglm/autoagent/backend/device"
	"github.com/autoglm/autoagent/backend/event"
)

// scriptedReviewer is a Reviewer double. decide maps each reviewed report to
// a decision; reviewDelay simulates a slow model and records cancellation.
type scriptedReviewer struct {
	plan        PlanResult
	decide      func(report *WorkerReport, snap *ContextSnapshot) Decision
	reviewDelay time.Duration

	mu        sync.Mutex
	reviews   []*WorkerReport
	notes     []string
	clears    int
	cancelled atomic.Int32
}

func (r *scriptedReviewer) CheckAvailability(context.Context) bool { return true }

func (r *scriptedReviewer) PlanTask(_ context.Context, goal string) PlanResult {
	if r.plan != nil {
		return r.plan
	}
	return PlanProposal{Plan: &TaskPlan{Goal: goal, Steps: []string{goal}}}
}

func (r *scriptedReviewer) Review(ctx context.Context, report *WorkerReport, snap *ContextSnapshot) Decision {
	r.mu.Lock()
	r.reviews = append(r.reviews, report)
	r.mu.Unlock()

	if r.reviewDelay > 0 {
		select {
		case <-time.After(r.reviewDelay):
		case <-ctx.Done():
			r.cancelled.Add(1)
			return DecisionError{Message: "review cancelled"}
		}
	}
	if r.decide != nil {
		return r.decide(report, snap)
	}
	return NextStep{}
}

func (r *scriptedReviewer) ContinueWithToolResult(_ context.Context, _ ToolKind, _ *ToolResult, snap *ContextSnapshot) Decision {
	return NextStep{}
}

func (r *scriptedReviewer) AddNote(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, text)
}

func (r *scriptedReviewer) Notes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.notes))
	copy(out, r.notes)
	return out
}

func (r *scriptedReviewer) ClearHistory() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clears++
	r.notes = nil
}

func (r *scriptedReviewer) reviewedReports() []*WorkerReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*WorkerReport, len(r.reviews))
	copy(out, r.reviews)
	return out
}

// scriptedWorker returns one report per step from fn.
type scriptedWorker struct {
	fn func(step int) (*WorkerReport, error)

	mu       sync.Mutex
	step     int
	guidance []string
	resets   int
}

func (w *scriptedWorker) CheckAvailability(context.Context) bool { return true }

func (w *scriptedWorker) ResetStepCount() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resets++
	w.step = 0
}

func (w *scriptedWorker) SetGuidance(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.guidance = append(w.guidance, text)
}

func (w *scriptedWorker) ExecuteSingleStep(ctx context.Context, goal string) (*WorkerReport, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	w.mu.Lock()
	w.step++
	step := w.step
	w.mu.Unlock()

	if w.fn != nil {
		return w.fn(step)
	}
	return inProgressReport(step), nil
}

func inProgressReport(step int) *WorkerReport {
	return &WorkerReport{
		SubTask:    "working",
		StepsTaken: 1,
		Actions:    []string{"tap"},
		Successes:  []bool{true},
		Status:     StatusInProgress,
	}
}

func statusReport(status WorkerStatus, message string) *WorkerReport {
	return &WorkerReport{
		SubTask:    "working",
		StepsTaken: 1,
		Actions:    []string{"tap"},
		Successes:  []bool{true},
		Status:     status,
		Message:    message,
	}
}

func newTestCoordinator(r Reviewer, w Worker, opts ...CoordinatorOption) *Coordinator {
	c := NewCoordinator(r, w, NewContextStore(), opts...)
	c.tickInterval = 5 * time.Millisecond
	c.stepDelay = time.Millisecond
	c.reviewTimeout = 200 * time.Millisecond
	return c
}

func TestStartTaskRejectsSecondTask(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	worker := &scriptedWorker{fn: func(step int) (*WorkerReport, error) {
		if step == 1 {
			<-block
		}
		return statusReport(StatusCompleted, "done"), nil
	}}
	reviewer := &scriptedReviewer{decide: func(report *WorkerReport, _ *ContextSnapshot) Decision {
		return Finish{Message: "confirmed"}
	}}
	c := newTestCoordinator(reviewer, worker)

	done := make(chan TaskResult, 1)
	go func() { done <- c.StartTask(context.Background(), "task one") }()

	waitUntil(t, func() bool { return c.IsRunning() })

	second := c.StartTask(context.Background(), "task two")
	if second.Kind != ResultError || !strings.Contains(second.Message, "already running") {
		t.Errorf("second task = %+v, want already-running error", second)
	}

	close(block)
	first := <-done
	if first.Kind != ResultSuccess {
		t.Errorf("first task = %+v, want success", first)
	}
	if c.IsRunning() {
		t.Error("still running after return")
	}
}

func TestPlanQuestionAbortsTask(t *testing.T) {
	t.Parallel()

	worker := &scriptedWorker{}
	reviewer := &scriptedReviewer{plan: PlanQuestion{Question: "which app?"}}
	c := newTestCoordinator(reviewer, worker)

	result := c.StartTask(context.Background(), "order bubble tea")

	if result.Kind != ResultError || !strings.Contains(result.Message, "which app?") {
		t.Errorf("result = %+v, want error carrying the question", result)
	}
	worker.mu.Lock()
	steps := worker.step
	worker.mu.Unlock()
	if steps != 0 {
		t.Errorf("worker executed %d steps, want 0", steps)
	}
	if c.IsRunning() {
		t.Error("still running after return")
	}
}

func TestAutoConfirmProceedsAfterCountdown(t *testing.T) {
	t.Parallel()

	worker := &scriptedWorker{fn: func(step int) (*WorkerReport, error) {
		return statusReport(StatusCompleted, "done"), nil
	}}
	reviewer := &scriptedReviewer{decide: func(*WorkerReport, *ContextSnapshot) Decision {
		return Finish{Message: "confirmed"}
	}}
	c := newTestCoordinator(reviewer, worker)

	result := c.StartTask(context.Background(), "quick task")
	if result.Kind != ResultSuccess {
		t.Errorf("result = %+v, want success via auto-confirm", result)
	}
}

func TestConfirmPlanSkipsCountdown(t *testing.T) {
	t.Parallel()

	worker := &scriptedWorker{fn: func(step int) (*WorkerReport, error) {
		return statusReport(StatusCompleted, "done"), nil
	}}
	reviewer := &scriptedReviewer{decide: func(*WorkerReport, *ContextSnapshot) Decision {
		return Finish{Message: "confirmed"}
	}}
	c := newTestCoordinator(reviewer, worker)
	c.tickInterval = time.Hour // countdown would never expire on its own

	done := make(chan TaskResult, 1)
	go func() { done <- c.StartTask(context.Background(), "quick task") }()

	stop := make(chan struct{})
	defer close(stop)
	keepSignalling(stop, c.ConfirmPlan)

	select {
	case result := <-done:
		if result.Kind != ResultSuccess {
			t.Errorf("result = %+v, want success", result)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("task did not finish after explicit confirm")
	}
}

func TestCancelPlanCancelsTask(t *testing.T) {
	t.Parallel()

	worker := &scriptedWorker{}
	reviewer := &scriptedReviewer{}
	c := newTestCoordinator(reviewer, worker)
	c.tickInterval = time.Hour

	done := make(chan TaskResult, 1)
	go func() { done <- c.StartTask(context.Background(), "task") }()

	stop := make(chan struct{})
	defer close(stop)
	keepSignalling(stop, c.CancelPlan)

	select {
	case result := <-done:
		if result.Kind != ResultCancelled {
			t.Errorf("result = %+v, want cancelled", result)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("task did not finish after cancel")
	}

	worker.mu.Lock()
	steps := worker.step
	worker.mu.Unlock()
	if steps != 0 {
		t.Errorf("worker executed %d steps after cancelled plan", steps)
	}
}

func TestCompletedWithFinishSucceeds(t *testing.T) {
	t.Parallel()

	worker := &scriptedWorker{fn: func(step int) (*WorkerReport, error) {
		if step < 4 {
			return inProgressReport(step), nil
		}
		return statusReport(StatusCompleted, "order placed"), nil
	}}
	reviewer := &scriptedReviewer{decide: func(report *WorkerReport, _ *ContextSnapshot) Decision {
		if report.Status == StatusCompleted {
			return Finish{Message: "order placed successfully"}
		}
		return NextStep{}
	}}
	c := newTestCoordinator(reviewer, worker)

	result := c.StartTask(context.Background(), "order bubble tea")

	if result.Kind != ResultSuccess {
		t.Fatalf("result = %+v, want success", result)
	}
	if result.Message != "order placed successfully" {
		t.Errorf("message = %q, want the reviewer's message", result.Message)
	}
	if result.Steps != 4 {
		t.Errorf("steps = %d, want 4", result.Steps)
	}
}

func TestStuckReplanLoopContinues(t *testing.T) {
	t.Parallel()

	var stuckSeen atomic.Int32
	worker := &scriptedWorker{fn: func(step int) (*WorkerReport, error) {
		if step <= 3 {
			return statusReport(StatusStuck, "button not found"), nil
		}
		return statusReport(StatusCompleted, "done"), nil
	}}
	reviewer := &scriptedReviewer{decide: func(report *WorkerReport, _ *ContextSnapshot) Decision {
		switch report.Status {
		case StatusStuck:
			stuckSeen.Add(1)
			return Replan{Steps: []string{"try the other entrance"}, Reason: "retry differently"}
		case StatusCompleted:
			return Finish{Message: "done"}
		default:
			return NextStep{}
		}
	}}
	c := newTestCoordinator(reviewer, worker)

	result := c.StartTask(context.Background(), "task")

	if result.Kind != ResultSuccess {
		t.Fatalf("result = %+v, want success after replans", result)
	}
	// the async review cadence may review a stuck report once more on top of
	// the three blocking escalations
	if got := stuckSeen.Load(); got < 3 {
		t.Errorf("reviewer saw %d stuck reports, want at least 3", got)
	}

	worker.mu.Lock()
	guidance := append([]string(nil), worker.guidance...)
	worker.mu.Unlock()
	if len(guidance) == 0 || guidance[0] != "try the other entrance" {
		t.Errorf("guidance = %v, want replan steps surfaced to worker", guidance)
	}
}

func TestStuckAskUserContinuesLoop(t *testing.T) {
	t.Parallel()

	bus := event.NewBus(nil)
	defer bus.Close()
	questions, _ := event.SubscribeChannel[event.QuestionAsked](bus, 4, nil)

	worker := &scriptedWorker{fn: func(step int) (*WorkerReport, error) {
		if step == 1 {
			return statusReport(StatusStuck, "cannot pick a flavor"), nil
		}
		return statusReport(StatusCompleted, "ordered"), nil
	}}
	reviewer := &scriptedReviewer{decide: func(report *WorkerReport, _ *ContextSnapshot) Decision {
		if report.Status == StatusStuck {
			return AskUser{Question: "which flavor?"}
		}
		return Finish{Message: "order placed"}
	}}
	c := newTestCoordinator(reviewer, worker, WithBus(bus))

	result := c.StartTask(context.Background(), "order bubble tea")

	if result.Kind != ResultSuccess || result.Message != "order placed" {
		t.Fatalf("result = %+v, want success; AskUser must not end the task", result)
	}
	if result.Steps != 2 {
		t.Errorf("steps = %d, want 2", result.Steps)
	}

	select {
	case q := <-questions:
		if q.Question != "which flavor?" {
			t.Errorf("question = %q, want %q", q.Question, "which flavor?")
		}
	case <-time.After(time.Second):
		t.Error("no QuestionAsked event published")
	}
}

func TestReviewNotesArePublished(t *testing.T) {
	t.Parallel()

	bus := event.NewBus(nil)
	defer bus.Close()
	notes, _ := event.SubscribeChannel[event.NoteAdded](bus, 4, nil)

	worker := &scriptedWorker{fn: func(step int) (*WorkerReport, error) {
		return statusReport(StatusCompleted, "done"), nil
	}}
	reviewer := &scriptedReviewer{}
	reviewer.decide = func(report *WorkerReport, _ *ContextSnapshot) Decision {
		reviewer.AddNote("user prefers oat milk")
		return Finish{Message: "confirmed"}
	}
	c := newTestCoordinator(reviewer, worker, WithBus(bus))

	result := c.StartTask(context.Background(), "order bubble tea")
	if result.Kind != ResultSuccess {
		t.Fatalf("result = %+v, want success", result)
	}

	select {
	case n := <-notes:
		if n.Note != "user prefers oat milk" {
			t.Errorf("note = %q, want %q", n.Note, "user prefers oat milk")
		}
	case <-time.After(time.Second):
		t.Error("no NoteAdded event published")
	}
}

func TestBuildSnapshotBoundsHistory(t *testing.T) {
	t.Parallel()

	c := newTestCoordinator(&scriptedReviewer{}, &scriptedWorker{})
	for i := 1; i <= 8; i++ {
		c.store.AppendHistory(fmt.Sprintf("step %d: working [IN_PROGRESS]", i))
	}

	snap := c.buildSnapshot(8, inProgressReport(8))

	want := c.store.HistoryTail(reviewHistoryWindow)
	if diff := cmp.Diff(want, snap.History); diff != "" {
		t.Errorf("snapshot history mismatch (-want +got):\n%s", diff)
	}
	if len(snap.History) != reviewHistoryWindow {
		t.Errorf("history length = %d, want %d", len(snap.History), reviewHistoryWindow)
	}
}

func TestStepCeilingYieldsError(t *testing.T) {
	t.Parallel()

	worker := &scriptedWorker{}
	reviewer := &scriptedReviewer{}
	c := newTestCoordinator(reviewer, worker)

	result := c.StartTask(context.Background(), "endless task")

	if result.Kind != ResultError || !strings.Contains(result.Message, "50") {
		t.Errorf("result = %+v, want error referencing the ceiling", result)
	}
	if result.Steps != maxTotalSteps {
		t.Errorf("steps = %d, want %d", result.Steps, maxTotalSteps)
	}
}

func TestAsyncReviewTimeoutIsSilentlyDropped(t *testing.T) {
	t.Parallel()

	worker := &scriptedWorker{fn: func(step int) (*WorkerReport, error) {
		if step < 5 {
			return inProgressReport(step), nil
		}
		return statusReport(StatusCompleted, "done"), nil
	}}
	reviewer := &scriptedReviewer{
		reviewDelay: 100 * time.Millisecond,
		decide: func(report *WorkerReport, _ *ContextSnapshot) Decision {
			if report.Status == StatusCompleted {
				return Finish{Message: "done"}
			}
			return DecisionError{Message: "should never be applied"}
		},
	}
	c := newTestCoordinator(reviewer, worker)
	c.reviewTimeout = 20 * time.Millisecond

	result := c.StartTask(context.Background(), "task")

	if result.Kind != ResultSuccess {
		t.Fatalf("result = %+v, want success despite review timeouts", result)
	}
	for _, report := range reviewer.reviewedReports() {
		if report.SubTask == "awaiting new instruction" {
			t.Error("a timed-out review set the interrupt flag")
		}
	}
}

func TestNewAsyncReviewSupersedesPending(t *testing.T) {
	t.Parallel()

	worker := &scriptedWorker{fn: func(step int) (*WorkerReport, error) {
		if step < 8 {
			return inProgressReport(step), nil
		}
		return statusReport(StatusCompleted, "done"), nil
	}}
	var completed atomic.Bool
	reviewer := &scriptedReviewer{
		decide: func(report *WorkerReport, _ *ContextSnapshot) Decision {
			if report.Status == StatusCompleted {
				completed.Store(true)
				return Finish{Message: "done"}
			}
			return NextStep{}
		},
	}
	// async reviews outlive the 3-step cadence, so each launch must cancel
	// the previous one
	reviewer.reviewDelay = 50 * time.Millisecond
	c := newTestCoordinator(reviewer, worker)
	c.reviewTimeout = time.Second

	result := c.StartTask(context.Background(), "task")

	if result.Kind != ResultSuccess {
		t.Fatalf("result = %+v, want success", result)
	}
	if reviewer.cancelled.Load() == 0 {
		t.Error("no pending review was cancelled; superseding did not happen")
	}
}

func TestStopCancelsBlockedTask(t *testing.T) {
	t.Parallel()

	worker := &scriptedWorker{fn: func(step int) (*WorkerReport, error) {
		return inProgressReport(step), nil
	}}
	reviewer := &scriptedReviewer{}
	c := newTestCoordinator(reviewer, worker)
	c.stepDelay = 10 * time.Millisecond

	done := make(chan TaskResult, 1)
	go func() { done <- c.StartTask(context.Background(), "task") }()

	waitUntil(t, func() bool { return c.IsRunning() })
	time.Sleep(30 * time.Millisecond)
	c.Stop()

	select {
	case result := <-done:
		if result.Kind != ResultCancelled {
			t.Errorf("result = %+v, want cancelled", result)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("task did not stop")
	}
	if c.IsRunning() {
		t.Error("still running after stop")
	}
}

func TestNeedsUserWaitsForResume(t *testing.T) {
	t.Parallel()

	worker := &scriptedWorker{fn: func(step int) (*WorkerReport, error) {
		switch step {
		case 1:
			return statusReport(StatusNeedsUser, "please log in"), nil
		default:
			return statusReport(StatusCompleted, "done"), nil
		}
	}}
	reviewer := &scriptedReviewer{decide: func(report *WorkerReport, _ *ContextSnapshot) Decision {
		return Finish{Message: "done"}
	}}
	c := newTestCoordinator(reviewer, worker)

	done := make(chan TaskResult, 1)
	go func() { done <- c.StartTask(context.Background(), "task") }()

	stop := make(chan struct{})
	defer close(stop)
	keepSignalling(stop, c.Resume)

	select {
	case result := <-done:
		if result.Kind != ResultSuccess {
			t.Errorf("result = %+v, want success after resume", result)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("task never resumed")
	}

	for _, report := range reviewer.reviewedReports() {
		if report.Status == StatusNeedsUser {
			t.Error("reviewer was notified about NEEDS_USER; resume should bypass review")
		}
	}
}

func TestBridgeErrorIsFatal(t *testing.T) {
	t.Parallel()

	worker := &scriptedWorker{fn: func(step int) (*WorkerReport, error) {
		return nil, &device.BridgeError{Op: "tap", Err: errors.New("device offline")}
	}}
	reviewer := &scriptedReviewer{}
	c := newTestCoordinator(reviewer, worker)

	result := c.StartTask(context.Background(), "task")

	if result.Kind != ResultError || !strings.Contains(result.Message, "privileged execution fault") {
		t.Errorf("result = %+v, want fatal execution error", result)
	}
	worker.mu.Lock()
	steps := worker.step
	worker.mu.Unlock()
	if steps != 1 {
		t.Errorf("worker retried after a bridge error: %d steps", steps)
	}
}

func TestAsyncReviewErrorInterruptsLoop(t *testing.T) {
	t.Parallel()

	worker := &scriptedWorker{}
	reviewer := &scriptedReviewer{decide: func(report *WorkerReport, _ *ContextSnapshot) Decision {
		if report.SubTask == "awaiting new instruction" {
			return Finish{Message: "wrapped up"}
		}
		if report.Status == StatusInProgress {
			return DecisionError{Message: "wrong app opened"}
		}
		return NextStep{}
	}}
	c := newTestCoordinator(reviewer, worker)

	result := c.StartTask(context.Background(), "task")

	if result.Kind != ResultSuccess || result.Message != "wrapped up" {
		t.Errorf("result = %+v, want success from the interrupt follow-up", result)
	}

	var sawSynthetic bool
	for _, report := range reviewer.reviewedReports() {
		if report.SubTask == "awaiting new instruction" && report.Message == "wrong app opened" {
			sawSynthetic = true
		}
	}
	if !sawSynthetic {
		t.Error("interrupt follow-up did not carry the review's reason")
	}
}

func TestCleanupClearsReviewerAndStore(t *testing.T) {
	t.Parallel()

	worker := &scriptedWorker{fn: func(step int) (*WorkerReport, error) {
		return statusReport(StatusCompleted, "done"), nil
	}}
	reviewer := &scriptedReviewer{decide: func(*WorkerReport, *ContextSnapshot) Decision {
		return Finish{Message: "done"}
	}}
	store := NewContextStore()
	c := NewCoordinator(reviewer, worker, store)
	c.tickInterval = 5 * time.Millisecond
	c.stepDelay = time.Millisecond

	c.StartTask(context.Background(), "task")

	reviewer.mu.Lock()
	clears := reviewer.clears
	reviewer.mu.Unlock()
	if clears == 0 {
		t.Error("reviewer conversation was not cleared")
	}
	if store.Plan() != nil || len(store.History()) != 0 {
		t.Error("context store not cleared after task")
	}
	worker.mu.Lock()
	resets := worker.resets
	worker.mu.Unlock()
	if resets != 1 {
		t.Errorf("worker reset %d times, want 1", resets)
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// keepSignalling invokes f repeatedly until stop closes. The coordinator's
// confirm, cancel, and resume signals are no-ops while nothing is pending, so
// polling is how tests hit the pending window without racing it.
func keepSignalling(stop <-chan struct{}, f func()) {
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				f()
				time.Sleep(time.Millisecond)
			}
		}
	}()
}
