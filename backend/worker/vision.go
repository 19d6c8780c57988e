// Package worker implements the fast, low-latency execution role: a vision
// model looks at the current screen and performs a small batch of UI actions
// per step.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/autoglm/autoagent/backend/agent"
	"github.com/autoglm/autoagent/backend/device"
	"github.com/autoglm/autoagent/backend/model"
	"github.com/autoglm/autoagent/shared/jsonx"
)

const (
	maxActionsPerStep  = 5
	recentActionWindow = 10
)

// VisionWorker drives the device one step at a time. Each step captures a
// screenshot, asks the model for the next actions, and executes them.
type VisionWorker struct {
	provider  model.Provider
	modelName string
	executor  device.Executor
	observer  device.Observer
	launcher  device.Launcher
	catalog   *device.AppCatalog

	mu       sync.Mutex
	steps    int
	guidance string
	recent   []string
}

var _ agent.Worker = (*VisionWorker)(nil)

type Option func(*VisionWorker)

// WithLauncher enables the launch action.
func WithLauncher(l device.Launcher, catalog *device.AppCatalog) Option {
	return func(w *VisionWorker) {
		w.launcher = l
		w.catalog = catalog
	}
}

func NewVisionWorker(provider model.Provider, modelName string, executor device.Executor, observer device.Observer, opts ...Option) *VisionWorker {
	w := &VisionWorker{
		provider:  provider,
		modelName: modelName,
		executor:  executor,
		observer:  observer,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *VisionWorker) CheckAvailability(ctx context.Context) bool {
	return w.provider != nil && w.modelName != "" && w.executor != nil && w.executor.IsAvailable(ctx)
}

func (w *VisionWorker) ResetStepCount() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.steps = 0
	w.guidance = ""
	w.recent = nil
}

// SetGuidance stores reviewer guidance; it is injected into the next step's
// prompt and then cleared.
func (w *VisionWorker) SetGuidance(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.guidance = text
}

// ExecuteSingleStep performs one worker step. The returned report's
// screenshot is owned by the caller. Bridge errors from capture or action
// execution propagate so the coordinator can abort the task.
func (w *VisionWorker) ExecuteSingleStep(ctx context.Context, goal string) (*agent.WorkerReport, error) {
	shot, err := w.observer.CaptureScreen(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture screen: %w", err)
	}

	w.mu.Lock()
	w.steps++
	guidance := w.guidance
	w.guidance = ""
	recent := make([]string, len(w.recent))
	copy(recent, w.recent)
	w.mu.Unlock()

	prompt := buildStepPrompt(goal, guidance, recent)
	messages := []*model.Message{
		model.NewUserMessage(
			&model.ImageBlock{MediaType: "image/png", Data: shot.PNG()},
			&model.TextBlock{Text: prompt},
		),
	}

	resp, err := w.provider.Invoke(ctx, w.modelName, workerSystemPrompt, messages)
	if err != nil {
		shot.Release()
		return nil, fmt.Errorf("worker model call: %w", err)
	}

	step := parseStepResponse(resp.Content)

	report := &agent.WorkerReport{
		SubTask:    step.SubTask,
		Screenshot: shot,
		Status:     step.Status,
		Message:    step.Message,
	}
	if report.SubTask == "" {
		report.SubTask = goal
	}

	for i, action := range step.Actions {
		if i >= maxActionsPerStep {
			break
		}
		ok, err := w.execute(ctx, action)
		if err != nil {
			// the report is lost, release the screenshot before bailing
			shot.Release()
			return nil, err
		}
		desc := action.describe()
		report.Actions = append(report.Actions, desc)
		report.Successes = append(report.Successes, ok)
		report.StepsTaken++

		w.remember(fmt.Sprintf("%s: %v", desc, ok))
	}

	slog.Debug("worker step done",
		"subtask", report.SubTask,
		"status", report.Status,
		"actions", len(report.Actions),
	)

	return report, nil
}

func (w *VisionWorker) remember(entry string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recent = append(w.recent, entry)
	if len(w.recent) > recentActionWindow {
		w.recent = w.recent[len(w.recent)-recentActionWindow:]
	}
}

func (w *VisionWorker) execute(ctx context.Context, a stepAction) (bool, error) {
	switch a.Type {
	case "tap":
		return w.executor.Tap(ctx, a.X, a.Y)
	case "double_tap":
		return w.executor.DoubleTap(ctx, a.X, a.Y)
	case "long_press":
		return w.executor.LongPress(ctx, a.X, a.Y)
	case "swipe", "scroll":
		return w.executor.Scroll(ctx, a.X, a.Y, a.ToX, a.ToY)
	case "input":
		return w.executor.InputText(ctx, a.Text)
	case "key":
		return w.executor.PressKey(ctx, a.Code)
	case "back":
		return w.executor.PressBack(ctx)
	case "home":
		return w.executor.PressHome(ctx)
	case "launch":
		if w.launcher == nil {
			return false, nil
		}
		pkg := a.App
		if w.catalog != nil {
			if resolved, ok := w.catalog.Resolve(a.App); ok {
				pkg = resolved
			}
		}
		return w.launcher.LaunchApp(ctx, pkg)
	case "wait":
		ms := a.Ms
		if ms <= 0 || ms > 5000 {
			ms = 1000
		}
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
			return true, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	default:
		slog.Warn("unknown action type", "type", a.Type)
		return false, nil
	}
}

type stepAction struct {
	Type string `json:"type"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
	ToX  int    `json:"toX"`
	ToY  int    `json:"toY"`
	Text string `json:"text"`
	Code int    `json:"code"`
	App  string `json:"app"`
	Ms   int    `json:"ms"`
}

func (a stepAction) describe() string {
	switch a.Type {
	case "tap", "double_tap", "long_press":
		return fmt.Sprintf("%s (%d,%d)", a.Type, a.X, a.Y)
	case "swipe", "scroll":
		return fmt.Sprintf("swipe (%d,%d)->(%d,%d)", a.X, a.Y, a.ToX, a.ToY)
	case "input":
		return fmt.Sprintf("input %q", a.Text)
	case "key":
		return fmt.Sprintf("key %d", a.Code)
	case "launch":
		return "launch " + a.App
	case "wait":
		return fmt.Sprintf("wait %dms", a.Ms)
	default:
		return a.Type
	}
}

type stepResponse struct {
	SubTask string             `json:"subTask"`
	Status  agent.WorkerStatus `json:"status"`
	Message string             `json:"message"`
	Actions []stepAction       `json:"actions"`
}

// parseStepResponse decodes the model's step JSON. Anything unusable
// degrades to a STUCK report so the reviewer gets a chance to help.
func parseStepResponse(raw string) stepResponse {
	fallback := stepResponse{
		Status:  agent.StatusStuck,
		Message: "could not understand the model response",
	}

	span, ok := jsonx.ExtractObject(raw)
	if !ok {
		return fallback
	}

	var resp stepResponse
	if err := json.Unmarshal([]byte(span), &resp); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(span)
		if rerr != nil {
			return fallback
		}
		if err := json.Unmarshal([]byte(repaired), &resp); err != nil {
			return fallback
		}
	}

	switch resp.Status {
	case agent.StatusInProgress, agent.StatusCompleted, agent.StatusStuck, agent.StatusFailed, agent.StatusNeedsUser:
	default:
		resp.Status = agent.StatusInProgress
	}
	return resp
}

const workerSystemPrompt = `You control an Android phone and execute one small step of a larger task per turn. You see the current screen as an image.

Rules:
1. Verify you are in the right app before acting; launch it if not.
2. Wait for loading pages, at most 3 times in a row.
3. On a network error, tap reload.
4. Scroll to find targets that are not visible.
5. Pause before any payment confirmation and report NEEDS_USER.
6. Report NEEDS_USER for login or verification prompts.
7. Report STUCK when the same approach failed repeatedly.

Respond with a single JSON object:
{
  "subTask": "what you are doing now",
  "status": "IN_PROGRESS|COMPLETED|STUCK|FAILED|NEEDS_USER",
  "message": "extra context for the supervisor",
  "actions": [
    {"type": "tap", "x": 100, "y": 200},
    {"type": "double_tap", "x": 100, "y": 200},
    {"type": "long_press", "x": 100, "y": 200},
    {"type": "swipe", "x": 500, "y": 1500, "toX": 500, "toY": 500},
    {"type": "input", "text": "bubble tea"},
    {"type": "key", "code": 66},
    {"type": "back"},
    {"type": "home"},
    {"type": "launch", "app": "meituan"},
    {"type": "wait", "ms": 1000}
  ]
}

Use at most 5 actions per turn. Use an empty actions list with status COMPLETED when the whole task is done.`

func buildStepPrompt(goal, guidance string, recent []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task goal: %s\n", goal)
	if guidance != "" {
		fmt.Fprintf(&b, "\nSupervisor guidance for this step: %s\n", guidance)
	}
	if len(recent) > 0 {
		b.WriteString("\nYour recent actions:\n")
		for _, entry := range recent {
			fmt.Fprintf(&b, "- %s\n", entry)
		}
	}
	b.WriteString("\nDecide and perform the next step.")
	return b.String()
}
