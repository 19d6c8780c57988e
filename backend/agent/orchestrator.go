package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/autoglm/autoagent/backend/model"
)

// Reviewer is the high-latency planning and oversight role. The coordinator
// depends on this interface so tests can substitute doubles.
type Reviewer interface {
	CheckAvailability(ctx context.Context) bool
	// PlanTask resets conversation state and decomposes the goal. It never
	// fails: transport and parse failures degrade to a single-step plan.
	PlanTask(ctx context.Context, goal string) PlanResult
	// Review audits a worker report. Transport failure surfaces as a
	// DecisionError; parse failure degrades to NextStep.
	Review(ctx context.Context, report *WorkerReport, snap *ContextSnapshot) Decision
	// ContinueWithToolResult feeds a resolved tool request back into the
	// conversation and obtains a follow-up decision.
	ContinueWithToolResult(ctx context.Context, tool ToolKind, result *ToolResult, snap *ContextSnapshot) Decision
	AddNote(text string)
	Notes() []string
	ClearHistory()
}

// Orchestrator implements Reviewer on top of a model provider. It keeps a
// running conversation per task plus a note journal echoed into every review
// prompt.
type Orchestrator struct {
	provider  model.Provider
	modelName string

	mu           sync.Mutex
	conversation []*model.Message
	notes        []string
}

var _ Reviewer = (*Orchestrator)(nil)

func NewOrchestrator(provider model.Provider, modelName string) *Orchestrator {
	return &Orchestrator{provider: provider, modelName: modelName}
}

// CheckAvailability reports whether a usable model configuration is present.
func (o *Orchestrator) CheckAvailability(ctx context.Context) bool {
	return o.provider != nil && o.modelName != ""
}

func (o *Orchestrator) PlanTask(ctx context.Context, goal string) PlanResult {
	o.mu.Lock()
	o.conversation = nil
	o.notes = nil
	userMsg := model.NewUserText(planningUserPrompt(goal))
	o.conversation = append(o.conversation, userMsg)
	messages := o.snapshotConversation()
	o.mu.Unlock()

	resp, err := o.provider.Invoke(ctx, o.modelName, planningSystemPrompt(time.Now()), messages)
	if err != nil {
		slog.Error("planning call failed, using single-step plan", "error", err)
		return PlanProposal{Plan: &TaskPlan{Goal: goal, Steps: []string{goal}}}
	}

	o.appendAssistant(resp.Content)
	return parsePlan(resp.Content, goal)
}

func (o *Orchestrator) Review(ctx context.Context, report *WorkerReport, snap *ContextSnapshot) Decision {
	var blocks []model.ContentBlock
	if report.Screenshot != nil {
		if png := report.Screenshot.PNG(); len(png) > 0 {
			blocks = append(blocks, &model.ImageBlock{MediaType: "image/png", Data: png})
		}
	}
	blocks = append(blocks, &model.TextBlock{Text: buildReviewPrompt(report, snap, o.Notes())})

	o.mu.Lock()
	o.conversation = append(o.conversation, model.NewUserMessage(blocks...))
	messages := o.snapshotConversation()
	o.mu.Unlock()

	return o.requestDecision(ctx, messages, snap)
}

func (o *Orchestrator) ContinueWithToolResult(ctx context.Context, tool ToolKind, result *ToolResult, snap *ContextSnapshot) Decision {
	var msg *model.Message
	switch {
	case result == nil:
		msg = model.NewUserText("The requested information is unavailable. Continue deciding.")
	case tool == ToolHistoryScreenshot && len(result.Image) > 0:
		msg = model.NewUserMessage(
			&model.ImageBlock{MediaType: "image/png", Data: result.Image},
			&model.TextBlock{Text: "This is the historical screenshot you requested. Continue deciding."},
		)
	case tool == ToolCurrentUI:
		text := result.Text
		if text == "" {
			text = "UI tree unavailable"
		}
		msg = model.NewUserText(fmt.Sprintf("Current UI tree:\n%s\n\nContinue deciding based on this.", text))
	default:
		text := result.Text
		if text == "" {
			text = "historical UI tree unavailable"
		}
		msg = model.NewUserText(fmt.Sprintf("Historical UI tree:\n%s\n\nContinue deciding.", text))
	}

	o.mu.Lock()
	o.conversation = append(o.conversation, msg)
	messages := o.snapshotConversation()
	o.mu.Unlock()

	return o.requestDecision(ctx, messages, snap)
}

func (o *Orchestrator) AddNote(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notes = append(o.notes, text)
	slog.Debug("note added", "note", text)
}

func (o *Orchestrator) Notes() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.notes))
	copy(out, o.notes)
	return out
}

func (o *Orchestrator) ClearHistory() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.conversation = nil
	o.notes = nil
}

func (o *Orchestrator) requestDecision(ctx context.Context, messages []*model.Message, snap *ContextSnapshot) Decision {
	resp, err := o.provider.Invoke(ctx, o.modelName, reviewSystemPrompt(), messages)
	if err != nil {
		slog.Error("review call failed", "error", err)
		return DecisionError{Message: fmt.Sprintf("review failed: %v", err)}
	}

	o.appendAssistant(resp.Content)

	decision, note := parseDecision(resp.Content, snap.Plan, snap.CurrentStep)
	if note != "" {
		o.AddNote(note)
	}
	return decision
}

func (o *Orchestrator) appendAssistant(content string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.conversation = append(o.conversation, model.NewAssistantText(content))
}

func (o *Orchestrator) snapshotConversation() []*model.Message {
	out := make([]*model.Message, len(o.conversation))
	copy(out, o.conversation)
	return out
}
