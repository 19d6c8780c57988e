package agent

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/autoglm/autoagent/shared/jsonx"
)

// decisionWire mirrors the JSON object the reviewer model embeds in its
// free-text responses. Every field is optional; this boundary is hostile
// input.
type decisionWire struct {
	Type        string   `json:"type"`
	SelectedApp string   `json:"selectedApp"`
	Steps       []string `json:"steps"`
	Question    string   `json:"question"`
	Reason      string   `json:"reason"`
	NextStep    string   `json:"nextStep"`
	NewSteps    []string `json:"newSteps"`
	Message     string   `json:"message"`
	Tool        string   `json:"tool"`
	Step        int      `json:"step"`
	Note        string   `json:"note"`
}

// parseWire extracts and decodes the first JSON object in raw, repairing
// common model output defects (trailing commas, unquoted keys, fenced
// blocks) before decoding.
func parseWire(raw string) (*decisionWire, bool) {
	span, ok := jsonx.ExtractObject(raw)
	if !ok {
		return nil, false
	}

	var wire decisionWire
	if err := json.Unmarshal([]byte(span), &wire); err == nil {
		return &wire, true
	}

	repaired, err := jsonrepair.JSONRepair(span)
	if err != nil {
		return nil, false
	}
	if err := json.Unmarshal([]byte(repaired), &wire); err != nil {
		slog.Debug("decision JSON unusable after repair", "error", err)
		return nil, false
	}
	return &wire, true
}

// normalizeTool maps tool identifier synonyms onto the canonical set.
func normalizeTool(tool string) (ToolKind, bool) {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(tool), "-", "_")) {
	case "GET_UI", "GETUI", "GET_CURRENT_UI", "CURRENT_UI", "UI":
		return ToolCurrentUI, true
	case "GET_HISTORY_SCREENSHOT", "GETHISTORYSCREENSHOT", "HISTORY_SCREENSHOT", "GET_SCREENSHOT":
		return ToolHistoryScreenshot, true
	case "GET_HISTORY_UI", "GETHISTORYUI", "HISTORY_UI":
		return ToolHistoryUI, true
	}
	return "", false
}

// nextPlanStep returns the plan step following the current one, or empty
// when the plan is exhausted.
func nextPlanStep(plan *TaskPlan, currentStep int) string {
	if plan == nil {
		return ""
	}
	if currentStep >= 0 && currentStep < len(plan.Steps) {
		return plan.Steps[currentStep]
	}
	return ""
}

// parseDecision turns a raw model response into a Decision plus an optional
// note to absorb. Parsing never fails: anything unusable degrades to
// NEXT_STEP continuing the existing plan.
func parseDecision(raw string, plan *TaskPlan, currentStep int) (Decision, string) {
	fallback := NextStep{Instruction: nextPlanStep(plan, currentStep)}

	wire, ok := parseWire(raw)
	if !ok {
		slog.Debug("no decision object in response, continuing plan")
		return fallback, ""
	}

	note := strings.TrimSpace(wire.Note)

	switch strings.ToUpper(strings.TrimSpace(wire.Type)) {
	case "NEXT_STEP", "NOTE", "":
		instruction := strings.TrimSpace(wire.NextStep)
		if instruction == "" {
			instruction = nextPlanStep(plan, currentStep)
		}
		return NextStep{Instruction: instruction}, note

	case "REPLAN":
		steps := make([]string, 0, len(wire.NewSteps))
		for _, s := range wire.NewSteps {
			if t := strings.TrimSpace(s); t != "" {
				steps = append(steps, t)
			}
		}
		reason := strings.TrimSpace(wire.Reason)
		if reason == "" {
			reason = "plan revised"
		}
		return Replan{Steps: steps, Reason: reason}, note

	case "FINISH":
		message := strings.TrimSpace(wire.Message)
		if message == "" {
			message = "task complete"
		}
		return Finish{Message: message}, note

	case "GET_INFO":
		tool, ok := normalizeTool(wire.Tool)
		if !ok {
			slog.Debug("unknown tool in decision, defaulting to current UI", "tool", wire.Tool)
			tool = ToolCurrentUI
		}
		step := wire.Step
		if step <= 0 {
			step = currentStep
		}
		return GetInfo{Tool: tool, Step: step}, note

	case "ASK_USER":
		question := strings.TrimSpace(wire.Question)
		if question == "" {
			question = "more information is needed to continue"
		}
		return AskUser{Question: question}, note

	case "ERROR":
		message := strings.TrimSpace(wire.Message)
		if message == "" {
			message = strings.TrimSpace(wire.Reason)
		}
		if message == "" {
			message = "the reviewer reported an unrecoverable problem"
		}
		return DecisionError{Message: message}, note

	default:
		slog.Debug("unknown decision type, continuing plan", "type", wire.Type)
		return fallback, note
	}
}

// parsePlan turns a raw planning response into a PlanResult. Any failure
// degrades to a single-step plan wrapping the goal; planning never
// hard-fails.
func parsePlan(raw, goal string) PlanResult {
	fallback := PlanProposal{Plan: &TaskPlan{Goal: goal, Steps: []string{goal}}}

	wire, ok := parseWire(raw)
	if !ok {
		slog.Debug("no plan object in response, using single-step plan")
		return fallback
	}

	switch strings.ToUpper(strings.TrimSpace(wire.Type)) {
	case "ASK_USER":
		question := strings.TrimSpace(wire.Question)
		if question == "" {
			question = "please clarify the task"
		}
		return PlanQuestion{Question: question}

	case "PLAN", "":
		steps := make([]string, 0, len(wire.Steps))
		for _, s := range wire.Steps {
			if t := strings.TrimSpace(s); t != "" {
				steps = append(steps, t)
			}
		}
		if len(steps) == 0 {
			steps = []string{goal}
		}
		return PlanProposal{Plan: &TaskPlan{
			Goal:        goal,
			SelectedApp: strings.TrimSpace(wire.SelectedApp),
			Steps:       steps,
		}}

	default:
		slog.Debug("unknown plan type, using single-step plan", "type", wire.Type)
		return fallback
	}
}
