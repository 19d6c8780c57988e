package agent

import (
	"fmt"
	"strings"
	"time"
)

func planningSystemPrompt(now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Today is %s.\n\n", now.Format("Monday, January 2, 2006"))
	b.WriteString(`You are the task planning expert of an Android phone assistant. Your job is to decompose a user request into executable subtask steps. If the task is ambiguous, ask the user to clarify instead of guessing.

App selection knowledge:
- food delivery / bubble tea / coffee -> Meituan, Eleme, Luckin
- online shopping -> Taobao, JD, Pinduoduo
- ride hailing -> Didi, Amap, Baidu Maps
- messaging / chat -> WeChat, QQ
- hotels / flights -> Ctrip, Fliggy
- information search -> browser, Douyin, Xiaohongshu

Execution rules the worker follows (account for them while planning):
1. Verify the target app is in the foreground before acting.
2. Wait for a loading page at most 3 times.
3. On a network error, tap reload.
4. When a target is not visible, scroll to look for it.
5. Filters may be relaxed when nothing matches.
6. Clear cart selections before cart operations.
7. Keep food delivery orders within a single shop.
8. Honor the user's specific requirements (flavor, price).
9. Pause before confirming any payment and wait for the user.
10. Request user intervention for login or verification prompts.
11. A stated price like 9.9 allows roughly 10% slack either way.

Decision types:
1. PLAN - the task is clear, return a step list.
2. ASK_USER - the task is ambiguous, ask a clarifying question.

Output format when the task is clear:
{"type": "PLAN", "selectedApp": "app name", "steps": ["step 1", "step 2"], "note": "planning notes"}

Output format when clarification is needed:
{"type": "ASK_USER", "question": "Do you want delivery, or bubble tea powder from Taobao?"}`)
	return b.String()
}

func reviewSystemPrompt() string {
	return `You are the execution supervisor. Review the worker's report and the current screenshot, then decide the next move.

Decision types:
1. NEXT_STEP - the current step is fine, keep going.
2. REPLAN - an obstacle requires a different path.
3. FINISH - the task is done.
4. GET_INFO - more context is needed (use a tool).
5. NOTE - record a key piece of data.
6. ERROR - the task cannot continue (explain why).

Available tools:
- GET_UI: dump the current page's UI tree
- GET_HISTORY_SCREENSHOT: fetch an earlier screenshot (step=1-5)
- GET_HISTORY_UI: fetch an earlier UI tree (step=1-3)

Exception handling:
- The same action failing 3 times in a row -> REPLAN.
- A login or verification dialog -> pause and ask the user.
- App crash -> relaunch it.

Output format:
{
  "type": "NEXT_STEP|REPLAN|FINISH|GET_INFO|NOTE|ERROR",
  "reason": "why",
  "nextStep": "instruction for the next step",
  "newSteps": ["replacement steps"],
  "message": "finish or error message",
  "tool": "tool name",
  "step": 2,
  "note": "note content"
}`
}

func planningUserPrompt(goal string) string {
	return fmt.Sprintf("Analyze the following task and produce an execution plan.\n\nTask: %s", goal)
}

func buildReviewPrompt(report *WorkerReport, snap *ContextSnapshot, notes []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Task goal: %s\n\n", snap.Goal)
	fmt.Fprintf(&b, "Progress: step %d of %d\n", snap.CurrentStep, snap.TotalSteps)
	fmt.Fprintf(&b, "Current subtask: %s\n\n", report.SubTask)

	fmt.Fprintf(&b, "Worker report:\nstatus: %s\n", report.Status)
	fmt.Fprintf(&b, "%d actions taken:\n", report.StepsTaken)
	for i, action := range report.Actions {
		outcome := "failed"
		if i < len(report.Successes) && report.Successes[i] {
			outcome = "ok"
		}
		fmt.Fprintf(&b, "  %d. %s [%s]\n", i+1, action, outcome)
	}
	if report.Message != "" {
		fmt.Fprintf(&b, "additional info: %s\n", report.Message)
	}
	b.WriteString("\n")

	if len(snap.History) > 0 {
		b.WriteString("Recent history:\n")
		for _, entry := range snap.History {
			b.WriteString(entry)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(notes) > 0 {
		b.WriteString("Notes:\n")
		for _, note := range notes {
			fmt.Fprintf(&b, "- %s\n", note)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Foreground app: %s\n", snap.CurrentApp)
	if report.Screenshot != nil {
		b.WriteString("(current screenshot attached)\n")
	}
	b.WriteString("\nReview the report and decide the next move.")

	return b.String()
}
