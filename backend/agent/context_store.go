package agent

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/autoglm/autoagent/backend/device"
)

const (
	screenshotCacheSize = 5
	uiTreeCacheSize     = 3
	maxHistoryEntries   = 20

	compactedSentinel = "[earlier steps compacted]"
)

// ContextStore holds the bounded per-task context: recent screenshots, UI
// tree snapshots, a compacting history log, and the active plan. It is a
// long-lived singleton; Reset clears it at task start and cleanup.
//
// Cache reads use Peek so recency order stays equal to insertion order and
// eviction always drops the lowest step index. The store owns cached
// screenshots and releases them on eviction and reset.
type ContextStore struct {
	mu sync.Mutex

	screenshots *lru.Cache[int, device.Screenshot]
	uiTrees     *lru.Cache[int, string]
	history     []string

	plan       *TaskPlan
	currentApp string
}

func NewContextStore() *ContextStore {
	screenshots, err := lru.NewWithEvict[int, device.Screenshot](screenshotCacheSize, func(_ int, shot device.Screenshot) {
		shot.Release()
	})
	if err != nil {
		panic(fmt.Sprintf("screenshot cache: %v", err))
	}

	uiTrees, err := lru.New[int, string](uiTreeCacheSize)
	if err != nil {
		panic(fmt.Sprintf("ui tree cache: %v", err))
	}

	return &ContextStore{
		screenshots: screenshots,
		uiTrees:     uiTrees,
	}
}

// Reset clears all caches, history, and the plan. Cached screenshots are
// released. Called at task start and at cleanup so nothing leaks between
// tasks.
func (s *ContextStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.screenshots.Purge()
	s.uiTrees.Purge()
	s.history = nil
	s.plan = nil
	s.currentApp = ""
}

// SetPlan installs the active plan.
func (s *ContextStore) SetPlan(plan *TaskPlan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plan = plan
}

// Plan returns the active plan, or nil outside a task.
func (s *ContextStore) Plan() *TaskPlan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plan
}

// ReplaceSteps swaps the plan's remaining steps after a REPLAN decision.
func (s *ContextStore) ReplaceSteps(steps []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.plan != nil && len(steps) > 0 {
		s.plan.Steps = steps
	}
}

// SetCurrentApp records the foreground application identifier.
func (s *ContextStore) SetCurrentApp(app string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentApp = app
}

func (s *ContextStore) CurrentApp() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentApp
}

// CacheScreenshot stores a screenshot under a step index, taking ownership.
// When the cache is full the lowest-indexed entry is evicted and released.
func (s *ContextStore) CacheScreenshot(step int, shot device.Screenshot) {
	if shot == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.screenshots.Add(step, shot)
}

// Screenshot returns the cached screenshot for a step without disturbing
// eviction order. The store retains ownership.
func (s *ContextStore) Screenshot(step int) (device.Screenshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screenshots.Peek(step)
}

// CacheUITree stores a UI tree dump under a step index.
func (s *ContextStore) CacheUITree(step int, tree string) {
	if tree == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uiTrees.Add(step, tree)
}

// UITree returns the cached UI tree for a step.
func (s *ContextStore) UITree(step int) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uiTrees.Peek(step)
}

// AppendHistory adds one entry to the history log. When the log exceeds its
// cap, the older half collapses into a single sentinel entry followed by the
// most recent entries.
func (s *ContextStore) AppendHistory(entry string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, entry)
	if len(s.history) > maxHistoryEntries {
		keep := maxHistoryEntries / 2
		tail := s.history[len(s.history)-keep:]
		compacted := make([]string, 0, keep+1)
		compacted = append(compacted, compactedSentinel)
		compacted = append(compacted, tail...)
		s.history = compacted
	}
}

// History returns a copy of the history log.
func (s *ContextStore) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.history))
	copy(out, s.history)
	return out
}

// HistoryTail returns at most n most recent entries.
func (s *ContextStore) HistoryTail(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n >= len(s.history) {
		n = len(s.history)
	}
	out := make([]string, n)
	copy(out, s.history[len(s.history)-n:])
	return out
}

// ScreenshotCount reports the number of cached screenshots.
func (s *ContextStore) ScreenshotCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screenshots.Len()
}

// UITreeCount reports the number of cached UI trees.
func (s *ContextStore) UITreeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uiTrees.Len()
}
