// Package device defines the capability contracts the agent core drives a
// phone through: performing input actions, observing the screen, and
// launching applications. The bundled implementation bridges to a device
// over adb; on-device backends (accessibility service, privileged shell
// service) satisfy the same interfaces.
package device

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Executor performs a single input action. The boolean result reports
// whether the action landed; an error is reserved for systemic bridge
// faults (see BridgeError) which must abort the running task.
type Executor interface {
	Tap(ctx context.Context, x, y int) (bool, error)
	Scroll(ctx context.Context, x1, y1, x2, y2 int) (bool, error)
	InputText(ctx context.Context, text string) (bool, error)
	PressKey(ctx context.Context, keyCode int) (bool, error)
	PressBack(ctx context.Context) (bool, error)
	PressHome(ctx context.Context) (bool, error)
	LongPress(ctx context.Context, x, y int) (bool, error)
	DoubleTap(ctx context.Context, x, y int) (bool, error)
	IsAvailable(ctx context.Context) bool
}

// Observer reads the current UI state.
type Observer interface {
	CaptureScreen(ctx context.Context) (Screenshot, error)
	DumpUITree(ctx context.Context) (string, error)
	ForegroundApp(ctx context.Context) (string, error)
}

// Launcher opens an application by package name.
type Launcher interface {
	LaunchApp(ctx context.Context, pkg string) (bool, error)
}

// Android key codes used by the agent.
const (
	KeyCodeHome  = 3
	KeyCodeBack  = 4
	KeyCodeEnter = 66
)

// Screenshot is an owned image capture. Whoever holds the screenshot last is
// responsible for calling Release exactly once; after that the pixel data
// must not be touched.
type Screenshot interface {
	PNG() []byte
	Release()
}

type screenshot struct {
	data     []byte
	released atomic.Bool
}

func NewScreenshot(data []byte) Screenshot {
	return &screenshot{data: data}
}

func (s *screenshot) PNG() []byte {
	if s.released.Load() {
		return nil
	}
	return s.data
}

func (s *screenshot) Release() {
	if s.released.CompareAndSwap(false, true) {
		s.data = nil
	}
}

// BridgeError signals that the execution substrate itself failed (device
// gone, bridge process dead), as opposed to an action that simply did not
// land. Bridge faults are fatal to the running task.
type BridgeError struct {
	Op  string
	Err error
}

func (e *BridgeError) Error() string {
	return fmt.Sprintf("device bridge fault during %s: %s", e.Op, e.Err)
}

func (e *BridgeError) Unwrap() error {
	return e.Err
}

func (e *BridgeError) Is(target error) bool {
	_, ok := target.(*BridgeError)
	return ok
}
