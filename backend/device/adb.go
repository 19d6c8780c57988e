package device

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	longPressDuration = 800 * time.Millisecond
	scrollDuration    = 300 * time.Millisecond
	doubleTapGap      = 100 * time.Millisecond
)

// commandRunner abstracts adb invocation for tests.
type commandRunner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

type execRunner struct {
	adbPath string
	serial  string
}

func (r *execRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	full := args
	if r.serial != "" {
		full = append([]string{"-s", r.serial}, args...)
	}

	cmd := exec.CommandContext(ctx, r.adbPath, full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), fmt.Errorf("adb %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// ADBBridge drives a device through the adb host binary. It implements
// Executor, Observer, and Launcher.
type ADBBridge struct {
	runner commandRunner
}

type ADBOption func(*execRunner)

func WithADBPath(path string) ADBOption {
	return func(r *execRunner) {
		r.adbPath = path
	}
}

func WithSerial(serial string) ADBOption {
	return func(r *execRunner) {
		r.serial = serial
	}
}

func NewADBBridge(opts ...ADBOption) *ADBBridge {
	runner := &execRunner{adbPath: "adb"}
	for _, opt := range opts {
		opt(runner)
	}
	return &ADBBridge{runner: runner}
}

func (b *ADBBridge) Tap(ctx context.Context, x, y int) (bool, error) {
	return b.input(ctx, "tap", strconv.Itoa(x), strconv.Itoa(y))
}

func (b *ADBBridge) Scroll(ctx context.Context, x1, y1, x2, y2 int) (bool, error) {
	return b.input(ctx, "swipe",
		strconv.Itoa(x1), strconv.Itoa(y1),
		strconv.Itoa(x2), strconv.Itoa(y2),
		strconv.Itoa(int(scrollDuration.Milliseconds())))
}

var textEscaper = strings.NewReplacer(
	" ", "%s",
	"&", "\\&",
	"<", "\\<",
	">", "\\>",
	"|", "\\|",
	";", "\\;",
	"\"", "\\\"",
	"'", "\\'",
	"(", "\\(",
	")", "\\)",
)

func (b *ADBBridge) InputText(ctx context.Context, text string) (bool, error) {
	return b.input(ctx, "text", textEscaper.Replace(text))
}

func (b *ADBBridge) PressKey(ctx context.Context, keyCode int) (bool, error) {
	return b.input(ctx, "keyevent", strconv.Itoa(keyCode))
}

func (b *ADBBridge) PressBack(ctx context.Context) (bool, error) {
	return b.PressKey(ctx, KeyCodeBack)
}

func (b *ADBBridge) PressHome(ctx context.Context) (bool, error) {
	return b.PressKey(ctx, KeyCodeHome)
}

func (b *ADBBridge) LongPress(ctx context.Context, x, y int) (bool, error) {
	// A swipe that stays in place is the canonical long press over adb.
	return b.input(ctx, "swipe",
		strconv.Itoa(x), strconv.Itoa(y),
		strconv.Itoa(x), strconv.Itoa(y),
		strconv.Itoa(int(longPressDuration.Milliseconds())))
}

func (b *ADBBridge) DoubleTap(ctx context.Context, x, y int) (bool, error) {
	ok, err := b.Tap(ctx, x, y)
	if err != nil || !ok {
		return ok, err
	}

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(doubleTapGap):
	}

	return b.Tap(ctx, x, y)
}

func (b *ADBBridge) IsAvailable(ctx context.Context) bool {
	out, err := b.runner.Run(ctx, "get-state")
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "device"
}

func (b *ADBBridge) CaptureScreen(ctx context.Context) (Screenshot, error) {
	out, err := b.runner.Run(ctx, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, &BridgeError{Op: "screencap", Err: err}
	}
	if len(out) == 0 {
		return nil, &BridgeError{Op: "screencap", Err: fmt.Errorf("empty capture")}
	}
	return NewScreenshot(out), nil
}

func (b *ADBBridge) DumpUITree(ctx context.Context) (string, error) {
	out, err := b.runner.Run(ctx, "exec-out", "uiautomator", "dump", "/dev/tty")
	if err != nil {
		return "", &BridgeError{Op: "uiautomator dump", Err: err}
	}

	// uiautomator appends a status line after the XML document.
	dump := string(out)
	if idx := strings.LastIndex(dump, ">"); idx >= 0 {
		dump = dump[:idx+1]
	}
	return strings.TrimSpace(dump), nil
}

var resumedActivityPattern = regexp.MustCompile(`mResumedActivity.*\s([\w.]+)/[\w.$]+`)

func (b *ADBBridge) ForegroundApp(ctx context.Context) (string, error) {
	out, err := b.runner.Run(ctx, "shell", "dumpsys", "activity", "activities")
	if err != nil {
		return "", &BridgeError{Op: "dumpsys activity", Err: err}
	}

	if match := resumedActivityPattern.FindStringSubmatch(string(out)); match != nil {
		return match[1], nil
	}
	return "", fmt.Errorf("no resumed activity found")
}

func (b *ADBBridge) LaunchApp(ctx context.Context, pkg string) (bool, error) {
	out, err := b.runner.Run(ctx, "shell", "monkey", "-p", pkg, "-c", "android.intent.category.LAUNCHER", "1")
	if err != nil {
		return false, &BridgeError{Op: "launch " + pkg, Err: err}
	}
	return !strings.Contains(string(out), "No activities found"), nil
}

// ListPackages returns the package names installed on the device.
func (b *ADBBridge) ListPackages(ctx context.Context) ([]string, error) {
	out, err := b.runner.Run(ctx, "shell", "pm", "list", "packages")
	if err != nil {
		return nil, &BridgeError{Op: "pm list packages", Err: err}
	}

	var packages []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if pkg, ok := strings.CutPrefix(line, "package:"); ok && pkg != "" {
			packages = append(packages, pkg)
		}
	}
	return packages, nil
}

func (b *ADBBridge) input(ctx context.Context, args ...string) (bool, error) {
	out, err := b.runner.Run(ctx, append([]string{"shell", "input"}, args...)...)
	if err != nil {
		if isTransportFault(err) {
			return false, &BridgeError{Op: "input " + args[0], Err: err}
		}
		slog.Debug("input action failed", "action", args[0], "error", err)
		return false, nil
	}
	// `input` reports usage errors on stdout with exit code 0.
	if strings.Contains(string(out), "Error") {
		return false, nil
	}
	return true, nil
}

func isTransportFault(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "no devices") ||
		strings.Contains(msg, "device offline") ||
		strings.Contains(msg, "device unauthorized") ||
		strings.Contains(msg, "executable file not found") ||
		strings.Contains(msg, "connection reset")
}
