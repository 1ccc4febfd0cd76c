package input

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const adbTimeout = 5 * time.Second

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// ADBInjector taps an Android device's screen through `adb shell input motionevent`.
type ADBInjector struct {
	binary string
	serial string
	run    commandRunner
	log    *logrus.Entry
}

// NewADBInjector creates an injector for the device with the given serial
// (empty for the only attached device). binary defaults to "adb".
func NewADBInjector(binary, serial string) *ADBInjector {
	if binary == "" {
		binary = "adb"
	}
	return &ADBInjector{
		binary: binary,
		serial: serial,
		run:    runCommand,
		log:    logrus.WithField("component", "input"),
	}
}

// HasPermission is true when adb reports the device as online and authorised
func (a *ADBInjector) HasPermission() bool {
	out, err := a.exec("get-state")
	if err != nil {
		a.log.Debugf("ADB: get-state failed: %v (%s)", err, strings.TrimSpace(string(out)))
		return false
	}
	return strings.TrimSpace(string(out)) == "device"
}

// Press injects ACTION_DOWN at (x, y)
func (a *ADBInjector) Press(x, y int) error {
	return a.motion("DOWN", x, y)
}

// Release injects ACTION_UP at (x, y)
func (a *ADBInjector) Release(x, y int) error {
	return a.motion("UP", x, y)
}

// Close is a no-op; adb holds no per-injector resources
func (a *ADBInjector) Close() error {
	return nil
}

func (a *ADBInjector) motion(action string, x, y int) error {
	if x < 0 || y < 0 {
		return errors.Wrapf(ErrOutOfBounds, "(%d,%d)", x, y)
	}
	out, err := a.exec("shell", "input", "motionevent", action, strconv.Itoa(x), strconv.Itoa(y))
	if err != nil {
		return errors.Wrapf(err, "adb motionevent %s (%d,%d): %s", action, x, y, strings.TrimSpace(string(out)))
	}
	return nil
}

func (a *ADBInjector) exec(args ...string) ([]byte, error) {
	if a.serial != "" {
		args = append([]string{"-s", a.serial}, args...)
	}
	ctx, cancel := context.WithTimeout(context.Background(), adbTimeout)
	defer cancel()
	return a.run(ctx, a.binary, args...)
}
