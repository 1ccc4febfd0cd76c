package input

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DryRunInjector accepts every touch and only logs it
type DryRunInjector struct {
	mu     sync.Mutex
	events []TouchEvent
	log    *logrus.Entry
}

func NewDryRunInjector() *DryRunInjector {
	return &DryRunInjector{log: logrus.WithField("component", "input")}
}

func (d *DryRunInjector) HasPermission() bool { return true }

func (d *DryRunInjector) Press(x, y int) error {
	d.record("press", x, y)
	return nil
}

func (d *DryRunInjector) Release(x, y int) error {
	d.record("release", x, y)
	return nil
}

func (d *DryRunInjector) Close() error { return nil }

// Events returns the touches seen so far
func (d *DryRunInjector) Events() []TouchEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]TouchEvent(nil), d.events...)
}

func (d *DryRunInjector) record(kind string, x, y int) {
	ev := TouchEvent{Type: kind, X: x, Y: y, Timestamp: time.Now().UnixMilli()}
	d.mu.Lock()
	d.events = append(d.events, ev)
	d.mu.Unlock()
	d.log.Infof("DryRun: %s at (%d,%d)", kind, x, y)
}
