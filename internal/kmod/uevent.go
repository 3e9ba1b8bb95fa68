package kmod

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/pilebones/go-udev/netlink"

	"rigup/internal/logging"
)

// DeviceWatcher opens a uevent subscription for a subsystem. The watch must
// be started before the module load so the add event cannot race past it.
type DeviceWatcher interface {
	Start(subsystem string) (DeviceWatch, error)
}

// DeviceWatch waits for a single matched uevent.
type DeviceWatch interface {
	Wait(timeout time.Duration) error
	Close()
}

// netlinkWatcher subscribes to udev netlink events.
type netlinkWatcher struct {
	logger *slog.Logger
}

// NewNetlinkWatcher returns a DeviceWatcher backed by the kernel's udev
// netlink socket.
func NewNetlinkWatcher(logger *slog.Logger) DeviceWatcher {
	return &netlinkWatcher{logger: logging.NewComponentLogger(logger, "uevent")}
}

func (w *netlinkWatcher) Start(subsystem string) (DeviceWatch, error) {
	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		return nil, fmt.Errorf("connect netlink socket: %w", err)
	}

	action := "add"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": subsystem,
		},
	})

	queue := make(chan netlink.UEvent, 4)
	errs := make(chan error, 1)
	quit := conn.Monitor(queue, errs, rules)

	return &netlinkWatch{conn: conn, queue: queue, errs: errs, quit: quit}, nil
}

type netlinkWatch struct {
	conn   *netlink.UEventConn
	queue  chan netlink.UEvent
	errs   chan error
	quit   chan struct{}
	closed bool
}

func (w *netlinkWatch) Wait(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.queue:
		return nil
	case err := <-w.errs:
		return fmt.Errorf("uevent monitor: %w", err)
	case <-timer.C:
		return fmt.Errorf("no uevent within %s", timeout)
	}
}

func (w *netlinkWatch) Close() {
	if w.closed {
		return
	}
	w.closed = true
	close(w.quit)
	_ = w.conn.Close()
}
