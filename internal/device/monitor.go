// Package device tracks fingerprint scanner hardware presence via udev
// netlink events.
package device

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/pilebones/go-udev/netlink"
)

// Monitor listens for udev netlink events and keeps an attach/detach view of
// capture hardware. It is advisory: enumeration still works without it, the
// monitor only surfaces hotplug transitions in logs and presence queries.
type Monitor struct {
	logger    *slog.Logger
	subsystem string

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
	present map[string]struct{}
}

// NewMonitor creates a monitor for the given udev subsystem (video4linux for
// UVC-attached sensors).
func NewMonitor(logger *slog.Logger, subsystem string) *Monitor {
	if strings.TrimSpace(subsystem) == "" {
		subsystem = "video4linux"
	}
	return &Monitor{
		logger:    logger,
		subsystem: subsystem,
		present:   make(map[string]struct{}),
	}
}

// Start begins listening for hotplug events. A netlink connect failure is
// non-fatal; the service falls back to direct enumeration.
func (m *Monitor) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		m.logger.Warn("netlink socket unavailable, hotplug tracking disabled", "error", err)
		return nil
	}

	m.conn = conn
	m.quit = make(chan struct{})
	m.running = true

	quit := m.quit
	go m.loop(ctx, quit)

	m.logger.Info("device monitor started", "subsystem", m.subsystem)
	return nil
}

// Stop shuts the monitor down. Safe to call when not running.
func (m *Monitor) Stop() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	if m.quit != nil {
		close(m.quit)
		m.quit = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.running = false
	m.logger.Info("device monitor stopped")
}

// Present returns the device nodes currently known to be attached.
func (m *Monitor) Present() []string {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.present))
	for dev := range m.present {
		out = append(out, dev)
	}
	return out
}

func (m *Monitor) loop(ctx context.Context, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return
	}

	monitorQuit := conn.Monitor(queue, errs, m.matcher())
	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			m.handle(uevent)
		case err := <-errs:
			m.logger.Warn("device monitor error", "error", err)
		}
	}
}

func (m *Monitor) matcher() netlink.Matcher {
	action := "add|remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": m.subsystem,
		},
	})
	return rules
}

func (m *Monitor) handle(uevent netlink.UEvent) {
	devname := uevent.Env["DEVNAME"]
	if devname == "" {
		return
	}

	m.mu.Lock()
	switch uevent.Action {
	case netlink.ADD:
		m.present[devname] = struct{}{}
	case netlink.REMOVE:
		delete(m.present, devname)
	}
	m.mu.Unlock()

	m.logger.Info("capture device event",
		"action", string(uevent.Action),
		"device", devname,
	)
}
