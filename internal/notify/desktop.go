// Package notify raises desktop notifications for drowsiness alerts over the
// freedesktop notification service.
package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"LUCID/go-backend/internal/models"
)

const (
	notifyDest   = "org.freedesktop.Notifications"
	notifyPath   = dbus.ObjectPath("/org/freedesktop/Notifications")
	notifyMethod = "org.freedesktop.Notifications.Notify"
	appName      = "Lucid"
)

const (
	urgencyNormal   byte = 1
	urgencyCritical byte = 2
)

// DesktopNotifier keeps one notification on screen and replaces it on every
// new alert.
type DesktopNotifier struct {
	conn *dbus.Conn
	obj  dbus.BusObject

	mu     sync.Mutex
	lastID uint32
}

func NewDesktopNotifier() (*DesktopNotifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return &DesktopNotifier{conn: conn, obj: conn.Object(notifyDest, notifyPath)}, nil
}

func (n *DesktopNotifier) Notify(ctx context.Context, alert models.Alert) error {
	summary, body := Format(alert)

	n.mu.Lock()
	defer n.mu.Unlock()

	call := n.obj.CallWithContext(ctx, notifyMethod, 0,
		appName,
		n.lastID,
		icon(alert.Status),
		summary,
		body,
		[]string{},
		map[string]dbus.Variant{
			"urgency": dbus.MakeVariant(urgency(alert.Status)),
		},
		timeout(alert.Status),
	)
	if call.Err != nil {
		return fmt.Errorf("failed to send notification: %w", call.Err)
	}
	var id uint32
	if err := call.Store(&id); err == nil {
		n.lastID = id
	}
	return nil
}

func (n *DesktopNotifier) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Close()
}

// Format returns the notification summary and body for an alert.
func Format(alert models.Alert) (string, string) {
	summary := "Driver drowsy"
	if alert.Status == models.StateAsleep {
		summary = "Driver asleep"
	}
	body := alert.Reason
	if alert.TimeInterval != "" {
		body = fmt.Sprintf("%s  %s", alert.TimeInterval, alert.Reason)
	}
	return summary, body
}

func urgency(s models.State) byte {
	if s == models.StateAsleep {
		return urgencyCritical
	}
	return urgencyNormal
}

func icon(s models.State) string {
	if s == models.StateAsleep {
		return "dialog-error"
	}
	return "dialog-warning"
}

// critical notifications stay until dismissed
func timeout(s models.State) int32 {
	if s == models.StateAsleep {
		return 0
	}
	return 10000
}
