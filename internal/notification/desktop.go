package notification

import (
	"fmt"
	"strings"

	"github.com/gen2brain/beeep"

	"github.com/olegiv/bms-telemetry-go/internal/alert"
)

// maxDesktopLines caps the alert lines shown in one popup.
const maxDesktopLines = 4

// DesktopNotifier shows alert popups on the local desktop.
type DesktopNotifier struct {
	appName string
	notify  func(title, message string, icon any) error
}

// NewDesktopNotifier creates a notifier backed by the OS notification service.
func NewDesktopNotifier(appName string) *DesktopNotifier {
	return &DesktopNotifier{
		appName: appName,
		notify:  beeep.Notify,
	}
}

// NotifyAlerts shows one popup summarizing the run's alerts. A run with no
// alerts shows nothing.
func (d *DesktopNotifier) NotifyAlerts(packName string, alerts []alert.Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	title := fmt.Sprintf("%s: %d alert(s) for %s", d.appName, len(alerts), packName)

	lines := make([]string, 0, maxDesktopLines+1)
	for i, a := range alerts {
		if i == maxDesktopLines {
			lines = append(lines, fmt.Sprintf("... and %d more", len(alerts)-maxDesktopLines))
			break
		}
		lines = append(lines, a.Message)
	}

	if err := d.notify(title, strings.Join(lines, "\n"), ""); err != nil {
		return fmt.Errorf("failed to show desktop notification: %w", err)
	}
	return nil
}
