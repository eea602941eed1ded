// Package notifier sends desktop notifications for watch-mode regeneration
package notifier

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/poltergeist/matrixgen/pkg/interfaces"
	"github.com/poltergeist/matrixgen/pkg/logger"
)

// SendFunc delivers one notification
type SendFunc func(title, message string) error

// GenerationNotifier reports regeneration outcomes on the desktop
type GenerationNotifier struct {
	enabled   bool
	beepOnErr bool
	send      SendFunc
	logger    logger.Logger
}

var _ interfaces.GenerationNotifier = (*GenerationNotifier)(nil)

// Config represents notification configuration
type Config struct {
	Enabled bool
	// BeepOnFailure plays the system beep with failure notifications.
	BeepOnFailure bool
	// Send overrides delivery; nil uses the platform notifier.
	Send SendFunc
}

// New creates a new notifier
func New(config Config, log logger.Logger) *GenerationNotifier {
	send := config.Send
	if send == nil {
		send = func(title, message string) error {
			return beeep.Notify(title, message, "")
		}
	}
	return &GenerationNotifier{
		enabled:   config.Enabled,
		beepOnErr: config.BeepOnFailure,
		send:      send,
		logger:    log.WithComponent("notifier"),
	}
}

// NotifyGenerated reports a successful regeneration
func (n *GenerationNotifier) NotifyGenerated(pipeline string, jobs int, duration time.Duration) {
	if !n.enabled {
		return
	}
	message := fmt.Sprintf("%s: %d jobs in %s", filepath.Base(pipeline), jobs, formatDuration(duration))
	n.sendNotification("✅ Pipeline generated", message)
}

// NotifyFailed reports a failed regeneration
func (n *GenerationNotifier) NotifyFailed(pipeline string, err error) {
	if !n.enabled {
		return
	}
	if err == nil {
		err = errors.New("unknown error")
	}
	message := fmt.Sprintf("%s: %v", filepath.Base(pipeline), err)
	n.sendNotification("❌ Generation failed", message)

	if n.beepOnErr {
		if err := beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration); err != nil {
			n.logger.Debug("Failed to play sound", logger.WithField("error", err))
		}
	}
}

func (n *GenerationNotifier) sendNotification(title, message string) {
	if err := n.send(title, message); err != nil {
		// Headless hosts have no notification daemon; fall back to the log.
		n.logger.Debug("Failed to send notification", logger.WithField("error", err))
		n.logger.Info(fmt.Sprintf("%s: %s", title, message))
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
