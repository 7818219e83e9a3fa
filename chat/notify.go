package chat

import "github.com/gen2brain/beeep"

// Notifier shows a user-visible notification
type Notifier interface {
	Notify(title, message string) error
}

// DesktopNotifier sends notifications through the desktop environment
type DesktopNotifier struct{}

func (DesktopNotifier) Notify(title, message string) error {
	return beeep.Notify(title, message, "")
}

type nopNotifier struct{}

func (nopNotifier) Notify(string, string) error { return nil }
