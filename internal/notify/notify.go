// Package notify publishes operational events (large variances, sale
// reversals) to whoever wants them. Delivery is best effort and never
// blocks or fails the operation that produced the event.
package notify

import "log"

type Notifier interface {
	Notify(kind string, message string)
}

type Noop struct{}

func (Noop) Notify(string, string) {}

// LogNotifier writes events to the process log. It stands in for a real
// channel (chat webhook, SMS gateway) in dev and test setups.
type LogNotifier struct{}

func (LogNotifier) Notify(kind string, message string) {
	log.Printf("[notify] %s: %s", kind, message)
}
