// Package notify delivers backup run events to external channels.
package notify

import (
	"context"
	"log/slog"
)

// Event is a single notification.
type Event struct {
	Subject string
	Body    string
	Success bool
}

// Notifier is a delivery channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, ev Event) error
}

// Policy gates events by outcome.
type Policy struct {
	OnSuccess bool
	OnFailure bool
}

// Allows reports whether ev passes the gate.
func (p Policy) Allows(ev Event) bool {
	if ev.Success {
		return p.OnSuccess
	}
	return p.OnFailure
}

// FanOut sends each allowed event to every channel in order. A failing
// channel is logged and skipped.
type FanOut struct {
	policy   Policy
	channels []Notifier
}

// NewFanOut creates a FanOut over channels.
func NewFanOut(policy Policy, channels ...Notifier) *FanOut {
	return &FanOut{
		policy:   policy,
		channels: channels,
	}
}

// Notify delivers ev to all channels when the policy allows it.
func (f *FanOut) Notify(ctx context.Context, ev Event) {
	if !f.policy.Allows(ev) {
		slog.Debug("notification suppressed", "subject", ev.Subject, "success", ev.Success)
		return
	}
	for _, ch := range f.channels {
		if err := ch.Notify(ctx, ev); err != nil {
			slog.Warn("notification failed", "channel", ch.Name(), "subject", ev.Subject, "error", err)
			continue
		}
		slog.Debug("notification sent", "channel", ch.Name(), "subject", ev.Subject)
	}
}
