// Package notify carries notification intents from the workflow engine to
// delivery channels (shell command, Slack, Discord). Delivery is best-effort:
// a failed channel is logged and never fails the workflow.
package notify

import (
	"context"
	"log"
	"os/exec"
	"strings"
)

// Intent kinds emitted by the engine.
const (
	KindRequestCreated   = "request_created"
	KindReminder         = "reminder"
	KindExecutionFailed  = "execution_failed"
	KindThresholdChanged = "threshold_changed"
)

// Intent is one notification the engine has decided to send. The engine
// decides whether and what to notify; channels decide how.
type Intent struct {
	Kind     string
	UnitID   string
	UserID   string
	Title    string
	Body     string
	Severity string // "info", "warning", "error"
}

// Notifier delivers an intent over one channel.
type Notifier interface {
	Send(ctx context.Context, intent Intent) error
}

// Dispatcher fans an intent out to all configured channels.
type Dispatcher struct {
	channels []Notifier
}

// NewDispatcher builds a dispatcher over the given channels. Nil channels are
// skipped so callers can pass optional adapters unconditionally.
func NewDispatcher(channels ...Notifier) *Dispatcher {
	d := &Dispatcher{}
	for _, ch := range channels {
		if ch != nil {
			d.channels = append(d.channels, ch)
		}
	}
	return d
}

// Dispatch delivers the intent to every channel, logging failures.
func (d *Dispatcher) Dispatch(ctx context.Context, intent Intent) {
	for _, ch := range d.channels {
		if err := ch.Send(ctx, intent); err != nil {
			log.Printf("notify: %s delivery failed for %s: %v", intent.Kind, intent.UnitID, err)
		}
	}
}

// CommandNotifier runs a shell command template per intent, e.g.
// "notify-send 'Sluice' '{{.Title}}'".
type CommandNotifier struct {
	Command string
}

// Send executes the command template with intent fields substituted.
func (c *CommandNotifier) Send(ctx context.Context, intent Intent) error {
	if c.Command == "" {
		return nil
	}
	cmdStr := templateIntent(c.Command, intent)
	if out, err := exec.CommandContext(ctx, "sh", "-c", cmdStr).CombinedOutput(); err != nil {
		return &commandError{err: err, output: strings.TrimSpace(string(out))}
	}
	return nil
}

type commandError struct {
	err    error
	output string
}

func (e *commandError) Error() string {
	if e.output == "" {
		return e.err.Error()
	}
	return e.err.Error() + ": " + e.output
}

func (e *commandError) Unwrap() error { return e.err }

// templateIntent replaces placeholders in the command template with intent values.
func templateIntent(command string, intent Intent) string {
	r := strings.NewReplacer(
		"{{.Kind}}", intent.Kind,
		"{{.Title}}", intent.Title,
		"{{.Body}}", intent.Body,
		"{{.UnitID}}", intent.UnitID,
		"{{.UserID}}", intent.UserID,
		"{{.Severity}}", intent.Severity,
	)
	return r.Replace(command)
}
