// Package notify delivers operator alerts to Telegram and Discord. Events
// are queued and sent by a background worker so a slow sender never holds
// up a rebalance cycle.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Event names emitted by the engine.
const (
	EventSwapCreated   = "swap_created"
	EventSwapCompleted = "swap_completed"
	EventSwapFailed    = "swap_failed"
	EventError         = "error"
)

const (
	defaultQueueSize   = 64
	defaultSendTimeout = 10 * time.Second
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

type notification struct {
	event, title, message string
}

// Notifier filters events and fans them out to every sender.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	queue   chan notification
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. Only events listed in events are
// delivered; an empty list allows all of them.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		queue:   make(chan notification, defaultQueueSize),
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Notify queues an event. It never blocks: when the queue is full the
// event is dropped and logged.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) {
	if !n.Enabled() {
		return
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return
	}
	select {
	case n.queue <- notification{event: event, title: title, message: message}:
	default:
		n.logger.WarnContext(ctx, "notification queue full, dropping", slog.String("event", event))
	}
}

// Run delivers queued events until ctx is done, then drains what is left
// with a short deadline.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			n.drain()
			return
		case msg := <-n.queue:
			n.dispatch(ctx, msg)
		}
	}
}

func (n *Notifier) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultSendTimeout)
	defer cancel()
	for {
		select {
		case msg := <-n.queue:
			n.dispatch(ctx, msg)
		default:
			return
		}
	}
}

// Send delivers to every sender synchronously, bypassing the queue and the
// event filter. Sender failures are joined into one error.
func (n *Notifier) Send(ctx context.Context, title, message string) error {
	var errs []string
	for _, s := range n.senders {
		if err := n.send(ctx, s, title, message); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

func (n *Notifier) dispatch(ctx context.Context, msg notification) {
	for _, s := range n.senders {
		if err := n.send(ctx, s, msg.title, msg.message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", msg.event),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (n *Notifier) send(ctx context.Context, s Sender, title, message string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultSendTimeout)
	defer cancel()
	return s.Send(ctx, title, message)
}
