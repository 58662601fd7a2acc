// Package notify delivers best-effort web push notifications for workflow
// events. Sends happen on a worker goroutine so the publishing operation
// never waits on the network; a lost notification is acceptable, a blocked
// approval is not.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hearthward/choreflow/internal/event"
	"github.com/hearthward/choreflow/internal/model"
)

const queueSize = 64

// SubscriptionSource is the slice of the push store the notifier needs.
type SubscriptionSource interface {
	ListByMember(memberID int64) ([]model.PushSubscription, error)
	DeleteByEndpoint(endpoint string) error
}

// Sender sends one notification to one subscription.
type Sender interface {
	Send(sub *model.PushSubscription, payload Payload) error
}

// Notifier consumes approval and overdue events and pushes them to the
// assignee's devices. Events arriving while the queue is full are dropped.
type Notifier struct {
	mu     sync.RWMutex
	sender Sender
	subs   SubscriptionSource
	logger *slog.Logger
	queue  chan event.Event
	cancel context.CancelFunc
	done   chan struct{}
}

// New wires a notifier onto the bus.
func New(sender Sender, subs SubscriptionSource, bus *event.Bus, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Notifier{
		sender: sender,
		subs:   subs,
		logger: logger,
		queue:  make(chan event.Event, queueSize),
	}
	bus.Subscribe(event.ChoreApproved, n.enqueue)
	bus.Subscribe(event.ChoreOverdue, n.enqueue)
	return n
}

// enqueue runs on the publisher's stack; it never blocks.
func (n *Notifier) enqueue(e event.Event) {
	select {
	case n.queue <- e:
	default:
		n.logger.Warn("push queue full, dropping notification", "type", e.Type, "chore_id", e.ChoreID)
	}
}

// Start begins the delivery loop.
func (n *Notifier) Start(ctx context.Context) {
	n.mu.Lock()
	ctx, n.cancel = context.WithCancel(ctx)
	n.done = make(chan struct{})
	n.mu.Unlock()

	go func() {
		defer close(n.done)
		for {
			select {
			case <-ctx.Done():
				return
			case e := <-n.queue:
				n.deliver(e)
			}
		}
	}()
}

// Stop gracefully stops the delivery loop.
func (n *Notifier) Stop() {
	n.mu.RLock()
	cancel := n.cancel
	done := n.done
	n.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (n *Notifier) deliver(e event.Event) {
	payload, ok := payloadFor(e)
	if !ok {
		return
	}

	subs, err := n.subs.ListByMember(e.AssigneeID)
	if err != nil {
		n.logger.Error("list push subscriptions", "member_id", e.AssigneeID, "error", err)
		return
	}

	for i := range subs {
		sub := subs[i]
		if err := n.sender.Send(&sub, payload); err != nil {
			if errors.Is(err, ErrExpired) {
				if derr := n.subs.DeleteByEndpoint(sub.Endpoint); derr != nil {
					n.logger.Error("prune expired subscription", "error", derr)
				}
				continue
			}
			n.logger.Warn("send push", "type", e.Type, "error", err)
		}
	}
}

func payloadFor(e event.Event) (Payload, bool) {
	switch e.Type {
	case event.ChoreApproved:
		body := fmt.Sprintf("%s approved", e.ChoreName)
		if e.Points > 0 {
			body = fmt.Sprintf("%s approved, +%d points", e.ChoreName, e.Points)
		}
		return Payload{
			Title: "Chore approved",
			Body:  body,
			URL:   "/chores",
			Tag:   fmt.Sprintf("chore-approved-%d", e.ChoreID),
		}, true
	case event.ChoreOverdue:
		return Payload{
			Title: "Chore overdue",
			Body:  fmt.Sprintf("%s is overdue", e.ChoreName),
			URL:   "/chores",
			Tag:   fmt.Sprintf("chore-overdue-%d", e.ChoreID),
		}, true
	}
	return Payload{}, false
}
