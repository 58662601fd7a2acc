package websocket

import (
	"github.com/hearthward/choreflow/internal/event"
)

// Bridge forwards bus events to the hub. It subscribes to everything:
// workflow transitions and cache-refresh notices are both broadcast as soon
// as they are published — refresh events already sit behind the cache
// managers' debounce, so the bridge adds no second delay.
type Bridge struct {
	hub *Hub
}

// NewBridge wires the hub onto the bus.
func NewBridge(hub *Hub, bus *event.Bus) *Bridge {
	b := &Bridge{hub: hub}
	bus.SubscribeAll(b.forward)
	return b
}

func (b *Bridge) forward(e event.Event) {
	b.hub.Broadcast(Message{
		Type:       string(e.Type),
		ChoreID:    e.ChoreID,
		ChoreName:  e.ChoreName,
		AssigneeID: e.AssigneeID,
		Points:     e.Points,
		At:         e.At,
	})
}
