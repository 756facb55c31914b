// Package bus implements the process-wide typed publish/subscribe message
// transport: publishers stamp source identity and
// wall-clock time, then enqueue a value copy for every matching subscriber.
// Delivery is FIFO per (publisher, subscriber, type); across publishers no
// ordering is guaranteed. Slow subscribers never backpressure publishers:
// each subscriber owns a bounded inbox, and overflow is reported rather than
// silently dropped.
package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-uuvcore/internal/clock"
	"github.com/joeycumines/go-uuvcore/internal/telemetry/logging"
	"github.com/joeycumines/go-uuvcore/pkg/message"
)

// DefaultInboxCapacity is used when a caller does not specify one.
const DefaultInboxCapacity = 64

// OverflowFunc is invoked, from the publishing goroutine, whenever an
// inbox's channel is full. Implementations must not block; the intended use
// is degrading the owning task's entity health.
type OverflowFunc func(typ message.TypeID)

// Inbox is a single subscriber's mailbox. A task creates exactly one Inbox
// and subscribes it to every message type it cares about; all deliveries,
// regardless of type, arrive on the same channel, which is sufficient to
// satisfy the FIFO-per-(publisher,subscriber,type) guarantee since a single
// publisher's sends to a given subscriber are issued in program order.
type Inbox struct {
	Name       string
	OwnerEntity uint16 // the (system-local) entity id this inbox belongs to
	ch         chan message.Message
	overflow   atomic.Int64
	onOverflow OverflowFunc
}

// NewInbox constructs an Inbox with the given bounded capacity (≤0 uses
// DefaultInboxCapacity) and optional overflow callback. ownerEntity is the
// entity id of the task this inbox belongs to, used to implement
// FlagLoopBack semantics.
func NewInbox(name string, ownerEntity uint16, capacity int, onOverflow OverflowFunc) *Inbox {
	if capacity <= 0 {
		capacity = DefaultInboxCapacity
	}
	return &Inbox{Name: name, OwnerEntity: ownerEntity, ch: make(chan message.Message, capacity), onOverflow: onOverflow}
}

// Chan exposes the raw channel, for select-based consumption alongside
// timers (periodic tasks) or other readiness sources.
func (ib *Inbox) Chan() <-chan message.Message {
	return ib.ch
}

// Wait is the wait-for-messages suspension point: block until a message is
// ready, ctx is done, or timeout elapses.
func (ib *Inbox) Wait(ctx context.Context, timeout time.Duration) (message.Message, bool) {
	if timeout <= 0 {
		select {
		case m := <-ib.ch:
			return m, true
		case <-ctx.Done():
			return message.Message{}, false
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case m := <-ib.ch:
		return m, true
	case <-ctx.Done():
		return message.Message{}, false
	case <-t.C:
		return message.Message{}, false
	}
}

// OverflowCount returns the number of messages dropped due to this inbox
// being full.
func (ib *Inbox) OverflowCount() int64 {
	return ib.overflow.Load()
}

func (ib *Inbox) deliver(m message.Message) {
	select {
	case ib.ch <- m:
	default:
		ib.overflow.Add(1)
		if ib.onOverflow != nil {
			ib.onOverflow(m.Type)
		}
	}
}

type subscription struct {
	inbox        *Inbox
	filterEntity *uint16
}

// Bus is the process-wide dispatcher. Construct one with New and inject it
// into every task; never reach it through a package-level variable.
type Bus struct {
	mu    sync.RWMutex
	subs  map[message.TypeID][]subscription
	names map[string]message.TypeID
	clk   *clock.Clock
	log   *logging.Logger
}

// New constructs an empty Bus.
func New(clk *clock.Clock, log *logging.Logger) *Bus {
	if log == nil {
		log = logging.Nop()
	}
	return &Bus{
		subs:  make(map[message.TypeID][]subscription),
		names: defaultNameTable(),
		clk:   clk,
		log:   log,
	}
}

// Subscribe registers inbox to receive every published message of type typ.
// If filterEntity is non-nil, only messages whose SrcEntity equals
// *filterEntity are delivered. Subscriptions must be collected before a
// task's main loop starts.
func (b *Bus) Subscribe(inbox *Inbox, typ message.TypeID, filterEntity *uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[typ] = append(b.subs[typ], subscription{inbox: inbox, filterEntity: filterEntity})
}

// RegisterName associates an abbreviated type name with a type id, for use
// by BindToList. Called once, during catalog setup.
func (b *Bus) RegisterName(name string, typ message.TypeID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.names[name] = typ
}

// BindToList performs dynamic subscription by abbreviated type name, as
// used by transport tasks that need to know which messages to relay
// outbound. An unknown name is a fatal configuration error.
func (b *Bus) BindToList(inbox *Inbox, names []string) error {
	b.mu.RLock()
	resolved := make([]message.TypeID, 0, len(names))
	for _, n := range names {
		typ, ok := b.names[n]
		if !ok {
			b.mu.RUnlock()
			return fmt.Errorf("bus: unknown message type name %q", n)
		}
		resolved = append(resolved, typ)
	}
	b.mu.RUnlock()
	for _, typ := range resolved {
		b.Subscribe(inbox, typ, nil)
	}
	return nil
}

// Publish stamps msg with the publisher's identity (if msg.SrcSystem and
// msg.SrcEntity are both zero) and the current time (unless
// message.FlagKeepTime is set), then enqueues a copy for every matching
// subscriber. If message.FlagLoopBack is set, the publisher's own
// subscription (if any) also receives the message.
func (b *Bus) Publish(pubSystem, pubEntity uint16, msg message.Message, flags message.Flags) {
	if msg.SrcSystem == 0 && msg.SrcEntity == 0 {
		msg.SrcSystem = pubSystem
		msg.SrcEntity = pubEntity
	}
	if flags&message.FlagKeepTime == 0 {
		msg.Timestamp = b.clk.SinceEpoch()
	}

	b.mu.RLock()
	targets := b.subs[msg.Type]
	// copy the slice header under the lock; subscription values themselves
	// are immutable after Subscribe, so no further copying is required.
	snapshot := make([]subscription, len(targets))
	copy(snapshot, targets)
	b.mu.RUnlock()

	loopBack := flags&message.FlagLoopBack != 0
	for _, sub := range snapshot {
		if sub.filterEntity != nil && *sub.filterEntity != msg.SrcEntity {
			continue
		}
		if !loopBack && sub.inbox.OwnerEntity == pubEntity && msg.SrcEntity == pubEntity {
			continue
		}
		sub.inbox.deliver(msg)
	}
}

func defaultNameTable() map[string]message.TypeID {
	out := make(map[string]message.TypeID)
	for t := message.TypeEstimatedState; t <= message.TypeLoiter; t++ {
		if n := message.TypeName(t); n != "" {
			out[n] = t
		}
	}
	return out
}
