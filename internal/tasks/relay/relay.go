// Package relay implements a representative transport-relay task: it
// forwards every message whose abbreviated type name is configured onto a
// Transport (a stand-in for an acoustic modem or serial link), dialing the
// transport lazily at resource-acquisition time and surfacing dial
// failures as task.RestartNeeded so the owning Runner's circuit breaker
// governs the retry/backoff loop.
package relay

import (
	"context"
	"time"

	"github.com/joeycumines/go-uuvcore/internal/bus"
	"github.com/joeycumines/go-uuvcore/internal/task"
	"github.com/joeycumines/go-uuvcore/internal/telemetry/logging"
	"github.com/joeycumines/go-uuvcore/pkg/message"
)

// Transport is the narrow interface a relay dials and forwards messages
// over.
type Transport interface {
	Dial(ctx context.Context) error
	Send(msg message.Message) error
	Close() error
}

// RestartBackoff is the delay reported via task.RestartNeeded when Dial
// fails.
const RestartBackoff = 2 * time.Second

// Task relays every message matching its configured outbound type-name
// list onto a Transport.
type Task struct {
	busRef    *bus.Bus
	log       *logging.Logger
	transport Transport
	names     []string

	inbox *bus.Inbox
}

// NewTask constructs a relay Task forwarding every message whose
// abbreviated type name appears in names onto transport.
func NewTask(b *bus.Bus, log *logging.Logger, transport Transport, names []string) *Task {
	if log == nil {
		log = logging.Nop()
	}
	return &Task{busRef: b, log: log, transport: transport, names: names}
}

// OnEntityReservation subscribes dynamically by name, the BindToList
// convention for transport tasks.
func (t *Task) OnEntityReservation(rt *task.Runtime) error {
	t.inbox = bus.NewInbox("relay", rt.EntityID, 0, func(typ message.TypeID) {
		t.log.Err().Str("task", rt.Name).Log("relay inbox overflow")
	})
	return t.busRef.BindToList(t.inbox, t.names)
}

// OnResourceAcquisition dials the transport, translating any dial failure
// into a RestartNeeded retry rather than aborting the task outright.
func (t *Task) OnResourceAcquisition(ctx context.Context, rt *task.Runtime) error {
	if err := t.transport.Dial(ctx); err != nil {
		return task.RestartNeeded{After: RestartBackoff}
	}
	return nil
}

// OnResourceRelease closes the transport. Idempotent: Close on an
// already-closed transport is expected to be a no-op by implementations.
func (t *Task) OnResourceRelease(rt *task.Runtime) {
	_ = t.transport.Close()
}

// Main forwards every inbound message onto the transport. A Send failure
// is logged but does not tear down the task: a transient write failure is
// not grounds for restarting the whole resource-acquisition lifecycle, and
// the next message may succeed.
func (t *Task) Main(ctx context.Context, rt *task.Runtime) error {
	for {
		msg, ok := t.inbox.Wait(ctx, 0)
		if !ok {
			if err := ctx.Err(); err != nil {
				return err
			}
			continue
		}
		if err := t.transport.Send(msg); err != nil {
			t.log.Err().Str("task", rt.Name).Str("err", err.Error()).Log("relay send failed")
		}
	}
}
