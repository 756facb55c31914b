// Package maneuver provides the shared scaffolding every maneuver task
// builds on: admission through the process-wide internal/maneuverlock,
// ManeuverControlState reporting, and idempotent StopManeuver handling
//.
package maneuver

import (
	"context"
	"sync"

	"github.com/joeycumines/go-uuvcore/internal/maneuverlock"
	"github.com/joeycumines/go-uuvcore/pkg/message"
)

// Publisher is the subset of *bus.Bus a maneuver base needs.
type Publisher interface {
	Publish(pubSystem, pubEntity uint16, msg message.Message, flags message.Flags)
}

// Base embeds into a concrete maneuver task (internal/tasks/loiter and
// others) to provide lock acquisition and progress/done/error reporting
// without repeating the lock-and-report boilerplate in every task.
//
// A maneuver task activates Base.Acquire once it starts executing
// (typically from OnActivation or the first inbound trigger message) and
// must call Base.Release from OnDeactivation so the lock is freed even if
// the task errors out mid-maneuver.
type Base struct {
	lock   *maneuverlock.Lock
	bus    Publisher
	system uint16
	self   uint16
	name   string

	mu     sync.Mutex
	active bool
}

// NewBase constructs a Base bound to the process-wide lock and the task's
// own system/entity ids for publishing ManeuverControlState.
func NewBase(lock *maneuverlock.Lock, bus Publisher, system, self uint16, name string) *Base {
	return &Base{lock: lock, bus: bus, system: system, self: self, name: name}
}

// Acquire blocks until the maneuver admission lock is granted or ctx is
// done. Safe to call at most once between a matching Release.
func (b *Base) Acquire(ctx context.Context) error {
	if err := b.lock.Acquire(ctx, b.name); err != nil {
		return err
	}
	b.mu.Lock()
	b.active = true
	b.mu.Unlock()
	return nil
}

// Release gives up the admission lock. Idempotent: calling it when the
// lock is not held (or was never acquired) is a no-op, satisfying
// StopManeuver's idempotent-deactivation requirement.
func (b *Base) Release() {
	b.mu.Lock()
	wasActive := b.active
	b.active = false
	b.mu.Unlock()
	if wasActive {
		b.lock.Release(b.name)
	}
}

// Active reports whether this Base currently holds the admission lock.
func (b *Base) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// Executing reports maneuver progress: an ETA in seconds-to-completion,
// and free-text info.
func (b *Base) Executing(eta float64, info string) {
	b.publish(message.ManeuverControlState{State: message.ManeuverExecuting, ETA: eta, Info: info})
}

// Done reports maneuver completion. The supervisor arms its switch timer
// on receiving this, giving a follow-on task a window to supply a fresh
// reference before reverting to SERVICE.
func (b *Base) Done(info string) {
	b.publish(message.ManeuverControlState{State: message.ManeuverDone, Info: info})
}

// Failed reports a maneuver error, which the supervisor treats as an
// immediate MANEUVER -> SERVICE transition.
func (b *Base) Failed(info string) {
	b.publish(message.ManeuverControlState{State: message.ManeuverError, Info: info})
}

func (b *Base) publish(mcs message.ManeuverControlState) {
	b.bus.Publish(b.system, b.self, message.Message{Type: message.TypeManeuverControlState, Payload: mcs}, message.FlagNone)
}

// HandleStopManeuver is the idempotent StopManeuver reaction every
// maneuver task wires into its dispatch loop: release the lock (a no-op
// if not held) and let the caller run any task-specific teardown.
func (b *Base) HandleStopManeuver() {
	b.Release()
}
