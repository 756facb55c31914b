// Package loiter implements the Loiter maneuver, sustained circular flight
// around a point at a fixed radius and signed direction:
// it converts an inbound Loiter command into a DesiredPath with a positive
// lradius, tracks the path controller's PathControlState for the
// FlLoitering transition, and reports maneuver progress/completion through
// internal/maneuver.Base.
package loiter

import (
	"context"

	"github.com/joeycumines/go-uuvcore/internal/bus"
	"github.com/joeycumines/go-uuvcore/internal/clock"
	"github.com/joeycumines/go-uuvcore/internal/maneuver"
	"github.com/joeycumines/go-uuvcore/internal/maneuverlock"
	"github.com/joeycumines/go-uuvcore/internal/task"
	"github.com/joeycumines/go-uuvcore/internal/telemetry/logging"
	"github.com/joeycumines/go-uuvcore/pkg/message"
)

// Task drives a single Loiter maneuver at a time, admitted through the
// process-wide maneuverlock.
type Task struct {
	busRef *bus.Bus
	clk    *clock.Clock
	log    *logging.Logger
	system uint16
	lock   *maneuverlock.Lock

	base  *maneuver.Base
	inbox *bus.Inbox

	loiterEstablishedAt float64
	haveEstablished     bool
	activeDuration      float64
}

// NewTask constructs a Loiter maneuver Task.
func NewTask(b *bus.Bus, clk *clock.Clock, log *logging.Logger, lock *maneuverlock.Lock, system uint16) *Task {
	if log == nil {
		log = logging.Nop()
	}
	return &Task{busRef: b, clk: clk, log: log, system: system, lock: lock}
}

// OnEntityReservation subscribes to the Loiter trigger, StopManeuver, and
// PathControlState feedback.
func (t *Task) OnEntityReservation(rt *task.Runtime) error {
	t.inbox = bus.NewInbox("loiter", rt.EntityID, 0, func(typ message.TypeID) {
		t.log.Err().Str("task", rt.Name).Log("loiter inbox overflow")
	})
	for _, typ := range []message.TypeID{
		message.TypeLoiter,
		message.TypeStopManeuver,
		message.TypePathControlState,
	} {
		t.busRef.Subscribe(t.inbox, typ, nil)
	}
	t.base = maneuver.NewBase(t.lock, t.busRef, t.system, rt.EntityID, rt.Name)
	return nil
}

// OnResourceRelease frees the maneuver admission lock unconditionally, so a
// crashed or cancelled task never strands it held.
func (t *Task) OnResourceRelease(rt *task.Runtime) {
	t.base.Release()
}

// Main reacts to Loiter triggers, StopManeuver, and loitering-state
// feedback.
func (t *Task) Main(ctx context.Context, rt *task.Runtime) error {
	for {
		msg, ok := t.inbox.Wait(ctx, 0)
		if !ok {
			if err := ctx.Err(); err != nil {
				return err
			}
			continue
		}
		t.dispatch(ctx, msg)
	}
}

func (t *Task) dispatch(ctx context.Context, msg message.Message) {
	switch p := msg.Payload.(type) {
	case message.Loiter:
		t.onLoiter(ctx, p)
	case message.StopManeuver:
		t.onStopManeuver()
	case message.PathControlState:
		t.onPathControlState(p)
	}
}

func (t *Task) onLoiter(ctx context.Context, l message.Loiter) {
	if err := t.base.Acquire(ctx); err != nil {
		return
	}
	t.haveEstablished = false
	t.activeDuration = l.Duration

	flags := message.PathFlags(0)
	if l.Direction == message.LoiterCounterClockwise {
		flags |= message.FlCclockw
	}
	dp := message.DesiredPath{
		EndLat:     l.Lat,
		EndLon:     l.Lon,
		EndZ:       l.Z,
		EndZUnits:  l.ZUnits,
		Speed:      l.Speed,
		SpeedUnits: l.SpeedUnits,
		Lradius:    l.Radius,
		Flags:      flags,
	}
	t.busRef.Publish(t.system, t.inbox.OwnerEntity, message.Message{Type: message.TypeDesiredPath, Payload: dp}, message.FlagNone)
	t.base.Executing(0, "loiter maneuver started")
}

func (t *Task) onStopManeuver() {
	t.base.HandleStopManeuver()
	t.haveEstablished = false
}

// onPathControlState watches for the FlLoitering transition, then (for a
// finite-duration loiter) completes the maneuver once Duration seconds of
// established loitering have elapsed.
func (t *Task) onPathControlState(pcs message.PathControlState) {
	if !t.base.Active() {
		return
	}
	loitering := pcs.Flags&message.FlLoitering != 0
	now := t.clk.SinceEpoch()
	switch {
	case loitering && !t.haveEstablished:
		t.haveEstablished = true
		t.loiterEstablishedAt = now
		t.base.Executing(t.activeDuration, "loiter established")
	case loitering && t.activeDuration > 0 && now-t.loiterEstablishedAt >= t.activeDuration:
		t.base.Done("loiter duration elapsed")
	case !loitering:
		t.haveEstablished = false
	}
}
