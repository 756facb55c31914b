package supervisor

import (
	"context"
	"time"

	"github.com/joeycumines/go-uuvcore/internal/bus"
	"github.com/joeycumines/go-uuvcore/internal/clock"
	"github.com/joeycumines/go-uuvcore/internal/controlloop"
	"github.com/joeycumines/go-uuvcore/internal/task"
	"github.com/joeycumines/go-uuvcore/internal/telemetry/logging"
	"github.com/joeycumines/go-uuvcore/pkg/message"
)

// DefaultPublishPeriod is how often VehicleState is republished absent a
// transition.
const DefaultPublishPeriod = time.Second

// Task wires a Machine into the task runtime: it subscribes to every
// message type the supervisor reacts to and drives CheckSwitchTimer plus
// periodic VehicleState publication from a single goroutine.
type Task struct {
	busRef        *bus.Bus
	mask          *controlloop.Mask
	clk           *clock.Clock
	log           *logging.Logger
	system        uint16
	publishPeriod time.Duration

	machine *Machine
	inbox   *bus.Inbox
}

// NewTask constructs a supervisor Task. system is the owning process's
// system id, used to stamp publishes this task originates.
func NewTask(b *bus.Bus, mask *controlloop.Mask, clk *clock.Clock, log *logging.Logger, system uint16) *Task {
	if log == nil {
		log = logging.Nop()
	}
	return &Task{busRef: b, mask: mask, clk: clk, log: log, system: system, publishPeriod: DefaultPublishPeriod}
}

// Mode reports the current operating mode, OpModeService until the task has
// started. Sampled by the metrics collector at scrape time.
func (t *Task) Mode() message.OpMode {
	if t.machine == nil {
		return message.OpModeService
	}
	return t.machine.Mode()
}

// OnEntityReservation builds the Machine and subscribes its inbox. The
// supervisor has no additional entities beyond its own default one.
func (t *Task) OnEntityReservation(rt *task.Runtime) error {
	t.inbox = bus.NewInbox("supervisor", rt.EntityID, 0, func(typ message.TypeID) {
		t.log.Err().Str("task", rt.Name).Log("supervisor inbox overflow")
	})
	for _, typ := range []message.TypeID{
		message.TypeVehicleCommand,
		message.TypeEntityMonitoringState,
		message.TypeManeuverControlState,
		message.TypeControlLoops,
		message.TypePlanControl,
		message.TypeAbort,
	} {
		t.busRef.Subscribe(t.inbox, typ, nil)
	}
	t.machine = New(t.busRef, t.mask, t.clk, t.log, t.system, rt.EntityID)
	return nil
}

// Main implements task.EventDriven: it waits for the next inbound message
// or the periodic publish deadline, whichever comes first, reacting to
// each and republishing VehicleState on every transition and on schedule.
func (t *Task) Main(ctx context.Context, rt *task.Runtime) error {
	lastPublish := t.clk.Now()
	t.publish(rt)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		wait := t.publishPeriod - t.clk.Now().Sub(lastPublish)
		if wait < 0 {
			wait = 0
		}
		msg, ok := t.inbox.Wait(ctx, wait)
		transitioned := false
		if ok {
			transitioned = t.dispatch(msg)
		}
		if t.machine.CheckSwitchTimer(t.clk.Now()) {
			transitioned = true
		}
		if transitioned || t.clk.Now().Sub(lastPublish) >= t.publishPeriod {
			t.publish(rt)
			lastPublish = t.clk.Now()
		}
	}
}

func (t *Task) dispatch(msg message.Message) (transitioned bool) {
	before := t.machine.Mode()
	switch p := msg.Payload.(type) {
	case message.VehicleCommand:
		if p.Kind == message.CmdRequest {
			reply := t.machine.HandleVehicleCommand(p)
			t.busRef.Publish(t.system, t.machine.self, message.Message{Type: message.TypeVehicleCommand, Payload: reply}, message.FlagNone)
		}
	case message.EntityMonitoringState:
		t.machine.HandleEntityMonitoring(p)
	case message.ManeuverControlState:
		t.machine.HandleManeuverControlState(p)
	case message.ControlLoops:
		t.machine.HandleControlLoops(p)
	case message.PlanControl:
		t.machine.HandlePlanControl(p)
	case message.Abort:
		t.machine.HandleAbort()
	}
	return t.machine.Mode() != before
}

func (t *Task) publish(rt *task.Runtime) {
	t.busRef.Publish(t.system, rt.EntityID, message.Message{Type: message.TypeVehicleState, Payload: t.machine.Snapshot()}, message.FlagNone)
}
