package pathcontrol

import (
	"context"

	"github.com/joeycumines/go-uuvcore/internal/bottomtrack"
	"github.com/joeycumines/go-uuvcore/internal/bus"
	"github.com/joeycumines/go-uuvcore/internal/clock"
	"github.com/joeycumines/go-uuvcore/internal/entity"
	"github.com/joeycumines/go-uuvcore/internal/geo"
	"github.com/joeycumines/go-uuvcore/internal/param"
	"github.com/joeycumines/go-uuvcore/internal/task"
	"github.com/joeycumines/go-uuvcore/internal/telemetry/logging"
	"github.com/joeycumines/go-uuvcore/pkg/message"
)

// Task wires a Controller into the task runtime: it subscribes to
// DesiredPath, EstimatedState, ControlLoops and GpsFix, drives monitor
// evaluation on every EstimatedState, and reports monitor errors as entity
// health transitions: the monitors report through the owning entity, not
// as a separate message type.
type Task struct {
	busRef *bus.Bus
	clk    *clock.Clock
	log    *logging.Logger
	system uint16

	params         Params
	bottomParams   bottomtrack.Params
	bottomTrackOn  bool

	controller *Controller
	inbox      *bus.Inbox
	self       *entity.Entity
	entityID   uint16

	haveOrigin    bool
	lastEstimated lastEstimate
	lastRange     float64
}

// NewTask constructs a path-controller Task. system is the owning
// process's system id, used to stamp publishes. The bottom-tracker
// is attached by default; WithoutBottomTracker builds a variant that
// publishes Z references directly.
func NewTask(b *bus.Bus, clk *clock.Clock, log *logging.Logger, system uint16) *Task {
	if log == nil {
		log = logging.Nop()
	}
	return &Task{busRef: b, clk: clk, log: log, system: system, params: DefaultParams(), bottomParams: bottomtrack.DefaultParams(), bottomTrackOn: true}
}

// WithoutBottomTracker disables the nested bottom-tracker sub-state-machine
// for this Task; Z references then publish directly.
func (t *Task) WithoutBottomTracker() *Task {
	t.bottomTrackOn = false
	return t
}

// BindParams implements task.ParameterBinder, exposing the monitor
// thresholds for per-profile tuning.
func (t *Task) BindParams(b *param.Binder) {
	b.Param("atm_period_s", &t.params.AtmPeriod).Units("s").Minimum(0.05)
	b.Param("min_speed", &t.params.MinSpeed).Units("m/s").Minimum(0)
	b.Param("min_yaw", &t.params.MinYaw).Units("rad/s").Minimum(0)
	b.Param("cross_track_limit", &t.params.CrossTrackLimit).Units("m").Minimum(0)
	b.Param("cross_track_time_limit_s", &t.params.CrossTrackTimeLimit).Units("s").Minimum(0)
	b.Param("loiter_size_factor", &t.params.LSizeFactor).Minimum(1)
	b.Param("ctime", &t.params.CTime).Units("s").Minimum(0)
	b.Param("ctime_factor", &t.params.CTimeFactor).Minimum(0)
	b.Param("new_ref_timeout_s", &t.params.NewRefTimeout).Units("s").Minimum(0)
}

// OnEntityReservation subscribes the task's inbox to every message type the
// path controller reacts to.
func (t *Task) OnEntityReservation(rt *task.Runtime) error {
	t.inbox = bus.NewInbox("pathcontrol", rt.EntityID, 0, func(typ message.TypeID) {
		t.log.Err().Str("task", rt.Name).Log("pathcontrol inbox overflow")
	})
	for _, typ := range []message.TypeID{
		message.TypeDesiredPath,
		message.TypeEstimatedState,
		message.TypeGpsFix,
		message.TypeControlLoops,
		message.TypeDistance,
	} {
		t.busRef.Subscribe(t.inbox, typ, nil)
	}
	t.entityID = rt.EntityID
	t.controller = New(t.busRef, t.system, rt.EntityID, geo.NewOrigin(0, 0), t.params)
	if t.bottomTrackOn {
		t.controller.AttachBottomTracker(bottomtrack.New(t.controller, t.log, t.bottomParams))
	}
	if self, ok := rt.Entities.Lookup(rt.Name); ok {
		t.self = self
	}
	return nil
}

// BindBottomTrackerParams exposes the bottom-tracker's thresholds for
// per-profile tuning, alongside BindParams.
func (t *Task) BindBottomTrackerParams(b *param.Binder) {
	b.Param("bottom_track_min_alt", &t.bottomParams.MinAlt).Units("m").Minimum(0)
	b.Param("bottom_track_min_range", &t.bottomParams.MinRange).Units("m").Minimum(0)
	b.Param("bottom_track_safe_pitch", &t.bottomParams.SafePitch).Units("rad").Minimum(0)
	b.Param("bottom_track_depth_limit", &t.bottomParams.DepthLimit).Units("m").Minimum(0)
	b.Param("bottom_track_hysteresis", &t.bottomParams.Hysteresis).Units("m").Minimum(0)
	b.Param("bottom_track_depth_tol", &t.bottomParams.DepthTol).Units("m").Minimum(0)
	b.Param("bottom_track_control_period_s", &t.bottomParams.ControlPeriod).Units("s").Minimum(0.01)
	b.Param("bottom_track_trend_check", &t.bottomParams.TrendCheck)
}

// Main implements task.EventDriven: it reacts to each inbound message,
// re-anchoring the origin on the first valid GpsFix, consuming DesiredPath
// and ControlLoops, and evaluating tracking/monitors on every
// EstimatedState.
func (t *Task) Main(ctx context.Context, rt *task.Runtime) error {
	for {
		msg, ok := t.inbox.Wait(ctx, 0)
		if !ok {
			if err := ctx.Err(); err != nil {
				return err
			}
			continue
		}
		t.dispatch(msg)
	}
}

func (t *Task) dispatch(msg message.Message) {
	switch p := msg.Payload.(type) {
	case message.GpsFix:
		if p.Valid && !t.haveOrigin {
			t.controller.SetOrigin(geo.NewOrigin(p.Lat, p.Lon))
			t.haveOrigin = true
		}
	case message.ControlLoops:
		t.controller.ConsumeControlLoops(p)
	case message.Distance:
		if p.Validity {
			t.lastRange = p.Value
		}
	case message.DesiredPath:
		if !t.controller.Active() {
			return
		}
		t.onDesiredPath(p)
	case message.EstimatedState:
		if !t.controller.Active() {
			return
		}
		t.onEstimatedState(p)
	}
}

func (t *Task) onDesiredPath(dp message.DesiredPath) {
	t.controller.OnDesiredPath(dp, t.clk.Now(), t.lastEstimated.lat, t.lastEstimated.lon, t.lastEstimated.heading)
	t.busRef.Publish(t.system, t.entityID, message.Message{Type: message.TypePathControlState, Payload: t.controller.StateSnapshot()}, message.FlagNone)
}

func (t *Task) onEstimatedState(es message.EstimatedState) {
	t.lastEstimated = lastEstimate{valid: true, lat: es.Lat, lon: es.Lon, heading: es.Psi}

	now := t.clk.Now()
	state := t.controller.OnEstimatedState(es, now)
	t.controller.UpdateBottomTracker(now, es.Depth, es.Alt, es.Theta, t.lastRange)
	t.busRef.Publish(t.system, t.entityID, message.Message{Type: message.TypePathControlState, Payload: state}, message.FlagNone)

	if t.self == nil {
		return
	}
	diverged := t.controller.AlongTrackMode() == MonitorError ||
		t.controller.CrossTrackMode() == MonitorError ||
		t.controller.RefTimedOut()
	health, _, _ := t.self.State()
	switch {
	case diverged:
		t.self.SetState(entity.Error, 0, "path monitor diverged")
	case health == entity.Error:
		t.self.SetState(entity.Normal, 0, "")
	}
}

// lastEstimate caches the most recent EstimatedState's position/heading
// for OnDesiredPath's start-point and singularity-fallback rules.
type lastEstimate struct {
	valid   bool
	lat     float64
	lon     float64
	heading float64
}
