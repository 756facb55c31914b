// Package bottomtrack implements the bottom-tracker sub-state-machine:
// nested inside the path controller, it watches altitude,
// forward range, and the terrain slope those samples imply, and overrides
// the active depth/altitude reference when following terrain gets
// dangerous. The tracker never holds a strong back-reference to its owning
// controller; it carries only the narrow Dispatcher handle below.
package bottomtrack

import (
	"math"
	"time"

	"github.com/joeycumines/go-uuvcore/internal/telemetry/logging"
	"github.com/joeycumines/go-uuvcore/pkg/message"
)

// State enumerates the bottom-tracker's five states.
type State uint8

const (
	StateIdle State = iota
	StateTracking
	StateDepth
	StateUnsafe
	StateAvoiding
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateTracking:
		return "TRACKING"
	case StateDepth:
		return "DEPTH"
	case StateUnsafe:
		return "UNSAFE"
	case StateAvoiding:
		return "AVOIDING"
	default:
		return "UNKNOWN"
	}
}

// ForcedReason enumerates why the tracker is currently overriding the
// active Z reference with a depth value.
type ForcedReason uint8

const (
	ForcedNone ForcedReason = iota
	ForcedDepth
)

// Dispatcher is the narrow interface the tracker uses to emit Brake and
// DesiredZ messages, and is the owning path controller in production. Kept
// separate from any richer controller interface so the tracker cannot reach
// back into controller-private state.
type Dispatcher interface {
	DispatchBrake(op message.BrakeOp)
	DispatchZ(z message.DesiredZ)
}

// Params bundles the tracker's tunable thresholds, bound via internal/param
// in the owning path controller task.
type Params struct {
	// MinAlt/MinRange trigger AVOIDING when breached.
	MinAlt   float64
	MinRange float64
	// SafePitch is the slope angle (radians) above which terrain is
	// considered too steep to follow at the current altitude.
	SafePitch float64
	// DepthLimit/Hysteresis bound how deep the vehicle may go while
	// following altitude before depth control is forced.
	DepthLimit float64
	Hysteresis float64
	// DepthTol is the depth above which altimeter returns are trusted
	// (the latching altitude-validity rule).
	DepthTol float64
	// ControlPeriod rate-limits Update to at most once per period.
	ControlPeriod time.Duration
	// TrendCheck, when true, requires the vehicle to be pitched nose-down
	// before an increasing slope re-dispatches a safe depth from UNSAFE;
	// when false the re-dispatch fires on any slope increase.
	TrendCheck bool
}

// DefaultParams returns conservative defaults, overridden per profile via
// internal/config and internal/param.
func DefaultParams() Params {
	return Params{
		MinAlt:        1,
		MinRange:      1,
		SafePitch:     20 * math.Pi / 180,
		DepthLimit:    30,
		Hysteresis:    0.5,
		DepthTol:      2,
		ControlPeriod: 500 * time.Millisecond,
		TrendCheck:    true,
	}
}

// Tracker is the bottom-tracker's pure state-machine core.
type Tracker struct {
	params     Params
	dispatcher Dispatcher
	log        *logging.Logger

	state  State
	forced ForcedReason

	haveOriginal bool
	originalZ    message.DesiredZ
	desiredSpeed float64

	altValid bool

	lastEval      time.Time
	haveLastRange bool
	lastRange     float64
	slopeAngle    float64
	lastUnsafeSlope float64
	slopeTopDepth float64
}

// New constructs a Tracker in StateIdle, dispatching Brake/DesiredZ
// publications through dispatcher.
func New(dispatcher Dispatcher, log *logging.Logger, params Params) *Tracker {
	if log == nil {
		log = logging.Nop()
	}
	return &Tracker{dispatcher: dispatcher, log: log, params: params}
}

// State returns the tracker's current state.
func (t *Tracker) State() State { return t.state }

// ForcedReason returns why the tracker is currently overriding with depth,
// if any.
func (t *Tracker) ForcedReason() ForcedReason { return t.forced }

// AltitudeValid reports the latched altitude-validity flag.
func (t *Tracker) AltitudeValid() bool { return t.altValid }

func (t *Tracker) validReference() bool {
	return t.haveOriginal && t.originalZ.ZUnits != message.ZUnitsNone && t.desiredSpeed > 0
}

// OnReference feeds a freshly-computed Z reference and the path
// controller's current desired speed to the tracker. It implements
// the IDLE<->TRACKING<->DEPTH edges that are driven by the reference's
// units changing, dispatching the reference itself whenever the tracker is
// not actively overriding it.
func (t *Tracker) OnReference(z message.DesiredZ, speed float64) {
	t.desiredSpeed = speed
	unitsChanged := !t.haveOriginal || t.originalZ.ZUnits != z.ZUnits
	t.originalZ = z
	t.haveOriginal = true

	if !t.validReference() {
		return
	}
	if !unitsChanged {
		return
	}

	switch z.ZUnits {
	case message.ZUnitsAltitude:
		switch {
		case t.state == StateIdle:
			t.state = StateTracking
			t.dispatchOriginalZ()
		case t.state == StateDepth && t.forced == ForcedNone:
			t.state = StateTracking
			t.dispatchOriginalZ()
		}
	case message.ZUnitsDepth:
		switch {
		case t.state == StateTracking:
			t.state = StateIdle
			t.dispatchOriginalZ()
		case t.state == StateDepth && z.Value < t.params.DepthLimit:
			t.forced = ForcedNone
			t.state = StateIdle
			t.dispatchOriginalZ()
		}
	}
}

// Update evaluates the altitude/range/slope monitor, rate-limited to at
// most once per params.ControlPeriod. depth/altitude/forwardRange are the
// latest EstimatedState/Distance samples; pitch is the vehicle's current
// pitch angle (radians, nose-down negative), used by the UNSAFE trend
// check.
func (t *Tracker) Update(now time.Time, depth, altitude, pitch, forwardRange float64) {
	if !t.lastEval.IsZero() && now.Sub(t.lastEval) < t.params.ControlPeriod {
		return
	}
	t.lastEval = now

	t.updateAltitudeValidity(depth)
	t.updateSlope(forwardRange)

	if !t.validReference() {
		return
	}

	lowAltOrRange := altitude < t.params.MinAlt || forwardRange < t.params.MinRange

	switch t.state {
	case StateTracking:
		switch {
		case lowAltOrRange:
			t.enterAvoiding()
		case t.slopeAngle >= t.params.SafePitch:
			t.enterUnsafe(depth)
		case (depth+altitude-t.originalZ.Value) > t.params.DepthLimit+t.params.Hysteresis:
			t.forceDepth()
		}
	case StateUnsafe:
		switch {
		case lowAltOrRange:
			t.enterAvoiding()
		case t.slopeAngle < t.params.SafePitch:
			t.state = StateTracking
			t.dispatchOriginalZ()
		case t.slopeAngle > t.lastUnsafeSlope && (!t.params.TrendCheck || pitch < 0):
			t.slopeTopDepth = depth
			t.dispatchSafeDepth()
			t.lastUnsafeSlope = t.slopeAngle
		}
	case StateDepth:
		switch {
		case lowAltOrRange:
			t.enterAvoiding()
		case (depth+altitude-t.originalZ.Value) <= t.params.DepthLimit+t.params.Hysteresis:
			t.forced = ForcedNone
			if t.originalZ.ZUnits == message.ZUnitsAltitude {
				t.state = StateTracking
				t.dispatchOriginalZ()
			}
		}
	case StateAvoiding:
		if t.slopeAngle < t.params.SafePitch && altitude >= t.originalZ.Value {
			t.dispatcher.DispatchBrake(message.BrakeStop)
			t.state = StateTracking
			t.dispatchOriginalZ()
		}
	}
}

func (t *Tracker) updateAltitudeValidity(depth float64) {
	switch {
	case depth >= t.params.DepthTol:
		t.altValid = true
	case depth < t.params.DepthTol-t.params.Hysteresis:
		t.altValid = false
	}
}

// updateSlope maintains a one-sample sliding estimate of the terrain slope
// angle implied by the change in forward range over one control period's
// worth of travel.
func (t *Tracker) updateSlope(forwardRange float64) {
	horizontal := t.desiredSpeed * t.params.ControlPeriod.Seconds()
	if t.haveLastRange && horizontal > 0 {
		t.slopeAngle = math.Atan2(t.lastRange-forwardRange, horizontal)
	}
	t.lastRange = forwardRange
	t.haveLastRange = true
}

func (t *Tracker) enterAvoiding() {
	if t.state != StateAvoiding {
		t.dispatcher.DispatchBrake(message.BrakeStart)
	}
	t.state = StateAvoiding
}

func (t *Tracker) enterUnsafe(depth float64) {
	t.slopeTopDepth = depth
	t.lastUnsafeSlope = t.slopeAngle
	t.dispatchSafeDepth()
	t.state = StateUnsafe
}

func (t *Tracker) forceDepth() {
	t.forced = ForcedDepth
	t.dispatcher.DispatchZ(message.DesiredZ{Value: t.params.DepthLimit, ZUnits: message.ZUnitsDepth})
	t.state = StateDepth
}

// dispatchSafeDepth publishes the depth at the detected slope top minus the
// active altitude reference, clamped to be non-negative.
func (t *Tracker) dispatchSafeDepth() {
	safe := t.slopeTopDepth - t.originalZ.Value
	if safe < 0 {
		safe = 0
	}
	t.dispatcher.DispatchZ(message.DesiredZ{Value: safe, ZUnits: message.ZUnitsDepth})
}

func (t *Tracker) dispatchOriginalZ() {
	t.dispatcher.DispatchZ(t.originalZ)
}
