// Package pathcontrol implements the path controller:
// it consumes a DesiredPath, tracks progress along the resulting
// start/end segment (or loiter circle), publishes Z/speed references, and
// monitors along-track and cross-track divergence.
package pathcontrol

import (
	"math"
	"time"

	"github.com/joeycumines/go-uuvcore/internal/bottomtrack"
	"github.com/joeycumines/go-uuvcore/internal/geo"
	"github.com/joeycumines/go-uuvcore/pkg/message"
)

// Params bundles the controller's tunable parameters (monitor periods and
// limits), bound via internal/param in the owning task.
type Params struct {
	// AtmPeriod is how often the along-track monitor evaluates progress.
	AtmPeriod time.Duration
	// MinSpeed/MinYaw are the minimum expected along-track/course progress
	// per AtmPeriod.
	MinSpeed float64
	MinYaw   float64
	// CrossTrackLimit is the cross-track distance band half-width.
	CrossTrackLimit float64
	// CrossTrackTimeLimit bounds how long the vehicle may remain outside
	// the cross-track band before the monitor reports ERROR.
	CrossTrackTimeLimit time.Duration
	// LSizeFactor scales the loiter radius to decide "inside the circle"
	// for the loiter offset sign rule.
	LSizeFactor float64
	// CTime/CTimeFactor parameterize the ETA formula.
	CTime       float64
	CTimeFactor float64
	// NewRefTimeout bounds how long the controller will hold position once
	// nearby without receiving a fresh DesiredPath before declaring
	// divergence.
	NewRefTimeout time.Duration
}

// DefaultParams returns conservative defaults, overridden per profile via
// internal/config and internal/param.
func DefaultParams() Params {
	return Params{
		AtmPeriod:           time.Second,
		MinSpeed:            0.1,
		MinYaw:              0.05,
		CrossTrackLimit:     10,
		CrossTrackTimeLimit: 10 * time.Second,
		LSizeFactor:         1.2,
		CTime:               2,
		CTimeFactor:         1,
		NewRefTimeout:       5 * time.Second,
	}
}

// MonitorMode enumerates the along-track/cross-track monitor sub-states.
type MonitorMode uint8

const (
	MonitorNominal MonitorMode = iota
	MonitorDiverging
	MonitorError
)

// Publisher is the subset of *bus.Bus the controller needs to emit
// references and state reports.
type Publisher interface {
	Publish(pubSystem, pubEntity uint16, msg message.Message, flags message.Flags)
}

// Controller is the path controller's pure tracking/monitor core,
// independent of bus/task plumbing so its geometry and state-machine logic
// can be tested directly.
type Controller struct {
	params Params
	bus    Publisher
	system uint16
	self   uint16

	origin geo.Origin

	active bool
	braking bool

	startE, startN float64
	endE, endN     float64
	trackBearing   float64
	trackLength    float64

	x, y           float64
	course, speed  float64
	courseError    float64
	eta            float64
	nearby         bool
	nearbyTime     time.Time

	loitering     bool
	loiterCenterE float64
	loiterCenterN float64
	loiterRadius  float64
	loiterCCW     bool

	prevEnd    struct{ e, n float64 }
	hasPrevEnd bool
	prevEnded  bool
	endTime    time.Time

	refTimedOut bool

	zUnits       message.ZUnits
	zValue       float64
	noZ          bool
	desiredSpeed float64

	bottom *bottomtrack.Tracker

	along alongTrackMonitor
	cross crossTrackMonitor
}

type alongTrackMonitor struct {
	mode       MonitorMode
	lastCheck  time.Time
	lastProgress float64
}

type crossTrackMonitor struct {
	mode  MonitorMode
	since time.Time
}

// New constructs a Controller anchored at origin.
func New(b Publisher, system, self uint16, origin geo.Origin, params Params) *Controller {
	return &Controller{bus: b, system: system, self: self, origin: origin, params: params}
}

// SetOrigin re-anchors the controller's local frame, re-projecting the
// active track's start/end into the new frame.
func (c *Controller) SetOrigin(origin geo.Origin) {
	if origin == c.origin {
		return
	}
	oldStartLat, oldStartLon := c.origin.FromENU(c.startE, c.startN)
	oldEndLat, oldEndLon := c.origin.FromENU(c.endE, c.endN)
	c.origin = origin
	c.startE, c.startN = origin.ToENU(oldStartLat, oldStartLon)
	c.endE, c.endN = origin.ToENU(oldEndLat, oldEndLon)
}

// Active reports whether the controller currently owns CL_PATH.
func (c *Controller) Active() bool { return c.active }

// SetBraking marks whether the vehicle is currently braking; monitors
// deactivate while braking.
func (c *Controller) SetBraking(braking bool) { c.braking = braking }

// ConsumeControlLoops implements "consume(ControlLoops) toggles path
// controller on the CL_PATH bit". Deactivation disables the
// Z loop last used.
func (c *Controller) ConsumeControlLoops(cl message.ControlLoops) {
	if cl.Mask&message.CLPath == 0 {
		return
	}
	c.active = cl.Enable
	if !c.active {
		c.disableZLoop()
	}
}

// AttachBottomTracker enables the nested bottom-tracker sub-state-machine
//: once attached, Z references are fed to it rather than
// published directly, and OnEstimatedState's caller must also drive
// UpdateBottomTracker on every Distance/EstimatedState pair.
func (c *Controller) AttachBottomTracker(bt *bottomtrack.Tracker) {
	c.bottom = bt
}

// UpdateBottomTracker evaluates the attached bottom-tracker's monitor, a
// no-op if none is attached.
func (c *Controller) UpdateBottomTracker(now time.Time, depth, altitude, pitch, forwardRange float64) {
	if c.bottom == nil {
		return
	}
	c.bottom.Update(now, depth, altitude, pitch, forwardRange)
}

// DispatchBrake implements bottomtrack.Dispatcher: the tracker may dispatch
// references only while the parent path controller is active.
func (c *Controller) DispatchBrake(op message.BrakeOp) {
	if !c.active {
		return
	}
	c.bus.Publish(c.system, c.self, message.Message{Type: message.TypeBrake, Payload: message.Brake{Op: op}}, message.FlagNone)
}

// DispatchZ implements bottomtrack.Dispatcher, and is also used directly by
// OnDesiredPath when no bottom-tracker is attached.
func (c *Controller) DispatchZ(z message.DesiredZ) {
	if !c.active {
		return
	}
	c.bus.Publish(c.system, c.self, message.Message{Type: message.TypeDesiredZ, Payload: z}, message.FlagNone)
}

func (c *Controller) disableZLoop() {
	switch c.zUnits {
	case message.ZUnitsDepth:
		c.bus.Publish(c.system, c.self, message.Message{Type: message.TypeControlLoops, Payload: message.ControlLoops{Enable: false, Mask: message.CLDepth}}, message.FlagNone)
	case message.ZUnitsAltitude:
		c.bus.Publish(c.system, c.self, message.Message{Type: message.TypeControlLoops, Payload: message.ControlLoops{Enable: false, Mask: message.CLAltitude}}, message.FlagNone)
	}
}

// OnDesiredPath accepts a fresh path reference: start-point selection,
// track frame, loiter geometry, Z and speed references, monitor reset.
// curLat/curLon/curHeading describe the vehicle's current
// estimated position and heading, used by the start-point and
// loiter-singularity fallback rules.
func (c *Controller) OnDesiredPath(dp message.DesiredPath, now time.Time, curLat, curLon, curHeading float64) {
	curE, curN := c.origin.ToENU(curLat, curLon)

	// step 1: start point. A previous end is reused only while it is still
	// current: either the previous path never ended, or it ended less than
	// one second ago. The 1s threshold is a deliberate hysteresis.
	var startE, startN float64
	prevEndFresh := c.hasPrevEnd && !(c.prevEnded && now.Sub(c.endTime) > time.Second)
	switch {
	case dp.Flags&message.FlStart != 0:
		startE, startN = c.origin.ToENU(dp.StartLat, dp.StartLon)
	case prevEndFresh && !c.nearby:
		startE, startN = c.prevEnd.e, c.prevEnd.n
	default:
		startE, startN = curE, curN
	}
	endE, endN := c.origin.ToENU(dp.EndLat, dp.EndLon)

	c.startE, c.startN = startE, startN
	c.endE, c.endN = endE, endN

	// step 2: track frame.
	c.trackLength = geo.Distance(startE, startN, endE, endN)
	if c.trackLength >= 1 {
		c.trackBearing = geo.Bearing(startE, startN, endE, endN)
	} else {
		c.trackBearing = curHeading
	}

	// step 3: loiter rule. The circle's center sits one radius abeam of the
	// commanded end: to the right of track for clockwise, to the left for
	// counter-clockwise. When the vehicle is already inside the circle
	// (within LSizeFactor radii of the end) and heading toward it, the
	// center is mirrored to the near side so entry does not cut across.
	c.loitering = false
	c.loiterRadius = dp.Lradius
	if dp.Lradius > 0 {
		ccw := dp.Flags&message.FlCclockw != 0
		sign := 1.0
		if ccw {
			sign = -1.0
		}
		if geo.Distance(curE, curN, endE, endN) < c.params.LSizeFactor*dp.Lradius {
			inward := normalizeAngle(curHeading - geo.Bearing(curE, curN, endE, endN))
			if math.Abs(inward) < math.Pi/2 {
				sign = -sign
			}
		}
		offsetBearing := c.trackBearing + sign*math.Pi/2
		c.loiterCenterE = endE + dp.Lradius*math.Sin(offsetBearing)
		c.loiterCenterN = endN + dp.Lradius*math.Cos(offsetBearing)
		c.loiterCCW = ccw
		if dp.Flags&message.FlLoiterCurr != 0 {
			c.loitering = true
		}
	}

	// step 4: Z reference.
	c.noZ = dp.Flags&message.FlNoZ != 0
	c.desiredSpeed = dp.Speed
	if !c.noZ {
		c.zUnits = dp.EndZUnits
		c.zValue = dp.EndZ
		var enable, disable message.ControlLoopMask
		if dp.EndZUnits == message.ZUnitsAltitude {
			enable, disable = message.CLAltitude, message.CLDepth
		} else {
			enable, disable = message.CLDepth, message.CLAltitude
		}
		c.bus.Publish(c.system, c.self, message.Message{Type: message.TypeControlLoops, Payload: message.ControlLoops{Enable: false, Mask: disable}}, message.FlagNone)
		c.bus.Publish(c.system, c.self, message.Message{Type: message.TypeControlLoops, Payload: message.ControlLoops{Enable: true, Mask: enable}}, message.FlagNone)

		zRef := message.DesiredZ{Value: dp.EndZ, ZUnits: dp.EndZUnits}
		if c.bottom != nil {
			c.bottom.OnReference(zRef, dp.Speed)
		} else {
			c.DispatchZ(zRef)
		}
	}

	// step 5: speed reference.
	c.bus.Publish(c.system, c.self, message.Message{Type: message.TypeControlLoops, Payload: message.ControlLoops{Enable: true, Mask: message.CLSpeed}}, message.FlagNone)
	c.bus.Publish(c.system, c.self, message.Message{Type: message.TypeDesiredSpeed, Payload: message.DesiredSpeed{Value: dp.Speed, Units: dp.SpeedUnits}}, message.FlagNone)

	// step 6: reset monitors.
	c.resetMonitors()
	c.nearby = false
	c.refTimedOut = false
	c.prevEnd = struct{ e, n float64 }{endE, endN}
	c.hasPrevEnd = true
	c.prevEnded = false
}

func (c *Controller) resetMonitors() {
	c.along = alongTrackMonitor{}
	c.cross = crossTrackMonitor{}
}

// courseControlled selects whether course is derived from velocity
// (true) or heading psi (false); it is fixed to true in this
// implementation.
const courseControlled = true

// OnEstimatedState advances the tracking state from the latest estimate
// and evaluates the monitors, returning the freshly computed
// PathControlState for publication. Monitor outcomes are read afterwards
// through AlongTrackMode, CrossTrackMode and RefTimedOut.
func (c *Controller) OnEstimatedState(es message.EstimatedState, now time.Time) message.PathControlState {
	if courseControlled {
		c.course = math.Atan2(es.Vy, es.Vx)
		c.speed = math.Hypot(es.Vx, es.Vy)
	} else {
		c.course = es.Psi
		c.speed = es.U
	}

	curE, curN := c.origin.ToENU(es.Lat, es.Lon)
	if c.loitering {
		// While loitering, cross-track is the radial error from the circle
		// and along-track progress is not meaningful.
		radial := geo.Distance(curE, curN, c.loiterCenterE, c.loiterCenterN)
		c.x = 0
		c.y = radial - c.loiterRadius
	} else {
		c.x, c.y = projectOntoTrack(c.startE, c.startN, c.trackBearing, curE, curN)
	}
	c.courseError = normalizeAngle(c.course - c.trackBearing)

	c.eta = computeETA(c.trackLength, c.x, c.y, c.speed, c.params.CTime, c.params.CTimeFactor)

	wasNearby := c.nearby
	if c.eta <= 0 {
		c.nearby = true
	}
	if c.nearby && !wasNearby {
		c.nearbyTime = now
	}

	if !c.loitering && c.nearby && c.loiterRadius > 0 {
		c.loitering = true
	}
	if c.nearby && c.loiterRadius == 0 && !c.prevEnded {
		c.prevEnded = true
		c.endTime = now
	}

	// Once nearby on a non-loiter path, a fresh DesiredPath must arrive
	// within NewRefTimeout, else the path has diverged from the plan's
	// expectations.
	if c.nearby && !c.loitering && c.params.NewRefTimeout > 0 &&
		now.Sub(c.nearbyTime) > c.params.NewRefTimeout {
		c.refTimedOut = true
	}

	c.evaluateAlongTrack(now)
	c.evaluateCrossTrack(now)

	var flags message.PathStateFlags
	if c.nearby {
		flags |= message.FlNear
	}
	if c.loitering {
		flags |= message.FlLoitering
	}

	return message.PathControlState{
		X: c.x, Y: c.y, Z: es.Z,
		Vx: es.Vx, Vy: es.Vy, Vz: es.Vz,
		CourseError: c.courseError,
		ETA:         c.eta,
		Lradius:     c.loiterRadius,
		Flags:       flags,
	}
}

// AlongTrackMode/CrossTrackMode expose the current monitor states, for the
// owning task to decide whether to signal entity ERROR.
func (c *Controller) AlongTrackMode() MonitorMode { return c.along.mode }
func (c *Controller) CrossTrackMode() MonitorMode { return c.cross.mode }

// RefTimedOut reports whether the new-reference window expired after the
// nearby edge fired without a fresh DesiredPath arriving.
func (c *Controller) RefTimedOut() bool { return c.refTimedOut }

// StateSnapshot renders the controller's current tracking state without
// advancing it, for the immediate PathControlState publication a freshly
// accepted DesiredPath requires.
func (c *Controller) StateSnapshot() message.PathControlState {
	var flags message.PathStateFlags
	if c.nearby {
		flags |= message.FlNear
	}
	if c.loitering {
		flags |= message.FlLoitering
	}
	return message.PathControlState{
		X: c.x, Y: c.y,
		CourseError: c.courseError,
		ETA:         c.eta,
		Lradius:     c.loiterRadius,
		Flags:       flags,
	}
}

func (c *Controller) evaluateAlongTrack(now time.Time) {
	if c.braking || c.loitering {
		return
	}
	if c.along.lastCheck.IsZero() {
		c.along.lastCheck = now
		c.along.lastProgress = c.progressMetric()
		return
	}
	if now.Sub(c.along.lastCheck) < c.params.AtmPeriod {
		return
	}

	current := c.progressMetric()
	progress := current - c.along.lastProgress
	expected := c.params.MinSpeed
	if math.Abs(c.courseError) >= math.Pi/2 {
		expected = c.params.MinYaw
	}
	expected *= c.params.AtmPeriod.Seconds()

	switch c.along.mode {
	case MonitorNominal:
		if progress < expected {
			c.along.mode = MonitorDiverging
		}
	case MonitorDiverging:
		if progress >= expected {
			c.along.mode = MonitorNominal
		} else {
			c.along.mode = MonitorError
		}
	}

	c.along.lastCheck = now
	c.along.lastProgress = current
}

func (c *Controller) progressMetric() float64 {
	if math.Abs(c.courseError) < math.Pi/2 {
		return c.x
	}
	return math.Abs(c.courseError)
}

func (c *Controller) evaluateCrossTrack(now time.Time) {
	if c.braking {
		return
	}
	outside := math.Abs(c.y) >= c.params.CrossTrackLimit

	switch c.cross.mode {
	case MonitorNominal:
		if outside {
			c.cross.mode = MonitorDiverging
			c.cross.since = now
		}
	case MonitorDiverging:
		if !outside {
			c.cross.mode = MonitorNominal
		} else if now.Sub(c.cross.since) >= c.params.CrossTrackTimeLimit {
			c.cross.mode = MonitorError
		}
	}
}

// projectOntoTrack returns (along, cross) coordinates of point (px,py)
// relative to the track running from (sx,sy) at bearing trackBearing.
func projectOntoTrack(sx, sy, trackBearing float64, px, py float64) (along, cross float64) {
	dx := px - sx
	dy := py - sy
	sinB := math.Sin(trackBearing)
	cosB := math.Cos(trackBearing)
	along = dy*cosB + dx*sinB
	cross = dx*cosB - dy*sinB
	return along, cross
}

func normalizeAngle(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

// computeETA estimates seconds-to-endpoint, clamped to [0, 65535].
func computeETA(trackLength, x, y, speed, cTime, cTimeFactor float64) float64 {
	errx := math.Abs(trackLength - x)
	erry := math.Abs(y)
	s := math.Max(1, speed)

	var eta float64
	if errx <= erry && erry < 2*cTime*s {
		eta = errx / s
	} else {
		eta = math.Hypot(errx, erry) / s
	}
	eta -= cTimeFactor

	if eta < 0 {
		eta = 0
	}
	if eta > 65535 {
		eta = 65535
	}
	return eta
}
