// Package supervisor implements the vehicle supervisor state machine: the
// single source of truth for the vehicle's operating
// mode, its five states (SERVICE, CALIBRATION, ERROR, MANEUVER, EXTERNAL),
// and the transition table that governs movement between them.
package supervisor

import (
	"sync"
	"time"

	"github.com/joeycumines/go-uuvcore/internal/clock"
	"github.com/joeycumines/go-uuvcore/internal/controlloop"
	"github.com/joeycumines/go-uuvcore/internal/telemetry/logging"
	"github.com/joeycumines/go-uuvcore/pkg/message"
)

// ManeuverDoneWindow is the default new-reference window: the switch timer
// armed when a maneuver reports DONE, giving a
// follow-on task time to supply a fresh reference before the supervisor
// reverts to SERVICE.
const ManeuverDoneWindow = time.Second

type switchPurpose uint8

const (
	switchNone switchPurpose = iota
	switchCalibration
	switchManeuverDone
)

// Machine is the supervisor's pure state-machine core, independent of the
// task/bus plumbing so its transition logic can be tested directly. It is
// not safe to share outside of the injected *controlloop.Mask and
// *clock.Clock, which are themselves process-wide services.
type Machine struct {
	mu   sync.Mutex
	mode message.OpMode

	bus  Publisher
	mask *controlloop.Mask
	clk  *clock.Clock
	log  *logging.Logger

	system, self uint16

	maneuverType     message.TypeID
	maneuverSTime    float64
	maneuverETA      float64
	maneuverDoneFlag bool

	switchDeadline time.Time
	switchPurpose  switchPurpose

	lastError     string
	lastErrorTime float64
	errorCount    int
	errorEntities []string

	inSafePlan bool
}

// Publisher is the subset of *bus.Bus the Machine needs, so tests can
// substitute a recorder.
type Publisher interface {
	Publish(pubSystem, pubEntity uint16, msg message.Message, flags message.Flags)
}

// New constructs a Machine in SERVICE mode. system/self identify the
// supervisor for publishes it originates (StopManeuver, Calibration,
// VehicleState).
func New(b Publisher, mask *controlloop.Mask, clk *clock.Clock, log *logging.Logger, system, self uint16) *Machine {
	if log == nil {
		log = logging.Nop()
	}
	return &Machine{
		mode:   message.OpModeService,
		bus:    b,
		mask:   mask,
		clk:    clk,
		log:    log,
		system: system,
		self:   self,
	}
}

// Mode returns the current operating mode.
func (m *Machine) Mode() message.OpMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// HandleVehicleCommand processes a request-kind VehicleCommand and returns
// the reply, which is always produced: a command in an incompatible mode
// fails rather than being silently ignored or forcing an illegal
// transition.
func (m *Machine) HandleVehicleCommand(cmd message.VehicleCommand) message.VehicleCommand {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch cmd.Command {
	case message.CmdExecManeuver:
		if m.mode != message.OpModeService {
			return m.fail(cmd, "EXEC_MANEUVER requires SERVICE mode")
		}
		m.publishStopManeuverLocked()
		m.maneuverType = cmd.ManeuverType
		if cmd.ManeuverInline != nil {
			m.maneuverType = cmd.ManeuverInline.Type()
		}
		m.maneuverSTime = m.clk.SinceEpoch()
		m.maneuverETA = 0
		m.maneuverDoneFlag = false
		m.disarmSwitchLocked()
		if cmd.ManeuverInline != nil {
			m.bus.Publish(m.system, m.self, message.Message{Type: m.maneuverType, Payload: cmd.ManeuverInline}, message.FlagNone)
		}
		m.mode = message.OpModeManeuver
		reply := m.success(cmd)
		if name := message.TypeName(m.maneuverType); name != "" {
			reply.Info = name + " maneuver started"
		} else {
			reply.Info = "maneuver started"
		}
		return reply

	case message.CmdStopManeuver:
		if m.mode != message.OpModeManeuver {
			return m.fail(cmd, "STOP_MANEUVER requires MANEUVER mode")
		}
		m.leaveManeuverLocked()
		m.mode = message.OpModeService
		return m.success(cmd)

	case message.CmdStartCalibration:
		if m.mode != message.OpModeService {
			return m.fail(cmd, "START_CALIBRATION requires SERVICE mode")
		}
		m.bus.Publish(m.system, m.self, message.Message{Type: message.TypeCalibration, Payload: message.Calibration{Duration: cmd.CalibTime}}, message.FlagNone)
		m.armSwitchLocked(switchCalibration, time.Duration(cmd.CalibTime*float64(time.Second)))
		m.mode = message.OpModeCalibration
		return m.success(cmd)

	case message.CmdStopCalibration:
		if m.mode != message.OpModeCalibration {
			return m.fail(cmd, "STOP_CALIBRATION requires CALIBRATION mode")
		}
		m.disarmSwitchLocked()
		m.mode = message.OpModeService
		return m.success(cmd)

	default:
		return m.fail(cmd, "unrecognized command")
	}
}

func (m *Machine) success(cmd message.VehicleCommand) message.VehicleCommand {
	return message.VehicleCommand{Kind: message.CmdSuccess, Command: cmd.Command, RequestID: cmd.RequestID}
}

func (m *Machine) fail(cmd message.VehicleCommand, info string) message.VehicleCommand {
	return message.VehicleCommand{Kind: message.CmdFailure, Command: cmd.Command, RequestID: cmd.RequestID, Info: info}
}

// HandleManeuverControlState reacts to a maneuver's progress/completion/
// error report. Only meaningful while in MANEUVER mode; ignored otherwise,
// since no other mode has an active maneuver to report on.
func (m *Machine) HandleManeuverControlState(mcs message.ManeuverControlState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode != message.OpModeManeuver {
		return
	}
	switch mcs.State {
	case message.ManeuverDone:
		m.maneuverDoneFlag = true
		m.maneuverETA = mcs.ETA
		m.armSwitchLocked(switchManeuverDone, ManeuverDoneWindow)
	case message.ManeuverError:
		m.lastError = mcs.Info
		m.lastErrorTime = m.clk.SinceEpoch()
		m.leaveManeuverLocked()
		m.mode = message.OpModeService
	}
}

// HandleAbort stops whatever the vehicle is doing: from any mode the
// machine resets (stop maneuver, disable loops) and lands in SERVICE, or
// ERROR if entity errors are still outstanding. The safe-plan filter is
// cleared unconditionally.
func (m *Machine) HandleAbort() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveManeuverLocked()
	if m.errorCount > 0 {
		m.mode = message.OpModeError
	} else {
		m.mode = message.OpModeService
	}
}

// HandleEntityMonitoring updates the supervisor's error bookkeeping and
// applies the error-triggered transition to ERROR, subject to the
// safe-plan filter and (in MANEUVER/EXTERNAL) the non-overridable loop
// exemption.
func (m *Machine) HandleEntityMonitoring(ems message.EntityMonitoringState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.errorCount = ems.ECount
	m.errorEntities = append([]string(nil), ems.ENames...)
	if ems.LastError != "" {
		m.lastError = ems.LastError
		m.lastErrorTime = ems.LastErrorTime
	}
	hasErrors := ems.ECount > 0

	switch m.mode {
	case message.OpModeService:
		if hasErrors && !m.inSafePlan {
			m.resetLocked()
			m.mode = message.OpModeError
		}
	case message.OpModeManeuver, message.OpModeExternal:
		if hasErrors && !m.inSafePlan && !m.mask.Current().NonOverridable() {
			m.leaveManeuverLocked()
			m.mode = message.OpModeError
		}
	case message.OpModeError:
		if !hasErrors {
			m.mode = message.OpModeService
		}
	}
}

// HandleControlLoops applies a control-loop grant/revocation to the
// process-wide mask and evaluates the SERVICE<->EXTERNAL and
// ERROR->EXTERNAL edges against the result. The mask carries its own lock
// and is never held across a publish, so applying under m.mu is safe.
func (m *Machine) HandleControlLoops(cl message.ControlLoops) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.mask.Apply(cl.Enable, cl.Mask)

	switch m.mode {
	case message.OpModeService:
		if cl.Enable && cl.Mask != 0 {
			m.mode = message.OpModeExternal
		}
	case message.OpModeExternal:
		if m.mask.Current() == 0 {
			m.mode = message.OpModeService
		}
	case message.OpModeError:
		if cl.Enable && m.mask.Current().NonOverridable() {
			m.mode = message.OpModeExternal
		}
	}
}

// HandlePlanControl latches or clears the safe-plan filter. Since the wire
// catalog carries no explicit
// safe-entities list on PlanControl, in_safe_plan is treated as tolerating
// every entity's errors for the plan's duration rather than a
// per-entity allow-list; see DESIGN.md for the rationale.
func (m *Machine) HandlePlanControl(pc message.PlanControl) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case pc.Type == message.PlanRequest && pc.Op == message.PlanOpStart && pc.Flags&message.PlanIgnoreErrors != 0:
		m.inSafePlan = true
	case pc.Op == message.PlanOpStop:
		m.inSafePlan = false
	}
}

// CheckSwitchTimer evaluates the one-shot switch timer against now,
// performing the calibration-expiry or maneuver-done-without-new-reference
// transition if it has elapsed. Returns true if a transition occurred.
func (m *Machine) CheckSwitchTimer(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.switchPurpose == switchNone || now.Before(m.switchDeadline) {
		return false
	}
	purpose := m.switchPurpose
	m.disarmSwitchLocked()
	switch purpose {
	case switchCalibration:
		m.mode = message.OpModeService
		return true
	case switchManeuverDone:
		m.leaveManeuverLocked()
		m.mode = message.OpModeService
		return true
	}
	return false
}

// Snapshot renders the current state as a VehicleState, for periodic and
// transition-triggered publication.
func (m *Machine) Snapshot() message.VehicleState {
	m.mu.Lock()
	defer m.mu.Unlock()
	var flags message.VehicleStateFlags
	if m.maneuverDoneFlag {
		flags |= message.VsManeuverDone
	}
	return message.VehicleState{
		OpMode:        m.mode,
		ManeuverType:  m.maneuverType,
		ManeuverSTime: m.maneuverSTime,
		ManeuverETA:   m.maneuverETA,
		Flags:         flags,
		ControlLoops:  m.mask.Current(),
		LastError:     m.lastError,
		LastErrorTime: m.lastErrorTime,
		ErrorCount:    m.errorCount,
		ErrorEntities: append([]string(nil), m.errorEntities...),
	}
}

func (m *Machine) publishStopManeuverLocked() {
	m.bus.Publish(m.system, m.self, message.Message{Type: message.TypeStopManeuver, Payload: message.StopManeuver{}}, message.FlagNone)
}

// resetLocked performs the "stop maneuver, disable loops, idle" action
// common to every ERROR/SERVICE reset transition in the transition table.
// It never revokes non-overridable loops (teleoperation, NO_OVERRIDE);
// HandleEntityMonitoring does not enter ERROR from MANEUVER or EXTERNAL
// while those bits are set.
func (m *Machine) resetLocked() {
	m.publishStopManeuverLocked()
	m.bus.Publish(m.system, m.self, message.Message{Type: message.TypeIdleManeuver, Payload: message.IdleManeuver{}}, message.FlagNone)
	clearable := m.mask.Current() &^ (message.CLTeleoperation | message.CLNoOverride)
	if clearable != 0 {
		m.mask.Apply(false, clearable)
		// announce the revocation so loop owners (path controller and
		// friends) observe their deactivation.
		m.bus.Publish(m.system, m.self, message.Message{Type: message.TypeControlLoops, Payload: message.ControlLoops{Enable: false, Mask: clearable}}, message.FlagNone)
	}
	m.maneuverType = 0
	m.maneuverDoneFlag = false
	m.disarmSwitchLocked()
}

// leaveManeuverLocked is resetLocked plus the safe-plan clear: in_safe_plan
// does not survive any exit from MANEUVER, whether by StopManeuver, Abort,
// maneuver error, entity error, or the new-reference window expiring.
func (m *Machine) leaveManeuverLocked() {
	m.resetLocked()
	m.inSafePlan = false
}

func (m *Machine) armSwitchLocked(purpose switchPurpose, d time.Duration) {
	if d < 0 {
		d = 0
	}
	m.switchPurpose = purpose
	m.switchDeadline = m.clk.Now().Add(d)
}

func (m *Machine) disarmSwitchLocked() {
	m.switchPurpose = switchNone
}
