package message

// ZUnits enumerates the reference frame a DesiredZ/DesiredPath.Z value is
// expressed in.
type ZUnits uint8

const (
	ZUnitsNone ZUnits = iota
	ZUnitsDepth
	ZUnitsAltitude
	ZUnitsHeight
)

// SpeedUnits enumerates the reference frame a speed value is expressed in.
type SpeedUnits uint8

const (
	SpeedUnitsMPS SpeedUnits = iota
	SpeedUnitsRPM
	SpeedUnitsPercent
)

// EstimatedState is the 9-DOF vehicle state, local-frame anchored at
// (Lat, Lon, Height).
type EstimatedState struct {
	Lat, Lon, Height    float64
	X, Y, Z             float64
	Phi, Theta, Psi     float64
	U, V, W             float64
	P, Q, R             float64
	Vx, Vy, Vz          float64
	Depth, Alt          float64
	// AltValid reports whether Alt was produced from a live bottom return
	// (vs. a stale/invalid reading).
	AltValid bool
}

func (EstimatedState) Type() TypeID { return TypeEstimatedState }

// GpsFix reports a raw GPS fix, independent of the fused EstimatedState.
type GpsFix struct {
	Lat, Lon, Height float64
	Valid            bool
}

func (GpsFix) Type() TypeID { return TypeGpsFix }

// Distance is a single ranging sample (e.g. an altimeter/DVL return).
type Distance struct {
	Value    float64
	Validity bool
}

func (Distance) Type() TypeID { return TypeDistance }

// DesiredPath flags.
type PathFlags uint16

const (
	FlStart PathFlags = 1 << iota
	FlDirect
	FlCclockw
	FlLoiterCurr
	FlNoZ
)

// DesiredPath commands the path controller to follow a track from a start
// point (or the vehicle's current/previous position) to an end point.
type DesiredPath struct {
	StartLat, StartLon float64
	StartZ             float64
	StartZUnits        ZUnits
	EndLat, EndLon     float64
	EndZ               float64
	EndZUnits          ZUnits
	Speed              float64
	SpeedUnits         SpeedUnits
	Lradius            float64
	Flags              PathFlags
}

func (DesiredPath) Type() TypeID { return TypeDesiredPath }

// PathControlState flags.
type PathStateFlags uint16

const (
	FlNear PathStateFlags = 1 << iota
	FlLoitering
)

// PathControlState reports path-controller tracking progress.
type PathControlState struct {
	X, Y, Z         float64
	Vx, Vy, Vz      float64
	CourseError     float64
	ETA             float64
	Lradius         float64
	Flags           PathStateFlags
}

func (PathControlState) Type() TypeID { return TypePathControlState }

// DesiredZ requests a depth/altitude/height reference.
type DesiredZ struct {
	Value  float64
	ZUnits ZUnits
}

func (DesiredZ) Type() TypeID { return TypeDesiredZ }

// DesiredSpeed requests a speed reference.
type DesiredSpeed struct {
	Value float64
	Units SpeedUnits
}

func (DesiredSpeed) Type() TypeID { return TypeDesiredSpeed }

// DesiredHeading requests a heading reference, in radians.
type DesiredHeading struct {
	Value float64
}

func (DesiredHeading) Type() TypeID { return TypeDesiredHeading }

// Control-loop mask bits.
type ControlLoopMask uint32

const (
	CLPath ControlLoopMask = 1 << iota
	CLSpeed
	CLDepth
	CLAltitude
	CLTeleoperation
	CLNoOverride
)

// NonOverridable reports whether mask contains a bit that the supervisor's
// error recovery must not unilaterally disable.
func (m ControlLoopMask) NonOverridable() bool {
	return m&(CLTeleoperation|CLNoOverride) != 0
}

// ControlLoops grants or revokes ownership of the bits in Mask.
type ControlLoops struct {
	Enable bool
	Mask   ControlLoopMask
}

func (ControlLoops) Type() TypeID { return TypeControlLoops }

// VehicleCommandType enumerates supervisor commands.
type VehicleCommandType uint8

const (
	CmdExecManeuver VehicleCommandType = iota
	CmdStopManeuver
	CmdStartCalibration
	CmdStopCalibration
)

// VehicleCommandKind distinguishes a request from its reply.
type VehicleCommandKind uint8

const (
	CmdRequest VehicleCommandKind = iota
	CmdSuccess
	CmdFailure
)

// VehicleCommand is both the request and the reply envelope for supervisor
// commands.
type VehicleCommand struct {
	Kind           VehicleCommandKind
	Command        VehicleCommandType
	RequestID      uint16
	ManeuverInline Payload // concrete maneuver args, opaque to the bus
	ManeuverType   TypeID
	CalibTime      float64
	Info           string
}

func (VehicleCommand) Type() TypeID { return TypeVehicleCommand }

// OpMode enumerates the five supervisor states.
type OpMode uint8

const (
	OpModeService OpMode = iota
	OpModeCalibration
	OpModeError
	OpModeManeuver
	OpModeExternal
)

func (m OpMode) String() string {
	switch m {
	case OpModeService:
		return "SERVICE"
	case OpModeCalibration:
		return "CALIBRATION"
	case OpModeError:
		return "ERROR"
	case OpModeManeuver:
		return "MANEUVER"
	case OpModeExternal:
		return "EXTERNAL"
	default:
		return "UNKNOWN"
	}
}

// VehicleStateFlags.
type VehicleStateFlags uint16

const (
	VsManeuverDone VehicleStateFlags = 1 << iota
)

// VehicleState is the supervisor's periodic/transition broadcast.
type VehicleState struct {
	OpMode          OpMode
	ManeuverType    TypeID
	ManeuverSTime   float64
	ManeuverETA     float64
	Flags           VehicleStateFlags
	ControlLoops    ControlLoopMask
	LastError       string
	LastErrorTime   float64
	ErrorCount      int
	ErrorEntities   []string
}

func (VehicleState) Type() TypeID { return TypeVehicleState }

// ManeuverState enumerates maneuver lifecycle states.
type ManeuverState uint8

const (
	ManeuverExecuting ManeuverState = iota
	ManeuverDone
	ManeuverError
)

// ManeuverControlState reports maneuver progress/completion/error.
type ManeuverControlState struct {
	State ManeuverState
	ETA   float64
	Info  string
}

func (ManeuverControlState) Type() TypeID { return TypeManeuverControlState }

// PlanControlType/Op.
type PlanControlType uint8

const (
	PlanRequest PlanControlType = iota
	PlanSuccess
	PlanFailure
)

type PlanControlOp uint8

const (
	PlanOpStart PlanControlOp = iota
	PlanOpStop
	PlanOpLoad
)

// PlanControlFlags.
type PlanControlFlags uint8

const (
	PlanIgnoreErrors PlanControlFlags = 1 << iota
)

// PlanControl starts/stops/loads a maneuver plan.
type PlanControl struct {
	Type  PlanControlType
	Op    PlanControlOp
	PlanID string
	Flags PlanControlFlags
	Arg   Payload
}

func (PlanControl) Type() TypeID { return TypePlanControl }

// EntityMonitoringState aggregates entity health counts and names.
type EntityMonitoringState struct {
	CCount        int
	ECount        int
	CNames        []string
	ENames        []string
	LastError     string
	LastErrorTime float64
}

func (EntityMonitoringState) Type() TypeID { return TypeEntityMonitoringState }

// Abort requests an immediate, unconditional stop of vehicle motion.
type Abort struct{}

func (Abort) Type() TypeID { return TypeAbort }

// BrakeOp enumerates Brake operations.
type BrakeOp uint8

const (
	BrakeStart BrakeOp = iota
	BrakeStop
)

// Brake requests the vehicle's braking behavior start or stop.
type Brake struct {
	Op BrakeOp
}

func (Brake) Type() TypeID { return TypeBrake }

// StopManeuver requests the active maneuver task deactivate. Idempotent.
type StopManeuver struct{}

func (StopManeuver) Type() TypeID { return TypeStopManeuver }

// IdleManeuver requests a no-op/holding maneuver for Duration seconds.
type IdleManeuver struct {
	Duration float64
}

func (IdleManeuver) Type() TypeID { return TypeIdleManeuver }

// Calibration starts a calibration window of Duration seconds.
type Calibration struct {
	Duration float64
}

func (Calibration) Type() TypeID { return TypeCalibration }

// EntityHealth is the entity health enumeration carried by EntityState.
// internal/entity re-exports it as entity.Health; it is defined here because
// internal/entity imports this package, so the reverse import would be a
// cycle.
type EntityHealth uint8

const (
	EntityBoot EntityHealth = iota
	EntityNormal
	EntityFault
	EntityError
	EntityFailure
)

// EntityState is the user-visible failure/health report for a single
// entity.
type EntityState struct {
	EntityName string
	State      EntityHealth
	Code       int
	Detail     string
}

func (EntityState) Type() TypeID { return TypeEntityState }

// TypeName returns the abbreviated name of a catalog type id, or "" for an
// unknown id. The same names are accepted by the bus's BindToList.
func TypeName(t TypeID) string {
	switch t {
	case TypeEstimatedState:
		return "EstimatedState"
	case TypeGpsFix:
		return "GpsFix"
	case TypeDistance:
		return "Distance"
	case TypeDesiredPath:
		return "DesiredPath"
	case TypePathControlState:
		return "PathControlState"
	case TypeDesiredZ:
		return "DesiredZ"
	case TypeDesiredSpeed:
		return "DesiredSpeed"
	case TypeDesiredHeading:
		return "DesiredHeading"
	case TypeControlLoops:
		return "ControlLoops"
	case TypeVehicleCommand:
		return "VehicleCommand"
	case TypeVehicleState:
		return "VehicleState"
	case TypeManeuverControlState:
		return "ManeuverControlState"
	case TypePlanControl:
		return "PlanControl"
	case TypeEntityMonitoringState:
		return "EntityMonitoringState"
	case TypeAbort:
		return "Abort"
	case TypeBrake:
		return "Brake"
	case TypeStopManeuver:
		return "StopManeuver"
	case TypeIdleManeuver:
		return "IdleManeuver"
	case TypeCalibration:
		return "Calibration"
	case TypeEntityState:
		return "EntityState"
	case TypeLoiter:
		return "Loiter"
	default:
		return ""
	}
}

// LoiterDirection enumerates the turn sense of a loiter circuit.
type LoiterDirection uint8

const (
	LoiterClockwise LoiterDirection = iota
	LoiterCounterClockwise
)

// Loiter commands a circular loiter pattern centered at (Lat, Lon, Z),
// consumed by internal/tasks/loiter to drive the path controller around a
// closed circuit of the given Radius and Speed.
type Loiter struct {
	Lat, Lon   float64
	Z          float64
	ZUnits     ZUnits
	Radius     float64
	Speed      float64
	SpeedUnits SpeedUnits
	Direction  LoiterDirection
	Duration   float64 // seconds; 0 means indefinite
}

func (Loiter) Type() TypeID { return TypeLoiter }
