// Package message defines the typed message catalog exchanged over the bus.
//
// The catalog stands in for the external, wire-serialized message set a real
// deployment generates from an IDL; here it is hand-written because the
// runtime needs concrete Go types to dispatch against. Serialization itself
// remains out of scope: Payload values are never marshaled by this package.
package message

import "time"

// TypeID is the stable 16-bit identifier of a message type.
type TypeID uint16

// Catalog of type ids. Values are stable for a given build and must never be
// reused for a different payload shape.
const (
	TypeEstimatedState TypeID = iota + 1
	TypeGpsFix
	TypeDistance
	TypeDesiredPath
	TypePathControlState
	TypeDesiredZ
	TypeDesiredSpeed
	TypeDesiredHeading
	TypeControlLoops
	TypeVehicleCommand
	TypeVehicleState
	TypeManeuverControlState
	TypePlanControl
	TypeEntityMonitoringState
	TypeAbort
	TypeBrake
	TypeStopManeuver
	TypeIdleManeuver
	TypeCalibration
	TypeEntityState
	TypeLoiter
)

// Broadcast is used as the destination system/entity id to mean "all".
const Broadcast uint16 = 0xFFFF

// Flags control publish-time behavior. They are not part of the wire
// payload; they govern how Bus.Publish stamps and routes the message.
type Flags uint8

const FlagNone Flags = 0

const (
	// FlagKeepTime preserves a caller-supplied Timestamp instead of stamping
	// wall-clock time at publish.
	FlagKeepTime Flags = 1 << iota
	// FlagLoopBack additionally delivers the message back to its publisher.
	FlagLoopBack
)

// Payload is implemented by every concrete message body.
type Payload interface {
	// Type returns the stable type id of the payload.
	Type() TypeID
}

// Message is a tagged, value-copied record. Receivers observe an immutable
// snapshot: Message and its Payload must not be mutated after publish.
type Message struct {
	Type        TypeID
	SrcSystem   uint16
	SrcEntity   uint16
	DstSystem   uint16
	DstEntity   uint16
	Timestamp   float64 // seconds since Unix epoch
	Payload     Payload
}

// SecondsSinceEpoch converts a time.Time to the double-precision wire
// timestamp format used throughout the catalog.
func SecondsSinceEpoch(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// IsBroadcast reports whether the message targets every entity on dst's
// system.
func (m Message) IsBroadcast() bool {
	return m.DstEntity == Broadcast
}
