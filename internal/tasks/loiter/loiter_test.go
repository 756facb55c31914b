package loiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-uuvcore/internal/bus"
	"github.com/joeycumines/go-uuvcore/internal/clock"
	"github.com/joeycumines/go-uuvcore/internal/entity"
	"github.com/joeycumines/go-uuvcore/internal/maneuverlock"
	"github.com/joeycumines/go-uuvcore/internal/task"
	"github.com/joeycumines/go-uuvcore/pkg/message"
)

func newTestTask(t *testing.T) (*Task, *bus.Bus, *bus.Inbox) {
	t.Helper()
	clk := clock.New()
	b := bus.New(clk, nil)
	lock := maneuverlock.New()
	tk := NewTask(b, clk, nil, lock, 1)

	rt := &task.Runtime{Name: "loiter", EntityID: 5, Bus: b, Clock: clk, Entities: entity.NewCatalog()}
	require.NoError(t, tk.OnEntityReservation(rt))

	observer := bus.NewInbox("observer", 0, 0, nil)
	b.Subscribe(observer, message.TypeDesiredPath, nil)
	b.Subscribe(observer, message.TypeManeuverControlState, nil)
	return tk, b, observer
}

func TestOnLoiterAcquiresLockAndPublishesDesiredPath(t *testing.T) {
	tk, _, observer := newTestTask(t)

	tk.onLoiter(context.Background(), message.Loiter{
		Lat: 0.7188, Lon: -0.152, Z: 2,
		Radius: 50, Speed: 1.0, SpeedUnits: message.SpeedUnitsMPS,
		Direction: message.LoiterClockwise,
	})

	assert.True(t, tk.base.Active())

	msg, ok := observer.Wait(context.Background(), time.Millisecond)
	require.True(t, ok)
	require.Equal(t, message.TypeDesiredPath, msg.Type)
	dp := msg.Payload.(message.DesiredPath)
	assert.Equal(t, 50.0, dp.Lradius)
	assert.Equal(t, message.PathFlags(0), dp.Flags&message.FlCclockw)

	msg, ok = observer.Wait(context.Background(), time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, message.TypeManeuverControlState, msg.Type)
	assert.Equal(t, message.ManeuverExecuting, msg.Payload.(message.ManeuverControlState).State)
}

func TestOnLoiterCounterClockwiseSetsFlag(t *testing.T) {
	tk, _, observer := newTestTask(t)
	tk.onLoiter(context.Background(), message.Loiter{Radius: 10, Speed: 1, Direction: message.LoiterCounterClockwise})

	msg, ok := observer.Wait(context.Background(), time.Millisecond)
	require.True(t, ok)
	dp := msg.Payload.(message.DesiredPath)
	assert.NotZero(t, dp.Flags&message.FlCclockw)
}

func TestPathControlStateEstablishesLoiteringOnce(t *testing.T) {
	tk, _, observer := newTestTask(t)
	tk.onLoiter(context.Background(), message.Loiter{Radius: 10, Speed: 1})
	observer.Wait(context.Background(), time.Millisecond)
	observer.Wait(context.Background(), time.Millisecond)

	tk.onPathControlState(message.PathControlState{Flags: message.FlLoitering})
	assert.True(t, tk.haveEstablished)

	msg, ok := observer.Wait(context.Background(), time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, message.ManeuverExecuting, msg.Payload.(message.ManeuverControlState).State)

	// a second loitering report while already established must not
	// re-dispatch progress.
	tk.onPathControlState(message.PathControlState{Flags: message.FlLoitering})
	_, ok = observer.Wait(context.Background(), time.Millisecond)
	assert.False(t, ok)
}

func TestFiniteDurationLoiterCompletes(t *testing.T) {
	tk, _, observer := newTestTask(t)
	tk.onLoiter(context.Background(), message.Loiter{Radius: 10, Speed: 1, Duration: 5})
	observer.Wait(context.Background(), time.Millisecond)
	observer.Wait(context.Background(), time.Millisecond)

	tk.onPathControlState(message.PathControlState{Flags: message.FlLoitering})
	observer.Wait(context.Background(), time.Millisecond) // established-progress report

	tk.loiterEstablishedAt -= 6 // simulate 6 seconds of established loitering
	tk.onPathControlState(message.PathControlState{Flags: message.FlLoitering})

	msg, ok := observer.Wait(context.Background(), time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, message.ManeuverDone, msg.Payload.(message.ManeuverControlState).State)
	assert.True(t, tk.base.Active(), "Done must not itself release the lock; only StopManeuver does")
}

func TestStopManeuverReleasesLockIdempotently(t *testing.T) {
	tk, _, _ := newTestTask(t)
	tk.onLoiter(context.Background(), message.Loiter{Radius: 10, Speed: 1})
	require.True(t, tk.base.Active())

	tk.onStopManeuver()
	assert.False(t, tk.base.Active())
	tk.onStopManeuver()
	assert.False(t, tk.base.Active())
}
