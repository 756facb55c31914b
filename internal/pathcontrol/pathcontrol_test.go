package pathcontrol

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-uuvcore/internal/geo"
	"github.com/joeycumines/go-uuvcore/pkg/message"
)

type recordingPublisher struct {
	sent []message.Message
}

func (r *recordingPublisher) Publish(pubSystem, pubEntity uint16, msg message.Message, flags message.Flags) {
	r.sent = append(r.sent, msg)
}

func (r *recordingPublisher) byType(typ message.TypeID) []message.Message {
	var out []message.Message
	for _, m := range r.sent {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func newActiveController(params Params) (*Controller, *recordingPublisher) {
	pub := &recordingPublisher{}
	c := New(pub, 1, 2, geo.NewOrigin(0.7188, -0.152), params)
	c.ConsumeControlLoops(message.ControlLoops{Enable: true, Mask: message.CLPath})
	return c, pub
}

func northTrackPath() message.DesiredPath {
	return message.DesiredPath{
		StartLat: 0.71880, StartLon: -0.15200,
		EndLat: 0.71890, EndLon: -0.15200,
		EndZ: 2, EndZUnits: message.ZUnitsDepth,
		Speed: 1.5, SpeedUnits: message.SpeedUnitsMPS,
		Flags: message.FlStart,
	}
}

func estimatedAt(lat, lon, vn, ve float64) message.EstimatedState {
	return message.EstimatedState{Lat: lat, Lon: lon, Vx: vn, Vy: ve}
}

func TestDesiredPathProjection(t *testing.T) {
	c, pub := newActiveController(DefaultParams())
	now := time.Unix(1000, 0)

	c.OnDesiredPath(northTrackPath(), now, 0.7188, -0.152, 0)

	assert.InDelta(t, 11.13, c.trackLength, 0.15, "one 1e-4 deg latitude step is ~11.1m")
	assert.InDelta(t, 0, c.trackBearing, 1e-3, "due-north track")

	speeds := pub.byType(message.TypeDesiredSpeed)
	require.Len(t, speeds, 1)
	assert.Equal(t, message.DesiredSpeed{Value: 1.5, Units: message.SpeedUnitsMPS}, speeds[0].Payload)

	zs := pub.byType(message.TypeDesiredZ)
	require.Len(t, zs, 1)
	assert.Equal(t, message.DesiredZ{Value: 2, ZUnits: message.ZUnitsDepth}, zs[0].Payload)

	var enabled, disabled message.ControlLoopMask
	for _, m := range pub.byType(message.TypeControlLoops) {
		cl := m.Payload.(message.ControlLoops)
		if cl.Enable {
			enabled |= cl.Mask
		} else {
			disabled |= cl.Mask
		}
	}
	assert.Equal(t, message.CLSpeed|message.CLDepth, enabled)
	assert.Equal(t, message.CLAltitude, disabled)
}

func TestAlongTrackDivergenceEscalatesToError(t *testing.T) {
	params := DefaultParams()
	params.AtmPeriod = 15 * time.Second
	params.MinSpeed = 0.25
	c, _ := newActiveController(params)

	t0 := time.Unix(1000, 0)
	c.OnDesiredPath(northTrackPath(), t0, 0.7188, -0.152, 0)

	// Vehicle parked at the start of the track, pointed along it.
	stuck := estimatedAt(0.71880, -0.15200, 0.1, 0)

	c.OnEstimatedState(stuck, t0)
	require.Equal(t, MonitorNominal, c.AlongTrackMode())

	c.OnEstimatedState(stuck, t0.Add(16*time.Second))
	assert.Equal(t, MonitorDiverging, c.AlongTrackMode(), "zero progress over one period must flag diverging")

	c.OnEstimatedState(stuck, t0.Add(32*time.Second))
	assert.Equal(t, MonitorError, c.AlongTrackMode(), "a second period still below expected progress is an error")
}

func TestAlongTrackRecoversWhenProgressResumes(t *testing.T) {
	params := DefaultParams()
	params.AtmPeriod = 15 * time.Second
	params.MinSpeed = 0.25
	c, _ := newActiveController(params)

	t0 := time.Unix(1000, 0)
	c.OnDesiredPath(northTrackPath(), t0, 0.7188, -0.152, 0)

	c.OnEstimatedState(estimatedAt(0.71880, -0.15200, 0.1, 0), t0)
	c.OnEstimatedState(estimatedAt(0.71880, -0.15200, 0.1, 0), t0.Add(16*time.Second))
	require.Equal(t, MonitorDiverging, c.AlongTrackMode())

	// 1e-4 deg of latitude (~11m) of progress in one period beats the
	// 0.25 m/s * 15 s = 3.75 m expectation.
	c.OnEstimatedState(estimatedAt(0.71890, -0.15200, 0.1, 0), t0.Add(32*time.Second))
	assert.Equal(t, MonitorNominal, c.AlongTrackMode())
}

func TestCrossTrackDivergenceTimesOutToError(t *testing.T) {
	params := DefaultParams()
	params.CrossTrackLimit = 10
	params.CrossTrackTimeLimit = 10 * time.Second
	c, _ := newActiveController(params)

	t0 := time.Unix(1000, 0)
	c.OnDesiredPath(northTrackPath(), t0, 0.7188, -0.152, 0)

	// Displaced ~22m east of a due-north track.
	offTrack := estimatedAt(0.71880, -0.15180, 0.1, 0)

	c.OnEstimatedState(offTrack, t0)
	require.Equal(t, MonitorDiverging, c.CrossTrackMode())

	c.OnEstimatedState(offTrack, t0.Add(11*time.Second))
	assert.Equal(t, MonitorError, c.CrossTrackMode())
}

func TestCrossTrackRecoversInsideBand(t *testing.T) {
	c, _ := newActiveController(DefaultParams())
	t0 := time.Unix(1000, 0)
	c.OnDesiredPath(northTrackPath(), t0, 0.7188, -0.152, 0)

	c.OnEstimatedState(estimatedAt(0.71880, -0.15180, 0.1, 0), t0)
	require.Equal(t, MonitorDiverging, c.CrossTrackMode())

	c.OnEstimatedState(estimatedAt(0.71880, -0.15200, 0.1, 0), t0.Add(time.Second))
	assert.Equal(t, MonitorNominal, c.CrossTrackMode())
}

func TestReplayedEstimatedStateProducesNoPublications(t *testing.T) {
	c, pub := newActiveController(DefaultParams())
	t0 := time.Unix(1000, 0)
	c.OnDesiredPath(northTrackPath(), t0, 0.7188, -0.152, 0)

	es := estimatedAt(0.71885, -0.15200, 0.1, 0)
	c.OnEstimatedState(es, t0)
	before := len(pub.sent)
	c.OnEstimatedState(es, t0)
	assert.Equal(t, before, len(pub.sent), "a replayed identical state must not emit ControlLoops/DesiredSpeed/Brake")
}

func TestNearbyLatchesAndNewReferenceWindowExpires(t *testing.T) {
	params := DefaultParams()
	params.NewRefTimeout = 5 * time.Second
	c, _ := newActiveController(params)

	t0 := time.Unix(1000, 0)
	c.OnDesiredPath(northTrackPath(), t0, 0.7188, -0.152, 0)

	// At the endpoint: ETA clamps to zero and the nearby edge fires.
	atEnd := estimatedAt(0.71890, -0.15200, 0.1, 0)
	st := c.OnEstimatedState(atEnd, t0)
	require.NotZero(t, st.Flags&message.FlNear)
	require.False(t, c.RefTimedOut())

	c.OnEstimatedState(atEnd, t0.Add(6*time.Second))
	assert.True(t, c.RefTimedOut(), "no fresh DesiredPath within the window must signal divergence")

	// A fresh reference clears the timeout.
	c.OnDesiredPath(northTrackPath(), t0.Add(7*time.Second), 0.71890, -0.15200, 0)
	assert.False(t, c.RefTimedOut())
}

func TestNearbyWithLoiterRadiusEntersLoitering(t *testing.T) {
	c, _ := newActiveController(DefaultParams())
	t0 := time.Unix(1000, 0)

	dp := northTrackPath()
	dp.Lradius = 50
	c.OnDesiredPath(dp, t0, 0.7188, -0.152, 0)

	centerDist := geo.Distance(c.endE, c.endN, c.loiterCenterE, c.loiterCenterN)
	assert.InDelta(t, 50, centerDist, 1e-6, "loiter center sits one radius abeam of the end")

	st := c.OnEstimatedState(estimatedAt(0.71890, -0.15200, 0.1, 0), t0)
	assert.NotZero(t, st.Flags&message.FlNear)
	assert.NotZero(t, st.Flags&message.FlLoitering)
}

func TestInactiveControllerDispatchesNothing(t *testing.T) {
	pub := &recordingPublisher{}
	c := New(pub, 1, 2, geo.NewOrigin(0.7188, -0.152), DefaultParams())

	c.DispatchZ(message.DesiredZ{Value: 3, ZUnits: message.ZUnitsAltitude})
	c.DispatchBrake(message.BrakeStart)

	assert.Empty(t, pub.byType(message.TypeDesiredZ))
	assert.Empty(t, pub.byType(message.TypeBrake))
}

func TestShortTrackFallsBackToCurrentHeading(t *testing.T) {
	c, _ := newActiveController(DefaultParams())
	t0 := time.Unix(1000, 0)

	dp := northTrackPath()
	dp.EndLat, dp.EndLon = dp.StartLat, dp.StartLon
	heading := math.Pi / 3
	c.OnDesiredPath(dp, t0, 0.7188, -0.152, heading)

	assert.InDelta(t, heading, c.trackBearing, 1e-9)
}
