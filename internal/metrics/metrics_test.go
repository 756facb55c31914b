package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-uuvcore/internal/controlloop"
	"github.com/joeycumines/go-uuvcore/internal/entity"
	"github.com/joeycumines/go-uuvcore/pkg/message"
)

func TestCollectorReportsEntityHealthAndLoops(t *testing.T) {
	entities := entity.NewCatalog()
	imu := entity.New("IMU")
	require.NoError(t, entities.Reserve(imu))
	imu.SetState(entity.Error, 3, "stalled")

	mask := controlloop.New()
	mask.Apply(true, message.CLPath|message.CLSpeed)

	c := NewCollector(entities, mask, func() message.OpMode { return message.OpModeManeuver })

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	expected := `
# HELP uuvcore_supervisor_mode Supervisor operating mode (0=SERVICE 1=CALIBRATION 2=ERROR 3=MANEUVER 4=EXTERNAL).
# TYPE uuvcore_supervisor_mode gauge
uuvcore_supervisor_mode 3
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "uuvcore_supervisor_mode"))

	expected = `
# HELP uuvcore_entity_health_state Current health state of each entity (0=BOOT 1=NORMAL 2=FAULT 3=ERROR 4=FAILURE).
# TYPE uuvcore_entity_health_state gauge
uuvcore_entity_health_state{entity="IMU"} 3
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "uuvcore_entity_health_state"))
}

func TestCollectorOmitsSupervisorGaugeWithoutModeFunc(t *testing.T) {
	c := NewCollector(entity.NewCatalog(), controlloop.New(), nil)
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	n, err := testutil.GatherAndCount(reg, "uuvcore_supervisor_mode")
	require.NoError(t, err)
	assert.Zero(t, n)
}
