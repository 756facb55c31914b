package param

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindScalarTypes(t *testing.T) {
	var name string
	var enabled bool
	var count int64
	var speed float64

	b := NewBinder("test")
	b.Param("Name", &name)
	b.Param("Enabled", &enabled)
	b.Param("Count", &count)
	b.Param("Speed", &speed).Units("m/s").Minimum(0).Maximum(5)

	errs := b.Bind(map[string]string{
		"Name":    `"loiter"`,
		"Enabled": "true",
		"Count":   "7",
		"Speed":   "1.5 m/s",
	})
	require.Empty(t, errs)
	assert.Equal(t, "loiter", name)
	assert.True(t, enabled)
	assert.EqualValues(t, 7, count)
	assert.Equal(t, 1.5, speed)
}

func TestBindRejectsOutOfRange(t *testing.T) {
	var radius float64
	b := NewBinder("test")
	b.Param("Radius", &radius).Minimum(1).Maximum(10)

	errs := b.Bind(map[string]string{"Radius": "50"})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "above maximum")
}

func TestBindRejectsUnknownEnumValue(t *testing.T) {
	var mode string
	b := NewBinder("test")
	b.Param("Mode", &mode).Values("auto", "manual")

	errs := b.Bind(map[string]string{"Mode": "bogus"})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "not in")
}

func TestBindSliceWithSizeConstraint(t *testing.T) {
	var waypoints []float64
	b := NewBinder("test")
	b.Param("Waypoints", &waypoints).MinimumSize(2)

	errs := b.Bind(map[string]string{"Waypoints": "1.0, 2.0, 3.0"})
	require.Empty(t, errs)
	assert.Equal(t, []float64{1, 2, 3}, waypoints)

	errs = b.Bind(map[string]string{"Waypoints": "1.0"})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "below minimum size")
}

func TestChangedFlagTracksMutation(t *testing.T) {
	var speed float64
	b := NewBinder("test")
	spec := b.Param("Speed", &speed)

	require.Empty(t, b.Bind(map[string]string{"Speed": "1.0"}))
	assert.True(t, spec.Changed())

	require.Empty(t, b.Bind(map[string]string{"Speed": "1.0"}))
	assert.False(t, spec.Changed(), "binding the same value again must not report a change")

	require.Empty(t, b.Bind(map[string]string{"Speed": "2.0"}))
	assert.True(t, spec.Changed())
}

func TestBindStringSliceHonorsQuotedCommas(t *testing.T) {
	var names []string
	b := NewBinder("test")
	b.Param("Names", &names)

	require.Empty(t, b.Bind(map[string]string{"Names": `"a, b", c`}))
	assert.Equal(t, []string{"a, b", "c"}, names)
}
