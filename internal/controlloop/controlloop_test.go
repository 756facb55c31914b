package controlloop

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joeycumines/go-uuvcore/pkg/message"
)

func TestApplyUnionsAndDifferences(t *testing.T) {
	m := New()
	assert.Equal(t, message.CLPath|message.CLSpeed, m.Apply(true, message.CLPath|message.CLSpeed))
	assert.Equal(t, message.CLPath|message.CLSpeed|message.CLDepth, m.Apply(true, message.CLDepth))
	assert.Equal(t, message.CLPath|message.CLDepth, m.Apply(false, message.CLSpeed))
}

func TestGrantedMinusRevokedEqualsReported(t *testing.T) {
	m := New()
	m.Apply(true, message.CLPath|message.CLSpeed|message.CLDepth)
	m.Apply(false, message.CLDepth)
	m.Apply(true, message.CLAltitude)
	m.Apply(false, message.CLSpeed)

	assert.Equal(t, message.CLPath|message.CLAltitude, m.Current())
}

func TestHasRequiresEveryBit(t *testing.T) {
	m := New()
	m.Apply(true, message.CLPath)
	assert.True(t, m.Has(message.CLPath))
	assert.False(t, m.Has(message.CLPath|message.CLSpeed))
}

func TestClearReturnsPriorMask(t *testing.T) {
	m := New()
	m.Apply(true, message.CLTeleoperation)
	assert.Equal(t, message.CLTeleoperation, m.Clear())
	assert.Equal(t, message.ControlLoopMask(0), m.Current())
}
