package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-uuvcore/internal/clock"
	"github.com/joeycumines/go-uuvcore/pkg/message"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New(clock.New(), nil)
	inbox := NewInbox("consumer", 1, 0, nil)
	b.Subscribe(inbox, message.TypeAbort, nil)

	b.Publish(1, 2, message.Message{Type: message.TypeAbort, Payload: message.Abort{}}, message.FlagNone)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m, ok := inbox.Wait(ctx, 0)
	require.True(t, ok)
	assert.Equal(t, uint16(1), m.SrcSystem)
	assert.Equal(t, uint16(2), m.SrcEntity)
}

func TestPublishFiltersByEntity(t *testing.T) {
	b := New(clock.New(), nil)
	inbox := NewInbox("consumer", 99, 1, nil)
	want := uint16(5)
	b.Subscribe(inbox, message.TypeDistance, &want)

	b.Publish(1, 6, message.Message{Type: message.TypeDistance, Payload: message.Distance{Value: 1}}, message.FlagNone)
	b.Publish(1, 5, message.Message{Type: message.TypeDistance, Payload: message.Distance{Value: 2}}, message.FlagNone)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m, ok := inbox.Wait(ctx, 0)
	require.True(t, ok)
	assert.Equal(t, uint16(5), m.SrcEntity)

	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	_, ok = inbox.Wait(ctx2, 0)
	assert.False(t, ok, "second message should have been filtered out")
}

func TestPublishExcludesPublisherWithoutLoopBack(t *testing.T) {
	b := New(clock.New(), nil)
	inbox := NewInbox("self", 7, 1, nil)
	b.Subscribe(inbox, message.TypeAbort, nil)

	b.Publish(1, 7, message.Message{Type: message.TypeAbort, SrcEntity: 7, SrcSystem: 1, Payload: message.Abort{}}, message.FlagNone)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, ok := inbox.Wait(ctx, 0)
	assert.False(t, ok)
}

func TestPublishLoopBack(t *testing.T) {
	b := New(clock.New(), nil)
	inbox := NewInbox("self", 7, 1, nil)
	b.Subscribe(inbox, message.TypeAbort, nil)

	b.Publish(1, 7, message.Message{Type: message.TypeAbort, SrcEntity: 7, SrcSystem: 1, Payload: message.Abort{}}, message.FlagLoopBack)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, ok := inbox.Wait(ctx, 0)
	assert.True(t, ok)
}

func TestOverflowReported(t *testing.T) {
	var dropped int
	inbox := NewInbox("slow", 1, 1, func(typ message.TypeID) { dropped++ })
	b := New(clock.New(), nil)
	b.Subscribe(inbox, message.TypeDistance, nil)

	for i := 0; i < 3; i++ {
		b.Publish(1, 2, message.Message{Type: message.TypeDistance, Payload: message.Distance{}}, message.FlagNone)
	}
	assert.Equal(t, 2, dropped)
	assert.EqualValues(t, 2, inbox.OverflowCount())
}

func TestBindToListUnknownNameIsFatal(t *testing.T) {
	b := New(clock.New(), nil)
	inbox := NewInbox("relay", 1, 1, nil)
	err := b.BindToList(inbox, []string{"NotARealMessage"})
	assert.Error(t, err)
}

func TestBindToListKnownNames(t *testing.T) {
	b := New(clock.New(), nil)
	inbox := NewInbox("relay", 1, 1, nil)
	require.NoError(t, b.BindToList(inbox, []string{"EstimatedState", "GpsFix"}))

	b.Publish(1, 2, message.Message{Type: message.TypeGpsFix, Payload: message.GpsFix{}}, message.FlagNone)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, ok := inbox.Wait(ctx, 0)
	assert.True(t, ok)
}
