package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-uuvcore/internal/bus"
	"github.com/joeycumines/go-uuvcore/internal/clock"
	"github.com/joeycumines/go-uuvcore/internal/entity"
	"github.com/joeycumines/go-uuvcore/internal/task"
	"github.com/joeycumines/go-uuvcore/pkg/message"
)

type fakeTransport struct {
	mu        sync.Mutex
	dialErr   error
	sendErr   error
	dialed    int
	sent      []message.Message
	closed    bool
}

func (f *fakeTransport) Dial(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialed++
	return f.dialErr
}

func (f *fakeTransport) Send(msg message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.sendErr
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestOnEntityReservationSubscribesByName(t *testing.T) {
	b := bus.New(clock.New(), nil)
	ft := &fakeTransport{}
	tk := NewTask(b, nil, ft, []string{"GpsFix", "Distance"})
	rt := &task.Runtime{Name: "relay", EntityID: 9}
	require.NoError(t, tk.OnEntityReservation(rt))

	b.Publish(1, 0, message.Message{Type: message.TypeGpsFix, Payload: message.GpsFix{Valid: true}}, message.FlagNone)
	msg, ok := tk.inbox.Wait(context.Background(), 0)
	require.True(t, ok)
	assert.Equal(t, message.TypeGpsFix, msg.Type)
}

func TestOnEntityReservationRejectsUnknownName(t *testing.T) {
	b := bus.New(clock.New(), nil)
	ft := &fakeTransport{}
	tk := NewTask(b, nil, ft, []string{"NotARealType"})
	rt := &task.Runtime{Name: "relay", EntityID: 9}
	assert.Error(t, tk.OnEntityReservation(rt))
}

func TestResourceAcquisitionSurfacesRestartNeeded(t *testing.T) {
	ft := &fakeTransport{dialErr: errors.New("dial refused")}
	tk := NewTask(nil, nil, ft, nil)
	err := tk.OnResourceAcquisition(context.Background(), &task.Runtime{})
	var restart task.RestartNeeded
	require.ErrorAs(t, err, &restart)
	assert.Equal(t, RestartBackoff, restart.After)
	assert.Equal(t, 1, ft.dialed)
}

func TestResourceAcquisitionSucceeds(t *testing.T) {
	ft := &fakeTransport{}
	tk := NewTask(nil, nil, ft, nil)
	require.NoError(t, tk.OnResourceAcquisition(context.Background(), &task.Runtime{}))
}

func TestMainForwardsMessagesAndLogsSendFailures(t *testing.T) {
	b := bus.New(clock.New(), nil)
	ft := &fakeTransport{sendErr: errors.New("link down")}
	tk := NewTask(b, nil, ft, []string{"GpsFix"})
	rt := &task.Runtime{Name: "relay", EntityID: 9, Entities: entity.NewCatalog()}
	require.NoError(t, tk.OnEntityReservation(rt))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tk.Main(ctx, rt) }()

	b.Publish(1, 0, message.Message{Type: message.TypeGpsFix, Payload: message.GpsFix{Valid: true}}, message.FlagNone)

	require.Eventually(t, func() bool {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		return len(ft.sent) == 1
	}, time.Second, time.Millisecond)

	cancel()
	<-done

	require.NoError(t, tk.OnResourceAcquisition(context.Background(), rt))
	tk.OnResourceRelease(rt)
	assert.True(t, ft.closed)
}
