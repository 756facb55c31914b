package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-uuvcore/internal/bus"
	"github.com/joeycumines/go-uuvcore/internal/clock"
	"github.com/joeycumines/go-uuvcore/internal/entity"
	"github.com/joeycumines/go-uuvcore/internal/telemetry/logging"
)

func newTestRuntime(name string) *Runtime {
	return &Runtime{
		Name:     name,
		Bus:      bus.New(clock.New(), nil),
		Clock:    clock.New(),
		Entities: entity.NewCatalog(),
		Log:      logging.Nop(),
	}
}

type fakeEventTask struct {
	ran int32
}

func (f *fakeEventTask) Main(ctx context.Context, rt *Runtime) error {
	atomic.AddInt32(&f.ran, 1)
	<-ctx.Done()
	return ctx.Err()
}

func TestRunEventDrivenTaskRunsUntilCancel(t *testing.T) {
	rt := newTestRuntime("probe")
	task := &fakeEventTask{}
	r := NewRunner(task, rt, RestartPolicy{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := r.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 1, task.ran)
}

type fakePeriodicTask struct {
	period time.Duration
	ticks  int32
}

func (f *fakePeriodicTask) Period() time.Duration { return f.period }
func (f *fakePeriodicTask) Tick(ctx context.Context, rt *Runtime) error {
	atomic.AddInt32(&f.ticks, 1)
	return nil
}

func TestRunPeriodicTaskTicksRepeatedly(t *testing.T) {
	rt := newTestRuntime("ticker")
	task := &fakePeriodicTask{period: 5 * time.Millisecond}
	r := NewRunner(task, rt, RestartPolicy{})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_ = r.Run(ctx)
	assert.GreaterOrEqual(t, int(task.ticks), 3)
}

type restartingResourceTask struct {
	attempts  int32
	succeedAt int32
}

func (r *restartingResourceTask) OnResourceAcquisition(ctx context.Context, rt *Runtime) error {
	n := atomic.AddInt32(&r.attempts, 1)
	if n < r.succeedAt {
		return RestartNeeded{After: time.Millisecond}
	}
	return nil
}

func (r *restartingResourceTask) Main(ctx context.Context, rt *Runtime) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestResourceAcquisitionRetriesOnRestartNeeded(t *testing.T) {
	rt := newTestRuntime("flaky")
	task := &restartingResourceTask{succeedAt: 3}
	r := NewRunner(task, rt, RestartPolicy{Window: time.Second, Limit: 10})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := r.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 3, task.attempts)
}

type failingAcquisitionTask struct{}

func (failingAcquisitionTask) OnResourceAcquisition(ctx context.Context, rt *Runtime) error {
	return assert.AnError
}
func (failingAcquisitionTask) Main(ctx context.Context, rt *Runtime) error { return nil }

func TestResourceAcquisitionNonRestartableErrorAborts(t *testing.T) {
	rt := newTestRuntime("broken")
	r := NewRunner(failingAcquisitionTask{}, rt, RestartPolicy{})

	err := r.Run(context.Background())
	require.Error(t, err)
}

type lifecycleOrderTask struct {
	events []string
}

func (l *lifecycleOrderTask) OnEntityReservation(rt *Runtime) error {
	l.events = append(l.events, "reserve")
	return nil
}
func (l *lifecycleOrderTask) OnEntityResolution(rt *Runtime) error {
	l.events = append(l.events, "resolve")
	return nil
}
func (l *lifecycleOrderTask) OnResourceInitialization(rt *Runtime) error {
	l.events = append(l.events, "init")
	return nil
}
func (l *lifecycleOrderTask) OnActivation(rt *Runtime) {
	l.events = append(l.events, "activate")
}
func (l *lifecycleOrderTask) OnDeactivation(rt *Runtime) {
	l.events = append(l.events, "deactivate")
}
func (l *lifecycleOrderTask) OnResourceRelease(rt *Runtime) {
	l.events = append(l.events, "release")
}
func (l *lifecycleOrderTask) Main(ctx context.Context, rt *Runtime) error {
	l.events = append(l.events, "main")
	return nil
}

func TestLifecycleHooksRunInSpecOrder(t *testing.T) {
	rt := newTestRuntime("orderly")
	task := &lifecycleOrderTask{}
	r := NewRunner(task, rt, RestartPolicy{})

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []string{"reserve", "resolve", "init", "activate", "main", "deactivate", "release"}, task.events)
}

type neitherTask struct{}

func TestRunRejectsTaskWithNoMainOrTick(t *testing.T) {
	rt := newTestRuntime("nothing")
	r := NewRunner(neitherTask{}, rt, RestartPolicy{})
	err := r.Run(context.Background())
	require.Error(t, err)
}
