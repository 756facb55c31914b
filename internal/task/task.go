// Package task implements the task lifecycle framework:
// construction, parameter binding, entity reservation and
// resolution, resource acquisition (with typed restart/backoff instead of
// exceptions), resource initialization, a main loop, and idempotent
// resource release. Each Runner drives exactly one task, in its own
// goroutine, cooperating with the rest of the process only via the bus;
// there is no shared scheduler.
package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/joeycumines/go-catrate"

	"github.com/joeycumines/go-uuvcore/internal/bus"
	"github.com/joeycumines/go-uuvcore/internal/clock"
	"github.com/joeycumines/go-uuvcore/internal/entity"
	"github.com/joeycumines/go-uuvcore/internal/param"
	"github.com/joeycumines/go-uuvcore/internal/telemetry/logging"
)

// RestartNeeded is returned by OnResourceAcquisition to abort the current
// lifecycle attempt and schedule a retry after the given delay.
type RestartNeeded struct {
	After time.Duration
}

func (r RestartNeeded) Error() string {
	return fmt.Sprintf("task: restart needed after %s", r.After)
}

// Runtime is the set of process-wide services and per-task identity
// threaded into every hook. Tasks must not reach any of these through a
// package-level variable; a Runtime is always constructor-injected.
type Runtime struct {
	Name     string
	EntityID uint16
	Bus      *bus.Bus
	Inbox    *bus.Inbox
	Clock    *clock.Clock
	Entities *entity.Catalog
	Log      *logging.Logger
	Params   *param.Binder
}

// ParameterBinder declares a task's parameters once, at construction.
type ParameterBinder interface {
	BindParams(b *param.Binder)
}

// ParameterUpdateHandler is notified after parameters are (re)bound, to
// recompute derived state. Checking Spec.Changed() on individual
// parameters lets a task react only to the fields that actually moved.
type ParameterUpdateHandler interface {
	OnUpdateParameters(rt *Runtime)
}

// EntityReserver reserves additional entity ids beyond the one the Runner
// creates automatically for the task's own name.
type EntityReserver interface {
	OnEntityReservation(rt *Runtime) error
}

// EntityResolver resolves entity labels configured by other tasks into
// numeric ids. Tasks that tolerate optional peers should use
// entity.Catalog.ResolveOptional rather than failing here.
type EntityResolver interface {
	OnEntityResolution(rt *Runtime) error
}

// ResourceAcquirer acquires OS resources (sockets, files, serial ports). It
// may return a RestartNeeded to request a delayed retry rather than
// aborting the task outright.
type ResourceAcquirer interface {
	OnResourceAcquisition(ctx context.Context, rt *Runtime) error
}

// ResourceInitializer performs logical initialization once resources are
// up.
type ResourceInitializer interface {
	OnResourceInitialization(rt *Runtime) error
}

// ResourceReleaser performs idempotent teardown. It must complete in
// bounded time and must not perform blocking external I/O without a
// timeout.
type ResourceReleaser interface {
	OnResourceRelease(rt *Runtime)
}

// Activator / Deactivator mark task-specific activation edges, used by
// controllers to gate whether their main loop actually drives outputs.
type Activator interface {
	OnActivation(rt *Runtime)
}

type Deactivator interface {
	OnDeactivation(rt *Runtime)
}

// EventDriven tasks implement Main: a loop that blocks on the bus with a
// timeout and returns only when ctx is done or an unrecoverable error
// occurs.
type EventDriven interface {
	Main(ctx context.Context, rt *Runtime) error
}

// Periodic tasks implement Tick, called at frequency 1/Period with
// catch-up-but-no-drift-beyond-one-period semantics.
type Periodic interface {
	Tick(ctx context.Context, rt *Runtime) error
	Period() time.Duration
}

// RestartPolicy bounds how aggressively the Runner retries resource
// acquisition after a RestartNeeded signal. Repeated restarts within the
// window trip the breaker, forcing the entity into entity.Fault until the
// breaker resets.
type RestartPolicy struct {
	// Window/Limit bound how many restarts are tolerated before the
	// breaker opens. Defaults: 5 restarts per minute.
	Window time.Duration
	Limit  int
	// OpenDuration is how long the breaker stays open before allowing a
	// single trial acquisition. Default: 30s.
	OpenDuration time.Duration
}

func (p RestartPolicy) withDefaults() RestartPolicy {
	if p.Window <= 0 {
		p.Window = time.Minute
	}
	if p.Limit <= 0 {
		p.Limit = 5
	}
	if p.OpenDuration <= 0 {
		p.OpenDuration = 30 * time.Second
	}
	return p
}

// Runner drives a single task through its full lifecycle. Construct one per
// task and call Run in its own goroutine.
type Runner struct {
	task    any
	rt      *Runtime
	policy  RestartPolicy
	limiter *catrate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewRunner constructs a Runner for task, using rt as its injected runtime.
// The Runner reserves rt.Name as the task's own default entity.
func NewRunner(t any, rt *Runtime, policy RestartPolicy) *Runner {
	policy = policy.withDefaults()
	limiter := catrate.NewLimiter(map[time.Duration]int{policy.Window: policy.Limit})
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     rt.Name + ".resources",
		Interval: policy.Window,
		Timeout:  policy.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(policy.Limit)
		},
	})
	return &Runner{task: t, rt: rt, policy: policy, limiter: limiter, breaker: breaker}
}

// Run executes the full lifecycle: entity reservation, entity resolution,
// resource acquisition (retried with backoff on RestartNeeded), resource
// initialization, the main loop, then resource release. It returns when ctx
// is done or the task's main loop exits.
func (r *Runner) Run(ctx context.Context) error {
	self := entity.New(r.rt.Name)
	if err := r.rt.Entities.Reserve(self); err != nil {
		return fmt.Errorf("task %s: reserve default entity: %w", r.rt.Name, err)
	}
	r.rt.EntityID = self.ID

	if h, ok := r.task.(ParameterUpdateHandler); ok {
		h.OnUpdateParameters(r.rt)
	}
	if h, ok := r.task.(EntityReserver); ok {
		if err := h.OnEntityReservation(r.rt); err != nil {
			return fmt.Errorf("task %s: entity reservation: %w", r.rt.Name, err)
		}
	}
	if h, ok := r.task.(EntityResolver); ok {
		if err := h.OnEntityResolution(r.rt); err != nil {
			return fmt.Errorf("task %s: entity resolution: %w", r.rt.Name, err)
		}
	}

	if err := r.acquireWithRestart(ctx, self); err != nil {
		return err
	}

	if h, ok := r.task.(ResourceInitializer); ok {
		if err := h.OnResourceInitialization(r.rt); err != nil {
			self.SetState(entity.Error, 0, err.Error())
			return fmt.Errorf("task %s: resource initialization: %w", r.rt.Name, err)
		}
	}

	if h, ok := r.task.(Activator); ok {
		h.OnActivation(r.rt)
	}
	defer func() {
		if h, ok := r.task.(Deactivator); ok {
			h.OnDeactivation(r.rt)
		}
		if h, ok := r.task.(ResourceReleaser); ok {
			h.OnResourceRelease(r.rt)
		}
	}()

	self.SetState(entity.Normal, 0, "")

	switch t := r.task.(type) {
	case Periodic:
		return runPeriodic(ctx, r.rt, t)
	case EventDriven:
		return t.Main(ctx, r.rt)
	default:
		return fmt.Errorf("task %s: implements neither task.Periodic nor task.EventDriven", r.rt.Name)
	}
}

// acquireWithRestart loops OnResourceAcquisition until it succeeds, ctx is
// done, or repeated RestartNeeded signals trip the breaker.
func (r *Runner) acquireWithRestart(ctx context.Context, self *entity.Entity) error {
	acquirer, ok := r.task.(ResourceAcquirer)
	if !ok {
		return nil
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := r.breaker.Execute(func() (any, error) {
			return nil, acquirer.OnResourceAcquisition(ctx, r.rt)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) {
			self.SetState(entity.Fault, 0, "resource acquisition circuit open")
			select {
			case <-time.After(r.policy.OpenDuration):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		var restart RestartNeeded
		if errors.As(err, &restart) {
			self.SetState(entity.Fault, 0, err.Error())
			if _, allowed := r.limiter.Allow(r.rt.Name); !allowed {
				r.rt.Log.Err().Str("task", r.rt.Name).Log("restart rate exceeded")
			}
			select {
			case <-time.After(restart.After):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		self.SetState(entity.Error, 0, err.Error())
		return fmt.Errorf("task %s: resource acquisition: %w", r.rt.Name, err)
	}
}

// runPeriodic implements the periodic-task scheduling rule:
// next tick = max(scheduled + period, now); overruns are logged but
// never compensated with a burst of catch-up ticks.
func runPeriodic(ctx context.Context, rt *Runtime, t Periodic) error {
	period := t.Period()
	if period <= 0 {
		return fmt.Errorf("task %s: periodic task must declare a positive Period", rt.Name)
	}
	scheduled := rt.Clock.Now()
	for {
		target := scheduled.Add(period)
		now := rt.Clock.Now()
		if target.Before(now) {
			rt.Log.Info().Str("task", rt.Name).Log("periodic tick overrun")
			target = now
		}
		timer := time.NewTimer(target.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if err := t.Tick(ctx, rt); err != nil {
			return fmt.Errorf("task %s: tick: %w", rt.Name, err)
		}
		scheduled = target
	}
}
