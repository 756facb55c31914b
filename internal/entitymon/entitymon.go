// Package entitymon periodically publishes the health of every entity in
// the process-wide catalog: one EntityState per entity (the user-visible
// failure report) plus the aggregated EntityMonitoringState the
// supervisor's HandleEntityMonitoring consumes. Nothing else in the module
// produces these messages; without this task the supervisor's ERROR-mode
// transition is permanently unreachable.
package entitymon

import (
	"context"
	"time"

	"github.com/joeycumines/go-uuvcore/internal/bus"
	"github.com/joeycumines/go-uuvcore/internal/param"
	"github.com/joeycumines/go-uuvcore/internal/task"
	"github.com/joeycumines/go-uuvcore/pkg/message"
)

// DefaultPeriod is the aggregation interval absent a bound parameter.
const DefaultPeriod = time.Second

// Task periodically publishes the process-wide entity catalog's health,
// per entity and aggregated, read from the injected task.Runtime at each
// Tick.
type Task struct {
	busRef *bus.Bus
	system uint16

	period time.Duration
}

// NewTask constructs an entity-monitoring Task, publishing under system.
func NewTask(b *bus.Bus, system uint16) *Task {
	return &Task{busRef: b, system: system, period: DefaultPeriod}
}

// BindParams exposes the aggregation period for per-profile tuning.
func (t *Task) BindParams(b *param.Binder) {
	b.Param("period_s", &t.period).Units("s").Minimum(0.05)
}

// Period implements task.Periodic.
func (t *Task) Period() time.Duration { return t.period }

// Tick publishes one EntityState per entity, stamped with the entity's own
// id so consumers can filter by source, then the aggregate.
func (t *Task) Tick(ctx context.Context, rt *task.Runtime) error {
	for _, ent := range rt.Entities.All() {
		t.busRef.Publish(t.system, ent.ID, message.Message{Type: message.TypeEntityState, Payload: ent.ToWire()}, message.FlagNone)
	}
	state := rt.Entities.Monitor()
	t.busRef.Publish(t.system, rt.EntityID, message.Message{Type: message.TypeEntityMonitoringState, Payload: state}, message.FlagNone)
	return nil
}
