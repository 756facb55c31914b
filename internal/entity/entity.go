// Package entity implements the named, numerically-identified functional
// units tasks expose, and the process-wide registry used to resolve entity
// labels configured by other tasks into numeric ids.
package entity

import (
	"fmt"
	"sync"

	"github.com/joeycumines/go-uuvcore/pkg/message"
)

// Health is an alias of message.EntityHealth, re-exported with the
// constants below so callers can name health states through this package.
type Health = message.EntityHealth

const (
	Boot    = message.EntityBoot
	Normal  = message.EntityNormal
	Fault   = message.EntityFault
	Error   = message.EntityError
	Failure = message.EntityFailure
)

// ErrUnresolved is returned by Catalog.Resolve when a label has not been
// registered. Tasks that tolerate optional resolution should catch this into
// a sentinel id rather than failing startup.
var ErrUnresolved = fmt.Errorf("entity: label not registered")

// UnresolvedID is the sentinel numeric id used when optional resolution
// fails.
const UnresolvedID uint16 = 0xFFFF

// Entity is a named functional unit inside a task, unique within a process.
type Entity struct {
	mu     sync.Mutex
	Label  string
	ID     uint16
	state  Health
	code   int
	detail string
}

// New creates an entity with the given label. The numeric id is assigned
// later, by Catalog.Reserve.
func New(label string) *Entity {
	return &Entity{Label: label, ID: UnresolvedID, state: Boot}
}

// SetState records a new health state, status code, and free-text detail.
func (e *Entity) SetState(state Health, code int, detail string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = state
	e.code = code
	e.detail = detail
}

// State returns the current health, code, and detail.
func (e *Entity) State() (Health, int, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.code, e.detail
}

// ToWire renders the entity's current health as a message.EntityState,
// suitable for periodic publication.
func (e *Entity) ToWire() message.EntityState {
	state, code, detail := e.State()
	return message.EntityState{EntityName: e.Label, State: state, Code: code, Detail: detail}
}

// Catalog is the process-wide registry of reserved and resolved entities. It
// is constructed once per process and injected into tasks; it must not be a
// package-level variable.
type Catalog struct {
	mu       sync.RWMutex
	byLabel  map[string]*Entity
	nextID   uint16
}

// NewCatalog constructs an empty, ready-to-use Catalog.
func NewCatalog() *Catalog {
	return &Catalog{byLabel: make(map[string]*Entity), nextID: 1}
}

// Reserve registers ent under its label, assigning it the next numeric id.
// Reserve is called once per entity, at task construction / entity-reservation
// time. Reserving the same label twice is a fatal
// configuration error, reported by a non-nil error.
func (c *Catalog) Reserve(ent *Entity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byLabel[ent.Label]; ok {
		return fmt.Errorf("entity: label %q already reserved", ent.Label)
	}
	ent.ID = c.nextID
	c.nextID++
	c.byLabel[ent.Label] = ent
	return nil
}

// Resolve looks up the numeric id of a previously reserved label. It returns
// ErrUnresolved if the label was never reserved.
func (c *Catalog) Resolve(label string) (uint16, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ent, ok := c.byLabel[label]
	if !ok {
		return UnresolvedID, ErrUnresolved
	}
	return ent.ID, nil
}

// ResolveOptional resolves label, returning UnresolvedID (never an error)
// when the label is not registered. Use for on-entity-resolution hooks that
// must tolerate optional peers.
func (c *Catalog) ResolveOptional(label string) uint16 {
	id, err := c.Resolve(label)
	if err != nil {
		return UnresolvedID
	}
	return id
}

// Lookup returns the Entity registered under label, if any.
func (c *Catalog) Lookup(label string) (*Entity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ent, ok := c.byLabel[label]
	return ent, ok
}

// All returns a snapshot slice of every reserved entity, for periodic
// EntityState publication and EntityMonitoringState aggregation.
func (c *Catalog) All() []*Entity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Entity, 0, len(c.byLabel))
	for _, ent := range c.byLabel {
		out = append(out, ent)
	}
	return out
}

// Monitor aggregates the current health of every entity into the
// EntityMonitoringState shape the supervisor consumes.
func (c *Catalog) Monitor() message.EntityMonitoringState {
	var out message.EntityMonitoringState
	for _, ent := range c.All() {
		st, _, detail := ent.State()
		switch st {
		case Normal, Boot:
			out.CCount++
			out.CNames = append(out.CNames, ent.Label)
		default:
			out.ECount++
			out.ENames = append(out.ENames, ent.Label)
			if detail != "" {
				out.LastError = detail
			}
		}
	}
	return out
}
