// Package param implements parameter binding and validation: named, typed,
// unit-annotated values read from a hierarchical configuration, validated
// against optional constraints, and bound to typed task fields via a
// fluent declaration API.
package param

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// durationType is compared against reflect.Type so a bound *time.Duration
// field parses its raw text as seconds (a units-tagged
// float) rather than falling through to the plain int64 path, which would
// otherwise bind the raw number as a nanosecond count.
var durationType = reflect.TypeOf(time.Duration(0))

// Scope enumerates where a parameter's value may be overridden from.
type Scope uint8

const (
	ScopeGlobal Scope = iota
	ScopePlan
	ScopeManeuver
)

// Visibility enumerates who may see/edit a parameter.
type Visibility uint8

const (
	VisibilityUser Visibility = iota
	VisibilityDeveloper
)

// Spec declares a single parameter. Use Binder.Param to register one and
// obtain a *Spec to further configure via the fluent setters below.
type Spec struct {
	name       string
	target     reflect.Value
	unit       string
	min, max   *float64
	minSize    *int
	maxSize    *int
	values     []string
	scope      Scope
	visibility Visibility
	changed    bool
}

// Units records the physical unit this parameter is expressed in (purely
// descriptive; does not affect parsing).
func (s *Spec) Units(u string) *Spec { s.unit = u; return s }

// Minimum sets a scalar lower bound, inclusive.
func (s *Spec) Minimum(v float64) *Spec { s.min = &v; return s }

// Maximum sets a scalar upper bound, inclusive.
func (s *Spec) Maximum(v float64) *Spec { s.max = &v; return s }

// MinimumSize sets a lower bound on sequence length.
func (s *Spec) MinimumSize(n int) *Spec { s.minSize = &n; return s }

// MaximumSize sets an upper bound on sequence length.
func (s *Spec) MaximumSize(n int) *Spec { s.maxSize = &n; return s }

// Values restricts a scalar string parameter to an enumerated set.
func (s *Spec) Values(vals ...string) *Spec { s.values = vals; return s }

// Scope sets the parameter's override scope.
func (s *Spec) Scope(sc Scope) *Spec { s.scope = sc; return s }

// Visibility sets the parameter's visibility.
func (s *Spec) Visibility(v Visibility) *Spec { s.visibility = v; return s }

// Changed reports whether the most recent Bind call actually altered this
// parameter's value, for use by a task's on-update-parameters hook.
func (s *Spec) Changed() bool { return s.changed }

// Name returns the parameter's configuration key.
func (s *Spec) Name() string { return s.name }

// Binder collects a task's parameter declarations and performs binding plus
// constraint validation against a hierarchical configuration.
type Binder struct {
	taskName string
	specs    []*Spec
	byName   map[string]*Spec
}

// NewBinder constructs a Binder for the named task.
func NewBinder(taskName string) *Binder {
	return &Binder{taskName: taskName, byName: make(map[string]*Spec)}
}

// Param records a typed setter: field must be a pointer to one of
// *string, *bool, *int, *int64, *float64, *time.Duration, []string, []int,
// or []float64. Returns the Spec for fluent constraint configuration.
func (b *Binder) Param(name string, field any) *Spec {
	v := reflect.ValueOf(field)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		panic(fmt.Sprintf("param: field for %q must be a non-nil pointer", name))
	}
	s := &Spec{name: name, target: v.Elem()}
	b.specs = append(b.specs, s)
	b.byName[name] = s
	return s
}

// Specs returns every declared parameter, in declaration order.
func (b *Binder) Specs() []*Spec { return b.specs }

// Bind parses values (raw text, as read from the hierarchical
// configuration) into each declared field, applying constraints. A
// parameter whose parsed value differs from its prior bound value has its
// Changed flag set. Returns every validation error encountered, so a task
// can report every problem at once rather than failing on the first.
func (b *Binder) Bind(values map[string]string) []error {
	var errs []error
	for _, s := range b.specs {
		s.changed = false
		raw, ok := values[s.name]
		if !ok {
			continue
		}
		if err := bindOne(s, raw); err != nil {
			errs = append(errs, fmt.Errorf("param %s.%s: %w", b.taskName, s.name, err))
		}
	}
	return errs
}

func bindOne(s *Spec, raw string) error {
	before := reflect.New(s.target.Type()).Elem()
	before.Set(s.target)

	switch {
	case s.target.Type() == durationType:
		v, err := strconv.ParseFloat(strings.TrimSpace(stripUnit(raw)), 64)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		if err := checkRange(s, v); err != nil {
			return err
		}
		s.target.SetInt(int64(v * float64(time.Second)))
	case s.target.Kind() == reflect.String:
		val := unquote(raw)
		if len(s.values) > 0 && !contains(s.values, val) {
			return fmt.Errorf("value %q not in %v", val, s.values)
		}
		s.target.SetString(val)
	case s.target.Kind() == reflect.Bool:
		v, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("invalid bool %q: %w", raw, err)
		}
		s.target.SetBool(v)
	case s.target.Kind() == reflect.Int, s.target.Kind() == reflect.Int64:
		v, err := strconv.ParseInt(strings.TrimSpace(stripUnit(raw)), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid int %q: %w", raw, err)
		}
		if err := checkRange(s, float64(v)); err != nil {
			return err
		}
		s.target.SetInt(v)
	case s.target.Kind() == reflect.Float64:
		v, err := strconv.ParseFloat(strings.TrimSpace(stripUnit(raw)), 64)
		if err != nil {
			return fmt.Errorf("invalid float %q: %w", raw, err)
		}
		if err := checkRange(s, v); err != nil {
			return err
		}
		s.target.SetFloat(v)
	case s.target.Kind() == reflect.Slice:
		parts := splitSequence(raw)
		if err := checkSize(s, len(parts)); err != nil {
			return err
		}
		if err := bindSlice(s, parts); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported field kind %s", s.target.Kind())
	}

	if !reflect.DeepEqual(before.Interface(), s.target.Interface()) {
		s.changed = true
	}
	return nil
}

func bindSlice(s *Spec, parts []string) error {
	elemKind := s.target.Type().Elem().Kind()
	out := reflect.MakeSlice(s.target.Type(), len(parts), len(parts))
	for i, p := range parts {
		switch elemKind {
		case reflect.String:
			out.Index(i).SetString(unquote(p))
		case reflect.Int, reflect.Int64:
			v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid int element %q: %w", p, err)
			}
			out.Index(i).SetInt(v)
		case reflect.Float64:
			v, err := strconv.ParseFloat(strings.TrimSpace(stripUnit(p)), 64)
			if err != nil {
				return fmt.Errorf("invalid float element %q: %w", p, err)
			}
			out.Index(i).SetFloat(v)
		default:
			return fmt.Errorf("unsupported slice element kind %s", elemKind)
		}
	}
	s.target.Set(out)
	return nil
}

func checkRange(s *Spec, v float64) error {
	if s.min != nil && v < *s.min {
		return fmt.Errorf("value %v below minimum %v", v, *s.min)
	}
	if s.max != nil && v > *s.max {
		return fmt.Errorf("value %v above maximum %v", v, *s.max)
	}
	return nil
}

func checkSize(s *Spec, n int) error {
	if s.minSize != nil && n < *s.minSize {
		return fmt.Errorf("sequence length %d below minimum size %d", n, *s.minSize)
	}
	if s.maxSize != nil && n > *s.maxSize {
		return fmt.Errorf("sequence length %d above maximum size %d", n, *s.maxSize)
	}
	return nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// unquote strips a single layer of matching double quotes from a
// quoted-string parameter value.
func unquote(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		return raw[1 : len(raw)-1]
	}
	return raw
}

// stripUnit drops a trailing unit suffix from a units-tagged float/int
// literal (e.g. "10 deg" -> "10").
func stripUnit(raw string) string {
	raw = strings.TrimSpace(raw)
	i := 0
	for i < len(raw) {
		c := raw[i]
		if (c >= '0' && c <= '9') || c == '-' || c == '+' || c == '.' || c == 'e' || c == 'E' {
			i++
			continue
		}
		break
	}
	return raw[:i]
}

// splitSequence splits a comma-separated sequence value, honoring quoted
// elements that may themselves contain commas.
func splitSequence(raw string) []string {
	var parts []string
	var cur strings.Builder
	inQuotes := false
	for _, r := range raw {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			cur.WriteRune(r)
		case r == ',' && !inQuotes:
			parts = append(parts, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 || len(parts) > 0 {
		parts = append(parts, strings.TrimSpace(cur.String()))
	}
	return parts
}
