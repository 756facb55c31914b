// Package config implements the hierarchical configuration model: named
// profiles, section/key/value overrides, and live
// reload that feeds a task's on-update-parameters hook. Loading is built on
// spf13/viper. Section hands the reflective parameter binder
// (internal/param) flat string values, which the binder parses itself;
// Decode uses mitchellh/mapstructure, with the stock duration and
// comma-split hooks, only for ambient config structs.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/joeycumines/go-uuvcore/internal/telemetry/logging"
)

// EnvPrefix is the environment variable prefix for overrides, e.g.
// UUVCORE_SUPERVISOR_MODE.
const EnvPrefix = "UUVCORE"

// DefaultProfile is used when no profile is selected.
const DefaultProfile = "Hardware"

// ReloadFunc is invoked, from the watcher goroutine, whenever the
// underlying file changes and has been successfully re-parsed. Watch always
// passes section "" and values Section(""); it does not report which
// section changed.
type ReloadFunc func(section string, values map[string]string)

// Source is the hierarchical configuration loader. One Source is
// constructed per process and injected into every task that needs
// configuration; it is never reached via a package-level variable.
type Source struct {
	mu       sync.RWMutex
	v        *viper.Viper
	profile  string
	log      *logging.Logger
	onLoad   []ReloadFunc
	validate *validator.Validate
}

// New constructs a Source bound to path (a YAML or TOML file) and the given
// profile (the sub-tree under profiles.<profile>, merged over the base
// sections). If profile is "", the UUVCORE_PROFILE environment variable is
// used, and if that is also empty, DefaultProfile.
func New(path, profile string, log *logging.Logger) (*Source, error) {
	if log == nil {
		log = logging.Nop()
	}
	if profile == "" {
		profile = os.Getenv(EnvPrefix + "_PROFILE")
	}
	if profile == "" {
		profile = DefaultProfile
	}
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	s := &Source{v: v, profile: profile, log: log, validate: validator.New(validator.WithRequiredStructEnabled())}
	return s, nil
}

// Profile returns the active profile name.
func (s *Source) Profile() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

// Section returns the flattened string values under the given dotted
// section path, merging the profile-scoped override
// (profiles.<profile>.<section>) over the base section.
func (s *Source) Section(section string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := flattenStrings(s.v.Sub(section))
	if prof := s.v.Sub("profiles." + s.profile); prof != nil {
		for k, v := range flattenStrings(prof.Sub(section)) {
			out[k] = v
		}
	}
	return out
}

// Decode decodes the given section into target (a pointer to a struct),
// using mapstructure with the duration/sequence-aware decode hooks, then
// validates the result against the struct's `validate` tags. Intended for
// ambient config structs (logging level, metrics port) rather than the
// reflective per-field param.Binder path, which reads string maps directly
// via Section. A missing section decodes nothing but still validates, so
// required fields fail loudly rather than running with zero values.
func (s *Source) Decode(section string, target any) error {
	s.mu.RLock()
	sub := s.v.Sub(section)
	s.mu.RUnlock()
	if sub != nil {
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           target,
			WeaklyTypedInput: true,
		})
		if err != nil {
			return err
		}
		if err := dec.Decode(sub.AllSettings()); err != nil {
			return err
		}
	}
	if err := s.validate.Struct(target); err != nil {
		return fmt.Errorf("config: section %s: %w", section, err)
	}
	return nil
}

// Watch starts an fsnotify-backed watch on the underlying file, invoking fn
// on every reparse, feeding parameter re-binding and the
// update-parameters hook. Watch is idempotent: calling it more than once
// just registers another callback on the same underlying watcher.
func (s *Source) Watch(fn ReloadFunc) {
	s.mu.Lock()
	first := len(s.onLoad) == 0
	s.onLoad = append(s.onLoad, fn)
	s.mu.Unlock()
	if !first {
		return
	}
	s.v.OnConfigChange(func(e fsnotify.Event) {
		s.mu.RLock()
		callbacks := make([]ReloadFunc, len(s.onLoad))
		copy(callbacks, s.onLoad)
		s.mu.RUnlock()
		s.log.Info().Str("file", e.Name).Log("configuration file changed")
		for _, cb := range callbacks {
			cb("", s.Section(""))
		}
	})
	s.v.WatchConfig()
}

// flattenStrings converts a viper sub-tree into a flat map of string
// values, formatting non-string leaves with fmt.Sprint so that
// param.Binder.Bind (which always parses from text) can
// consume them uniformly regardless of the underlying file format.
func flattenStrings(v *viper.Viper) map[string]string {
	out := make(map[string]string)
	if v == nil {
		return out
	}
	for key, val := range v.AllSettings() {
		flattenValue(out, key, val)
	}
	return out
}

func flattenValue(out map[string]string, prefix string, val any) {
	rv := reflect.ValueOf(val)
	switch rv.Kind() {
	case reflect.Map:
		for _, k := range rv.MapKeys() {
			flattenValue(out, prefix+"."+fmt.Sprint(k.Interface()), rv.MapIndex(k).Interface())
		}
	case reflect.Slice, reflect.Array:
		parts := make([]string, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			parts[i] = fmt.Sprint(rv.Index(i).Interface())
		}
		out[prefix] = strings.Join(parts, ", ")
	default:
		out[prefix] = fmt.Sprint(val)
	}
}
