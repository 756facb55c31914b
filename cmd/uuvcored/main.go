// Command uuvcored is the onboard runtime's entry point: it selects a
// profile and configuration file, wires the process-wide services (bus,
// clock, entity catalog, control-loop mask, maneuver lock) into the task
// set, and runs every task until interrupted. No behavior lives here, only
// wiring.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/joeycumines/logiface"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/joeycumines/go-uuvcore/internal/bus"
	"github.com/joeycumines/go-uuvcore/internal/clock"
	"github.com/joeycumines/go-uuvcore/internal/config"
	"github.com/joeycumines/go-uuvcore/internal/controlloop"
	"github.com/joeycumines/go-uuvcore/internal/entity"
	"github.com/joeycumines/go-uuvcore/internal/entitymon"
	"github.com/joeycumines/go-uuvcore/internal/maneuverlock"
	"github.com/joeycumines/go-uuvcore/internal/metrics"
	"github.com/joeycumines/go-uuvcore/internal/param"
	"github.com/joeycumines/go-uuvcore/internal/pathcontrol"
	"github.com/joeycumines/go-uuvcore/internal/supervisor"
	"github.com/joeycumines/go-uuvcore/internal/task"
	"github.com/joeycumines/go-uuvcore/internal/tasks/loiter"
	"github.com/joeycumines/go-uuvcore/internal/telemetry/logging"
	"github.com/joeycumines/go-uuvcore/pkg/message"
)

var (
	cfgFile string
	profile string
)

// runtimeConfig is the ambient (non-task) configuration, decoded from the
// top-level "runtime" section and validated at startup.
type runtimeConfig struct {
	SystemID    uint16 `mapstructure:"system_id" validate:"required"`
	LogLevel    string `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogPretty   bool   `mapstructure:"log_pretty"`
	MetricsAddr string `mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`
}

var rootCmd = &cobra.Command{
	Use:           "uuvcored",
	Short:         "Onboard unmanned-vehicle runtime core",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the task set until interrupted",
	RunE:  run,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file (YAML)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile (e.g. Simulation, Hardware)")
	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func logLevel(name string) logiface.Level {
	switch name {
	case "debug":
		return logiface.LevelDebug
	case "warn":
		return logiface.LevelWarning
	case "error":
		return logiface.LevelError
	default:
		return logiface.LevelInformational
	}
}

func run(cmd *cobra.Command, args []string) error {
	src, err := config.New(cfgFile, profile, nil)
	if err != nil {
		return err
	}

	rcfg := runtimeConfig{SystemID: 1, LogLevel: "info"}
	if err := src.Decode("runtime", &rcfg); err != nil {
		return err
	}

	log := logging.New(logging.Config{Level: logLevel(rcfg.LogLevel), Pretty: rcfg.LogPretty})
	log = logging.WithFields(log, map[string]string{
		"run_id":  uuid.NewString(),
		"profile": src.Profile(),
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.New()
	b := bus.New(clk, log)
	entities := entity.NewCatalog()
	mask := controlloop.New()
	lock := maneuverlock.New()

	supTask := supervisor.NewTask(b, mask, clk, log, rcfg.SystemID)
	pathTask := pathcontrol.NewTask(b, clk, log, rcfg.SystemID)
	monTask := entitymon.NewTask(b, rcfg.SystemID)
	loiterTask := loiter.NewTask(b, clk, log, lock, rcfg.SystemID)

	tasks := []struct {
		name string
		impl any
	}{
		{"Supervisor", supTask},
		{"PathController", pathTask},
		{"EntityMonitor", monTask},
		{"Loiter", loiterTask},
	}

	type wired struct {
		name   string
		impl   any
		binder *param.Binder
		rt     *task.Runtime
	}
	var wiredTasks []wired

	var wg sync.WaitGroup
	for _, tk := range tasks {
		binder := param.NewBinder(tk.name)
		if pb, ok := tk.impl.(task.ParameterBinder); ok {
			pb.BindParams(binder)
		}
		if pt, ok := tk.impl.(*pathcontrol.Task); ok {
			pt.BindBottomTrackerParams(binder)
		}
		if errs := binder.Bind(src.Section(tk.name)); len(errs) > 0 {
			return errs[0]
		}
		rt := &task.Runtime{
			Name:     tk.name,
			Bus:      b,
			Clock:    clk,
			Entities: entities,
			Log:      logging.WithFields(log, map[string]string{"task": tk.name}),
			Params:   binder,
		}
		wiredTasks = append(wiredTasks, wired{tk.name, tk.impl, binder, rt})
		runner := task.NewRunner(tk.impl, rt, task.RestartPolicy{})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
				log.Err().Str("task", rt.Name).Str("err", err.Error()).Log("task exited")
			}
		}()
	}

	// Live reload: re-bind every task's parameters from the fresh file and
	// fire the update-parameters hook for tasks that declare one.
	src.Watch(func(section string, values map[string]string) {
		for _, w := range wiredTasks {
			if errs := w.binder.Bind(src.Section(w.name)); len(errs) > 0 {
				log.Err().Str("task", w.name).Str("err", errs[0].Error()).Log("parameter rebind rejected")
				continue
			}
			if h, ok := w.impl.(task.ParameterUpdateHandler); ok {
				h.OnUpdateParameters(w.rt)
			}
		}
	})

	if rcfg.MetricsAddr != "" {
		collector := metrics.NewCollector(entities, mask, func() message.OpMode {
			return supTask.Mode()
		})
		registry := prometheus.NewRegistry()
		if err := registry.Register(collector); err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.Serve(ctx, rcfg.MetricsAddr, registry); err != nil {
				log.Err().Str("err", err.Error()).Log("metrics server exited")
			}
		}()
	}

	log.Info().Log("uuvcored running")
	<-ctx.Done()
	wg.Wait()
	return nil
}
