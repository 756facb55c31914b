// Package metrics instruments the runtime with Prometheus collectors:
// entity health, the active control-loop mask, supervisor mode, and
// per-inbox overflow counts. Everything is sampled at scrape time from the
// injected process-wide services, so the hot paths (bus publish, monitor
// evaluation) carry no instrumentation cost at all.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joeycumines/go-uuvcore/internal/bus"
	"github.com/joeycumines/go-uuvcore/internal/controlloop"
	"github.com/joeycumines/go-uuvcore/internal/entity"
	"github.com/joeycumines/go-uuvcore/pkg/message"
)

// ModeFunc reports the supervisor's current operating mode at scrape time.
type ModeFunc func() message.OpMode

// Collector samples the process-wide services it was constructed with.
// Register it on a prometheus.Registry; it is safe for concurrent scrapes.
type Collector struct {
	entities *entity.Catalog
	mask     *controlloop.Mask
	mode     ModeFunc
	inboxes  []*bus.Inbox

	entityHealth  *prometheus.Desc
	loopMask      *prometheus.Desc
	supervisorOp  *prometheus.Desc
	inboxOverflow *prometheus.Desc
}

// NewCollector constructs a Collector. mode may be nil when no supervisor is
// wired (tests, partial deployments); the supervisor gauge is then omitted.
func NewCollector(entities *entity.Catalog, mask *controlloop.Mask, mode ModeFunc) *Collector {
	return &Collector{
		entities: entities,
		mask:     mask,
		mode:     mode,
		entityHealth: prometheus.NewDesc(
			"uuvcore_entity_health_state",
			"Current health state of each entity (0=BOOT 1=NORMAL 2=FAULT 3=ERROR 4=FAILURE).",
			[]string{"entity"}, nil,
		),
		loopMask: prometheus.NewDesc(
			"uuvcore_control_loop_active",
			"Whether each control loop bit is currently granted.",
			[]string{"loop"}, nil,
		),
		supervisorOp: prometheus.NewDesc(
			"uuvcore_supervisor_mode",
			"Supervisor operating mode (0=SERVICE 1=CALIBRATION 2=ERROR 3=MANEUVER 4=EXTERNAL).",
			nil, nil,
		),
		inboxOverflow: prometheus.NewDesc(
			"uuvcore_inbox_overflow_total",
			"Messages dropped because a subscriber inbox was full.",
			[]string{"inbox"}, nil,
		),
	}
}

// Observe adds an inbox to the scrape set. Call during wiring, before the
// registry is first scraped.
func (c *Collector) Observe(inboxes ...*bus.Inbox) {
	c.inboxes = append(c.inboxes, inboxes...)
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.entityHealth
	ch <- c.loopMask
	ch <- c.supervisorOp
	ch <- c.inboxOverflow
}

var loopBits = map[string]message.ControlLoopMask{
	"path":          message.CLPath,
	"speed":         message.CLSpeed,
	"depth":         message.CLDepth,
	"altitude":      message.CLAltitude,
	"teleoperation": message.CLTeleoperation,
	"no_override":   message.CLNoOverride,
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.entities != nil {
		for _, ent := range c.entities.All() {
			state, _, _ := ent.State()
			ch <- prometheus.MustNewConstMetric(c.entityHealth, prometheus.GaugeValue, float64(state), ent.Label)
		}
	}
	if c.mask != nil {
		current := c.mask.Current()
		for name, bit := range loopBits {
			v := 0.0
			if current&bit != 0 {
				v = 1.0
			}
			ch <- prometheus.MustNewConstMetric(c.loopMask, prometheus.GaugeValue, v, name)
		}
	}
	if c.mode != nil {
		ch <- prometheus.MustNewConstMetric(c.supervisorOp, prometheus.GaugeValue, float64(c.mode()))
	}
	for _, ib := range c.inboxes {
		ch <- prometheus.MustNewConstMetric(c.inboxOverflow, prometheus.CounterValue, float64(ib.OverflowCount()), ib.Name)
	}
}

// Serve exposes registry on addr's /metrics until ctx is done. It blocks;
// run it in its own goroutine. A nil error is returned on clean shutdown.
func Serve(ctx context.Context, addr string, registry *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
