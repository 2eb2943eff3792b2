// v2
// internal/engine/engine.go
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mais4719/air-quality-monitoring/internal/aqi"
	"github.com/mais4719/air-quality-monitoring/internal/breaker"
	"github.com/mais4719/air-quality-monitoring/internal/events"
	"github.com/mais4719/air-quality-monitoring/internal/led"
	"github.com/mais4719/air-quality-monitoring/internal/level"
	"github.com/mais4719/air-quality-monitoring/internal/observability"
	"github.com/mais4719/air-quality-monitoring/internal/sensor"
	"github.com/mais4719/air-quality-monitoring/internal/store"
)

// unhealthyStrikes is the consecutive-failed-tick count after which the
// readiness probe reports unhealthy. The loop itself never exits over
// tick failures; it records them and proceeds.
const unhealthyStrikes = 3

// Config carries the scheduler's runtime settings.
type Config struct {
	// Sensors lists the configured sensor ids in declaration order.
	Sensors []SensorRef
	// TickInterval is the fixed interval between tick starts. A tick
	// that overruns defers the next one to immediately after it.
	TickInterval time.Duration
	// ActiveStartHour and ActiveEndHour bound the active window, both
	// inclusive. end < start wraps past midnight.
	ActiveStartHour int
	ActiveEndHour   int
	// Intensity is the brightness pushed with every color.
	Intensity float64
}

// SensorRef names one sensor the scheduler polls each tick.
type SensorRef struct {
	ID   string
	Name string
}

// Status is the externally visible scheduler state, read by the HTTP
// API. The engine is the sole writer.
type Status struct {
	ConsensusAQI      *float64
	LevelName         string
	Color             level.Color
	LastUpdate        time.Time
	LastError         *string
	SensorsReporting  int
	SensorsConfigured int
	Ticks             uint64
	Gated             bool
	Healthy           bool
}

// breakerStater is implemented by fetchers that expose a provider
// circuit breaker, so its state can be exported as a gauge.
type breakerStater interface {
	BreakerState() breaker.State
}

// TickPublisher is the optional event stream fed after each tick.
type TickPublisher interface {
	Publish(ctx context.Context, ev events.TickEvent) error
}

// Engine runs the cyclic Idle → Fetching → Aggregating → Publishing
// loop. Per-sensor fetches fan out concurrently within a tick and are
// joined before aggregation, so aggregation never observes a store that
// is still being updated by this tick's fetches.
type Engine struct {
	cfg     Config
	lg      *slog.Logger
	fetcher sensor.Fetcher
	store   *store.Store
	table   *level.Table
	sink    led.Sink
	pub     TickPublisher
	metrics *observability.Metrics
	now     func() time.Time

	mu      sync.RWMutex
	status  Status
	strikes int
}

func New(cfg Config, lg *slog.Logger, f sensor.Fetcher, st *store.Store, tbl *level.Table, sink led.Sink, pub TickPublisher, m *observability.Metrics) *Engine {
	return &Engine{
		cfg:     cfg,
		lg:      lg,
		fetcher: f,
		store:   st,
		table:   tbl,
		sink:    sink,
		pub:     pub,
		metrics: m,
		now:     time.Now,
		status: Status{
			SensorsConfigured: len(cfg.Sensors),
			Healthy:           true,
		},
	}
}

// Run blocks until the context is cancelled, executing one tick per
// interval. No two ticks ever overlap. On shutdown the sink is blanked
// and in-flight fetch results that never completed are simply dropped.
func (e *Engine) Run(ctx context.Context) error {
	e.lg.Info("engine_start",
		slog.Int("sensors", len(e.cfg.Sensors)),
		slog.String("interval", e.cfg.TickInterval.String()),
		slog.Int("active_start", e.cfg.ActiveStartHour),
		slog.Int("active_end", e.cfg.ActiveEndHour),
	)
	for {
		start := e.now()
		e.runTick(ctx)
		if ctx.Err() != nil {
			e.shutdownSink()
			e.lg.Info("engine_stop")
			return nil
		}

		wait := start.Add(e.cfg.TickInterval).Sub(e.now())
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			e.shutdownSink()
			e.lg.Info("engine_stop")
			return nil
		case <-timer.C:
		}
	}
}

// Status returns a copy of the current scheduler state.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := e.status
	if e.status.ConsensusAQI != nil {
		v := *e.status.ConsensusAQI
		st.ConsensusAQI = &v
	}
	if e.status.LastError != nil {
		s := *e.status.LastError
		st.LastError = &s
	}
	return st
}

func (e *Engine) runTick(ctx context.Context) {
	start := e.now()

	if !e.activeAt(start) {
		e.gatedTick(ctx, start)
		return
	}

	// Fetching: fan out one call per sensor, join before aggregating.
	fetchErrs := make([]error, len(e.cfg.Sensors))
	var wg sync.WaitGroup
	for i, ref := range e.cfg.Sensors {
		wg.Add(1)
		go func(i int, ref SensorRef) {
			defer wg.Done()
			reading, err := e.fetcher.Fetch(ctx, ref.ID)
			if err != nil {
				fetchErrs[i] = err
				if sensor.IsPermanent(err) {
					// Unavailable, not merely late: drop the stale echo.
					e.store.Evict(ref.ID)
				}
				return
			}
			e.store.Update(reading)
		}(i, ref)
	}
	wg.Wait()

	if ctx.Err() != nil {
		// Shutdown mid-tick: completed updates stand, nothing else runs.
		return
	}

	failed := 0
	for i, err := range fetchErrs {
		if err == nil {
			continue
		}
		failed++
		e.lg.Warn("sensor_fetch_failed",
			slog.String("sensor", e.cfg.Sensors[i].ID),
			slog.String("name", e.cfg.Sensors[i].Name),
			slog.String("error", err.Error()),
		)
	}

	// Aggregating.
	now := e.now()
	valid := e.store.CurrentValid(now)
	if len(valid) == 0 {
		e.noDataTick(ctx, start, now)
		return
	}

	values := make([]float64, len(valid))
	for i, r := range valid {
		values[i] = r.AQI
	}
	consensus, err := aqi.Consensus(values)
	if err != nil {
		// Unreachable with a non-empty input; guard anyway.
		e.noDataTick(ctx, start, now)
		return
	}
	band := e.table.Map(consensus)

	// Publishing.
	var lastErr *string
	if failed > 0 {
		msg := fmt.Sprintf("%d of %d sensor fetches failed", failed, len(e.cfg.Sensors))
		lastErr = &msg
	}
	if err := e.sink.Set(ctx, band.Color, e.cfg.Intensity); err != nil {
		e.lg.Error("sink_set_failed", slog.String("error", err.Error()))
		msg := fmt.Sprintf("visual sink: %v", err)
		lastErr = &msg
	}

	e.mu.Lock()
	e.strikes = 0
	c := consensus
	e.status = Status{
		ConsensusAQI:      &c,
		LevelName:         band.Name,
		Color:             band.Color,
		LastUpdate:        now,
		LastError:         lastErr,
		SensorsReporting:  len(valid),
		SensorsConfigured: len(e.cfg.Sensors),
		Ticks:             e.status.Ticks + 1,
		Healthy:           true,
	}
	e.mu.Unlock()

	e.lg.Info("tick_published",
		slog.Float64("consensus_aqi", consensus),
		slog.String("level", band.Name),
		slog.Int("reporting", len(valid)),
		slog.Int("failed", failed),
	)
	e.metrics.SetConsensus(consensus, len(valid))
	e.metrics.ObserveTick("ok", e.now().Sub(start))
	e.exportBreakerState()
	e.publishEvent(ctx, now, false)
}

// gatedTick runs outside the active window: no fetching, no
// aggregation, lights out.
func (e *Engine) gatedTick(ctx context.Context, start time.Time) {
	if err := e.sink.Off(ctx); err != nil {
		e.lg.Error("sink_off_failed", slog.String("error", err.Error()))
	}
	e.mu.Lock()
	e.status.Gated = true
	e.status.Ticks++
	e.mu.Unlock()

	e.lg.Debug("tick_gated", slog.Int("hour", start.Hour()))
	e.metrics.ObserveTick("gated", e.now().Sub(start))
	e.publishEvent(ctx, start, true)
}

// noDataTick handles the total-data-loss condition: every sensor stale,
// failed, or unconfigured. The unknown color is deliberately not one of
// the AQI bands.
func (e *Engine) noDataTick(ctx context.Context, start, now time.Time) {
	if err := e.sink.Set(ctx, e.table.Unknown(), e.cfg.Intensity); err != nil {
		e.lg.Error("sink_set_failed", slog.String("error", err.Error()))
	}
	msg := "all sensors unavailable: no valid readings"

	e.mu.Lock()
	e.strikes++
	e.status = Status{
		ConsensusAQI:      nil,
		LevelName:         "unknown",
		Color:             e.table.Unknown(),
		LastUpdate:        now,
		LastError:         &msg,
		SensorsReporting:  0,
		SensorsConfigured: len(e.cfg.Sensors),
		Ticks:             e.status.Ticks + 1,
		Gated:             false,
		Healthy:           e.strikes < unhealthyStrikes,
	}
	e.mu.Unlock()

	e.lg.Warn("tick_no_data", slog.Int("strikes", e.strikes))
	e.metrics.SetNoData()
	e.metrics.ObserveTick("no_data", e.now().Sub(start))
	e.exportBreakerState()
	e.publishEvent(ctx, now, false)
}

func (e *Engine) publishEvent(ctx context.Context, now time.Time, gated bool) {
	if e.pub == nil {
		return
	}
	st := e.Status()
	ev := events.TickEvent{
		ConsensusAQI:      st.ConsensusAQI,
		LevelName:         st.LevelName,
		Color:             st.Color,
		SensorsReporting:  st.SensorsReporting,
		SensorsConfigured: st.SensorsConfigured,
		Gated:             gated,
		Timestamp:         now,
	}
	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := e.pub.Publish(pubCtx, ev); err != nil {
		e.lg.Warn("tick_event_publish_failed", slog.String("error", err.Error()))
	}
}

func (e *Engine) exportBreakerState() {
	if bs, ok := e.fetcher.(breakerStater); ok {
		e.metrics.SetBreakerState(float64(bs.BreakerState()))
	}
}

// activeAt reports whether the hour of t falls inside the configured
// window, both edges inclusive. A window whose end precedes its start
// wraps past midnight: 22-6 means 22:00 through 06:59.
func (e *Engine) activeAt(t time.Time) bool {
	h := t.Hour()
	start, end := e.cfg.ActiveStartHour, e.cfg.ActiveEndHour
	if start < end {
		return h >= start && h <= end
	}
	return h >= start || h <= end
}

func (e *Engine) shutdownSink() {
	offCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.sink.Off(offCtx); err != nil {
		e.lg.Warn("sink_off_failed", slog.String("error", err.Error()))
	}
}
