// v1
// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mais4719/air-quality-monitoring/internal/breaker"
	"github.com/mais4719/air-quality-monitoring/internal/config"
	"github.com/mais4719/air-quality-monitoring/internal/engine"
	"github.com/mais4719/air-quality-monitoring/internal/events"
	"github.com/mais4719/air-quality-monitoring/internal/httpapi"
	"github.com/mais4719/air-quality-monitoring/internal/led"
	"github.com/mais4719/air-quality-monitoring/internal/level"
	"github.com/mais4719/air-quality-monitoring/internal/logging"
	"github.com/mais4719/air-quality-monitoring/internal/observability"
	"github.com/mais4719/air-quality-monitoring/internal/sensor"
	"github.com/mais4719/air-quality-monitoring/internal/store"
)

// Application wires configuration, logging, the polling engine, the LED
// sink and the HTTP surface into a single runnable unit.
type Application struct {
	cfg    config.Config
	logger *logging.DualLogger
	engine *engine.Engine
	server *httpapi.Server
	sink   led.Sink
	events *events.Publisher
}

// New prepares a fully wired service instance from the supplied
// configuration. The configuration is expected to be validated already.
func New(cfg config.Config) (*Application, error) {
	dl, err := logging.New(cfg.LogFilePath)
	if err != nil {
		return nil, err
	}
	lg := dl.Logger

	metrics := observability.NewMetrics()

	table, err := level.NewTable(cfg.Bands, cfg.UnknownColor)
	if err != nil {
		_ = dl.Close()
		return nil, fmt.Errorf("band table init: %w", err)
	}

	st := store.New(cfg.TTL)

	names := make(map[string]string, len(cfg.Sensors))
	for _, s := range cfg.Sensors {
		names[s.ID] = s.Name
	}
	fetcher, err := sensor.NewHTTPFetcher(sensor.HTTPFetcherConfig{
		URLTemplate:    cfg.APIURLTemplate,
		APIKey:         cfg.APIKey,
		Names:          names,
		AttemptTimeout: cfg.FetchAttemptTimeout,
		Retry: sensor.RetryPolicy{
			MaxAttempts: cfg.FetchMaxAttempts,
			BaseBackoff: cfg.FetchBaseBackoff,
			MaxBackoff:  cfg.FetchMaxBackoff,
		},
		Breaker: breaker.Config{
			MaxFailures:  cfg.BreakerMaxFailures,
			ResetTimeout: cfg.BreakerResetTimeout,
		},
	}, lg.With(slog.String("component", "fetcher")), metrics)
	if err != nil {
		_ = dl.Close()
		return nil, fmt.Errorf("fetcher init: %w", err)
	}

	sink, err := newSink(cfg, lg)
	if err != nil {
		_ = dl.Close()
		return nil, fmt.Errorf("led sink init: %w", err)
	}

	var pub *events.Publisher
	var tickPub engine.TickPublisher
	if len(cfg.KafkaBrokers) > 0 {
		pub, err = events.NewPublisher(cfg.KafkaBrokers, cfg.EventsTopic,
			lg.With(slog.String("component", "events")))
		if err != nil {
			sink.Close()
			_ = dl.Close()
			return nil, fmt.Errorf("event publisher init: %w", err)
		}
		tickPub = pub
		lg.Info("event_publisher_configured",
			slog.String("topic", cfg.EventsTopic),
			slog.String("brokers", strings.Join(cfg.KafkaBrokers, ",")))
	}

	refs := make([]engine.SensorRef, 0, len(cfg.Sensors))
	for _, s := range cfg.Sensors {
		refs = append(refs, engine.SensorRef{ID: s.ID, Name: s.Name})
	}
	eng := engine.New(engine.Config{
		Sensors:         refs,
		TickInterval:    cfg.TickInterval,
		ActiveStartHour: cfg.ActiveStartHour,
		ActiveEndHour:   cfg.ActiveEndHour,
		Intensity:       cfg.LightIntensity,
	}, lg.With(slog.String("component", "engine")), fetcher, st, table, sink, tickPub, metrics)

	server := httpapi.NewServer(&cfg, lg.With(slog.String("component", "http")), eng, st, metrics)

	return &Application{
		cfg:    cfg,
		logger: dl,
		engine: eng,
		server: server,
		sink:   sink,
		events: pub,
	}, nil
}

func newSink(cfg config.Config, lg *slog.Logger) (led.Sink, error) {
	opts := led.Options{
		NumLEDs:   cfg.NumberOfLEDs,
		Intensity: cfg.LightIntensity,
		UseHalf:   cfg.UseHalf,
	}
	switch cfg.LEDMode {
	case "mqtt":
		return led.NewMQTTSink(led.MQTTConfig{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Topic:    cfg.MQTTTopic,
			Options:  opts,
		}, lg.With(slog.String("component", "led")))
	case "sim":
		return led.NewSimSink(opts, lg.With(slog.String("component", "led")))
	default:
		return nil, fmt.Errorf("unsupported led mode %q", cfg.LEDMode)
	}
}

// Logger exposes the configured slog logger so main can emit structured
// logs after initialization.
func (a *Application) Logger() *slog.Logger {
	return a.logger.Logger
}

// Run blocks until the context is cancelled or the HTTP server
// terminates unexpectedly.
func (a *Application) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpCh := make(chan error, 1)
	go func() {
		httpCh <- a.server.Start()
	}()

	engineCh := make(chan error, 1)
	go func() {
		engineCh <- a.engine.Run(ctx)
	}()

	var httpErr, engineErr error
	for {
		select {
		case err := <-httpCh:
			httpErr = err
			httpCh = nil
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Logger.Error("http_server_error", slog.Any("err", err))
			}
			cancel()
		case err := <-engineCh:
			engineErr = err
			engineCh = nil
			if err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Logger.Error("engine_error", slog.Any("err", err))
			}
			cancel()
		case <-ctx.Done():
			a.logger.Logger.Info("shutdown_signal")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
			if err := a.server.Stop(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Logger.Error("server_shutdown_failed", slog.Any("err", err))
				if httpErr == nil {
					httpErr = fmt.Errorf("shutdown: %w", err)
				}
			}
			shutdownCancel()

			if httpCh != nil {
				if err := <-httpCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
					if httpErr == nil {
						httpErr = err
					}
				}
			}
			if engineCh != nil {
				if err := <-engineCh; err != nil && !errors.Is(err, context.Canceled) {
					if engineErr == nil {
						engineErr = err
					}
				}
			}

			if engineErr != nil && !errors.Is(engineErr, context.Canceled) {
				return engineErr
			}
			if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
				return httpErr
			}
			a.logger.Logger.Info("shutdown_complete")
			return nil
		}
	}
}

// Close releases resources owned by the application instance.
func (a *Application) Close() error {
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			a.logger.Logger.Error("event_publisher_close_failed", slog.Any("err", err))
		}
		a.events = nil
	}
	if a.sink != nil {
		a.sink.Close()
		a.sink = nil
	}
	return a.logger.Close()
}
