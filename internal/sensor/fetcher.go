// v2
// internal/sensor/fetcher.go
package sensor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mais4719/air-quality-monitoring/internal/breaker"
)

// Kind classifies fetch failures for the scheduler's recovery policy.
type Kind int

const (
	// KindTransient covers network errors, timeouts and 5xx responses.
	// The scheduler keeps the sensor's last-known reading, TTL permitting.
	KindTransient Kind = iota
	// KindPermanent covers credential and identity failures. No retry;
	// the sensor is unavailable for the tick.
	KindPermanent
)

func (k Kind) String() string {
	if k == KindPermanent {
		return "permanent"
	}
	return "transient"
}

// FetchError is the tagged failure returned by a Fetcher.
type FetchError struct {
	Kind     Kind
	SensorID string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch sensor %s (%s): %v", e.SensorID, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsPermanent reports whether err is a permanent fetch failure.
func IsPermanent(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == KindPermanent
}

// Fetcher produces the most recent reading for one sensor. Each call
// fails in isolation: retries and backoff are owned by the
// implementation, never by the scheduler.
type Fetcher interface {
	Fetch(ctx context.Context, sensorID string) (Reading, error)
}

// Observer receives fetch telemetry. A nil observer is valid.
type Observer interface {
	FetchAttempt(sensorID, outcome string)
	FetchRetry(sensorID string)
}

// RetryPolicy bounds the per-call retry sequence.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// backoff returns the sleep before attempt n (0-based first retry),
// exponential with full jitter, clamped to MaxBackoff.
func (p RetryPolicy) backoff(n int) time.Duration {
	d := p.BaseBackoff << uint(n)
	if d <= 0 || d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return time.Duration(rand.Int63n(int64(d)) + 1)
}

// HTTPFetcher pulls readings from the sensor provider's REST API. All
// requests for all sensors share one HTTP client and one circuit
// breaker: the provider is a single upstream.
type HTTPFetcher struct {
	urlTmpl string
	apiKey  string
	names   map[string]string
	client  *http.Client
	brk     *breaker.Breaker
	retry   RetryPolicy
	lg      *slog.Logger
	obs     Observer
}

// HTTPFetcherConfig collects the construction knobs.
type HTTPFetcherConfig struct {
	// URLTemplate is the provider endpoint with a {sensor_id} placeholder.
	URLTemplate string
	APIKey      string
	// Names maps sensor ids to their configured display names.
	Names          map[string]string
	AttemptTimeout time.Duration
	Retry          RetryPolicy
	Breaker        breaker.Config
}

func NewHTTPFetcher(cfg HTTPFetcherConfig, lg *slog.Logger, obs Observer) (*HTTPFetcher, error) {
	if !strings.Contains(cfg.URLTemplate, "{sensor_id}") {
		return nil, fmt.Errorf("api url template %q lacks {sensor_id} placeholder", cfg.URLTemplate)
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.BaseBackoff <= 0 {
		cfg.Retry.BaseBackoff = 250 * time.Millisecond
	}
	if cfg.Retry.MaxBackoff <= 0 {
		cfg.Retry.MaxBackoff = 5 * time.Second
	}
	names := make(map[string]string, len(cfg.Names))
	for id, name := range cfg.Names {
		names[id] = name
	}
	return &HTTPFetcher{
		urlTmpl: cfg.URLTemplate,
		apiKey:  cfg.APIKey,
		names:   names,
		client:  &http.Client{Timeout: cfg.AttemptTimeout},
		brk:     breaker.New("sensor-provider", cfg.Breaker, lg),
		retry:   cfg.Retry,
		lg:      lg,
		obs:     obs,
	}, nil
}

// Fetch retrieves the sensor's current reading, retrying transient
// failures with bounded exponential backoff. Permanent failures and an
// open breaker abort the sequence immediately.
func (f *HTTPFetcher) Fetch(ctx context.Context, sensorID string) (Reading, error) {
	var lastErr error
	for attempt := 0; attempt < f.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			if f.obs != nil {
				f.obs.FetchRetry(sensorID)
			}
			select {
			case <-time.After(f.retry.backoff(attempt - 1)):
			case <-ctx.Done():
				return Reading{}, &FetchError{Kind: KindTransient, SensorID: sensorID, Err: ctx.Err()}
			}
		}

		reading, err := f.fetchOnce(ctx, sensorID)
		if err == nil {
			if f.obs != nil {
				f.obs.FetchAttempt(sensorID, "ok")
			}
			return reading, nil
		}
		lastErr = err

		var fe *FetchError
		if errors.As(err, &fe) && fe.Kind == KindPermanent {
			if f.obs != nil {
				f.obs.FetchAttempt(sensorID, "permanent")
			}
			return Reading{}, err
		}
		if f.obs != nil {
			f.obs.FetchAttempt(sensorID, "transient")
		}
		if errors.Is(err, breaker.ErrOpen) {
			// Backing off locally will not close the breaker any sooner.
			break
		}
		f.lg.Warn("fetch_attempt_failed",
			slog.String("sensor", sensorID),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}
	return Reading{}, lastErr
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, sensorID string) (Reading, error) {
	var reading Reading
	err := f.brk.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.sensorURL(sensorID), nil)
		if err != nil {
			return &FetchError{Kind: KindPermanent, SensorID: sensorID, Err: err}
		}
		if f.apiKey != "" {
			req.Header.Set("X-API-Key", f.apiKey)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return &FetchError{Kind: KindTransient, SensorID: sensorID, Err: err}
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			io.CopyN(io.Discard, resp.Body, 256)
			return &FetchError{Kind: KindTransient, SensorID: sensorID, Err: fmt.Errorf("provider returned %d", resp.StatusCode)}
		default:
			// 401/403 (bad key), 404 (unknown sensor) and the rest of
			// the 4xx range will not heal by retrying.
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
			return &FetchError{
				Kind:     KindPermanent,
				SensorID: sensorID,
				Err:      fmt.Errorf("provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			}
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return &FetchError{Kind: KindTransient, SensorID: sensorID, Err: err}
		}
		r, err := decodeReading(sensorID, f.names[sensorID], body, time.Now())
		if err != nil {
			return &FetchError{Kind: KindPermanent, SensorID: sensorID, Err: err}
		}
		reading = r
		return nil
	})
	if err != nil {
		if errors.Is(err, breaker.ErrOpen) {
			return Reading{}, &FetchError{Kind: KindTransient, SensorID: sensorID, Err: err}
		}
		return Reading{}, err
	}
	return reading, nil
}

// BreakerState exposes the provider breaker for metrics export.
func (f *HTTPFetcher) BreakerState() breaker.State {
	return f.brk.State()
}

func (f *HTTPFetcher) sensorURL(sensorID string) string {
	return strings.ReplaceAll(f.urlTmpl, "{sensor_id}", url.PathEscape(sensorID))
}
