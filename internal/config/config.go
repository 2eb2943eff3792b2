// v2
// internal/config/config.go
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mais4719/air-quality-monitoring/internal/level"
)

// SensorSpec names one configured sensor and its provider identifier.
type SensorSpec struct {
	Name string
	ID   string
}

// Config captures all runtime settings required by the service. Values
// can be provided by a properties file, environment variables, or fall
// back to defaults. Invalid values are configuration errors: fatal at
// startup, never at runtime.
type Config struct {
	// ListenAddress defines the TCP address used by the HTTP server.
	ListenAddress string
	// LogFilePath is the path to the log file.
	LogFilePath string
	// HTTPReadTimeout bounds the time to read incoming requests.
	HTTPReadTimeout time.Duration
	// HTTPWriteTimeout bounds the time to write responses.
	HTTPWriteTimeout time.Duration
	// ShutdownTimeout limits graceful shutdown attempts.
	ShutdownTimeout time.Duration
	// PropertiesPath records the path used to load property values.
	PropertiesPath string

	// APIURLTemplate is the provider endpoint with a {sensor_id} placeholder.
	APIURLTemplate string
	// APIKey authenticates against the sensor provider.
	APIKey string
	// Sensors lists the configured sensors in declaration order.
	Sensors []SensorSpec
	// TTL is the maximum reading age considered valid.
	TTL time.Duration
	// TickInterval is the fixed interval between scheduler tick starts.
	TickInterval time.Duration
	// ActiveStartHour and ActiveEndHour bound the active window, both
	// inclusive, 0..23. end < start wraps past midnight.
	ActiveStartHour int
	ActiveEndHour   int

	// Fetch retry knobs.
	FetchMaxAttempts    int
	FetchBaseBackoff    time.Duration
	FetchMaxBackoff     time.Duration
	FetchAttemptTimeout time.Duration

	// Provider circuit breaker knobs.
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration

	// LEDMode selects the sink implementation: "mqtt" or "sim".
	LEDMode string
	// MQTT settings for the LED controller topic.
	MQTTBroker   string
	MQTTClientID string
	MQTTTopic    string
	// Strip geometry and brightness.
	NumberOfLEDs   int
	LightIntensity float64
	UseHalf        bool

	// Bands is the ordered AQI band table; UnknownColor marks no-data.
	Bands        []level.Band
	UnknownColor level.Color

	// KafkaBrokers, when set, enables the tick-event publisher.
	KafkaBrokers []string
	EventsTopic  string
}

const (
	defaultListenAddress  = ":8090"
	defaultLogFile        = "logs/airqual.log"
	defaultReadTimeout    = 5 * time.Second
	defaultWriteTimeout   = 10 * time.Second
	defaultShutdown       = 5 * time.Second
	defaultPropsPath      = "airquallight.properties"
	defaultAPIURLTemplate = "https://api.purpleair.com/v1/sensors/{sensor_id}"
	defaultTTL            = 10 * time.Minute
	defaultTickInterval   = 5 * time.Minute
	defaultActiveStart    = 6
	defaultActiveEnd      = 22
	defaultMaxAttempts    = 3
	defaultBaseBackoff    = 250 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
	defaultAttemptTimeout = 10 * time.Second
	defaultBrkFailures    = 5
	defaultBrkReset       = 2 * time.Minute
	defaultLEDMode        = "sim"
	defaultMQTTBroker     = "tcp://localhost:1883"
	defaultMQTTClientID   = "airquallight"
	defaultMQTTTopic      = "airqual/led/commands"
	defaultNumberOfLEDs   = 16
	defaultIntensity      = 0.3
	defaultEventsTopic    = "airqual.ticks"
)

// Load resolves configuration by layering defaults, an optional
// properties file, and finally environment variables, then validates
// the result. The properties file location can be overridden with
// AIRQUAL_PROPERTIES_PATH.
func Load() (Config, error) {
	cfg := Config{
		ListenAddress:       defaultListenAddress,
		LogFilePath:         filepath.Clean(defaultLogFile),
		HTTPReadTimeout:     defaultReadTimeout,
		HTTPWriteTimeout:    defaultWriteTimeout,
		ShutdownTimeout:     defaultShutdown,
		APIURLTemplate:      defaultAPIURLTemplate,
		TTL:                 defaultTTL,
		TickInterval:        defaultTickInterval,
		ActiveStartHour:     defaultActiveStart,
		ActiveEndHour:       defaultActiveEnd,
		FetchMaxAttempts:    defaultMaxAttempts,
		FetchBaseBackoff:    defaultBaseBackoff,
		FetchMaxBackoff:     defaultMaxBackoff,
		FetchAttemptTimeout: defaultAttemptTimeout,
		BreakerMaxFailures:  defaultBrkFailures,
		BreakerResetTimeout: defaultBrkReset,
		LEDMode:             defaultLEDMode,
		MQTTBroker:          defaultMQTTBroker,
		MQTTClientID:        defaultMQTTClientID,
		MQTTTopic:           defaultMQTTTopic,
		NumberOfLEDs:        defaultNumberOfLEDs,
		LightIntensity:      defaultIntensity,
		UnknownColor:        level.DefaultUnknown(),
		EventsTopic:         defaultEventsTopic,
	}

	propsPath := strings.TrimSpace(os.Getenv("AIRQUAL_PROPERTIES_PATH"))
	if propsPath == "" {
		propsPath = defaultPropsPath
	}
	cfg.PropertiesPath = propsPath

	if err := applyProperties(&cfg, propsPath); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if len(cfg.Bands) == 0 {
		cfg.Bands = level.DefaultBands()
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces every startup invariant. The band table itself is
// validated again by level.NewTable at wiring time; here we only check
// what the table cannot see.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return errors.New("listen_address cannot be empty")
	}
	if len(c.Sensors) == 0 {
		return errors.New("at least one sensor.<name> entry is required")
	}
	seen := make(map[string]struct{}, len(c.Sensors))
	for _, s := range c.Sensors {
		if s.ID == "" {
			return fmt.Errorf("sensor %q has an empty id", s.Name)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("sensor id %q configured twice", s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	if !strings.Contains(c.APIURLTemplate, "{sensor_id}") {
		return fmt.Errorf("api_url_template %q lacks {sensor_id} placeholder", c.APIURLTemplate)
	}
	if c.TTL <= 0 {
		return errors.New("ttl_minutes must be positive")
	}
	if c.TickInterval <= 0 {
		return errors.New("tick_interval_seconds must be positive")
	}
	if err := validateHour("active_start_hour", c.ActiveStartHour); err != nil {
		return err
	}
	if err := validateHour("active_end_hour", c.ActiveEndHour); err != nil {
		return err
	}
	if c.ActiveStartHour == c.ActiveEndHour {
		return errors.New("active hours start and end must differ; a one-hour window is start=end-1")
	}
	if _, err := level.NewTable(c.Bands, c.UnknownColor); err != nil {
		return fmt.Errorf("band table: %w", err)
	}
	switch c.LEDMode {
	case "mqtt", "sim":
	default:
		return fmt.Errorf("led_mode %q must be mqtt or sim", c.LEDMode)
	}
	if c.LEDMode == "mqtt" && strings.TrimSpace(c.MQTTBroker) == "" {
		return errors.New("mqtt_broker required when led_mode is mqtt")
	}
	if c.NumberOfLEDs <= 0 {
		return errors.New("number_of_leds must be positive")
	}
	if c.LightIntensity < 0 || c.LightIntensity > 1 {
		return errors.New("light_intensity must be within 0.0..1.0")
	}
	if len(c.KafkaBrokers) > 0 && strings.TrimSpace(c.EventsTopic) == "" {
		return errors.New("events_topic required when kafka_brokers is set")
	}
	return nil
}

func validateHour(key string, h int) error {
	if h < 0 || h > 23 {
		return fmt.Errorf("%s %d outside 0..23", key, h)
	}
	return nil
}

func applyProperties(cfg *Config, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		// Close errors are ignored because loading has already
		// completed and no logger exists at this stage.
		_ = f.Close()
	}()

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") || strings.HasPrefix(raw, ";") {
			continue
		}
		key, value, ok := strings.Cut(raw, "=")
		if !ok {
			return fmt.Errorf("invalid properties entry on line %d", line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if err := setProperty(cfg, key, value); err != nil {
			return fmt.Errorf("property %s: %w", key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read properties: %w", err)
	}
	return nil
}

func setProperty(cfg *Config, key, value string) error {
	switch {
	case strings.HasPrefix(key, "sensor."):
		name := strings.TrimPrefix(key, "sensor.")
		if name == "" || value == "" {
			return errors.New("sensor entries need both a name and an id")
		}
		cfg.Sensors = append(cfg.Sensors, SensorSpec{Name: name, ID: value})
		return nil
	case strings.HasPrefix(key, "band."):
		band, err := parseBand(strings.TrimPrefix(key, "band."), value)
		if err != nil {
			return err
		}
		cfg.Bands = append(cfg.Bands, band)
		return nil
	}

	switch key {
	case "listen_address":
		if value == "" {
			return errors.New("cannot be empty")
		}
		cfg.ListenAddress = value
	case "log_path":
		if value == "" {
			return errors.New("cannot be empty")
		}
		cfg.LogFilePath = filepath.Clean(value)
	case "http_read_timeout_ms":
		return assignMillis(&cfg.HTTPReadTimeout, value)
	case "http_write_timeout_ms":
		return assignMillis(&cfg.HTTPWriteTimeout, value)
	case "shutdown_timeout_ms":
		return assignMillis(&cfg.ShutdownTimeout, value)
	case "api_url_template":
		cfg.APIURLTemplate = value
	case "api_key":
		cfg.APIKey = value
	case "ttl_minutes":
		n, err := parsePositiveInt(value)
		if err != nil {
			return err
		}
		cfg.TTL = time.Duration(n) * time.Minute
	case "tick_interval_seconds":
		n, err := parsePositiveInt(value)
		if err != nil {
			return err
		}
		cfg.TickInterval = time.Duration(n) * time.Second
	case "active_hours":
		start, end, err := parseActiveHours(value)
		if err != nil {
			return err
		}
		cfg.ActiveStartHour, cfg.ActiveEndHour = start, end
	case "fetch_max_attempts":
		n, err := parsePositiveInt(value)
		if err != nil {
			return err
		}
		cfg.FetchMaxAttempts = n
	case "fetch_base_backoff_ms":
		return assignMillis(&cfg.FetchBaseBackoff, value)
	case "fetch_max_backoff_ms":
		return assignMillis(&cfg.FetchMaxBackoff, value)
	case "fetch_attempt_timeout_ms":
		return assignMillis(&cfg.FetchAttemptTimeout, value)
	case "breaker_max_failures":
		n, err := parsePositiveInt(value)
		if err != nil {
			return err
		}
		cfg.BreakerMaxFailures = n
	case "breaker_reset_timeout_ms":
		return assignMillis(&cfg.BreakerResetTimeout, value)
	case "led_mode":
		cfg.LEDMode = strings.ToLower(value)
	case "mqtt_broker":
		cfg.MQTTBroker = value
	case "mqtt_client_id":
		cfg.MQTTClientID = value
	case "mqtt_topic":
		cfg.MQTTTopic = value
	case "number_of_leds":
		n, err := parsePositiveInt(value)
		if err != nil {
			return err
		}
		cfg.NumberOfLEDs = n
	case "light_intensity":
		fv, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float: %w", err)
		}
		cfg.LightIntensity = fv
	case "use_half":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		cfg.UseHalf = b
	case "unknown_color":
		c, err := parseColor(value)
		if err != nil {
			return err
		}
		cfg.UnknownColor = c
	case "kafka_brokers":
		cfg.KafkaBrokers = splitAndTrim(value)
	case "events_topic":
		cfg.EventsTopic = value
	default:
		// Unknown keys are ignored to keep the loader forward-compatible.
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v, ok := lookupEnvTrimmed("AIRQUAL_LISTEN_ADDRESS"); ok {
		if v == "" {
			return errors.New("AIRQUAL_LISTEN_ADDRESS cannot be empty")
		}
		cfg.ListenAddress = v
	}
	if v, ok := lookupEnvTrimmed("AIRQUAL_LOG_PATH"); ok {
		if v == "" {
			return errors.New("AIRQUAL_LOG_PATH cannot be empty")
		}
		cfg.LogFilePath = filepath.Clean(v)
	}
	if v, ok := lookupEnvTrimmed("AIRQUAL_API_KEY"); ok {
		cfg.APIKey = v
	}
	if v, ok := lookupEnvTrimmed("AIRQUAL_API_URL_TEMPLATE"); ok {
		cfg.APIURLTemplate = v
	}
	if v, ok := lookupEnvTrimmed("AIRQUAL_LED_MODE"); ok {
		cfg.LEDMode = strings.ToLower(v)
	}
	if v, ok := lookupEnvTrimmed("AIRQUAL_MQTT_BROKER"); ok {
		cfg.MQTTBroker = v
	}
	if v, ok := lookupEnvTrimmed("AIRQUAL_KAFKA_BROKERS"); ok {
		cfg.KafkaBrokers = splitAndTrim(v)
	} else if v, ok := lookupEnvTrimmed("KAFKA_BROKERS"); ok {
		cfg.KafkaBrokers = splitAndTrim(v)
	}
	if v, ok := lookupEnvTrimmed("AIRQUAL_ACTIVE_HOURS"); ok {
		start, end, err := parseActiveHours(v)
		if err != nil {
			return fmt.Errorf("AIRQUAL_ACTIVE_HOURS: %w", err)
		}
		cfg.ActiveStartHour, cfg.ActiveEndHour = start, end
	}
	return nil
}

// parseBand decodes a "lower|r,g,b" value. The key suffix is the band
// name with underscores standing in for spaces.
func parseBand(name, value string) (level.Band, error) {
	if name == "" {
		return level.Band{}, errors.New("band entries need a name suffix")
	}
	boundStr, colorStr, ok := strings.Cut(value, "|")
	if !ok {
		return level.Band{}, fmt.Errorf("band %q must be lower_bound|r,g,b", name)
	}
	bound, err := strconv.ParseFloat(strings.TrimSpace(boundStr), 64)
	if err != nil {
		return level.Band{}, fmt.Errorf("band %q lower bound: %w", name, err)
	}
	color, err := parseColor(colorStr)
	if err != nil {
		return level.Band{}, fmt.Errorf("band %q: %w", name, err)
	}
	return level.Band{
		Name:       strings.ReplaceAll(name, "_", " "),
		LowerBound: bound,
		Color:      color,
	}, nil
}

func parseColor(value string) (level.Color, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 3 {
		return level.Color{}, fmt.Errorf("color %q must be r,g,b", value)
	}
	var rgb [3]uint8
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return level.Color{}, fmt.Errorf("color component %q: %w", p, err)
		}
		if n < 0 || n > 255 {
			return level.Color{}, fmt.Errorf("color component %d outside 0..255", n)
		}
		rgb[i] = uint8(n)
	}
	return level.Color{R: rgb[0], G: rgb[1], B: rgb[2]}, nil
}

// parseActiveHours decodes a "start-end" window, both hours 0..23.
func parseActiveHours(value string) (int, int, error) {
	startStr, endStr, ok := strings.Cut(value, "-")
	if !ok {
		return 0, 0, fmt.Errorf("active hours %q must be start-end", value)
	}
	start, err := strconv.Atoi(strings.TrimSpace(startStr))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid start hour: %w", err)
	}
	end, err := strconv.Atoi(strings.TrimSpace(endStr))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid end hour: %w", err)
	}
	if err := validateHour("start hour", start); err != nil {
		return 0, 0, err
	}
	if err := validateHour("end hour", end); err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

func assignMillis(dst *time.Duration, value string) error {
	n, err := parsePositiveInt(value)
	if err != nil {
		return err
	}
	*dst = time.Duration(n) * time.Millisecond
	return nil
}

func parsePositiveInt(value string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %w", err)
	}
	if n <= 0 {
		return 0, errors.New("value must be greater than zero")
	}
	return n, nil
}

func lookupEnvTrimmed(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func splitAndTrim(raw string) []string {
	fields := strings.Split(raw, ",")
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		trimmed := strings.TrimSpace(field)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
