// v1
// internal/sensor/reading.go
package sensor

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mais4719/air-quality-monitoring/internal/aqi"
)

// Reading is one sensor's decoded observation. Readings are immutable:
// a newer observation for the same sensor supersedes the old one in the
// store, it never mutates it in place.
type Reading struct {
	SensorID     string
	Name         string
	AQI          float64
	PM25         float64
	TemperatureC float64
	Humidity     float64
	Pressure     float64
	ObservedAt   time.Time
}

// rawPayload mirrors the provider's per-sensor JSON document. Only the
// fields the service consumes are declared; everything else is ignored.
type rawPayload struct {
	DataTimeStamp int64 `json:"data_time_stamp"`
	Sensor        struct {
		PM25Atm     float64 `json:"pm2.5_atm"`
		Temperature float64 `json:"temperature"` // Fahrenheit at the wire
		Humidity    float64 `json:"humidity"`
		Pressure    float64 `json:"pressure"`
	} `json:"sensor"`
}

// decodeReading turns a provider response body into a Reading. The PM2.5
// concentration is converted to a US EPA AQI value here so the rest of
// the pipeline only ever sees AQI. A malformed body is a permanent
// failure: retrying the same document cannot fix it.
func decodeReading(sensorID, name string, body []byte, fallback time.Time) (Reading, error) {
	var raw rawPayload
	if err := json.Unmarshal(body, &raw); err != nil {
		return Reading{}, fmt.Errorf("decode sensor %s payload: %w", sensorID, err)
	}
	if raw.Sensor.PM25Atm < 0 {
		return Reading{}, fmt.Errorf("sensor %s reported negative pm2.5: %v", sensorID, raw.Sensor.PM25Atm)
	}
	observed := fallback
	if raw.DataTimeStamp > 0 {
		observed = time.Unix(raw.DataTimeStamp, 0)
	}
	return Reading{
		SensorID:     sensorID,
		Name:         name,
		AQI:          aqi.FromPM25(raw.Sensor.PM25Atm),
		PM25:         raw.Sensor.PM25Atm,
		TemperatureC: (raw.Sensor.Temperature - 32) * 5 / 9,
		Humidity:     raw.Sensor.Humidity,
		Pressure:     raw.Sensor.Pressure,
		ObservedAt:   observed,
	}, nil
}
