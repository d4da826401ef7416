// Package sensor maps cached API payloads to named vehicle sensors.
package sensor

import (
	"sort"
	"strconv"
	"time"

	"k8s.io/utils/clock"

	"github.com/polestar-community/polestar-go/pkg/cache"
	"github.com/polestar-community/polestar-go/pkg/connector/graphql"
)

// Clock supplies the current time to sensors that extrapolate from it.
var Clock clock.PassiveClock = clock.RealClock{}

// Reader is the part of account.Account that sensors read from.
type Reader interface {
	GetValue(vin string, kind cache.Kind, path string, skipTTL bool) (interface{}, cache.Status)
}

// Diagnostics is implemented by readers that report API health. Diagnostic sensors read as
// Missing from readers without it.
type Diagnostics interface {
	LastCallStatus(endpoint string) (int, bool)
	TokenExpiry() (time.Time, bool)
}

// Sensor describes a single value exposed for a vehicle.
type Sensor struct {
	Key  string
	Kind cache.Kind
	// Path is resolved against the payload of Kind. Empty for derived sensors.
	Path string
	Unit string
	// Numeric sensors are exported as gauges.
	Numeric bool

	derive func(r Reader, vin string) (interface{}, cache.Status)
}

// Units
const (
	Kilometers      = "km"
	Miles           = "mi"
	Meters          = "m"
	KilometersPerHr = "km/h"
	Percent         = "%"
	Minutes         = "min"
	Watts           = "W"
	Amperes         = "A"
	KWhPer100Km     = "kWh/100km"
	KWh             = "kWh"
	NewtonMeters    = "Nm"
)

var catalog = []Sensor{
	{Key: "estimated_range", Kind: cache.Battery, Path: "estimatedDistanceToEmptyKm", Unit: Kilometers, Numeric: true},
	{Key: "estimated_range_miles", Kind: cache.Battery, Path: "estimatedDistanceToEmptyMiles", Unit: Miles, Numeric: true},
	{Key: "current_odometer", Kind: cache.Odometer, Path: "odometerMeters", Unit: Meters, Numeric: true},
	{Key: "average_speed", Kind: cache.Odometer, Path: "averageSpeedKmPerHour", Unit: KilometersPerHr, Numeric: true},
	{Key: "current_trip_meter_automatic", Kind: cache.Odometer, Path: "tripMeterAutomaticKm", Unit: Kilometers, Numeric: true},
	{Key: "current_trip_meter_manual", Kind: cache.Odometer, Path: "tripMeterManualKm", Unit: Kilometers, Numeric: true},
	{Key: "battery_charge_level", Kind: cache.Battery, Path: "batteryChargeLevelPercentage", Unit: Percent, Numeric: true},
	{Key: "estimated_charging_time_to_full", Kind: cache.Battery, Path: "estimatedChargingTimeToFullMinutes", Unit: Minutes, Numeric: true},
	{Key: "charging_status", Kind: cache.Battery, Path: "chargingStatus"},
	{Key: "charging_power", Kind: cache.Battery, Path: "chargingPowerWatts", Unit: Watts, Numeric: true},
	{Key: "charging_current", Kind: cache.Battery, Path: "chargingCurrentAmps", Unit: Amperes, Numeric: true},
	{Key: "charger_connection_status", Kind: cache.Battery, Path: "chargerConnectionStatus"},
	{Key: "average_energy_consumption", Kind: cache.Battery, Path: "averageEnergyConsumptionKwhPer100Km", Unit: KWhPer100Km, Numeric: true},
	{Key: "estimated_charging_time_to_target_distance", Kind: cache.Battery, Path: "estimatedChargingTimeMinutesToTargetDistance", Unit: Minutes, Numeric: true},
	{Key: "estimated_full_charge_range", Kind: cache.Battery, Unit: Kilometers, Numeric: true, derive: fullChargeRange},
	{Key: "estimated_fully_charged_time", Kind: cache.Battery, derive: fullyChargedTime},
	{Key: "vin", Kind: cache.CarInfo, Path: "vin"},
	{Key: "model_name", Kind: cache.CarInfo, Path: "content/model/name"},
	{Key: "registration_number", Kind: cache.CarInfo, Path: "registrationNo"},
	{Key: "internal_vehicle_id", Kind: cache.CarInfo, Path: "internalVehicleIdentifier"},
	{Key: "software_version", Kind: cache.CarInfo, Path: "software/version"},
	{Key: "software_version_release", Kind: cache.CarInfo, Path: "software/versionTimestamp"},
	{Key: "last_updated_odometer_data", Kind: cache.Odometer, Path: "eventUpdatedTimestamp/iso"},
	{Key: "last_updated_battery_data", Kind: cache.Battery, Path: "eventUpdatedTimestamp/iso"},
	{Key: "torque", Kind: cache.CarInfo, Path: "content/specification/torque", Unit: NewtonMeters},
	{Key: "battery_capacity", Kind: cache.CarInfo, Path: "content/specification/battery", Unit: KWh},
	{Key: "api_status_code_data", Numeric: true, derive: dataStatus},
	{Key: "api_status_code_auth", Numeric: true, derive: authStatus},
	{Key: "api_token_expires_at", derive: tokenExpiresAt},
}

var byKey = func() map[string]Sensor {
	m := make(map[string]Sensor, len(catalog))
	for _, s := range catalog {
		m[s.Key] = s
	}
	return m
}()

// All returns the sensor catalog.
func All() []Sensor {
	sensors := make([]Sensor, len(catalog))
	copy(sensors, catalog)
	return sensors
}

// Keys returns the sorted sensor keys.
func Keys() []string {
	keys := make([]string, 0, len(catalog))
	for _, s := range catalog {
		keys = append(keys, s.Key)
	}
	sort.Strings(keys)
	return keys
}

// Lookup returns the sensor named key.
func Lookup(key string) (Sensor, bool) {
	s, ok := byKey[key]
	return s, ok
}

// Read returns the current value of s for vin. Vehicle information never goes stale; telemetry
// is subject to the cache TTL.
func Read(r Reader, vin string, s Sensor) (interface{}, cache.Status) {
	if s.derive != nil {
		return s.derive(r, vin)
	}
	return r.GetValue(vin, s.Kind, s.Path, s.Kind == cache.CarInfo)
}

// Float converts a sensor value to a float64. The API encodes some numbers as strings.
func Float(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

// fullChargeRange extrapolates the estimated range to a full battery.
func fullChargeRange(r Reader, vin string) (interface{}, cache.Status) {
	rangeValue, status := r.GetValue(vin, cache.Battery, "estimatedDistanceToEmptyKm", false)
	if status != cache.Found {
		return nil, status
	}
	levelValue, status := r.GetValue(vin, cache.Battery, "batteryChargeLevelPercentage", false)
	if status != cache.Found {
		return nil, status
	}
	distance, ok := Float(rangeValue)
	if !ok {
		return nil, cache.Missing
	}
	level, ok := Float(levelValue)
	if !ok || level <= 0 {
		return nil, cache.Missing
	}
	return float64(int(distance/level*100 + 0.5)), cache.Found
}

// fullyChargedTime adds the estimated charging time to the time the battery data was recorded, or
// to the current time if the record has no timestamp.
func fullyChargedTime(r Reader, vin string) (interface{}, cache.Status) {
	minutesValue, status := r.GetValue(vin, cache.Battery, "estimatedChargingTimeToFullMinutes", false)
	if status != cache.Found {
		return nil, status
	}
	minutes, ok := Float(minutesValue)
	if !ok || minutes <= 0 {
		return nil, cache.Missing
	}
	start := Clock.Now()
	if iso, status := r.GetValue(vin, cache.Battery, "eventUpdatedTimestamp/iso", false); status == cache.Found {
		if text, ok := iso.(string); ok {
			if t, err := time.Parse(time.RFC3339, text); err == nil {
				start = t
			}
		}
	}
	return start.Add(time.Duration(minutes * float64(time.Minute))).UTC().Format(time.RFC3339), cache.Found
}

// dataStatus reports the telemetry endpoint's latest status, falling back to the inventory
// endpoint before the first refresh.
func dataStatus(r Reader, _ string) (interface{}, cache.Status) {
	d, ok := r.(Diagnostics)
	if !ok {
		return nil, cache.Missing
	}
	for _, endpoint := range []string{graphql.BaseURLV2, graphql.BaseURL} {
		if code, ok := d.LastCallStatus(endpoint); ok {
			return float64(code), cache.Found
		}
	}
	return nil, cache.Missing
}

func authStatus(r Reader, _ string) (interface{}, cache.Status) {
	d, ok := r.(Diagnostics)
	if !ok {
		return nil, cache.Missing
	}
	if code, ok := d.LastCallStatus(graphql.AuthURL); ok {
		return float64(code), cache.Found
	}
	return nil, cache.Missing
}

func tokenExpiresAt(r Reader, _ string) (interface{}, cache.Status) {
	d, ok := r.(Diagnostics)
	if !ok {
		return nil, cache.Missing
	}
	expiry, ok := d.TokenExpiry()
	if !ok {
		return nil, cache.Missing
	}
	return expiry.UTC().Format(time.RFC3339), cache.Found
}
