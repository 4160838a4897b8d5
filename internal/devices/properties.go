package devices

import "encoding/json"

// Names of the auxiliary properties attached outside the data_type list
const (
	PropBattery     = "battery"
	PropSignal      = "signal"
	PropCalibrating = "calibrating"
	PropHealthIndex = "health_idx"
)

// WindReadings are the derived readings a wind module expands its single
// logical Wind data type into
var WindReadings = []string{"WindStrength", "WindAngle", "GustStrength", "GustAngle"}

// Data types carrying whole-number readings; everything else is a real number
var integerDataTypes = map[string]bool{
	"Humidity": true,
	"Noise":    true,
	"CO2":      true,
}

var unitByDataType = map[string]string{
	"Temperature":  "degree celsius",
	"Humidity":     "percent",
	"CO2":          "ppm",
	"Noise":        "dB",
	"Pressure":     "mbar",
	"Rain":         "mm",
	"WindStrength": "km/h",
	"WindAngle":    "°",
	"GustStrength": "km/h",
	"GustAngle":    "°",
	PropBattery:    "percent",
	PropSignal:     "percent",
}

type valueBounds struct {
	min, max float64
}

// Data types absent from this table are unbounded
var boundsByDataType = map[string]valueBounds{
	"Temperature": {-40, 65},
	"Humidity":    {0, 100},
	"CO2":         {0, 5000},
	"Noise":       {0, 150},
	"Pressure":    {260, 1160},
	"WindAngle":   {0, 360},
	"GustAngle":   {0, 360},
	PropBattery:   {0, 100},
	PropSignal:    {0, 100},
}

var capabilityByDataType = map[string]string{
	"Temperature": "TemperatureSensor",
	"Humidity":    "HumiditySensor",
	"Pressure":    "BarometricPressureSensor",
	"CO2":         "AirQualitySensor",
}

// Health index values reported by health coach devices, indexed by the raw
// integer the cloud sends
var healthIndexNames = []string{"Healthy", "Fine", "Fair", "Poor", "Unhealthy"}

// NewProperty builds a property record for the given data type, deriving
// unit, bounds and capability tag from the fixed tables
func NewProperty(dataType string) *Property {
	p := &Property{
		Name:       dataType,
		Unit:       unitByDataType[dataType],
		Capability: capabilityByDataType[dataType],
	}
	if b, ok := boundsByDataType[dataType]; ok {
		min, max := b.min, b.max
		p.Minimum = &min
		p.Maximum = &max
	}
	return p
}

// CoerceValue converts a raw dashboard reading into the host-model value for
// the data type: int for whole-number types, float64 otherwise. The second
// return value is false for missing or non-numeric readings.
func CoerceValue(dataType string, raw interface{}) (interface{}, bool) {
	f, ok := toFloat(raw)
	if !ok {
		return nil, false
	}
	if integerDataTypes[dataType] {
		return int(f), true
	}
	return f, true
}

// HealthIndexName maps the raw health index reading onto its enumerated
// name. Missing, non-numeric or out-of-range readings map to the empty
// string rather than failing.
func HealthIndexName(raw interface{}) string {
	f, ok := toFloat(raw)
	if !ok {
		return ""
	}
	idx := int(f)
	if idx < 0 || idx >= len(healthIndexNames) {
		return ""
	}
	return healthIndexNames[idx]
}

func toFloat(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
