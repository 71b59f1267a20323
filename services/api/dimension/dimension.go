// Package dimension defines the sensor channel and hardware identifiers
// shared between ingestion, rollup and query code.
package dimension

// Sensor channel identifiers. Values are wire-level and must not be renumbered.
const (
	PM01             = 1
	PM10             = 2
	PM25             = 3
	PM40             = 4
	PM100            = 5
	Humidity         = 6
	Temperature      = 7
	VOCIndex         = 8
	NOxIndex         = 9
	Pressure         = 10
	CO2              = 11
	O3               = 12
	AQI              = 13
	GasResistance    = 14
	TVOC             = 15
	NO2              = 16
	SGP40RawGas      = 17
	SGP40AdjustedGas = 18
)

var names = map[int]string{
	PM01:             "PM0.1",
	PM10:             "PM1.0",
	PM25:             "PM2.5",
	PM40:             "PM4.0",
	PM100:            "PM10.0",
	Humidity:         "Humidity",
	Temperature:      "Temperature",
	VOCIndex:         "VOC Index",
	NOxIndex:         "NOx Index",
	Pressure:         "Pressure",
	CO2:              "CO2",
	O3:               "Ozone (O3)",
	AQI:              "Air Quality Index (AQI)",
	GasResistance:    "Gas Resistance",
	TVOC:             "Total VOC",
	NO2:              "Nitrogen Dioxide (NO2)",
	SGP40RawGas:      "SGP40 Raw Gas",
	SGP40AdjustedGas: "SGP40 Adjusted Gas",
}

var units = map[int]string{
	PM01:             "µg/m³",
	PM10:             "µg/m³",
	PM25:             "µg/m³",
	PM40:             "µg/m³",
	PM100:            "µg/m³",
	Humidity:         "%",
	Temperature:      "°C",
	VOCIndex:         "Index",
	NOxIndex:         "Index",
	Pressure:         "hPa",
	CO2:              "ppm",
	O3:               "ppb",
	AQI:              "Index",
	GasResistance:    "Ω",
	TVOC:             "ppb",
	NO2:              "ppb",
	SGP40RawGas:      "Ω",
	SGP40AdjustedGas: "Ω",
}

// Name returns the display name for a dimension id, or "Unknown".
func Name(id int) string {
	if n, ok := names[id]; ok {
		return n
	}
	return "Unknown"
}

// Unit returns the measurement unit for a dimension id, or "Unknown".
func Unit(id int) string {
	if u, ok := units[id]; ok {
		return u
	}
	return "Unknown"
}

// Known reports whether the id maps to a defined channel.
func Known(id int) bool {
	_, ok := names[id]
	return ok
}

// Sensor hardware model identifiers.
const (
	SensorSEN5X   = 1
	SensorBMP280  = 2
	SensorBME280  = 3
	SensorBME680  = 4
	SensorSCD4X   = 5
	SensorAHT20   = 6
	SensorSHT30   = 7
	SensorSHT31   = 8
	SensorAGS02MA = 9
	SensorSHT4X   = 10
	SensorSGP40   = 11
)

var sensorNames = map[int]string{
	SensorSEN5X:   "SEN5X",
	SensorBMP280:  "BMP280",
	SensorBME280:  "BME280",
	SensorBME680:  "BME680",
	SensorSCD4X:   "SCD4X",
	SensorAHT20:   "AHT20",
	SensorSHT30:   "SHT30",
	SensorSHT31:   "SHT31",
	SensorAGS02MA: "AGS02MA",
	SensorSHT4X:   "SHT4X",
	SensorSGP40:   "SGP40",
}

// SensorName returns the hardware model name for a sensor model id.
func SensorName(id int) string {
	if n, ok := sensorNames[id]; ok {
		return n
	}
	return "Unknown Sensor"
}

// Station status levels reported by devices.
const (
	LevelInfo     = 1
	LevelWarning  = 2
	LevelCritical = 3
)
