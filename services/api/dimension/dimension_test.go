package dimension

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNameAndUnit(t *testing.T) {
	assert.Equal(t, "PM2.5", Name(PM25))
	assert.Equal(t, "µg/m³", Unit(PM25))
	assert.Equal(t, "Temperature", Name(Temperature))
	assert.Equal(t, "°C", Unit(Temperature))

	assert.Equal(t, "Unknown", Name(99))
	assert.Equal(t, "Unknown", Unit(99))
}

func TestKnown(t *testing.T) {
	for id := PM01; id <= SGP40AdjustedGas; id++ {
		assert.True(t, Known(id), id)
	}
	assert.False(t, Known(0))
	assert.False(t, Known(19))
}

func TestSensorName(t *testing.T) {
	assert.Equal(t, "SEN5X", SensorName(SensorSEN5X))
	assert.Equal(t, "SGP40", SensorName(SensorSGP40))
	assert.Equal(t, "Unknown Sensor", SensorName(42))
}
