// Copyright (C) 2025 Josh Simonot
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
http_addr: ":9090"
data_dir: /tmp/pidloop
modbus:
  connection:
    host: 192.168.1.50
  registers:
    oven_temp:
      address: 100
      data_type: int16
      scale: 0.1
    heater:
      address: 200
      writable: true
loops:
  - name: oven
    type: uint16
    kp: 2
    ki: 0.5
    output_high: 1000
    backend: modbus
    input_register: oven_temp
    output_register: heater
    schedule:
      - at: "06:30"
        setpoint: 180
  - name: tank
    direction: negative
    setpoint: 40
    plant:
      tau_seconds: 30
      ambient: 15
`

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, ":9090", c.HTTPAddr)
	assert.Equal(t, 60, c.DataLogger.IntervalSeconds)
	assert.Equal(t, 502, c.Modbus.Modbus.Port)
	require.Len(t, c.Loops, 2)

	oven := c.Loops[0]
	assert.Equal(t, uint32(100), oven.CycleMs)
	assert.Equal(t, 25, oven.PollMs)
	assert.Equal(t, 0.0, oven.OutputLow)
	assert.Equal(t, 1000.0, oven.OutputHigh)
	assert.Equal(t, "positive", oven.Direction)
	assert.Len(t, oven.Schedule, 1)

	tank := c.Loops[1]
	assert.Equal(t, "float64", tank.Type)
	assert.Equal(t, "sim", tank.Backend)
	assert.Equal(t, 0.5, tank.Kp)
	assert.Equal(t, 255.0, tank.OutputHigh)
	assert.Equal(t, 30.0, tank.Plant.Tau)
	assert.Equal(t, 1.0, tank.Plant.Gain)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad name", "loops: [{name: 'a b'}]"},
		{"duplicate", "loops: [{name: a}, {name: a}]"},
		{"bad type", "loops: [{name: a, type: int8}]"},
		{"negative poll", "loops: [{name: a, poll_ms: -5}]"},
		{"negative gain", "loops: [{name: a, kp: -1}]"},
		{"inverted limits", "loops: [{name: a, output_low: 10, output_high: 5}]"},
		{"limits overflow type", "loops: [{name: a, type: uint8, output_high: 300}]"},
		{"unsigned negative low", "loops: [{name: a, type: uint16, output_low: -5, output_high: 5}]"},
		{"direction", "loops: [{name: a, direction: sideways}]"},
		{"schedule", "loops: [{name: a, schedule: [{at: '25:99'}]}]"},
		{"backend", "loops: [{name: a, backend: serial}]"},
		{"modbus missing", "loops: [{name: a, backend: modbus}]"},
		{"plant tau", "loops: [{name: a, plant: {tau_seconds: -2}}]"},
		{"register missing", `
modbus: {connection: {host: h}, registers: {pv: {address: 1}}}
loops: [{name: a, backend: modbus, input_register: pv, output_register: mv}]`},
		{"output read-only", `
modbus: {connection: {host: h}, registers: {pv: {address: 1}, mv: {address: 2}}}
loops: [{name: a, backend: modbus, input_register: pv, output_register: mv}]`},
		{"schedule and setpoint register", `
modbus: {connection: {host: h}, registers: {pv: {address: 1}, mv: {address: 2, writable: true}, sp: {address: 3}}}
loops: [{name: a, backend: modbus, input_register: pv, output_register: mv, setpoint_register: sp, schedule: [{at: '07:00'}]}]`},
		{"not yaml", "loops: ["},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadAndPath(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "pidloop.yaml")
	require.NoError(t, os.WriteFile(p, []byte(sample), 0o644))

	c, err := Load(p)
	require.NoError(t, err)
	assert.Len(t, c.Loops, 2)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	t.Setenv(EnvPath, p)
	assert.Equal(t, p, Path(""))
	assert.Equal(t, "x.yaml", Path("x.yaml"))
	t.Setenv(EnvPath, "")
	assert.Equal(t, DefaultPath, Path(""))
}
