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
	"fmt"
	"math"
	"os"
	"regexp"
	"time"

	"pidloop/internal/plant"
	"pidloop/pkg/eventbus"
	"pidloop/pkg/modbus"
	"pidloop/pkg/pid"

	"gopkg.in/yaml.v3"
)

// EnvPath overrides DefaultPath when set.
const (
	EnvPath     = "PIDLOOP_CONFIG"
	DefaultPath = "pidloop.yaml"
)

var loopName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Types maps the numeric types a loop can run on to their value range.
var Types = map[string][2]float64{
	"int":     {math.MinInt32, math.MaxInt32},
	"int16":   {math.MinInt16, math.MaxInt16},
	"int32":   {math.MinInt32, math.MaxInt32},
	"uint8":   {0, math.MaxUint8},
	"uint16":  {0, math.MaxUint16},
	"float32": {-math.MaxFloat32, math.MaxFloat32},
	"float64": {-math.MaxFloat64, math.MaxFloat64},
}

type ScheduleEntry struct {
	At       string  `yaml:"at"` // "HH:MM", local time
	Setpoint float64 `yaml:"setpoint"`
}

type LoopConfig struct {
	Name       string  `yaml:"name"`
	Type       string  `yaml:"type"`
	Kp         float64 `yaml:"kp"`
	Ki         float64 `yaml:"ki"`
	Kd         float64 `yaml:"kd"`
	CycleMs    uint32  `yaml:"cycle_ms"`
	PollMs     int     `yaml:"poll_ms"`
	OutputLow  float64 `yaml:"output_low"`
	OutputHigh float64 `yaml:"output_high"`
	Direction  string  `yaml:"direction"`
	Setpoint   float64 `yaml:"setpoint"`
	Autostart  bool    `yaml:"autostart"`

	// "sim" or "modbus"
	Backend          string       `yaml:"backend"`
	InputRegister    string       `yaml:"input_register"`
	OutputRegister   string       `yaml:"output_register"`
	SetpointRegister string       `yaml:"setpoint_register"`
	Plant            plant.Params `yaml:"plant"`

	Schedule []ScheduleEntry `yaml:"schedule"`
}

// PollInterval is how often the host offers the controller a tick.
func (l LoopConfig) PollInterval() time.Duration {
	return time.Duration(l.PollMs) * time.Millisecond
}

type DataLoggerConfig struct {
	EmonCMSAddr     string `yaml:"emoncms_addr"`
	EmonCMSApiKey   string `yaml:"emoncms_apikey"`
	IntervalSeconds int    `yaml:"interval_seconds"`
}

type Config struct {
	HTTPAddr   string           `yaml:"http_addr"`
	DataDir    string           `yaml:"data_dir"`
	LogFile    string           `yaml:"log_file"`
	Modbus     *modbus.Config   `yaml:"modbus"`
	Loops      []LoopConfig     `yaml:"loops"`
	DataLogger DataLoggerConfig `yaml:"datalogger"`

	// not loaded from file, but added here to
	// pass to all services alongside config
	EventBus *eventbus.Bus `yaml:"-"`
}

// Path resolves the config file location from the flag value and env.
func Path(flag string) string {
	if flag != "" {
		return flag
	}
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return DefaultPath
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) ApplyDefaults() {
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.DataLogger.IntervalSeconds == 0 {
		c.DataLogger.IntervalSeconds = 60
	}
	if c.Modbus != nil {
		c.Modbus.ApplyDefaults()
	}
	for i := range c.Loops {
		l := &c.Loops[i]
		if l.Type == "" {
			l.Type = "float64"
		}
		if l.Backend == "" {
			l.Backend = "sim"
		}
		if l.Kp == 0 && l.Ki == 0 && l.Kd == 0 {
			l.Kp = pid.DefaultKp
		}
		if l.CycleMs == 0 {
			l.CycleMs = pid.DefaultCycleMs
		}
		if l.PollMs == 0 {
			l.PollMs = int(l.CycleMs) / 4
			if l.PollMs < 10 {
				l.PollMs = 10
			}
		}
		if l.OutputLow == 0 && l.OutputHigh == 0 {
			l.OutputLow, l.OutputHigh = pid.DefaultLow, pid.DefaultHigh
		}
		if l.Direction == "" {
			l.Direction = pid.Positive.String()
		}
		if l.Backend == "sim" {
			l.Plant.ApplyDefaults()
		}
	}
}

func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for _, l := range c.Loops {
		if !loopName.MatchString(l.Name) {
			return fmt.Errorf("loop %q: name must match %s", l.Name, loopName)
		}
		if seen[l.Name] {
			return fmt.Errorf("loop %q: duplicate name", l.Name)
		}
		seen[l.Name] = true

		if err := c.validateLoop(l); err != nil {
			return fmt.Errorf("loop %q: %w", l.Name, err)
		}
	}
	if c.Modbus != nil {
		if err := c.Modbus.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateLoop(l LoopConfig) error {
	bounds, ok := Types[l.Type]
	if !ok {
		return fmt.Errorf("unsupported type %q", l.Type)
	}
	if l.Kp < 0 || l.Ki < 0 || l.Kd < 0 {
		return fmt.Errorf("gains must be non-negative")
	}
	if l.PollMs <= 0 {
		return fmt.Errorf("poll_ms must be > 0, got %d", l.PollMs)
	}
	if l.OutputLow >= l.OutputHigh {
		return fmt.Errorf("output_low %v must be below output_high %v", l.OutputLow, l.OutputHigh)
	}
	if l.OutputLow < bounds[0] || l.OutputHigh > bounds[1] {
		return fmt.Errorf("output limits [%v, %v] do not fit %s", l.OutputLow, l.OutputHigh, l.Type)
	}
	if l.Setpoint < bounds[0] || l.Setpoint > bounds[1] {
		return fmt.Errorf("setpoint %v does not fit %s", l.Setpoint, l.Type)
	}
	if _, err := pid.ParseDirection(l.Direction); err != nil {
		return err
	}
	if len(l.Schedule) > 0 && l.SetpointRegister != "" {
		return fmt.Errorf("schedule conflicts with setpoint_register %q", l.SetpointRegister)
	}
	for _, s := range l.Schedule {
		if _, err := time.Parse("15:04", s.At); err != nil {
			return fmt.Errorf("schedule time %q: want HH:MM", s.At)
		}
	}

	switch l.Backend {
	case "sim":
		return l.Plant.Validate()
	case "modbus":
		if c.Modbus == nil {
			return fmt.Errorf("modbus backend without a modbus section")
		}
		for _, name := range []string{l.InputRegister, l.OutputRegister} {
			if _, ok := c.Modbus.Registers[name]; !ok {
				return fmt.Errorf("register %q not in modbus.registers", name)
			}
		}
		if !c.Modbus.Registers[l.OutputRegister].Writable {
			return fmt.Errorf("output register %q is not writable", l.OutputRegister)
		}
		if l.SetpointRegister != "" {
			if _, ok := c.Modbus.Registers[l.SetpointRegister]; !ok {
				return fmt.Errorf("register %q not in modbus.registers", l.SetpointRegister)
			}
		}
		return nil
	}
	return fmt.Errorf("unsupported backend %q", l.Backend)
}
