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

package modbus

import (
	"fmt"
)

type Config struct {
	Modbus    ModbusConfig           `yaml:"connection"`
	Registers map[string]RegisterDef `yaml:"registers"`
}

type ModbusConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	SlaveID byte   `yaml:"slave_id"`
	Timeout int    `yaml:"timeout"` // seconds
}

type RegisterDef struct {
	Address     uint16  `yaml:"address"`
	Type        string  `yaml:"type"`      // "holding" (default) or "input"
	DataType    string  `yaml:"data_type"` // "uint16", "int16", "uint32", "int32", "float32", "bool"
	Scale       float64 `yaml:"scale"`     // engineering = raw*scale + offset, when scale != 0
	Offset      float64 `yaml:"offset"`
	Description string  `yaml:"description"`
	Writable    bool    `yaml:"writable"`

	// plausible engineering range; reads outside it are sensor faults
	ValidMin *float64 `yaml:"valid_min"`
	ValidMax *float64 `yaml:"valid_max"`
}

// ApplyDefaults fills connection defaults.
func (c *Config) ApplyDefaults() {
	if c.Modbus.Port == 0 {
		c.Modbus.Port = 502
	}
	if c.Modbus.Timeout == 0 {
		c.Modbus.Timeout = 2
	}
	for name, reg := range c.Registers {
		if reg.Type == "" {
			reg.Type = "holding"
		}
		if reg.DataType == "" {
			reg.DataType = "uint16"
		}
		c.Registers[name] = reg
	}
}

// Validate checks the register map for unsupported kinds.
func (c *Config) Validate() error {
	if c.Modbus.Host == "" {
		return fmt.Errorf("modbus: connection host is required")
	}
	for name, reg := range c.Registers {
		if reg.Type != "holding" && reg.Type != "input" {
			return fmt.Errorf("modbus: register %q: unsupported type %q", name, reg.Type)
		}
		if registerCount(reg.DataType) == 0 {
			return fmt.Errorf("modbus: register %q: unsupported data type %q", name, reg.DataType)
		}
		if reg.ValidMin != nil && reg.ValidMax != nil && *reg.ValidMin >= *reg.ValidMax {
			return fmt.Errorf("modbus: register %q: valid_min must be below valid_max", name)
		}
		if reg.Writable && reg.Type == "input" {
			return fmt.Errorf("modbus: register %q: input registers are read-only", name)
		}
	}
	return nil
}
