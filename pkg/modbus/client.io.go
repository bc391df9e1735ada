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
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ReadFloat reads a named register and returns its engineering value.
func (c *Client) ReadFloat(ctx context.Context, name string) (float64, error) {
	reg, ok := c.config.Registers[name]
	if !ok {
		return 0, fmt.Errorf("register %q not configured", name)
	}

	n := registerCount(reg.DataType)
	raw, err := c.ReadRegisters(ctx, reg.Type, reg.Address, n)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", name, err)
	}
	v, err := Decode(reg, raw)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", name, err)
	}
	if err := checkPlausible(reg, v); err != nil {
		return 0, fmt.Errorf("read %s: %w", name, err)
	}
	c.log.Debug("ReadFloat %s = %v", name, v)
	return v, nil
}

// WriteFloat converts an engineering value to the register's raw format
// and writes it.
func (c *Client) WriteFloat(ctx context.Context, name string, value float64) error {
	reg, ok := c.config.Registers[name]
	if !ok {
		return fmt.Errorf("register %q not configured", name)
	}
	if !reg.Writable {
		return fmt.Errorf("register %q is not writable", name)
	}

	raw, err := Encode(reg, value)
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	c.log.Debug("WriteFloat %s <- %v", name, value)
	if err := c.WriteRegisters(ctx, reg.Address, raw); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Decode converts big-endian register data to an engineering value.
func Decode(reg RegisterDef, raw []byte) (float64, error) {
	n := registerCount(reg.DataType)
	if n == 0 {
		return 0, fmt.Errorf("unsupported data type %q", reg.DataType)
	}
	if len(raw) < int(n)*2 {
		return 0, fmt.Errorf("short response: %d bytes for %s", len(raw), reg.DataType)
	}

	var v float64
	switch reg.DataType {
	case "uint16":
		v = float64(binary.BigEndian.Uint16(raw))
	case "int16":
		v = float64(int16(binary.BigEndian.Uint16(raw)))
	case "uint32":
		v = float64(binary.BigEndian.Uint32(raw))
	case "int32":
		v = float64(int32(binary.BigEndian.Uint32(raw)))
	case "float32":
		v = float64(math.Float32frombits(binary.BigEndian.Uint32(raw)))
	case "bool":
		if binary.BigEndian.Uint16(raw) != 0 {
			return 1, nil
		}
		return 0, nil
	}

	if reg.Scale != 0 {
		v = v*reg.Scale + reg.Offset
	}
	return v, nil
}

// Encode converts an engineering value to big-endian register data,
// rejecting values the register cannot hold.
func Encode(reg RegisterDef, value float64) ([]byte, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, fmt.Errorf("value %v is not finite", value)
	}
	if reg.Scale != 0 {
		value = (value - reg.Offset) / reg.Scale
	}

	switch reg.DataType {
	case "uint16":
		r := math.Round(value)
		if r < 0 || r > math.MaxUint16 {
			return nil, fmt.Errorf("value %v out of uint16 range", value)
		}
		return binary.BigEndian.AppendUint16(nil, uint16(r)), nil

	case "int16":
		r := math.Round(value)
		if r < math.MinInt16 || r > math.MaxInt16 {
			return nil, fmt.Errorf("value %v out of int16 range", value)
		}
		return binary.BigEndian.AppendUint16(nil, uint16(int16(r))), nil

	case "uint32":
		r := math.Round(value)
		if r < 0 || r > math.MaxUint32 {
			return nil, fmt.Errorf("value %v out of uint32 range", value)
		}
		return binary.BigEndian.AppendUint32(nil, uint32(r)), nil

	case "int32":
		r := math.Round(value)
		if r < math.MinInt32 || r > math.MaxInt32 {
			return nil, fmt.Errorf("value %v out of int32 range", value)
		}
		return binary.BigEndian.AppendUint32(nil, uint32(int32(r))), nil

	case "float32":
		if math.Abs(value) > math.MaxFloat32 {
			return nil, fmt.Errorf("value %v out of float32 range", value)
		}
		return binary.BigEndian.AppendUint32(nil, math.Float32bits(float32(value))), nil

	case "bool":
		if value != 0 {
			return binary.BigEndian.AppendUint16(nil, math.MaxUint16), nil
		}
		return binary.BigEndian.AppendUint16(nil, 0), nil
	}
	return nil, fmt.Errorf("unsupported data type %q", reg.DataType)
}

// ErrImplausible marks a value outside the register's valid range.
var ErrImplausible = errors.New("implausible value")

func checkPlausible(reg RegisterDef, v float64) error {
	if reg.ValidMin != nil && v < *reg.ValidMin {
		return fmt.Errorf("%w: %v below %v", ErrImplausible, v, *reg.ValidMin)
	}
	if reg.ValidMax != nil && v > *reg.ValidMax {
		return fmt.Errorf("%w: %v above %v", ErrImplausible, v, *reg.ValidMax)
	}
	return nil
}

func registerCount(dataType string) uint16 {
	switch dataType {
	case "uint16", "int16", "bool":
		return 1
	case "uint32", "int32", "float32":
		return 2
	}
	return 0
}
