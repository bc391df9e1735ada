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

package loop

import (
	"context"
	"sync"
	"time"

	"pidloop/internal/plant"
	"pidloop/pkg/modbus"
)

// Backend is where a loop reads its process value and sends its output.
type Backend interface {
	ReadInput(ctx context.Context) (float64, error)
	// ReadSetpoint reports ok=false when the setpoint is not owned by
	// the backend.
	ReadSetpoint(ctx context.Context) (v float64, ok bool, err error)
	ReadOutput(ctx context.Context) (float64, error)
	WriteOutput(ctx context.Context, v float64) error
}

// SimBackend runs a simulated plant in wall time. The last written output
// is held between writes.
type SimBackend struct {
	mu    sync.Mutex
	plant *plant.Plant
	out   float64
	last  time.Time
	now   func() time.Time
}

func NewSimBackend(p plant.Params) *SimBackend {
	return &SimBackend{plant: plant.New(p), now: time.Now}
}

// advance must be called with mu held.
func (s *SimBackend) advance() {
	now := s.now()
	if !s.last.IsZero() {
		s.plant.Step(s.out, now.Sub(s.last).Seconds())
	}
	s.last = now
}

func (s *SimBackend) ReadInput(context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	return s.plant.Value(), nil
}

func (s *SimBackend) ReadSetpoint(context.Context) (float64, bool, error) {
	return 0, false, nil
}

func (s *SimBackend) ReadOutput(context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out, nil
}

func (s *SimBackend) WriteOutput(_ context.Context, v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	s.out = v
	return nil
}

// ModbusBackend maps a loop onto named registers of a shared client.
type ModbusBackend struct {
	client *modbus.Client

	input, output, setpoint string
}

func NewModbusBackend(client *modbus.Client, input, output, setpoint string) *ModbusBackend {
	return &ModbusBackend{client: client, input: input, output: output, setpoint: setpoint}
}

func (m *ModbusBackend) ReadInput(ctx context.Context) (float64, error) {
	return m.client.ReadFloat(ctx, m.input)
}

func (m *ModbusBackend) ReadSetpoint(ctx context.Context) (float64, bool, error) {
	if m.setpoint == "" {
		return 0, false, nil
	}
	v, err := m.client.ReadFloat(ctx, m.setpoint)
	return v, err == nil, err
}

func (m *ModbusBackend) ReadOutput(ctx context.Context) (float64, error) {
	return m.client.ReadFloat(ctx, m.output)
}

func (m *ModbusBackend) WriteOutput(ctx context.Context, v float64) error {
	return m.client.WriteFloat(ctx, m.output, v)
}
