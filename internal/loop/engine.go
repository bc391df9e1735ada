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
	"fmt"
	"math"

	"pidloop/internal/config"
	"pidloop/pkg/logger"
	"pidloop/pkg/pid"
)

// engine hides the numeric type of a controller behind float64 values.
// Calls must be serialized by the owner.
type engine interface {
	setInput(v float64)
	setSetpoint(v float64)
	compute() bool
	start()
	stop()
	running() bool
	reinitialize()
	tune(p, i, d float64)
	setCycle(ms uint32)
	setLimits(low, high float64)
	setDirection(dir pid.Direction)
	seedOutput(v float64)

	// takeOutput returns the output and whether it changed since the last call.
	takeOutput() (float64, bool)
	fill(s *Status)
}

type runner[T pid.Number] struct {
	ctrl     *pid.Controller[T]
	min, max float64

	input, setpoint, output T
	dirty                   bool
}

func newRunner[T pid.Number](lc config.LoopConfig, clock pid.Clock, log *logger.Logger) *runner[T] {
	bounds, ok := config.Types[lc.Type]
	if !ok {
		bounds = [2]float64{-math.MaxFloat64, math.MaxFloat64}
	}
	r := &runner[T]{min: bounds[0], max: bounds[1]}

	dir, _ := pid.ParseDirection(lc.Direction)
	b := pid.Bind(&r.input, &r.setpoint, &r.output)
	b.Apply = func(v T) {
		r.output = v
		r.dirty = true
	}
	r.ctrl = pid.New(b, 0, 0, 0, dir).WithClock(clock).WithLogger(log)
	// cycle first so Tune scales against the configured period
	r.ctrl.SetCycle(lc.CycleMs)
	r.ctrl.Tune(lc.Kp, lc.Ki, lc.Kd)
	r.ctrl.SetLimits(r.conv(lc.OutputLow), r.conv(lc.OutputHigh))
	r.setpoint = r.conv(lc.Setpoint)
	return r
}

// conv clamps v into T's range before converting.
func (r *runner[T]) conv(v float64) T {
	return pid.FromFloat[T](math.Max(r.min, math.Min(r.max, v)))
}

func (r *runner[T]) setInput(v float64) { r.input = r.conv(v) }
func (r *runner[T]) setSetpoint(v float64) { r.setpoint = r.conv(v) }
func (r *runner[T]) compute() bool { return r.ctrl.Compute() }
func (r *runner[T]) start() { r.ctrl.Start() }
func (r *runner[T]) stop() { r.ctrl.Stop() }
func (r *runner[T]) running() bool { return r.ctrl.Enabled() }
func (r *runner[T]) reinitialize() { r.ctrl.Reinitialize() }
func (r *runner[T]) tune(p, i, d float64) { r.ctrl.Tune(p, i, d) }
func (r *runner[T]) setCycle(ms uint32) { r.ctrl.SetCycle(ms) }

func (r *runner[T]) setLimits(low, high float64) {
	r.ctrl.SetLimits(r.conv(low), r.conv(high))
}

func (r *runner[T]) setDirection(dir pid.Direction) { r.ctrl.SetDirection(dir) }

// seedOutput sets the output without marking it for a write; used to pick
// up the actuator's current value before a bump-less start.
func (r *runner[T]) seedOutput(v float64) { r.output = r.conv(v) }

func (r *runner[T]) takeOutput() (float64, bool) {
	d := r.dirty
	r.dirty = false
	return float64(r.output), d
}

func (r *runner[T]) fill(s *Status) {
	low, high := r.ctrl.Limits()
	s.Input = float64(r.input)
	s.Setpoint = float64(r.setpoint)
	s.Output = float64(r.output)
	s.Integral = r.ctrl.Integral()
	s.Mode = r.ctrl.Mode().String()
	s.Direction = r.ctrl.Direction().String()
	s.CycleMs = r.ctrl.Cycle()
	s.OutputLow, s.OutputHigh = float64(low), float64(high)
	s.Tunings[0], s.Tunings[1], s.Tunings[2] = r.ctrl.Tunings()
	s.Gains[0], s.Gains[1], s.Gains[2] = r.ctrl.Gains()
}

func newEngine(lc config.LoopConfig, clock pid.Clock, log *logger.Logger) (engine, error) {
	switch lc.Type {
	case "int":
		return newRunner[int](lc, clock, log), nil
	case "int16":
		return newRunner[int16](lc, clock, log), nil
	case "int32":
		return newRunner[int32](lc, clock, log), nil
	case "uint8":
		return newRunner[uint8](lc, clock, log), nil
	case "uint16":
		return newRunner[uint16](lc, clock, log), nil
	case "float32":
		return newRunner[float32](lc, clock, log), nil
	case "float64":
		return newRunner[float64](lc, clock, log), nil
	}
	return nil, fmt.Errorf("unsupported type %q", lc.Type)
}
