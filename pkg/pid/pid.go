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

// Package pid is a discrete PID controller driven by polling.
//
// A Controller is bound to caller owned input, setpoint and output values.
// Compute is meant to be called from a loop running faster than the cycle
// period; it performs at most one update per cycle and never blocks.
// Derivative is taken on the measurement, the integral is clamped to the
// output limits, and Start seeds the integral from the current output so
// that enabling the controller does not bump the actuator.
//
// A Controller does no locking. Callers sharing one between goroutines must
// serialize every call.
package pid

import "pidloop/pkg/logger"

const (
	DefaultKp      = 0.5
	DefaultCycleMs = 100
	DefaultLow     = 0
	DefaultHigh    = 255
)

type Controller[T Number] struct {
	io    Binding[T]
	clock Clock
	log   *logger.Logger

	// tunings as given to Tune, per second
	p, i, d float64
	// gains per cycle, signed by direction
	kp, ki, kd float64

	integral  float64
	prevInput T
	prevTime  uint32
	cycle     uint32 // ms

	low, high T
	mode      Mode
	dir       Direction
}

// New returns a stopped controller bound to b.
func New[T Number](b Binding[T], p, i, d float64, dir Direction) *Controller[T] {
	c := &Controller[T]{
		io:    b,
		clock: Millis,
		cycle: DefaultCycleMs,
		low:   DefaultLow,
		high:  DefaultHigh,
		mode:  Off,
		dir:   dir,
	}
	c.Tune(p, i, d)
	return c
}

// NewDefault is New with p=0.5, i=0, d=0 and Positive direction.
func NewDefault[T Number](b Binding[T]) *Controller[T] {
	return New(b, DefaultKp, 0, 0, Positive)
}

func (c *Controller[T]) WithClock(clock Clock) *Controller[T] {
	c.clock = clock
	return c
}

func (c *Controller[T]) WithLogger(log *logger.Logger) *Controller[T] {
	c.log = log
	return c
}

// Compute runs one control update if a full cycle has elapsed since the
// last one. It reports whether the output was updated.
func (c *Controller[T]) Compute() bool {
	if c.mode == Off {
		return false
	}
	now := c.clock()
	// unsigned subtraction survives clock wraparound
	if now-c.prevTime < c.cycle {
		return false
	}

	input := c.io.Input()
	err := float64(c.io.Setpoint()) - float64(input)

	c.integral = c.clamp(c.integral + c.ki*err)

	// derivative on measurement, no kick on setpoint changes
	inputChange := float64(input) - float64(c.prevInput)

	out := c.clamp(c.kp*err + c.integral - c.kd*inputChange)
	c.io.Apply(FromFloat[T](out))

	c.prevInput = input
	c.prevTime = now

	c.debug("err=%.3f, integral=%.3f, dInput=%.3f, out=%.3f", err, c.integral, inputChange, out)
	return true
}

// Tune sets the continuous gains: p per unit, i and d per second.
func (c *Controller[T]) Tune(p, i, d float64) {
	c.p, c.i, c.d = p, i, d

	cycleSec := float64(c.cycle) / 1000
	c.kp = p
	c.ki = i * cycleSec
	c.kd = d / cycleSec
	if c.dir == Negative {
		c.negate()
	}
}

// SetCycle changes the update period, rescaling the per-cycle integral and
// derivative gains so the continuous behaviour is unchanged. Zero is ignored.
func (c *Controller[T]) SetCycle(ms uint32) {
	if ms == 0 {
		c.debug("ignoring zero cycle period")
		return
	}
	ratio := float64(ms) / float64(c.cycle)
	c.ki *= ratio
	c.kd /= ratio
	c.cycle = ms
}

// SetLimits changes the output bounds. Calls with low >= high are ignored.
// While running, the integral and the current output are pulled into the
// new bounds immediately.
func (c *Controller[T]) SetLimits(low, high T) {
	if low >= high {
		c.debug("ignoring limits [%v, %v]", low, high)
		return
	}
	c.low, c.high = low, high

	if c.mode == On {
		c.integral = c.clamp(c.integral)
		out := c.io.Output()
		if clamped := FromFloat[T](c.clamp(float64(out))); clamped != out {
			c.io.Apply(clamped)
		}
	}
}

// SetDirection records dir, flipping the sign of the active gains when it
// differs from the current direction.
func (c *Controller[T]) SetDirection(dir Direction) {
	if dir != c.dir {
		c.negate()
	}
	c.dir = dir
}

// Start enables the controller and reinitializes it. No-op when running.
func (c *Controller[T]) Start() {
	if c.mode == On {
		return
	}
	c.mode = On
	c.Reinitialize()
}

// Stop disables the controller. All state is kept for a later Start.
func (c *Controller[T]) Stop() {
	c.mode = Off
}

// Reinitialize seeds the derivative from the current input and the integral
// from the current output, so the next update continues from where the
// output is now.
func (c *Controller[T]) Reinitialize() {
	c.prevInput = c.io.Input()
	c.integral = c.clamp(float64(c.io.Output()))
}

func (c *Controller[T]) Enabled() bool        { return c.mode == On }
func (c *Controller[T]) Mode() Mode           { return c.mode }
func (c *Controller[T]) Direction() Direction { return c.dir }
func (c *Controller[T]) Cycle() uint32        { return c.cycle }
func (c *Controller[T]) Limits() (T, T)       { return c.low, c.high }
func (c *Controller[T]) Integral() float64    { return c.integral }

// Gains returns the per-cycle gains in use, signed by direction.
func (c *Controller[T]) Gains() (kp, ki, kd float64) {
	return c.kp, c.ki, c.kd
}

// Tunings returns the last values passed to Tune.
func (c *Controller[T]) Tunings() (p, i, d float64) {
	return c.p, c.i, c.d
}

func (c *Controller[T]) negate() {
	c.kp, c.ki, c.kd = -c.kp, -c.ki, -c.kd
}

func (c *Controller[T]) clamp(v float64) float64 {
	if hi := float64(c.high); v > hi {
		return hi
	}
	if lo := float64(c.low); v < lo {
		return lo
	}
	return v
}

func (c *Controller[T]) debug(fmtstr string, v ...any) {
	if c.log != nil {
		c.log.Debug(fmtstr, v...)
	}
}
