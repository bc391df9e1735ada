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
	"errors"
	"fmt"
	"math"

	"pidloop/internal/config"
	"pidloop/pkg/pid"
)

// Command is an operator request against a running loop.
type Command struct {
	Name  string    `json:"command"`
	Args  []float64 `json:"args,omitempty"`
	Value string    `json:"value,omitempty"`
}

// Commands lists the accepted command names.
var Commands = []string{"start", "stop", "reinitialize", "tune", "cycle", "limits", "direction", "setpoint"}

var ErrUnknownCommand = errors.New("unknown command")

func (c Command) want(n int) error {
	if len(c.Args) != n {
		return fmt.Errorf("%s: want %d args, got %d", c.Name, n, len(c.Args))
	}
	for _, a := range c.Args {
		if math.IsNaN(a) || math.IsInf(a, 0) {
			return fmt.Errorf("%s: args must be finite", c.Name)
		}
	}
	return nil
}

// Apply validates and executes cmd. Output changes it causes are written
// to the backend before it returns.
func (l *Loop) Apply(ctx context.Context, cmd Command) error {
	l.op.Lock()
	defer l.op.Unlock()

	ctx, cancel := context.WithTimeout(ctx, ioTimeout)
	defer cancel()

	if cmd.Name == "start" {
		return l.start(ctx)
	}

	if err := l.applyLocked(cmd); err != nil {
		return err
	}
	l.log.Info("command %s args=%v value=%q", cmd.Name, cmd.Args, cmd.Value)

	l.mu.Lock()
	out, changed := l.eng.takeOutput()
	l.mu.Unlock()
	if changed {
		return l.write(ctx, out)
	}
	return nil
}

// start picks up the actuator's current value and the current input so
// that enabling the controller does not step the output.
func (l *Loop) start(ctx context.Context) error {
	l.mu.Lock()
	on := l.eng.running()
	l.mu.Unlock()
	if on {
		return nil
	}

	in, err := l.backend.ReadInput(ctx)
	if err != nil {
		return fmt.Errorf("start: read input: %w", err)
	}
	out, err := l.backend.ReadOutput(ctx)
	if err != nil {
		return fmt.Errorf("start: read output: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.eng.setInput(in)
	l.eng.seedOutput(out)
	l.eng.start()
	l.log.Info("start (input %v, output %v)", in, out)
	return nil
}

func (l *Loop) applyLocked(cmd Command) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	bounds, ok := config.Types[l.cfg.Type]
	if !ok {
		bounds = [2]float64{-math.MaxFloat64, math.MaxFloat64}
	}
	inRange := func(v float64) bool { return v >= bounds[0] && v <= bounds[1] }

	switch cmd.Name {
	case "stop":
		l.eng.stop()

	case "reinitialize":
		l.eng.reinitialize()

	case "tune":
		if err := cmd.want(3); err != nil {
			return err
		}
		if cmd.Args[0] < 0 || cmd.Args[1] < 0 || cmd.Args[2] < 0 {
			return fmt.Errorf("tune: gains must be non-negative")
		}
		l.eng.tune(cmd.Args[0], cmd.Args[1], cmd.Args[2])

	case "cycle":
		if err := cmd.want(1); err != nil {
			return err
		}
		ms := cmd.Args[0]
		if ms < 1 || ms > math.MaxUint32 || ms != math.Trunc(ms) {
			return fmt.Errorf("cycle: want a positive whole number of ms, got %v", ms)
		}
		l.eng.setCycle(uint32(ms))

	case "limits":
		if err := cmd.want(2); err != nil {
			return err
		}
		low, high := cmd.Args[0], cmd.Args[1]
		if low >= high {
			return fmt.Errorf("limits: low %v must be below high %v", low, high)
		}
		if !inRange(low) || !inRange(high) {
			return fmt.Errorf("limits: [%v, %v] do not fit %s", low, high, l.cfg.Type)
		}
		l.eng.setLimits(low, high)

	case "direction":
		dir, err := pid.ParseDirection(cmd.Value)
		if err != nil || cmd.Value == "" {
			return fmt.Errorf("direction: want positive or negative, got %q", cmd.Value)
		}
		l.eng.setDirection(dir)

	case "setpoint":
		if l.cfg.SetpointRegister != "" {
			return fmt.Errorf("setpoint: owned by register %q", l.cfg.SetpointRegister)
		}
		if err := cmd.want(1); err != nil {
			return err
		}
		if !inRange(cmd.Args[0]) {
			return fmt.Errorf("setpoint: %v does not fit %s", cmd.Args[0], l.cfg.Type)
		}
		l.eng.setSetpoint(cmd.Args[0])

	default:
		return fmt.Errorf("%w %q", ErrUnknownCommand, cmd.Name)
	}
	return nil
}
