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

package plant

import (
	"fmt"
	"time"

	"pidloop/pkg/pid"
)

// LoopParams configure an offline closed-loop run.
type LoopParams struct {
	Kp, Ki, Kd float64
	CycleMs    uint32
	Low, High  float64
	Direction  pid.Direction
	Setpoint   float64
	Duration   time.Duration
	Plant      Params
}

// Trace is the sampled result of a closed-loop run, one entry per cycle.
type Trace struct {
	Time     []float64 // seconds
	Input    []float64
	Output   []float64
	Response *Response
}

// ClosedLoop runs a float64 controller against a simulated plant on a
// simulated clock. The controller is started at t=0 from a zero output.
func ClosedLoop(lp LoopParams) (Trace, error) {
	if lp.CycleMs == 0 {
		return Trace{}, fmt.Errorf("cycle must be > 0")
	}
	if lp.Low >= lp.High {
		return Trace{}, fmt.Errorf("low %v must be below high %v", lp.Low, lp.High)
	}
	lp.Plant.ApplyDefaults()
	if err := lp.Plant.Validate(); err != nil {
		return Trace{}, err
	}

	p := New(lp.Plant)
	var ms uint32
	var input, setpoint, output float64
	ctrl := pid.New(pid.Bind(&input, &setpoint, &output), 0, 0, 0, lp.Direction).
		WithClock(func() uint32 { return ms })
	ctrl.SetCycle(lp.CycleMs)
	ctrl.Tune(lp.Kp, lp.Ki, lp.Kd)
	ctrl.SetLimits(lp.Low, lp.High)

	input = p.Value()
	setpoint = lp.Setpoint
	ctrl.Start()

	steps := int(lp.Duration.Milliseconds() / int64(lp.CycleMs))
	dt := float64(lp.CycleMs) / 1000
	tr := Trace{Response: NewResponse(input, setpoint)}
	for i := 1; i <= steps; i++ {
		ms += lp.CycleMs
		ctrl.Compute()
		p.Step(output, dt)
		input = p.Value()

		t := float64(i) * dt
		tr.Time = append(tr.Time, t)
		tr.Input = append(tr.Input, input)
		tr.Output = append(tr.Output, output)
		tr.Response.Observe(t, input)
	}
	return tr, nil
}
