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
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstOrderTimeConstant(t *testing.T) {
	p := New(Params{Gain: 2, Tau: 10})
	// one time constant reaches ~63% of the final value
	p.Step(50, 10)
	assert.InDelta(t, 100*(1-math.Exp(-1)), p.Value(), 2.0)

	for range 100 {
		p.Step(50, 1)
	}
	assert.InDelta(t, p.SteadyState(50), p.Value(), 0.1)
	assert.InDelta(t, 110, p.Elapsed(), 1e-9)
}

func TestAmbientAndInitial(t *testing.T) {
	p := New(Params{Tau: 1, Ambient: 20, Initial: 80})
	assert.Equal(t, 80.0, p.Value())
	p.Step(0, 30)
	assert.InDelta(t, 20, p.Value(), 0.01)

	p.Reset()
	assert.Equal(t, 80.0, p.Value())
	assert.Zero(t, p.Elapsed())
}

func TestDeadTime(t *testing.T) {
	p := New(Params{Tau: 1, DeadTime: 2})
	p.Step(10, 1.9)
	assert.Zero(t, p.Value(), "input must not act before the dead time")
	p.Step(10, 5)
	assert.Greater(t, p.Value(), 9.0)
}

func TestNonPositiveStepIgnored(t *testing.T) {
	p := New(Params{})
	p.Step(10, 0)
	p.Step(10, -1)
	assert.Zero(t, p.Value())
	assert.Zero(t, p.Elapsed())
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Params{Tau: 1}.Validate())
	assert.Error(t, Params{Tau: -1}.Validate())
	assert.Error(t, Params{Tau: 1, DeadTime: -1}.Validate())
	assert.Error(t, Params{Tau: 1, Noise: -1}.Validate())
}

func TestResponseFigures(t *testing.T) {
	r := NewResponse(0, 100)
	for i, y := range []float64{0, 50, 90, 110, 104, 101, 100, 100} {
		r.Observe(float64(i), y)
	}
	assert.InDelta(t, 10, r.Overshoot(), 1e-9)
	assert.Equal(t, 5.0, r.SettlingTime())
	assert.Zero(t, r.SteadyStateError())
	// |e| = 100, 50, 10, 10, 4, 1, 0 over unit intervals
	assert.InDelta(t, 175, r.IAE(), 1e-9)
}

func TestResponseFalling(t *testing.T) {
	r := NewResponse(100, 0)
	for i, y := range []float64{100, 40, -5, 0} {
		r.Observe(float64(i), y)
	}
	assert.InDelta(t, 5, r.Overshoot(), 1e-9)
	assert.Equal(t, 3.0, r.SettlingTime())
}

func TestResponseNeverSettles(t *testing.T) {
	r := NewResponse(0, 10)
	r.Observe(0, 0)
	r.Observe(1, 5)
	assert.Equal(t, -1.0, r.SettlingTime())
	assert.Equal(t, 5.0, r.SteadyStateError())
}

func TestClosedLoopConvergesWithIntegral(t *testing.T) {
	tr, err := ClosedLoop(LoopParams{
		Kp: 2, Ki: 0.5, CycleMs: 100, Low: 0, High: 100,
		Setpoint: 50, Duration: 120 * time.Second,
		Plant: Params{Gain: 1, Tau: 5},
	})
	require.NoError(t, err)
	require.Len(t, tr.Input, 1200)
	assert.InDelta(t, 50, tr.Input[len(tr.Input)-1], 0.5)
	assert.InDelta(t, 0, tr.Response.SteadyStateError(), 0.5)
	assert.Positive(t, tr.Response.SettlingTime())
	for _, u := range tr.Output {
		assert.True(t, u >= 0 && u <= 100)
	}
}

func TestClosedLoopProportionalOffset(t *testing.T) {
	tr, err := ClosedLoop(LoopParams{
		Kp: 1, CycleMs: 100, Low: 0, High: 100,
		Setpoint: 50, Duration: 60 * time.Second,
		Plant: Params{Gain: 1, Tau: 2},
	})
	require.NoError(t, err)
	// P-only settles at y = kp*g/(1+kp*g) * sp
	assert.InDelta(t, 25, tr.Input[len(tr.Input)-1], 0.5)
}

func TestClosedLoopRejectsBadParams(t *testing.T) {
	_, err := ClosedLoop(LoopParams{CycleMs: 0, High: 1})
	assert.Error(t, err)
	_, err = ClosedLoop(LoopParams{CycleMs: 100, Low: 1, High: 1})
	assert.Error(t, err)
	_, err = ClosedLoop(LoopParams{CycleMs: 100, High: 1, Plant: Params{Tau: -1}})
	assert.Error(t, err)
}
