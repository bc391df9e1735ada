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

// Package plant simulates a first-order process with optional dead time,
// enough to close a loop around a controller without hardware.
package plant

import (
	"fmt"
	"math"
)

// Params describe tau*dy/dt = gain*u + ambient - y.
type Params struct {
	Gain     float64 `yaml:"gain"`
	Tau      float64 `yaml:"tau_seconds"`
	DeadTime float64 `yaml:"dead_time_seconds"`
	Ambient  float64 `yaml:"ambient"`
	Initial  float64 `yaml:"initial"`
	// Noise is the peak amplitude of a deterministic ripple added to the
	// reading, not to the state.
	Noise float64 `yaml:"noise"`
}

// maxSubstep bounds the Euler step relative to tau.
const maxSubstep = 0.05

func (p *Params) ApplyDefaults() {
	if p.Gain == 0 {
		p.Gain = 1
	}
	if p.Tau == 0 {
		p.Tau = 10
	}
}

func (p Params) Validate() error {
	if p.Tau <= 0 {
		return fmt.Errorf("plant: tau_seconds must be > 0, got %v", p.Tau)
	}
	if p.DeadTime < 0 {
		return fmt.Errorf("plant: dead_time_seconds must be >= 0, got %v", p.DeadTime)
	}
	if p.Noise < 0 {
		return fmt.Errorf("plant: noise must be >= 0, got %v", p.Noise)
	}
	return nil
}

type delayed struct {
	at float64
	u  float64
}

// Plant is not safe for concurrent use.
type Plant struct {
	params Params
	y      float64
	t      float64
	queue  []delayed
	held   float64
}

func New(p Params) *Plant {
	p.ApplyDefaults()
	return &Plant{params: p, y: p.Initial}
}

// Step applies input u for dt seconds.
func (p *Plant) Step(u, dt float64) {
	if dt <= 0 {
		return
	}

	// inputs become effective DeadTime seconds after they are applied
	p.queue = append(p.queue, delayed{at: p.t + p.params.DeadTime, u: u})

	end := p.t + dt
	h := p.params.Tau * maxSubstep
	for p.t < end {
		step := math.Min(h, end-p.t)
		for len(p.queue) > 0 && p.queue[0].at <= p.t {
			p.held = p.queue[0].u
			p.queue = p.queue[1:]
		}
		dy := (p.params.Gain*p.held + p.params.Ambient - p.y) / p.params.Tau
		p.y += step * dy
		p.t += step
	}
}

// Value is the current measured output.
func (p *Plant) Value() float64 {
	if p.params.Noise == 0 {
		return p.y
	}
	return p.y + p.params.Noise*math.Sin(p.t*7.3)
}

// Elapsed is the simulated time in seconds.
func (p *Plant) Elapsed() float64 { return p.t }

// SteadyState is the value the plant settles to under constant input u.
func (p *Plant) SteadyState(u float64) float64 {
	return p.params.Gain*u + p.params.Ambient
}

func (p *Plant) Reset() {
	p.y = p.params.Initial
	p.t = 0
	p.queue = p.queue[:0]
	p.held = 0
}
