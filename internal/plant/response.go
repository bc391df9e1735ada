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

import "math"

// Response accumulates step-response figures of a closed loop.
type Response struct {
	// Band is the settling tolerance as a fraction of the step size.
	Band float64

	start, target float64
	samples       int
	peak          float64
	iae           float64
	lastT         float64
	lastErr       float64
	settledAt     float64
}

func NewResponse(start, target float64) *Response {
	return &Response{Band: 0.02, start: start, target: target, peak: start, settledAt: -1}
}

// Observe records measurement y at time t seconds.
func (r *Response) Observe(t, y float64) {
	e := r.target - y
	if r.samples > 0 {
		r.iae += math.Abs(r.lastErr) * (t - r.lastT)
	}
	if r.rising() {
		r.peak = math.Max(r.peak, y)
	} else {
		r.peak = math.Min(r.peak, y)
	}

	tol := r.Band * math.Abs(r.target-r.start)
	if math.Abs(e) > tol {
		r.settledAt = -1
	} else if r.settledAt < 0 {
		r.settledAt = t
	}

	r.lastT, r.lastErr = t, e
	r.samples++
}

func (r *Response) rising() bool { return r.target >= r.start }

// Overshoot is the peak excursion past the target as a percentage of the
// step size.
func (r *Response) Overshoot() float64 {
	step := math.Abs(r.target - r.start)
	if step == 0 {
		return 0
	}
	over := r.peak - r.target
	if !r.rising() {
		over = r.target - r.peak
	}
	return math.Max(0, over) / step * 100
}

// SettlingTime is when the measurement entered the band for good, or -1.
func (r *Response) SettlingTime() float64 { return r.settledAt }

// SteadyStateError is the error at the last observation.
func (r *Response) SteadyStateError() float64 { return r.lastErr }

// IAE is the integral of absolute error.
func (r *Response) IAE() float64 { return r.iae }
