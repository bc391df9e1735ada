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

package pid

import (
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/exp/constraints"
)

// Number is any value width the controller can regulate. Every member must
// hold the default limits [0, 255], which leaves out int8.
type Number interface {
	constraints.Unsigned | constraints.Float | ~int | ~int16 | ~int32 | ~int64
}

// Mode is the run state of a controller.
type Mode int

const (
	Off Mode = iota
	On
)

func (m Mode) String() string {
	if m == On {
		return "on"
	}
	return "off"
}

// Direction is the sign relationship between output and input.
// Positive means increasing the output increases the input.
type Direction int

const (
	Positive Direction = iota
	Negative
)

func (d Direction) String() string {
	if d == Negative {
		return "negative"
	}
	return "positive"
}

// ParseDirection accepts "positive"/"direct" and "negative"/"reverse".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "positive", "direct":
		return Positive, nil
	case "negative", "reverse":
		return Negative, nil
	}
	return Positive, fmt.Errorf("unknown direction %q", s)
}

// Binding connects a controller to values owned by the caller.
// Input and Setpoint are only read; Output is read on start and on limit
// changes, and Apply receives every new output.
type Binding[T Number] struct {
	Input    func() T
	Setpoint func() T
	Output   func() T
	Apply    func(T)
}

// Bind builds a Binding over plain variables.
func Bind[T Number](input, setpoint, output *T) Binding[T] {
	return Binding[T]{
		Input:    func() T { return *input },
		Setpoint: func() T { return *setpoint },
		Output:   func() T { return *output },
		Apply:    func(v T) { *output = v },
	}
}

// Clock returns monotonic milliseconds. It may wrap around.
type Clock func() uint32

var epoch = time.Now()

// Millis is the default clock: milliseconds since process start,
// wrapping every ~49.7 days.
func Millis() uint32 {
	return uint32(time.Since(epoch).Milliseconds())
}

// FromFloat converts v to T, rounding to nearest for integer types.
// The caller is responsible for v being within T's range.
func FromFloat[T Number](v float64) T {
	half := 0.5
	if T(half) == 0 {
		return T(math.Round(v))
	}
	return T(v)
}
