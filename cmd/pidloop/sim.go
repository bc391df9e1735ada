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

package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"pidloop/internal/plant"
	"pidloop/pkg/pid"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"
)

var (
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444466")).
			Padding(0, 2)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00ccff"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888899")).
			Width(20)

	valueStyle = lipgloss.NewStyle().
			Bold(true)
)

func newSimCmd() *cobra.Command {
	var lp plant.LoopParams
	var direction string
	var cycle int
	var width, height int

	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Plot the closed-loop step response against a simulated plant",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := pid.ParseDirection(direction)
			if err != nil {
				return err
			}
			if cycle <= 0 {
				return fmt.Errorf("cycle must be > 0, got %d", cycle)
			}
			lp.Direction = dir
			lp.CycleMs = uint32(cycle)

			tr, err := plant.ClosedLoop(lp)
			if err != nil {
				return err
			}
			return renderSim(cmd.OutOrStdout(), lp, tr, width, height)
		},
	}

	f := cmd.Flags()
	f.Float64Var(&lp.Kp, "kp", 2, "proportional gain")
	f.Float64Var(&lp.Ki, "ki", 0.5, "integral gain, per second")
	f.Float64Var(&lp.Kd, "kd", 0, "derivative gain, seconds")
	f.IntVar(&cycle, "cycle", pid.DefaultCycleMs, "controller cycle in ms")
	f.Float64Var(&lp.Low, "low", pid.DefaultLow, "output low limit")
	f.Float64Var(&lp.High, "high", pid.DefaultHigh, "output high limit")
	f.StringVar(&direction, "direction", "positive", "positive or negative")
	f.Float64Var(&lp.Setpoint, "setpoint", 50, "setpoint")
	f.DurationVar(&lp.Duration, "time", 60*time.Second, "simulated duration")
	f.Float64Var(&lp.Plant.Gain, "gain", 1, "plant gain")
	f.Float64Var(&lp.Plant.Tau, "tau", 10, "plant time constant, seconds")
	f.Float64Var(&lp.Plant.DeadTime, "dead-time", 0, "plant dead time, seconds")
	f.Float64Var(&lp.Plant.Ambient, "ambient", 0, "plant value at zero output")
	f.Float64Var(&lp.Plant.Initial, "initial", 0, "plant starting value")
	f.IntVar(&width, "width", 80, "plot width")
	f.IntVar(&height, "height", 15, "plot height")
	return cmd
}

func renderSim(w io.Writer, lp plant.LoopParams, tr plant.Trace, width, height int) error {
	if len(tr.Input) == 0 {
		return fmt.Errorf("duration %v is shorter than one cycle", lp.Duration)
	}

	setpoint := make([]float64, len(tr.Input))
	for i := range setpoint {
		setpoint[i] = lp.Setpoint
	}
	graph := asciigraph.PlotMany([][]float64{tr.Input, setpoint, tr.Output},
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.SeriesColors(asciigraph.Green, asciigraph.Yellow, asciigraph.Blue),
		asciigraph.Caption("input (green), setpoint (yellow), output (blue)"),
	)
	fmt.Fprintln(w, graph)
	fmt.Fprintln(w)
	fmt.Fprintln(w, panelStyle.Render(summary(lp, tr)))
	return nil
}

func summary(lp plant.LoopParams, tr plant.Trace) string {
	r := tr.Response
	settling := "not settled"
	if t := r.SettlingTime(); t >= 0 {
		settling = fmt.Sprintf("%.2f s", t)
	}

	rows := [][2]string{
		{"tunings", fmt.Sprintf("p=%g i=%g d=%g (%s)", lp.Kp, lp.Ki, lp.Kd, lp.Direction)},
		{"cycle", fmt.Sprintf("%d ms", lp.CycleMs)},
		{"final input", fmt.Sprintf("%.3f", tr.Input[len(tr.Input)-1])},
		{"overshoot", fmt.Sprintf("%.2f %%", r.Overshoot())},
		{"settling time", settling},
		{"steady-state error", fmt.Sprintf("%.4f", r.SteadyStateError())},
		{"IAE", fmt.Sprintf("%.3f", r.IAE())},
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Step response"))
	for _, row := range rows {
		b.WriteString("\n")
		b.WriteString(labelStyle.Render(row[0]))
		b.WriteString(valueStyle.Render(row[1]))
	}
	return b.String()
}
