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

// Package loop hosts configured PID controllers: it polls their backend,
// runs the controller, writes the output and publishes samples.
package loop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pidloop/internal/config"
	"pidloop/internal/events"
	"pidloop/pkg/eventbus"
	"pidloop/pkg/logger"
	"pidloop/pkg/pid"
)

// ioTimeout bounds the backend I/O of one tick or command.
const ioTimeout = 5 * time.Second

type Status struct {
	Name       string     `json:"name"`
	Type       string     `json:"type"`
	Backend    string     `json:"backend"`
	Mode       string     `json:"mode"`
	Direction  string     `json:"direction"`
	Input      float64    `json:"input"`
	Setpoint   float64    `json:"setpoint"`
	Output     float64    `json:"output"`
	Integral   float64    `json:"integral"`
	Tunings    [3]float64 `json:"tunings"`
	Gains      [3]float64 `json:"gains"`
	CycleMs    uint32     `json:"cycle_ms"`
	OutputLow  float64    `json:"output_low"`
	OutputHigh float64    `json:"output_high"`
	LastUpdate time.Time  `json:"last_update"`
	LastError  string     `json:"last_error,omitempty"`
}

type Loop struct {
	cfg     config.LoopConfig
	backend Backend
	bus     *eventbus.Bus
	log     *logger.Logger
	topic   eventbus.Topic

	clock      pid.Clock
	now        func() time.Time
	retryDelay time.Duration

	// op serializes whole ticks and commands including backend I/O;
	// mu guards the engine and status fields for readers.
	op         sync.Mutex
	mu         sync.Mutex
	eng        engine
	lastUpdate time.Time
	lastErr    string
}

func New(lc config.LoopConfig, backend Backend, bus *eventbus.Bus) (*Loop, error) {
	l := &Loop{
		cfg:        lc,
		backend:    backend,
		bus:        bus,
		log:        logger.New("Loop " + lc.Name),
		topic:      events.LoopTopic(lc.Name),
		clock:      pid.Millis,
		now:        time.Now,
		retryDelay: 500 * time.Millisecond,
	}
	eng, err := newEngine(lc, func() uint32 { return l.clock() }, l.log)
	if err != nil {
		return nil, fmt.Errorf("loop %s: %w", lc.Name, err)
	}
	l.eng = eng
	return l, nil
}

// WithClock replaces the controller clock and the wall clock used for
// timestamps.
func (l *Loop) WithClock(clock pid.Clock, now func() time.Time) *Loop {
	l.clock = clock
	l.now = now
	return l
}

func (l *Loop) Name() string { return l.cfg.Name }

func (l *Loop) Run(ctx context.Context) {
	l.log.Info("Running %s loop on %s backend, polling every %v", l.cfg.Type, l.cfg.Backend, l.cfg.PollInterval())

	sched, err := l.startSchedule()
	if err != nil {
		l.log.Error("setpoint schedule: %v", err)
	}
	if sched != nil {
		defer sched.Stop()
	}

	if l.cfg.Autostart {
		if err := l.Apply(ctx, Command{Name: "start"}); err != nil {
			l.log.Error("autostart: %v", err)
		}
	}

	ticker := time.NewTicker(l.cfg.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.log.Info("Stopped")
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	l.op.Lock()
	defer l.op.Unlock()

	ctx, cancel := context.WithTimeout(ctx, ioTimeout)
	defer cancel()

	in, err := l.backend.ReadInput(ctx)
	if err != nil {
		l.fail("read input: %v", err)
		return
	}
	sp, hasSP, err := l.backend.ReadSetpoint(ctx)
	if err != nil {
		l.fail("read setpoint: %v", err)
		return
	}

	l.mu.Lock()
	l.eng.setInput(in)
	if hasSP {
		l.eng.setSetpoint(sp)
	}
	updated := l.eng.compute()
	out, changed := l.eng.takeOutput()
	var sample events.Sample
	if updated {
		l.lastUpdate = l.now()
		sample = l.sampleLocked()
	}
	l.mu.Unlock()

	if changed {
		if err := l.write(ctx, out); err != nil {
			l.fail("%v", err)
			return
		}
	}
	if updated {
		l.bus.Publish(l.topic, sample)
	}
}

// write retries a failed output write a few times before giving up.
func (l *Loop) write(ctx context.Context, v float64) error {
	const maxRetries = 3

	for i := range maxRetries {
		err := l.backend.WriteOutput(ctx, v)
		if err == nil {
			l.mu.Lock()
			l.lastErr = ""
			l.mu.Unlock()
			return nil
		}
		l.log.Warn("write output attempt %d/%d: %v", i+1, maxRetries, err)
		if i == maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retryDelay):
		}
	}
	return fmt.Errorf("write output %v failed after %d attempts", v, maxRetries)
}

func (l *Loop) fail(fmtstr string, v ...any) {
	msg := fmt.Sprintf(fmtstr, v...)
	l.log.Warn("%s", msg)
	l.mu.Lock()
	l.lastErr = msg
	l.mu.Unlock()
}

func (l *Loop) sampleLocked() events.Sample {
	var s Status
	l.eng.fill(&s)
	return events.Sample{
		Loop:      l.cfg.Name,
		Time:      l.lastUpdate,
		Input:     s.Input,
		Setpoint:  s.Setpoint,
		Output:    s.Output,
		Integral:  s.Integral,
		Error:     s.Setpoint - s.Input,
		Mode:      s.Mode,
		Direction: s.Direction,
	}
}

func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Status{
		Name:       l.cfg.Name,
		Type:       l.cfg.Type,
		Backend:    l.cfg.Backend,
		LastUpdate: l.lastUpdate,
		LastError:  l.lastErr,
	}
	l.eng.fill(&s)
	return s
}
