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
	"sync"

	"pidloop/internal/config"
	"pidloop/pkg/modbus"
)

// Set is the collection of loops a process hosts, in config order.
type Set struct {
	loops  []*Loop
	byName map[string]*Loop
}

// NewSet builds every configured loop. client may be nil when no loop uses
// the modbus backend.
func NewSet(cfg *config.Config, client *modbus.Client) (*Set, error) {
	s := &Set{byName: make(map[string]*Loop)}
	for _, lc := range cfg.Loops {
		var backend Backend
		switch lc.Backend {
		case "sim":
			backend = NewSimBackend(lc.Plant)
		case "modbus":
			if client == nil {
				return nil, fmt.Errorf("loop %s: modbus backend without a client", lc.Name)
			}
			backend = NewModbusBackend(client, lc.InputRegister, lc.OutputRegister, lc.SetpointRegister)
		default:
			return nil, fmt.Errorf("loop %s: unsupported backend %q", lc.Name, lc.Backend)
		}

		l, err := New(lc, backend, cfg.EventBus)
		if err != nil {
			return nil, err
		}
		s.Add(l)
	}
	return s, nil
}

func (s *Set) Add(l *Loop) {
	s.loops = append(s.loops, l)
	s.byName[l.Name()] = l
}

func (s *Set) Get(name string) (*Loop, bool) {
	l, ok := s.byName[name]
	return l, ok
}

func (s *Set) Names() []string {
	names := make([]string, len(s.loops))
	for i, l := range s.loops {
		names[i] = l.Name()
	}
	return names
}

func (s *Set) Statuses() []Status {
	out := make([]Status, len(s.loops))
	for i, l := range s.loops {
		out[i] = l.Status()
	}
	return out
}

// Run runs every loop until ctx is done.
func (s *Set) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, l := range s.loops {
		wg.Go(func() { l.Run(ctx) })
	}
	wg.Wait()
}

var ErrNoLoop = errors.New("no such loop")

// Apply routes cmd to the named loop.
func (s *Set) Apply(ctx context.Context, name string, cmd Command) error {
	l, ok := s.byName[name]
	if !ok {
		return fmt.Errorf("%w %q", ErrNoLoop, name)
	}
	return l.Apply(ctx, cmd)
}
