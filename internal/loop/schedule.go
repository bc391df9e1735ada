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
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
)

// startSchedule registers a daily job per schedule entry. It returns nil
// when the loop has no schedule.
func (l *Loop) startSchedule() (*gocron.Scheduler, error) {
	if len(l.cfg.Schedule) == 0 {
		return nil, nil
	}

	s := gocron.NewScheduler(time.Local)
	for _, entry := range l.cfg.Schedule {
		sp := entry.Setpoint
		_, err := s.Every(1).Day().At(entry.At).Do(func() {
			if err := l.Apply(context.Background(), Command{Name: "setpoint", Args: []float64{sp}}); err != nil {
				l.log.Error("scheduled setpoint %v: %v", sp, err)
			}
		})
		if err != nil {
			s.Stop()
			return nil, fmt.Errorf("schedule %q: %w", entry.At, err)
		}
	}
	s.StartAsync()
	l.log.Info("%d scheduled setpoint(s)", len(l.cfg.Schedule))
	return s, nil
}
