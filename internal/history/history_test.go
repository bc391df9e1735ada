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

package history

import (
	"context"
	"testing"
	"time"

	"pidloop/internal/events"
	"pidloop/pkg/eventbus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleAt(loop string, offset time.Duration, input float64) events.Sample {
	return events.Sample{Loop: loop, Time: t0.Add(offset), Input: input, Setpoint: 50, Output: input / 2}
}

func newService(t *testing.T, dir string) *Service {
	t.Helper()
	bus := eventbus.New()
	t.Cleanup(bus.Close)
	s := New(bus, []string{"oven"}, dir)
	s.now = func() time.Time { return t0.Add(time.Hour) }
	return s
}

func TestRecordDecimatesAndKeepsLatest(t *testing.T) {
	s := newService(t, "")
	s.Record(sampleAt("oven", 0, 10))
	s.Record(sampleAt("oven", time.Second, 11))
	s.Record(sampleAt("oven", 5*time.Second, 12))

	list := s.List("oven")
	require.Len(t, list, 2)
	assert.Equal(t, 10.0, list[0].Input)
	assert.Equal(t, 12.0, list[1].Input)
	assert.Equal(t, 12.0, s.Latest()["oven"].Input)

	s.Record(sampleAt("oven", 6*time.Second, 13))
	assert.Len(t, s.List("oven"), 2)
	assert.Equal(t, 13.0, s.Latest()["oven"].Input)
}

func TestRecordTrimsOldSamples(t *testing.T) {
	s := newService(t, "")
	s.now = func() time.Time { return t0.Add(25 * time.Hour) }

	s.Record(sampleAt("oven", 0, 1))
	s.Record(sampleAt("oven", 2*time.Hour, 2))
	list := s.List("oven")
	require.Len(t, list, 1)
	assert.Equal(t, 2.0, list[0].Input)
}

func TestMeanAndMedian(t *testing.T) {
	s := newService(t, "")
	for i, v := range []float64{10, 20, 60} {
		s.Record(sampleAt("oven", time.Duration(i)*time.Minute, v))
	}

	mean, err := s.Mean("oven", "input", 2*time.Hour)
	require.NoError(t, err)
	assert.InDelta(t, 30, mean, 1e-9)

	median, err := s.Median("oven", "output", 2*time.Hour)
	require.NoError(t, err)
	assert.InDelta(t, 10, median, 1e-9)

	_, err = s.Mean("oven", "input", time.Minute)
	assert.Error(t, err, "nothing in the last minute")
	_, err = s.Mean("oven", "voltage", time.Hour)
	assert.Error(t, err)
	_, err = s.Mean("tank", "input", time.Hour)
	assert.Error(t, err)
}

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := newService(t, dir)
	s.Record(sampleAt("oven", 0, 10))
	s.Record(sampleAt("oven", time.Minute, 20))
	require.NoError(t, s.save())

	restored := newService(t, dir)
	assert.Equal(t, s.List("oven"), restored.List("oven"))
	assert.Equal(t, 20.0, restored.Latest()["oven"].Input)
}

func TestRunRecordsPublishedSamples(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	dir := t.TempDir()
	s := New(bus, []string{"oven"}, dir)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		bus.Publish(events.LoopTopic("oven"), events.Sample{Loop: "oven", Time: time.Now(), Input: 42})
		return s.Latest()["oven"].Input == 42
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
	assert.FileExists(t, dir+"/"+snapshotFilename)
}
