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
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"pidloop/internal/events"
	"pidloop/pkg/eventbus"
	"pidloop/pkg/logger"
)

const snapshotFilename = "loop_history.json.gz"

const (
	window     = 24 * time.Hour
	resolution = 5 * time.Second
	maxPerLoop = int(window / resolution)
	saveEvery  = 15 * time.Minute
)

type Service struct {
	bus          *eventbus.Bus
	loops        []string
	snapshotFile string
	log          *logger.Logger
	now          func() time.Time

	mu      sync.RWMutex
	history map[string][]events.Sample
	latest  map[string]events.Sample
}

// New restores any snapshot found in dataDir. An empty dataDir disables
// persistence.
func New(bus *eventbus.Bus, loops []string, dataDir string) *Service {
	s := &Service{
		bus:     bus,
		loops:   loops,
		log:     logger.New("History"),
		now:     time.Now,
		history: make(map[string][]events.Sample),
		latest:  make(map[string]events.Sample),
	}
	if dataDir != "" {
		s.snapshotFile = filepath.Join(dataDir, snapshotFilename)
		s.loadFromDisk()
	}
	return s
}

func (s *Service) Run(ctx context.Context) {
	s.log.Info("Running...")

	var wg sync.WaitGroup
	for _, name := range s.loops {
		ch, unsub := s.bus.Subscribe(ctx, events.LoopTopic(name), true)
		wg.Go(func() {
			defer unsub()
			for ev := range ch {
				if sample, ok := ev.(events.Sample); ok {
					s.Record(sample)
				}
			}
		})
	}

	ticker := time.NewTicker(saveEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			s.saveToDisk()
			s.log.Info("Stopped")
			return
		case <-ticker.C:
			s.saveToDisk()
		}
	}
}

// Record stores a sample. Samples closer than the history resolution to the
// previous stored one only update Latest.
func (s *Service) Record(sample events.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest[sample.Loop] = sample

	entries := s.history[sample.Loop]
	if n := len(entries); n > 0 && sample.Time.Sub(entries[n-1].Time) < resolution {
		return
	}
	entries = append(entries, sample)

	// Trim history older than 24h
	cutoff := s.now().Add(-window)
	idx := sort.Search(len(entries), func(i int) bool { return entries[i].Time.After(cutoff) })
	if over := len(entries) - idx - maxPerLoop; over > 0 {
		idx += over
	}
	s.history[sample.Loop] = entries[idx:]
}

func (s *Service) List(loop string) []events.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]events.Sample(nil), s.history[loop]...)
}

func (s *Service) Latest() map[string]events.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest := make(map[string]events.Sample, len(s.latest))
	for k, v := range s.latest {
		latest[k] = v
	}
	return latest
}

// Field extracts a named value from a sample.
func Field(sample events.Sample, field string) (float64, error) {
	switch field {
	case "input":
		return sample.Input, nil
	case "setpoint":
		return sample.Setpoint, nil
	case "output":
		return sample.Output, nil
	case "integral":
		return sample.Integral, nil
	case "error":
		return sample.Error, nil
	}
	return 0, fmt.Errorf("unknown field %q", field)
}

func (s *Service) values(loop, field string, interval time.Duration) ([]float64, error) {
	if _, err := Field(events.Sample{}, field); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.history[loop]
	if len(entries) == 0 {
		return nil, fmt.Errorf("no history for loop %q", loop)
	}

	cutoff := s.now().Add(-interval)
	var nums []float64
	for _, e := range entries {
		if e.Time.Before(cutoff) {
			continue
		}
		v, _ := Field(e, field)
		nums = append(nums, v)
	}
	if len(nums) == 0 {
		return nil, fmt.Errorf("no %s values for loop %q in the last %s", field, loop, interval)
	}
	return nums, nil
}

func (s *Service) Mean(loop, field string, interval time.Duration) (float64, error) {
	nums, err := s.values(loop, field, interval)
	if err != nil {
		return 0, err
	}
	sum := 0.0
	for _, v := range nums {
		sum += v
	}
	return sum / float64(len(nums)), nil
}

func (s *Service) Median(loop, field string, interval time.Duration) (float64, error) {
	nums, err := s.values(loop, field, interval)
	if err != nil {
		return 0, err
	}
	sort.Float64s(nums)
	mid := len(nums) / 2
	if len(nums)%2 == 0 {
		return (nums[mid-1] + nums[mid]) / 2, nil
	}
	return nums[mid], nil
}

func (s *Service) saveToDisk() {
	if s.snapshotFile == "" {
		return
	}
	if err := s.save(); err != nil {
		s.log.Error("save snapshot: %v", err)
	}
}

func (s *Service) save() error {
	s.mu.RLock()
	copyMap := make(map[string][]events.Sample, len(s.history))
	total := 0
	for k, v := range s.history {
		copyMap[k] = append([]events.Sample(nil), v...)
		total += len(v)
	}
	s.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(s.snapshotFile), 0o755); err != nil {
		return err
	}
	tmpPath := s.snapshotFile + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer file.Close()

	gz := gzip.NewWriter(file)
	if err := json.NewEncoder(gz).Encode(copyMap); err != nil {
		gz.Close()
		return fmt.Errorf("encode: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}
	if err := file.Sync(); err != nil {
		s.log.Warn("fsync snapshot: %v", err)
	}
	file.Close()
	if err := os.Rename(tmpPath, s.snapshotFile); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	s.log.Debug("snapshot saved: %d samples", total)
	return nil
}

func (s *Service) loadFromDisk() {
	file, err := os.Open(filepath.Clean(s.snapshotFile))
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Error("failed to open history snapshot: %v", err)
		}
		return
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		s.log.Error("failed to open gzip: %v", err)
		return
	}
	defer gz.Close()

	var data map[string][]events.Sample
	if err := json.NewDecoder(gz).Decode(&data); err != nil {
		s.log.Error("failed to decode snapshot: %v", err)
		return
	}

	if data == nil {
		return
	}

	s.mu.Lock()
	s.history = data
	for name, entries := range data {
		if len(entries) > 0 {
			s.latest[name] = entries[len(entries)-1]
		}
	}
	s.mu.Unlock()
	s.log.Info("history restored from snapshot (%d loops)", len(data))
}
