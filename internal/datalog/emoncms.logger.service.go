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

// Package datalog exports loop samples to an emoncms server.
package datalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"pidloop/internal/config"
	"pidloop/internal/events"
	"pidloop/pkg/logger"

	"github.com/go-co-op/gocron"
)

type History interface {
	Latest() map[string]events.Sample
	Mean(loop, field string, interval time.Duration) (float64, error)
}

type Service struct {
	addr     string
	apiKey   string
	interval time.Duration
	history  History
	client   *http.Client
	log      *logger.Logger
}

func New(cfg config.DataLoggerConfig, history History) *Service {
	return &Service{
		addr:     cfg.EmonCMSAddr,
		apiKey:   cfg.EmonCMSApiKey,
		interval: time.Duration(cfg.IntervalSeconds) * time.Second,
		history:  history,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      logger.New("DataLogger"),
	}
}

// Enabled reports whether an emoncms address is configured.
func (c *Service) Enabled() bool { return c.addr != "" }

func (c *Service) inputPost(ctx context.Context, node string, data map[string]float64) error {
	full, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	q := url.Values{}
	q.Set("node", node)
	q.Set("apikey", c.apiKey)
	q.Set("fulljson", string(full))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.addr+"/input/post?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("emoncms: %s", resp.Status)
	}
	return nil
}

// nodeData flattens a sample into emoncms inputs.
func (c *Service) nodeData(sample events.Sample) map[string]float64 {
	data := map[string]float64{
		"input":    sample.Input,
		"setpoint": sample.Setpoint,
		"output":   sample.Output,
		"integral": sample.Integral,
		"error":    sample.Error,
		"enabled":  0,
	}
	if sample.Mode == "on" {
		data["enabled"] = 1
	}
	if mean, err := c.history.Mean(sample.Loop, "output", c.interval); err == nil {
		data["output_mean"] = mean
	}
	return data
}

func (c *Service) tick(ctx context.Context) {
	for name, sample := range c.history.Latest() {
		if err := c.inputPost(ctx, name, c.nodeData(sample)); err != nil {
			c.log.Error("input post %s: %v", name, err)
		}
	}
}

func (c *Service) Run(ctx context.Context) {
	if !c.Enabled() {
		c.log.Info("No emoncms address configured, disabled")
		return
	}
	c.log.Info("Running, posting every %v", c.interval)
	defer c.log.Info("Stopped.")

	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	if _, err := s.Every(c.interval).Do(c.tick, ctx); err != nil {
		c.log.Error("schedule export: %v", err)
		return
	}
	s.StartAsync()
	defer s.Stop()

	<-ctx.Done()
}
