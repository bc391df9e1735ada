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

package modbus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"pidloop/pkg/logger"

	wrapper "github.com/grid-x/modbus"
)

const maxBackoff = 30 * time.Second

// Client is a Modbus TCP client that reconnects on link errors.
// It is safe for concurrent use; requests are serialized.
type Client struct {
	mu      sync.Mutex
	handler *wrapper.TCPClientHandler
	client  wrapper.Client
	config  *Config
	log     *logger.Logger
}

// NewClient returns an unconnected client; the first request connects.
func NewClient(config *Config) *Client {
	return &Client{
		config: config,
		log:    logger.New("Modbus"),
	}
}

// Connect connects, retrying with exponential backoff until it succeeds or
// ctx is done.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectWithRetry(ctx)
}

// connectWithRetry must be called with c.mu held.
func (c *Client) connectWithRetry(ctx context.Context) error {
	backoff := time.Second
	for {
		err := c.connect(ctx)
		if err == nil {
			return nil
		}
		c.log.Error("connect failed: %v (retrying in %v)", err, backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (c *Client) connect(ctx context.Context) error {
	if c.handler != nil {
		_ = c.handler.Close()
		c.handler, c.client = nil, nil
	}

	url := fmt.Sprintf("%s:%d", c.config.Modbus.Host, c.config.Modbus.Port)
	handler := wrapper.NewTCPClientHandler(url)
	handler.SlaveID = c.config.Modbus.SlaveID
	handler.Timeout = time.Second * time.Duration(c.config.Modbus.Timeout)
	handler.ProtocolRecoveryTimeout = 250 * time.Millisecond
	handler.LinkRecoveryTimeout = 5 * time.Second

	c.log.Info("Connecting to %s...", url)
	if err := handler.Connect(ctx); err != nil {
		return fmt.Errorf("modbus connect: %w", err)
	}

	c.handler = handler
	c.client = wrapper.NewClient(handler)
	c.log.Info("Connected to %s", url)
	return nil
}

// do runs op with the lock held, connecting first if needed. A connection
// error triggers one reconnect and one more attempt.
func (c *Client) do(ctx context.Context, op func(wrapper.Client) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		if err := c.connectWithRetry(ctx); err != nil {
			return err
		}
	}

	err := op(c.client)
	if err == nil || !isConnError(err) {
		return err
	}

	c.log.Error("connection error: %v, reconnecting", err)
	if cerr := c.connectWithRetry(ctx); cerr != nil {
		return errors.Join(err, cerr)
	}
	return op(c.client)
}

// ReadRegisters reads quantity registers of kind "holding" or "input".
func (c *Client) ReadRegisters(ctx context.Context, kind string, addr, quantity uint16) ([]byte, error) {
	var data []byte
	err := c.do(ctx, func(cl wrapper.Client) error {
		var rerr error
		if kind == "input" {
			data, rerr = cl.ReadInputRegisters(ctx, addr, quantity)
		} else {
			data, rerr = cl.ReadHoldingRegisters(ctx, addr, quantity)
		}
		return rerr
	})
	return data, err
}

// WriteRegisters writes raw big-endian register data starting at addr.
func (c *Client) WriteRegisters(ctx context.Context, addr uint16, raw []byte) error {
	return c.do(ctx, func(cl wrapper.Client) error {
		if len(raw) == 2 {
			_, err := cl.WriteSingleRegister(ctx, addr, uint16(raw[0])<<8|uint16(raw[1]))
			return err
		}
		_, err := cl.WriteMultipleRegisters(ctx, addr, uint16(len(raw)/2), raw)
		return err
	})
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handler != nil {
		_ = c.handler.Close()
		c.handler, c.client = nil, nil
	}
}

func isConnError(err error) bool {
	if err == nil {
		return false
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "closed by the remote host") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "eof")
}
