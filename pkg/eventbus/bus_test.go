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

package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestLatestValueWins(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, _ := b.Subscribe(ctx, "loop/oven", false)
	b.Publish("loop/oven", 1)
	b.Publish("loop/oven", 2)
	b.Publish("loop/oven", 3)

	assert.Equal(t, 3, recv(t, ch))
	stats := b.Stats()
	assert.Equal(t, int64(3), stats.Events)
	assert.Equal(t, int64(2), stats.Replaced)
}

func TestSubscribeWithLast(t *testing.T) {
	b := New()
	b.Publish("loop/a", "first")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, _ := b.Subscribe(ctx, "loop/a", true)
	assert.Equal(t, "first", recv(t, ch))

	last, ok := b.GetLast("loop/a")
	assert.True(t, ok)
	assert.Equal(t, "first", last)
	assert.Equal(t, []Topic{"loop/a"}, b.Topics())
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(context.Background(), "t", false)
	unsub()
	unsub()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}

	// publishing after unsubscribe must not panic
	b.Publish("t", 1)
}

func TestCloseBus(t *testing.T) {
	b := New()
	ch, _ := b.Subscribe(context.Background(), "t", false)
	b.Close()
	b.Close()

	_, ok := <-ch
	assert.False(t, ok)

	b.Publish("t", 1)
	late, _ := b.Subscribe(context.Background(), "t", true)
	_, ok = <-late
	assert.False(t, ok)
}
