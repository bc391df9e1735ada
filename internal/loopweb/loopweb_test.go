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

package loopweb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"pidloop/internal/events"
	"pidloop/internal/loop"
	"pidloop/pkg/eventbus"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLoops struct {
	mu   sync.Mutex
	cmds []loop.Command
}

func (f *fakeLoops) Names() []string { return []string{"oven"} }

func (f *fakeLoops) Statuses() []loop.Status {
	return []loop.Status{{Name: "oven", Mode: "on", Input: 21.5, Setpoint: 180}}
}

func (f *fakeLoops) Apply(_ context.Context, name string, cmd loop.Command) error {
	if name != "oven" {
		return fmt.Errorf("%w %q", loop.ErrNoLoop, name)
	}
	if cmd.Name == "explode" {
		return errors.New("unknown command")
	}
	f.mu.Lock()
	f.cmds = append(f.cmds, cmd)
	f.mu.Unlock()
	return nil
}

type fakeHistory struct{}

func (fakeHistory) List(name string) []events.Sample {
	if name != "oven" {
		return nil
	}
	return []events.Sample{{Loop: "oven", Input: 20}, {Loop: "oven", Input: 21}}
}

func (fakeHistory) Latest() map[string]events.Sample {
	return map[string]events.Sample{"oven": {Loop: "oven", Input: 21}}
}

func newService(t *testing.T) (*Service, *fakeLoops) {
	t.Helper()
	bus := eventbus.New()
	t.Cleanup(bus.Close)
	loops := &fakeLoops{}
	return New(loops, fakeHistory{}, bus), loops
}

func TestLoopsEndpoint(t *testing.T) {
	s, _ := newService(t)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/loops", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got []loop.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, 21.5, got[0].Input)

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/loops", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCommandEndpoint(t *testing.T) {
	s, loops := newService(t)

	post := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/command", strings.NewReader(body)))
		return rec
	}

	rec := post(`{"loop":"oven","command":"tune","args":[1,0.1,0]}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, loops.cmds, 1)
	assert.Equal(t, loop.Command{Name: "tune", Args: []float64{1, 0.1, 0}}, loops.cmds[0])

	assert.Equal(t, http.StatusNotFound, post(`{"loop":"tank","command":"stop"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(`{"loop":"oven","command":"explode"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(`{"loop":`).Code)

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/command", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHistoryEndpoints(t *testing.T) {
	s, _ := newService(t)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history?loop=oven", nil))
	var list []events.Sample
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history?loop=tank", nil))
	assert.Equal(t, "[]\n", rec.Body.String())

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/latest", nil))
	assert.Contains(t, rec.Body.String(), `"oven"`)
}

func TestIndexPage(t *testing.T) {
	s, _ := newService(t)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `<tr id="oven">`)

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebSocketStreamAndCommands(t *testing.T) {
	s, loops := newService(t)
	srv := httptest.NewServer(s)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://localhost"}})
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))

	var first events.Sample
	require.NoError(t, ws.ReadJSON(&first))
	assert.Equal(t, 21.0, first.Input)

	require.Eventually(t, func() bool { return s.clients.count() == 1 }, time.Second, 5*time.Millisecond)
	s.broadcast(events.Sample{Loop: "oven", Input: 99})
	var live events.Sample
	require.NoError(t, ws.ReadJSON(&live))
	assert.Equal(t, 99.0, live.Input)

	require.NoError(t, ws.WriteJSON(Request{Loop: "oven", Command: "stop"}))
	var reply Reply
	require.NoError(t, ws.ReadJSON(&reply))
	assert.True(t, reply.OK)
	loops.mu.Lock()
	assert.Len(t, loops.cmds, 1)
	loops.mu.Unlock()

	require.NoError(t, ws.WriteJSON(Request{Loop: "tank", Command: "stop"}))
	require.NoError(t, ws.ReadJSON(&reply))
	assert.False(t, reply.OK)
	assert.Contains(t, reply.Error, "no such loop")
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	s, _ := newService(t)
	srv := httptest.NewServer(s)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	assert.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}
}

func TestWebSocketOriginMatchesHost(t *testing.T) {
	s, _ := newService(t)
	srv := httptest.NewServer(s)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	for _, origin := range []string{"http://localhost.evil.com", "http://evil.com/127.0.0.1", "http://x" + strings.TrimPrefix(srv.URL, "http://")} {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {origin}})
		assert.Error(t, err, origin)
		if resp != nil {
			assert.Equal(t, http.StatusForbidden, resp.StatusCode, origin)
		}
	}

	for _, origin := range []string{"http://localhost:3000", srv.URL} {
		ws, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {origin}})
		require.NoError(t, err, origin)
		ws.Close()
	}
}

func TestRunBroadcastsBusSamples(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	s := New(&fakeLoops{}, fakeHistory{}, bus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	srv := httptest.NewServer(s)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://localhost"}})
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))

	var sample events.Sample
	require.NoError(t, ws.ReadJSON(&sample)) // latest on connect

	require.Eventually(t, func() bool { return s.clients.count() == 1 }, time.Second, 5*time.Millisecond)
	bus.Publish(events.LoopTopic("oven"), events.Sample{Loop: "oven", Input: 7})
	require.NoError(t, ws.ReadJSON(&sample))
	assert.Equal(t, 7.0, sample.Input)

	cancel()
	<-done
}
