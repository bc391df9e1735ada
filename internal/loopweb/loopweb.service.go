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

// Package loopweb serves the loop API, live telemetry over websockets and
// a small status page.
package loopweb

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"sync"

	"pidloop/internal/events"
	"pidloop/internal/loop"
	"pidloop/pkg/eventbus"
	"pidloop/pkg/logger"

	"github.com/gorilla/websocket"
)

type Loops interface {
	Names() []string
	Statuses() []loop.Status
	Apply(ctx context.Context, name string, cmd loop.Command) error
}

type History interface {
	List(loop string) []events.Sample
	Latest() map[string]events.Sample
}

// Request is a command addressed to a loop, as sent by API and websocket
// clients.
type Request struct {
	Loop    string    `json:"loop"`
	Command string    `json:"command"`
	Args    []float64 `json:"args,omitempty"`
	Value   string    `json:"value,omitempty"`
}

// Reply answers a websocket request.
type Reply struct {
	Type  string `json:"type"` // "reply"
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type Service struct {
	loops   Loops
	history History
	bus     *eventbus.Bus
	clients clientSync
	mux     *http.ServeMux
	log     *logger.Logger
}

func New(loops Loops, history History, bus *eventbus.Bus) *Service {
	s := &Service{
		loops:   loops,
		history: history,
		bus:     bus,
		clients: clientSync{clients: make(map[*websocket.Conn]bool)},
		log:     logger.New("LoopWeb"),
	}

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/", s.serveIndex)
	s.mux.HandleFunc("/api/loops", s.serveLoops)
	s.mux.HandleFunc("/api/command", s.serveCommand)
	s.mux.HandleFunc("/api/history", s.serveHistory)
	s.mux.HandleFunc("/api/latest", s.serveLatest)
	s.mux.HandleFunc("/ws", s.serveWebSockets())
	return s
}

func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Run forwards loop samples to websocket clients until ctx is done.
func (s *Service) Run(ctx context.Context) {
	s.log.Info("Running...")

	var wg sync.WaitGroup
	for _, name := range s.loops.Names() {
		ch, unsub := s.bus.Subscribe(ctx, events.LoopTopic(name), true)
		wg.Go(func() {
			defer unsub()
			for ev := range ch {
				s.broadcast(ev)
			}
		})
	}

	<-ctx.Done()
	wg.Wait()
	s.clients.closeAll()
	s.log.Info("Stopped")
}

func (s *Service) broadcast(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error("failed to marshal broadcast: %v", err)
		return
	}
	pm, err := websocket.NewPreparedMessage(websocket.TextMessage, data)
	if err != nil {
		s.log.Error("failed to prepare message: %v", err)
		return
	}
	s.clients.broadcast(pm, s.log)
}

func (s *Service) apply(ctx context.Context, req Request) error {
	return s.loops.Apply(ctx, req.Loop, loop.Command{Name: req.Command, Args: req.Args, Value: req.Value})
}

func (s *Service) serveLoops(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.loops.Statuses())
}

func (s *Service) serveCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json: " + err.Error()})
		return
	}

	if err := s.apply(r.Context(), req); err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, loop.ErrNoLoop) {
			code = http.StatusNotFound
		}
		s.writeJSON(w, code, map[string]string{"error": err.Error()})
		return
	}

	for _, st := range s.loops.Statuses() {
		if st.Name == req.Loop {
			s.writeJSON(w, http.StatusOK, st)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{})
}

func (s *Service) serveHistory(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("loop")
	if name == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "loop parameter required"})
		return
	}
	list := s.history.List(name)
	if list == nil {
		list = []events.Sample{}
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Service) serveLatest(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.history.Latest())
}

func (s *Service) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response: %v", err)
	}
}

func (s *Service) serveWebSockets() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			s.log.Debug("checking origin: %s", origin)
			if origin == "" {
				return false
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			switch u.Hostname() {
			case "localhost", "127.0.0.1":
				return true
			}
			return u.Host == r.Host
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Error("failed to upgrade websocket: %v", err)
			return
		}
		s.clients.add(ws)
		defer func() {
			s.clients.remove(ws)
			ws.Close()
		}()

		// new clients start from the current state of every loop
		for _, sample := range s.history.Latest() {
			if err := s.clients.send(ws, sample); err != nil {
				return
			}
		}

		for {
			var req Request
			if err := ws.ReadJSON(&req); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.log.Debug("ws ReadJSON: %v", err)
				}
				return
			}
			reply := Reply{Type: "reply", OK: true}
			if err := s.apply(r.Context(), req); err != nil {
				reply.OK, reply.Error = false, err.Error()
			}
			if err := s.clients.send(ws, reply); err != nil {
				return
			}
		}
	}
}

var index = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
	<title>PID Loops</title>
	<style>
		body { font-family: sans-serif; margin: 2em; background: #f9f9f9; }
		table { border-collapse: collapse; margin-top: 1em; }
		th, td { border: 1px solid #ccc; padding: 0.4em 0.8em; text-align: right; }
		th { background: #eee; }
	</style>
</head>
<body>
	<h1>PID Loops</h1>
	<table>
		<tr><th>Loop</th><th>Mode</th><th>Input</th><th>Setpoint</th><th>Output</th><th>Integral</th></tr>
		{{range .}}<tr id="{{.Name}}">
			<td>{{.Name}}</td><td class="mode">{{.Mode}}</td>
			<td class="input">{{printf "%.3f" .Input}}</td><td class="setpoint">{{printf "%.3f" .Setpoint}}</td>
			<td class="output">{{printf "%.3f" .Output}}</td><td class="integral">{{printf "%.3f" .Integral}}</td>
		</tr>{{end}}
	</table>
	<script>
		const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + location.pathname.replace(/\/$/, "") + "/ws");
		ws.onmessage = (ev) => {
			const s = JSON.parse(ev.data);
			const row = document.getElementById(s.loop);
			if (!row) return;
			for (const k of ["mode", "input", "setpoint", "output", "integral"]) {
				const v = s[k];
				row.querySelector("." + k).textContent = typeof v === "number" ? v.toFixed(3) : v;
			}
		};
	</script>
</body>
</html>
`))

func (s *Service) serveIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := index.Execute(w, s.loops.Statuses()); err != nil {
		s.log.Error("render index: %v", err)
	}
}
