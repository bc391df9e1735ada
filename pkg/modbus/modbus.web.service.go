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
	"encoding/json"
	"html/template"
	"net/http"
	"sort"
	"time"

	"pidloop/pkg/logger"
)

const webReadTimeout = 5 * time.Second

// Value represents the current register value for display
type Value struct {
	ID          string  `json:"id"`
	Description string  `json:"description"`
	Address     uint16  `json:"address"`
	DataType    string  `json:"data_type"`
	Value       float64 `json:"value"`
	Error       string  `json:"error,omitempty"`
	Writable    bool    `json:"writable"`
}

// WebService browses and writes the configured registers.
type WebService struct {
	client *Client
	mux    *http.ServeMux
	log    *logger.Logger
}

func (c *Client) WebService() *WebService {
	s := &WebService{client: c, log: logger.New("ModbusWeb")}
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/api/values", s.handleAPIValues)
	s.mux.HandleFunc("/api/write", s.handleAPIWrite)
	s.mux.HandleFunc("/", s.handleIndex)
	return s
}

func (s *WebService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *WebService) names() []string {
	names := make([]string, 0, len(s.client.config.Registers))
	for name := range s.client.config.Registers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *WebService) describe(name string) Value {
	reg := s.client.config.Registers[name]
	return Value{
		ID:          name,
		Description: reg.Description,
		Address:     reg.Address,
		DataType:    reg.DataType,
		Writable:    reg.Writable,
	}
}

// handleAPIValues reads every register live.
func (s *WebService) handleAPIValues(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), webReadTimeout)
	defer cancel()

	values := make(map[string]Value)
	for _, name := range s.names() {
		v := s.describe(name)
		val, err := s.client.ReadFloat(ctx, name)
		if err != nil {
			v.Error = err.Error()
		} else {
			v.Value = val
		}
		values[name] = v
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(values); err != nil {
		s.log.Error("failed to encode values: %v", err)
	}
}

func (s *WebService) handleAPIWrite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ID    string   `json:"id"`
		Value *float64 `json:"value"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Value == nil || req.ID == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	reg, ok := s.client.config.Registers[req.ID]
	if !ok || !reg.Writable {
		http.Error(w, "register not writable", http.StatusForbidden)
		s.log.Warn("register not writable: %s", req.ID)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), webReadTimeout)
	defer cancel()
	if err := s.client.WriteFloat(ctx, req.ID, *req.Value); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		s.log.Error("write %s: %v", req.ID, err)
		return
	}

	s.log.Info("updated modbus register %s = %v", req.ID, *req.Value)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.describe(req.ID))
}

var registersPage = template.Must(template.New("registers").Parse(`<!DOCTYPE html>
<html>
<head>
	<title>Modbus Registers</title>
	<style>
		body { font-family: sans-serif; margin: 2em; background: #f9f9f9; }
		table { border-collapse: collapse; margin-top: 1em; }
		th, td { border: 1px solid #ccc; padding: 0.4em 0.8em; text-align: left; }
		th { background: #eee; }
	</style>
</head>
<body>
	<h1>Modbus Registers</h1>
	<table>
		<tr><th>Name</th><th>Address</th><th>Type</th><th>Description</th><th>Value</th></tr>
		{{range .}}<tr>
			<td>{{.ID}}</td><td>{{.Address}}</td><td>{{.DataType}}{{if .Writable}} (rw){{end}}</td>
			<td>{{.Description}}</td><td id="{{.ID}}">...</td>
		</tr>{{end}}
	</table>
	<script>
		fetch("api/values").then(r => r.json()).then(values => {
			for (const [id, v] of Object.entries(values)) {
				document.getElementById(id).textContent = v.error ? "error: " + v.error : v.value;
			}
		});
	</script>
</body>
</html>
`))

func (s *WebService) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	values := make([]Value, 0, len(s.client.config.Registers))
	for _, name := range s.names() {
		values = append(values, s.describe(name))
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := registersPage.Execute(w, values); err != nil {
		s.log.Error("render registers: %v", err)
	}
}
