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

package sysmon

import (
	"encoding/json"
	"html/template"
	"net/http"
	"os"
	"runtime"

	"pidloop/pkg/logger"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Snapshot is a point-in-time view of host and process load. Loop jitter
// usually shows up here first.
type Snapshot struct {
	GoVersion  string `json:"go_version"`
	Goroutines int    `json:"goroutines"`
	CPU        struct {
		SystemPercent  float64 `json:"system_percent"`
		ProcessPercent float64 `json:"process_percent"`
	} `json:"cpu"`
	Memory struct {
		SystemTotal uint64 `json:"system_total"`
		SystemUsed  uint64 `json:"system_used"`
		SystemFree  uint64 `json:"system_free"`
		ProcessRSS  uint64 `json:"process_rss"`
	} `json:"memory"`
	Disk struct {
		Total uint64 `json:"total"`
		Used  uint64 `json:"used"`
		Free  uint64 `json:"free"`
	} `json:"disk"`
}

type Service struct {
	diskPath string
	log      *logger.Logger
}

// New monitors the filesystem holding diskPath (the data dir).
func New(diskPath string) *Service {
	if diskPath == "" {
		diskPath = "/"
	}
	return &Service{
		diskPath: diskPath,
		log:      logger.New("System Monitor"),
	}
}

// Snapshot collects current stats. Individual probe failures leave their
// fields zero.
func (s *Service) Snapshot() Snapshot {
	var snap Snapshot
	snap.GoVersion = runtime.Version()
	snap.Goroutines = runtime.NumGoroutine()

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		snap.CPU.SystemPercent = pct[0]
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		snap.Memory.SystemTotal = vmem.Total
		snap.Memory.SystemUsed = vmem.Used
		snap.Memory.SystemFree = vmem.Available
	}
	if total, free, used, err := DiskUsage(s.diskPath); err == nil {
		snap.Disk.Total, snap.Disk.Free, snap.Disk.Used = total, free, used
	} else {
		s.log.Debug("disk usage %s: %v", s.diskPath, err)
	}

	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mi, err := p.MemoryInfo(); err == nil {
			snap.Memory.ProcessRSS = mi.RSS
		}
		if pct, err := p.CPUPercent(); err == nil {
			snap.CPU.ProcessPercent = pct
		}
	}
	return snap
}

var page = template.Must(template.New("sysmon").Funcs(template.FuncMap{
	"gb": func(v uint64) float64 { return float64(v) / (1 << 30) },
	"mb": func(v uint64) float64 { return float64(v) / (1 << 20) },
}).Parse(`<!DOCTYPE html>
<html>
<head>
	<title>System Monitor</title>
	<style>
		body { font-family: sans-serif; margin: 2em; background: #f9f9f9; }
		table { border-collapse: collapse; width: 60%; margin-top: 1em; }
		th, td { border: 1px solid #ccc; padding: 0.6em 1em; text-align: left; }
		th { background: #eee; }
	</style>
</head>
<body>
	<h1>System Monitor</h1>
	<p>Go {{.GoVersion}}, {{.Goroutines}} goroutines</p>
	<h2>CPU</h2>
	<table>
		<tr><th>System %</th><th>Process %</th></tr>
		<tr><td>{{printf "%.2f" .CPU.SystemPercent}}</td><td>{{printf "%.2f" .CPU.ProcessPercent}}</td></tr>
	</table>
	<h2>Memory</h2>
	<table>
		<tr><th>System Total</th><th>System Used</th><th>System Free</th><th>Process RSS</th></tr>
		<tr>
			<td>{{printf "%.2f" (gb .Memory.SystemTotal)}} GB</td>
			<td>{{printf "%.2f" (gb .Memory.SystemUsed)}} GB</td>
			<td>{{printf "%.2f" (gb .Memory.SystemFree)}} GB</td>
			<td>{{printf "%.2f" (mb .Memory.ProcessRSS)}} MB</td>
		</tr>
	</table>
	<h2>Disk</h2>
	<table>
		<tr><th>Total</th><th>Used</th><th>Free</th></tr>
		<tr>
			<td>{{printf "%.2f" (gb .Disk.Total)}} GB</td>
			<td>{{printf "%.2f" (gb .Disk.Used)}} GB</td>
			<td>{{printf "%.2f" (gb .Disk.Free)}} GB</td>
		</tr>
	</table>
</body>
</html>
`))

func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snap := s.Snapshot()

	if r.Header.Get("Accept") == "application/json" {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			s.log.Error("encode snapshot: %v", err)
		}
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := page.Execute(w, snap); err != nil {
		s.log.Error("render page: %v", err)
	}
}
