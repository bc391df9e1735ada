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

package events

import (
	"time"

	"pidloop/pkg/eventbus"
)

const loopTopicPrefix = "loop/"

// LoopTopic is the bus topic a loop publishes its samples on.
func LoopTopic(name string) eventbus.Topic {
	return eventbus.Topic(loopTopicPrefix + name)
}

// LoopName extracts the loop name from a loop topic.
func LoopName(topic eventbus.Topic) (string, bool) {
	s := string(topic)
	if len(s) <= len(loopTopicPrefix) || s[:len(loopTopicPrefix)] != loopTopicPrefix {
		return "", false
	}
	return s[len(loopTopicPrefix):], true
}

// Sample is one controller update as seen from outside the loop.
// Values are converted to float64 whatever the loop's numeric type.
type Sample struct {
	Loop      string    `json:"loop"`
	Time      time.Time `json:"time"`
	Input     float64   `json:"input"`
	Setpoint  float64   `json:"setpoint"`
	Output    float64   `json:"output"`
	Integral  float64   `json:"integral"`
	Error     float64   `json:"error"`
	Mode      string    `json:"mode"`
	Direction string    `json:"direction"`
}
