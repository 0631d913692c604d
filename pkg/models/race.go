/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package models

// RaceEntry is one race attempt. StartTime and FinishTime are raw clock readings of the
// devices that observed the crossing, not of the master.
type RaceEntry struct {
	StartTime    Millis  `json:"start_time"`
	StartDevice  Address `json:"start_device"`
	FinishTime   Millis  `json:"finish_time"`
	FinishDevice Address `json:"finish_device"`
	IsFinished   bool    `json:"finished"`
	// Duration is offset-corrected and never negative; zero until IsFinished.
	Duration Millis `json:"duration_ms"`
}

// RaceSummary is what displays and the UI show.
type RaceSummary struct {
	Unfinished   int    `json:"unfinished"`
	LastFinished Millis `json:"last_finished_ms"`
	HasFinished  bool   `json:"has_finished"`
}

// RaceFinishedData is the payload of a race.finished event.
type RaceFinishedData struct {
	Master       string `json:"master"`
	StartDevice  string `json:"start_device"`
	FinishDevice string `json:"finish_device"`
	StartTime    Millis `json:"start_time"`
	FinishTime   Millis `json:"finish_time"`
	DurationMs   Millis `json:"duration_ms"`
	Clamped      bool   `json:"clamped"`
}
