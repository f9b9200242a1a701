// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package inventory

// JobStatus is the lifecycle state of a scan job.
// Legal transitions: PENDING -> RUNNING -> (COMPLETED | FAILED).
type JobStatus string

// JobStatus values.
const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
)

// Terminal reports whether the status is final. A job never leaves a
// terminal status.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// transition.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobRunning
	case JobRunning:
		return next == JobCompleted || next == JobFailed
	default:
		return false
	}
}
