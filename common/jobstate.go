// Licensed to the Apache Software Foundation (ASF) under one or more
// contributor license agreements.  See the NOTICE file distributed with
// this work for additional information regarding copyright ownership.
// The ASF licenses this file to You under the Apache License, Version 2.0
// (the "License"); you may not use this file except in compliance with
// the License.  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

// JobState is the state of a launched job, using the Dataflow API names.
type JobState string

// Job states reported by Dataflow.
const (
	JobStateUnknown            JobState = "JOB_STATE_UNKNOWN"
	JobStateStopped            JobState = "JOB_STATE_STOPPED"
	JobStateRunning            JobState = "JOB_STATE_RUNNING"
	JobStateDone               JobState = "JOB_STATE_DONE"
	JobStateFailed             JobState = "JOB_STATE_FAILED"
	JobStateCancelled          JobState = "JOB_STATE_CANCELLED"
	JobStateUpdated            JobState = "JOB_STATE_UPDATED"
	JobStateDraining           JobState = "JOB_STATE_DRAINING"
	JobStateDrained            JobState = "JOB_STATE_DRAINED"
	JobStatePending            JobState = "JOB_STATE_PENDING"
	JobStateCancelling         JobState = "JOB_STATE_CANCELLING"
	JobStateQueued             JobState = "JOB_STATE_QUEUED"
	JobStateResourceCleaningUp JobState = "JOB_STATE_RESOURCE_CLEANING_UP"
)

var knownStates = map[JobState]bool{
	JobStateUnknown:            true,
	JobStateStopped:            true,
	JobStateRunning:            true,
	JobStateDone:               true,
	JobStateFailed:             true,
	JobStateCancelled:          true,
	JobStateUpdated:            true,
	JobStateDraining:           true,
	JobStateDrained:            true,
	JobStatePending:            true,
	JobStateCancelling:         true,
	JobStateQueued:             true,
	JobStateResourceCleaningUp: true,
}

// ParseJobState converts a Dataflow state string. Unrecognized or empty
// values map to JobStateUnknown.
func ParseJobState(s string) JobState {
	if st := JobState(s); knownStates[st] {
		return st
	}
	return JobStateUnknown
}

// IsActive reports whether the job is executing.
func (s JobState) IsActive() bool {
	return s == JobStateRunning || s == JobStateUpdated
}

// IsPending reports whether the job is waiting to start.
func (s JobState) IsPending() bool {
	return s == JobStatePending || s == JobStateQueued
}

// IsFinishing reports whether the job is on its way to a terminal state.
func (s JobState) IsFinishing() bool {
	switch s {
	case JobStateDraining, JobStateCancelling, JobStateResourceCleaningUp:
		return true
	}
	return false
}

// IsDone reports whether the job is in a terminal state.
func (s JobState) IsDone() bool {
	switch s {
	case JobStateDone, JobStateFailed, JobStateCancelled, JobStateDrained, JobStateStopped:
		return true
	}
	return false
}

// IsFailed reports whether the job terminated with a failure.
func (s JobState) IsFailed() bool {
	return s == JobStateFailed
}

func (s JobState) String() string {
	return string(s)
}
