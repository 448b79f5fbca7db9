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

package operator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/apache/beam/it/common"
	"github.com/pkg/errors"
)

// fakeLauncher reports scripted job states. The last state sticks.
type fakeLauncher struct {
	mu         sync.Mutex
	states     []common.JobState
	statusErrs int
	drains     int
	cancels    int
}

var _ common.PipelineLauncher = (*fakeLauncher)(nil)

func newFakeLauncher(states ...common.JobState) *fakeLauncher {
	return &fakeLauncher{states: states}
}

func (f *fakeLauncher) Launch(ctx context.Context, project, region string, cfg *common.LaunchConfig) (*common.LaunchInfo, error) {
	return &common.LaunchInfo{JobID: "job", State: common.JobStateRunning}, nil
}

func (f *fakeLauncher) GetJobStatus(ctx context.Context, project, region, jobID string) (common.JobState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErrs > 0 {
		f.statusErrs--
		return common.JobStateUnknown, errors.New("status unavailable")
	}
	s := f.states[0]
	if len(f.states) > 1 {
		f.states = f.states[1:]
	}
	return s, nil
}

func (f *fakeLauncher) ListMessages(ctx context.Context, project, region, jobID, minImportance string) ([]common.JobMessage, error) {
	return nil, nil
}

func (f *fakeLauncher) CancelJob(ctx context.Context, project, region, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	f.states = []common.JobState{common.JobStateCancelling, common.JobStateCancelled}
	return nil
}

func (f *fakeLauncher) DrainJob(ctx context.Context, project, region, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drains++
	f.states = []common.JobState{common.JobStateDraining, common.JobStateDrained}
	return nil
}

func (f *fakeLauncher) GetMetrics(ctx context.Context, project, region, jobID string) (map[string]float64, error) {
	return nil, nil
}

func (f *fakeLauncher) Cleanup(ctx context.Context) error { return nil }

func testConfig() Config {
	return Config{
		Project:    "test-project",
		Region:     "us-central1",
		JobID:      "job",
		Timeout:    time.Second,
		CheckAfter: time.Millisecond,
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := testConfig().Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
	err := Config{Region: "us-central1"}.Validate()
	if err == nil {
		t.Fatal("Validate(empty) succeeded, want error")
	}
	for _, want := range []string{"project", "job id", "positive timeout"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate(empty) = %q, want it to mention %q", err, want)
		}
	}
	if got := (Config{}).checkAfter(); got != DefaultCheckAfter {
		t.Errorf("default checkAfter() = %v, want %v", got, DefaultCheckAfter)
	}
}

func TestResult_String(t *testing.T) {
	tests := map[Result]string{
		ResultConditionMet:   "CONDITION_MET",
		ResultLaunchFinished: "LAUNCH_FINISHED",
		ResultLaunchFailed:   "LAUNCH_FAILED",
		ResultTimeout:        "TIMEOUT",
		Result(0):            "UNKNOWN",
	}
	for r, want := range tests {
		if got := r.String(); got != want {
			t.Errorf("Result(%d).String() = %q, want %q", int(r), got, want)
		}
	}
}

func TestWaitUntilDone(t *testing.T) {
	tests := []struct {
		name   string
		states []common.JobState
		want   Result
	}{
		{"done", []common.JobState{common.JobStatePending, common.JobStateRunning, common.JobStateDone}, ResultLaunchFinished},
		{"failed", []common.JobState{common.JobStateRunning, common.JobStateFailed}, ResultLaunchFailed},
		{"cancelled", []common.JobState{common.JobStateCancelled}, ResultLaunchFailed},
		{"drained", []common.JobState{common.JobStateDraining, common.JobStateDrained}, ResultLaunchFailed},
		{"stopped", []common.JobState{common.JobStateStopped}, ResultLaunchFailed},
		{"still running", []common.JobState{common.JobStateRunning}, ResultTimeout},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Timeout = 50 * time.Millisecond
			got, err := New(newFakeLauncher(test.states...)).WaitUntilDone(context.Background(), cfg)
			if err != nil {
				t.Fatalf("WaitUntilDone() = %v", err)
			}
			if got != test.want {
				t.Errorf("WaitUntilDone() = %v, want %v", got, test.want)
			}
		})
	}
}

func TestWaitUntilDone_RetriesStatusErrors(t *testing.T) {
	l := newFakeLauncher(common.JobStateDone)
	l.statusErrs = 3
	got, err := New(l).WaitUntilDone(context.Background(), testConfig())
	if err != nil || got != ResultLaunchFinished {
		t.Errorf("WaitUntilDone() = %v, %v; want %v", got, err, ResultLaunchFinished)
	}
}

func TestWaitUntilDone_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := testConfig()
	cfg.Timeout = time.Hour
	if _, err := New(newFakeLauncher(common.JobStateRunning)).WaitUntilDone(ctx, cfg); !errors.Is(err, context.Canceled) {
		t.Errorf("WaitUntilDone(cancelled) = %v, want %v", err, context.Canceled)
	}
}

func TestWaitUntilDone_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = 0
	if _, err := New(newFakeLauncher(common.JobStateDone)).WaitUntilDone(context.Background(), cfg); err == nil {
		t.Error("WaitUntilDone(zero timeout) succeeded, want error")
	}
}

// after returns a condition that holds from its n-th call on.
func after(n int) Condition {
	calls := 0
	return func(context.Context) (bool, error) {
		calls++
		return calls >= n, nil
	}
}

func TestWaitForCondition(t *testing.T) {
	failing := func(context.Context) (bool, error) { return false, errors.New("no output yet") }
	tests := []struct {
		name   string
		states []common.JobState
		conds  []Condition
		want   Result
	}{
		{"met", []common.JobState{common.JobStateRunning}, []Condition{after(3), after(1)}, ResultConditionMet},
		{"no conditions", []common.JobState{common.JobStateRunning}, nil, ResultConditionMet},
		{"not while pending", []common.JobState{common.JobStatePending}, []Condition{after(1)}, ResultTimeout},
		{"condition error", []common.JobState{common.JobStateRunning}, []Condition{failing}, ResultTimeout},
		{"job finished first", []common.JobState{common.JobStateRunning, common.JobStateDone}, []Condition{after(100)}, ResultLaunchFinished},
		{"job failed first", []common.JobState{common.JobStateRunning, common.JobStateFailed}, []Condition{after(100)}, ResultLaunchFailed},
		{"job cancelling", []common.JobState{common.JobStateCancelling}, []Condition{after(1)}, ResultLaunchFailed},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Timeout = 50 * time.Millisecond
			got, err := New(newFakeLauncher(test.states...)).WaitForCondition(context.Background(), cfg, test.conds...)
			if err != nil {
				t.Fatalf("WaitForCondition() = %v", err)
			}
			if got != test.want {
				t.Errorf("WaitForCondition() = %v, want %v", got, test.want)
			}
		})
	}
}

func TestWaitForConditionAndFinish(t *testing.T) {
	l := newFakeLauncher(common.JobStateRunning)
	got, err := New(l).WaitForConditionAndFinish(context.Background(), testConfig(), after(2))
	if err != nil || got != ResultConditionMet {
		t.Errorf("WaitForConditionAndFinish() = %v, %v; want %v", got, err, ResultConditionMet)
	}
	if l.drains != 1 || l.cancels != 0 {
		t.Errorf("got %d drains and %d cancels, want a single drain", l.drains, l.cancels)
	}
}

func TestWaitForConditionAndCancel(t *testing.T) {
	l := newFakeLauncher(common.JobStateRunning)
	got, err := New(l).WaitForConditionAndCancel(context.Background(), testConfig(), after(1))
	if err != nil || got != ResultConditionMet {
		t.Errorf("WaitForConditionAndCancel() = %v, %v; want %v", got, err, ResultConditionMet)
	}
	if l.cancels != 1 || l.drains != 0 {
		t.Errorf("got %d cancels and %d drains, want a single cancel", l.cancels, l.drains)
	}
}

func TestWaitForConditionAndFinish_JobAlreadyDone(t *testing.T) {
	l := newFakeLauncher(common.JobStateDone)
	got, err := New(l).WaitForConditionAndFinish(context.Background(), testConfig(), after(100))
	if err != nil || got != ResultLaunchFinished {
		t.Errorf("WaitForConditionAndFinish() = %v, %v; want %v", got, err, ResultLaunchFinished)
	}
	if l.drains != 0 {
		t.Errorf("drained a finished job %d times", l.drains)
	}
}

func TestDrainAndCancelJobAndFinish(t *testing.T) {
	ctx := context.Background()
	drain := newFakeLauncher(common.JobStateRunning)
	if got, err := New(drain).DrainJobAndFinish(ctx, testConfig()); err != nil || got != ResultLaunchFinished {
		t.Errorf("DrainJobAndFinish() = %v, %v; want %v", got, err, ResultLaunchFinished)
	}
	cancel := newFakeLauncher(common.JobStateRunning)
	if got, err := New(cancel).CancelJobAndFinish(ctx, testConfig()); err != nil || got != ResultLaunchFinished {
		t.Errorf("CancelJobAndFinish() = %v, %v; want %v", got, err, ResultLaunchFinished)
	}
}
