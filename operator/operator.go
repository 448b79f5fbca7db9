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

// Package operator waits on and steers jobs started by a PipelineLauncher.
package operator

import (
	"context"
	"strings"
	"time"

	"github.com/apache/beam/it/common"
	"github.com/apache/beam/sdks/v2/go/pkg/beam/log"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

// DefaultCheckAfter is the pause between polls when Config.CheckAfter is
// unset.
const DefaultCheckAfter = 15 * time.Second

// Config identifies the job to operate on and bounds the wait.
type Config struct {
	Project string
	Region  string
	JobID   string

	// Timeout bounds the whole wait. It must be positive.
	Timeout time.Duration
	// CheckAfter is the pause between polls.
	CheckAfter time.Duration
}

// Validate reports every missing or invalid field.
func (c Config) Validate() error {
	var missing []string
	if c.Project == "" {
		missing = append(missing, "project")
	}
	if c.Region == "" {
		missing = append(missing, "region")
	}
	if c.JobID == "" {
		missing = append(missing, "job id")
	}
	if c.Timeout <= 0 {
		missing = append(missing, "positive timeout")
	}
	if c.CheckAfter < 0 {
		missing = append(missing, "non-negative check interval")
	}
	if len(missing) > 0 {
		return errors.Errorf("invalid operator config: need %v", strings.Join(missing, ", "))
	}
	return nil
}

func (c Config) checkAfter() time.Duration {
	if c.CheckAfter == 0 {
		return DefaultCheckAfter
	}
	return c.CheckAfter
}

// Result is the outcome of a wait.
type Result int

const (
	// ResultConditionMet means every condition held while the job ran.
	ResultConditionMet Result = iota + 1
	// ResultLaunchFinished means the job finished successfully.
	ResultLaunchFinished
	// ResultLaunchFailed means the job stopped in any other terminal state.
	ResultLaunchFailed
	// ResultTimeout means the wait gave up.
	ResultTimeout
)

func (r Result) String() string {
	switch r {
	case ResultConditionMet:
		return "CONDITION_MET"
	case ResultLaunchFinished:
		return "LAUNCH_FINISHED"
	case ResultLaunchFailed:
		return "LAUNCH_FAILED"
	case ResultTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// Condition reports whether a property of a running job holds. Errors are
// logged and count as not met.
type Condition func(ctx context.Context) (bool, error)

// PipelineOperator polls jobs through a launcher.
type PipelineOperator struct {
	launcher common.PipelineLauncher
}

// New returns an operator for jobs started by launcher.
func New(launcher common.PipelineLauncher) *PipelineOperator {
	return &PipelineOperator{launcher: launcher}
}

// WaitUntilDone waits for the job to reach a terminal state. Only
// JOB_STATE_DONE yields ResultLaunchFinished.
func (o *PipelineOperator) WaitUntilDone(ctx context.Context, cfg Config) (Result, error) {
	return o.waitUntilDone(ctx, cfg, common.JobStateDone)
}

// DrainJobAndFinish drains the job and waits for it to stop. A drained job
// counts as finished.
func (o *PipelineOperator) DrainJobAndFinish(ctx context.Context, cfg Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	if err := o.launcher.DrainJob(ctx, cfg.Project, cfg.Region, cfg.JobID); err != nil {
		return 0, err
	}
	return o.waitUntilDone(ctx, cfg, common.JobStateDone, common.JobStateDrained)
}

// CancelJobAndFinish cancels the job and waits for it to stop. A cancelled
// job counts as finished.
func (o *PipelineOperator) CancelJobAndFinish(ctx context.Context, cfg Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	if err := o.launcher.CancelJob(ctx, cfg.Project, cfg.Region, cfg.JobID); err != nil {
		return 0, err
	}
	return o.waitUntilDone(ctx, cfg, common.JobStateDone, common.JobStateCancelled)
}

// WaitForCondition waits until every condition holds. It stops early when
// the job leaves the running states.
func (o *PipelineOperator) WaitForCondition(ctx context.Context, cfg Config, conds ...Condition) (Result, error) {
	return o.poll(ctx, cfg, func(state common.JobState) (Result, bool) {
		if state.IsDone() || state.IsFinishing() {
			return terminalResult(state, common.JobStateDone), true
		}
		if state.IsActive() && allMet(ctx, conds) {
			return ResultConditionMet, true
		}
		return 0, false
	})
}

// WaitForConditionAndFinish waits for the conditions and then drains the
// job.
func (o *PipelineOperator) WaitForConditionAndFinish(ctx context.Context, cfg Config, conds ...Condition) (Result, error) {
	return o.waitForConditionAnd(ctx, cfg, o.DrainJobAndFinish, conds)
}

// WaitForConditionAndCancel waits for the conditions and then cancels the
// job.
func (o *PipelineOperator) WaitForConditionAndCancel(ctx context.Context, cfg Config, conds ...Condition) (Result, error) {
	return o.waitForConditionAnd(ctx, cfg, o.CancelJobAndFinish, conds)
}

func (o *PipelineOperator) waitForConditionAnd(ctx context.Context, cfg Config, stop func(context.Context, Config) (Result, error), conds []Condition) (Result, error) {
	start := time.Now()
	res, err := o.WaitForCondition(ctx, cfg, conds...)
	if err != nil || res != ResultConditionMet {
		return res, err
	}
	// The stop gets what is left of the timeout.
	rest := cfg
	if rest.Timeout -= time.Since(start); rest.Timeout <= 0 {
		rest.Timeout = time.Nanosecond
	}
	stopped, err := stop(ctx, rest)
	if err != nil {
		return 0, err
	}
	if stopped == ResultTimeout {
		return ResultTimeout, nil
	}
	return ResultConditionMet, nil
}

func (o *PipelineOperator) waitUntilDone(ctx context.Context, cfg Config, finished ...common.JobState) (Result, error) {
	return o.poll(ctx, cfg, func(state common.JobState) (Result, bool) {
		if state.IsDone() {
			return terminalResult(state, finished...), true
		}
		return 0, false
	})
}

// poll checks the job state every cfg.CheckAfter until check reports a
// result or cfg.Timeout passes. Status errors are logged and retried.
func (o *PipelineOperator) poll(ctx context.Context, cfg Config, check func(common.JobState) (Result, bool)) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	start := time.Now()
	deadline := start.Add(cfg.Timeout)
	for {
		state, err := o.launcher.GetJobStatus(ctx, cfg.Project, cfg.Region, cfg.JobID)
		if err != nil {
			log.Warnf(ctx, "Checking status of job %v: %v", cfg.JobID, err)
		} else if res, ok := check(state); ok {
			log.Infof(ctx, "Job %v is %v: %v", cfg.JobID, state, res)
			return res, nil
		} else {
			log.Debugf(ctx, "Job %v is %v, started waiting %v", cfg.JobID, state, humanize.Time(start))
		}

		wait := cfg.checkAfter()
		if left := time.Until(deadline); left <= 0 {
			log.Warnf(ctx, "Timed out waiting for job %v after %v", cfg.JobID, cfg.Timeout)
			return ResultTimeout, nil
		} else if left < wait {
			wait = left
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func terminalResult(state common.JobState, finished ...common.JobState) Result {
	for _, s := range finished {
		if state == s {
			return ResultLaunchFinished
		}
	}
	return ResultLaunchFailed
}

func allMet(ctx context.Context, conds []Condition) bool {
	for i, cond := range conds {
		ok, err := cond(ctx)
		if err != nil {
			log.Warnf(ctx, "Condition %d failed: %v", i, err)
			return false
		}
		if !ok {
			return false
		}
	}
	return true
}
