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

// Package truthmatchers provides fluent assertions for integration tests.
//
//	info, err := launcher.Launch(ctx, project, region, cfg)
//	truthmatchers.RequireThatPipeline(t, info).IsRunning()
//	res, err := op.WaitUntilDone(ctx, gcp.CreateConfig(info, 20*time.Minute))
//	truthmatchers.AssertThatResult(t, res).IsLaunchFinished()
//
// Assert variants record a failure and continue; Require variants stop the
// test. Every assertion reports whether it held.
package truthmatchers

import (
	"sort"

	"github.com/apache/beam/it/common"
	"github.com/apache/beam/it/operator"
	"github.com/google/go-cmp/cmp"
)

// TB is the part of testing.TB the assertions use.
type TB interface {
	Helper()
	Errorf(format string, args ...any)
	FailNow()
}

type subject struct {
	t     TB
	fatal bool
}

func (s subject) check(ok bool, format string, args ...any) bool {
	s.t.Helper()
	if ok {
		return true
	}
	s.t.Errorf(format, args...)
	if s.fatal {
		s.t.FailNow()
	}
	return false
}

// PipelineAssert asserts on a launched pipeline.
type PipelineAssert struct {
	subject
	info *common.LaunchInfo
}

// AssertThatPipeline starts an assertion on info.
func AssertThatPipeline(t TB, info *common.LaunchInfo) *PipelineAssert {
	return &PipelineAssert{subject{t: t}, info}
}

// RequireThatPipeline is AssertThatPipeline stopping the test on failure.
func RequireThatPipeline(t TB, info *common.LaunchInfo) *PipelineAssert {
	return &PipelineAssert{subject{t: t, fatal: true}, info}
}

// IsRunning asserts that the pipeline is in an active state.
func (a *PipelineAssert) IsRunning() bool {
	a.t.Helper()
	if a.info == nil {
		return a.check(false, "no pipeline launched, expected a running pipeline")
	}
	return a.check(a.info.State.IsActive(),
		"pipeline %v is %v, expected a running state", a.info.JobID, a.info.State)
}

// HasState asserts that the pipeline is in state.
func (a *PipelineAssert) HasState(state common.JobState) bool {
	a.t.Helper()
	if a.info == nil {
		return a.check(false, "no pipeline launched, expected state %v", state)
	}
	return a.check(a.info.State == state,
		"pipeline %v is %v, expected %v", a.info.JobID, a.info.State, state)
}

// ResultAssert asserts on the outcome of an operator wait.
type ResultAssert struct {
	subject
	result operator.Result
}

// AssertThatResult starts an assertion on res.
func AssertThatResult(t TB, res operator.Result) *ResultAssert {
	return &ResultAssert{subject{t: t}, res}
}

// RequireThatResult is AssertThatResult stopping the test on failure.
func RequireThatResult(t TB, res operator.Result) *ResultAssert {
	return &ResultAssert{subject{t: t, fatal: true}, res}
}

func (a *ResultAssert) is(want operator.Result) bool {
	a.t.Helper()
	return a.check(a.result == want, "pipeline result is %v, expected %v", a.result, want)
}

// IsLaunchFinished asserts that the job finished successfully.
func (a *ResultAssert) IsLaunchFinished() bool {
	a.t.Helper()
	return a.is(operator.ResultLaunchFinished)
}

// IsLaunchFailed asserts that the job stopped unsuccessfully.
func (a *ResultAssert) IsLaunchFailed() bool {
	a.t.Helper()
	return a.is(operator.ResultLaunchFailed)
}

// HasTimedOut asserts that the wait gave up.
func (a *ResultAssert) HasTimedOut() bool {
	a.t.Helper()
	return a.is(operator.ResultTimeout)
}

// MeetsConditions asserts that the awaited conditions held.
func (a *ResultAssert) MeetsConditions() bool {
	a.t.Helper()
	return a.is(operator.ResultConditionMet)
}

// LinesAssert asserts on lines of pipeline output.
type LinesAssert struct {
	subject
	lines []string
}

// AssertThatLines starts an assertion on lines.
func AssertThatLines(t TB, lines []string) *LinesAssert {
	return &LinesAssert{subject{t: t}, lines}
}

// RequireThatLines is AssertThatLines stopping the test on failure.
func RequireThatLines(t TB, lines []string) *LinesAssert {
	return &LinesAssert{subject{t: t, fatal: true}, lines}
}

// HasSize asserts the number of lines.
func (a *LinesAssert) HasSize(n int) bool {
	a.t.Helper()
	return a.check(len(a.lines) == n, "got %d lines, expected %d", len(a.lines), n)
}

// ContainsExactlyInAnyOrder asserts that the lines are want, ignoring order
// but not duplicates.
func (a *LinesAssert) ContainsExactlyInAnyOrder(want ...string) bool {
	a.t.Helper()
	diff := cmp.Diff(sorted(want), sorted(a.lines))
	return a.check(diff == "", "lines mismatch (-want +got):\n%s", diff)
}

// Contains asserts that every line of want is present.
func (a *LinesAssert) Contains(want ...string) bool {
	a.t.Helper()
	have := make(map[string]bool, len(a.lines))
	for _, l := range a.lines {
		have[l] = true
	}
	var missing []string
	for _, w := range want {
		if !have[w] {
			missing = append(missing, w)
		}
	}
	return a.check(len(missing) == 0, "missing lines %q", missing)
}

func sorted(lines []string) []string {
	ret := append([]string{}, lines...)
	sort.Strings(ret)
	return ret
}
