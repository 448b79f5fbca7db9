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

package dataflow

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/apache/beam/it/common"
	"github.com/apache/beam/sdks/v2/go/pkg/beam"
	"github.com/apache/beam/sdks/v2/go/pkg/beam/log"
	"github.com/pkg/errors"
	df "google.golang.org/api/dataflow/v1b3"

	// Runner registrations used by DefaultLauncher.
	_ "github.com/apache/beam/sdks/v2/go/pkg/beam/runners/dataflow"
	_ "github.com/apache/beam/sdks/v2/go/pkg/beam/runners/direct"
	_ "github.com/apache/beam/sdks/v2/go/pkg/beam/runners/prism"
)

const (
	runnerDataflow = "dataflow"
	localPrefix    = "local-"

	workerBinaryFlag = "worker_binary"
)

// runners maps the accepted runner parameter values to registered Beam
// runners.
var runners = map[string]string{
	"dataflowrunner": runnerDataflow,
	"dataflow":       runnerDataflow,
	"directrunner":   "direct",
	"direct":         "direct",
	"prismrunner":    "prism",
	"prism":          "prism",
}

// IsDataflowRunner reports whether runner names the remote Dataflow runner.
func IsDataflowRunner(runner string) bool {
	return runners[strings.ToLower(runner)] == runnerDataflow
}

// asyncFlags are the flags that make the Dataflow runner return as soon as
// the job is submitted. Only the ones registered in the binary are set.
var asyncFlags = []string{"async", "execute_async"}

// flagMu serializes submissions, which communicate with the Dataflow
// runner through process flags.
var flagMu sync.Mutex

// DefaultLauncher launches pipelines constructed in this process. The
// Dataflow runner submits them remotely; the direct and prism runners execute
// them in the background under a synthetic "local-<n>" job ID whose state is
// kept in memory.
type DefaultLauncher struct {
	*jobClient

	mu    sync.Mutex
	next  int
	local map[string]*localJob
}

var _ common.PipelineLauncher = (*DefaultLauncher)(nil)

// NewDefaultLauncher returns a launcher using svc for Dataflow jobs. svc may
// be nil when only local runners are used.
func NewDefaultLauncher(svc *df.Service, opts ...Option) *DefaultLauncher {
	return &DefaultLauncher{
		jobClient: newJobClient(svc, opts),
		local:     make(map[string]*localJob),
	}
}

// Launch runs the pipeline attached to cfg on the runner named by its
// runner parameter.
func (l *DefaultLauncher) Launch(ctx context.Context, project, region string, cfg *common.LaunchConfig) (*common.LaunchInfo, error) {
	if cfg.Pipeline() == nil {
		return nil, common.ErrNoPipeline
	}
	if cfg.Runner() == "" {
		return nil, common.ErrNoRunner
	}
	runner, ok := runners[strings.ToLower(cfg.Runner())]
	if !ok {
		return nil, errors.Errorf("unsupported runner %q", cfg.Runner())
	}
	log.Infof(ctx, "Launching %v on %v", cfg.JobName(), cfg.Runner())
	if runner == runnerDataflow {
		return l.launchDataflow(ctx, project, region, cfg)
	}
	return l.launchLocal(ctx, project, region, runner, cfg), nil
}

// submitFlags returns the process flags set while a Dataflow job is
// submitted.
func submitFlags(project, region string, cfg *common.LaunchConfig) map[string]string {
	flags := map[string]string{
		"project":  project,
		"region":   region,
		"job_name": cfg.JobName(),
	}
	for _, name := range asyncFlags {
		if flag.Lookup(name) != nil {
			flags[name] = "true"
		}
	}
	if exe := cfg.Executable(); exe != "" {
		flags[workerBinaryFlag] = exe
	}
	for k, v := range cfg.Parameters() {
		if k != common.RunnerParameter {
			flags[k] = v
		}
	}
	return flags
}

func (l *DefaultLauncher) launchDataflow(ctx context.Context, project, region string, cfg *common.LaunchConfig) (*common.LaunchInfo, error) {
	flags := submitFlags(project, region, cfg)

	flagMu.Lock()
	var res beam.PipelineResult
	restore, err := setFlags(flags)
	if err == nil {
		res, err = beam.Run(ctx, runnerDataflow, cfg.Pipeline())
		restore()
	}
	flagMu.Unlock()

	if res == nil || res.JobID() == "" {
		if err == nil {
			err = errors.New("no job id returned")
		}
		return nil, errors.Wrapf(err, "submitting %v", cfg.JobName())
	}
	if err != nil {
		log.Warnf(ctx, "Job %v submitted with error: %v", res.JobID(), err)
	}

	jobID := res.JobID()
	l.track(project, region, jobID)
	job, err := l.waitUntilActive(ctx, project, region, jobID)
	if err != nil {
		return nil, err
	}
	return launchInfo(job, project, region, cfg.Runner(), cfg), nil
}

// setFlags sets registered process flags and returns a function restoring
// their previous values.
func setFlags(values map[string]string) (func(), error) {
	old := make(map[string]string, len(values))
	restore := func() {
		for name, v := range old {
			_ = flag.Set(name, v)
		}
	}
	for name, v := range values {
		f := flag.Lookup(name)
		if f == nil {
			restore()
			return nil, errors.Errorf("parameter %q is not a registered flag", name)
		}
		old[name] = f.Value.String()
		if err := flag.Set(name, v); err != nil {
			restore()
			return nil, errors.Wrapf(err, "setting --%v", name)
		}
	}
	return restore, nil
}

func (l *DefaultLauncher) launchLocal(ctx context.Context, project, region, runner string, cfg *common.LaunchConfig) *common.LaunchInfo {
	l.mu.Lock()
	l.next++
	id := fmt.Sprintf("%s%d", localPrefix, l.next)
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	job := &localJob{
		id:      id,
		created: time.Now(),
		cancel:  cancel,
		state:   common.JobStateRunning,
	}
	l.local[id] = job
	l.mu.Unlock()

	job.addMessage("JOB_MESSAGE_BASIC", fmt.Sprintf("Running %v on %v", cfg.JobName(), runner))
	go job.run(runCtx, runner, cfg.Pipeline())

	return &common.LaunchInfo{
		JobID:        id,
		ProjectID:    project,
		Region:       region,
		State:        common.JobStateRunning,
		CreateTime:   job.created,
		Sdk:          cfg.Sdk(),
		JobType:      "JOB_TYPE_BATCH",
		Runner:       cfg.Runner(),
		PipelineName: cfg.JobName(),
		Parameters:   cfg.Parameters(),
	}
}

// lookupLocal returns the local job for jobID. ok is false for IDs that are
// not local.
func (l *DefaultLauncher) lookupLocal(jobID string) (job *localJob, ok bool, err error) {
	if !strings.HasPrefix(jobID, localPrefix) {
		return nil, false, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	job, found := l.local[jobID]
	if !found {
		return nil, true, errors.Wrapf(common.ErrJobNotFound, "local job %v", jobID)
	}
	return job, true, nil
}

// GetJobStatus returns the current state of the job.
func (l *DefaultLauncher) GetJobStatus(ctx context.Context, project, region, jobID string) (common.JobState, error) {
	job, ok, err := l.lookupLocal(jobID)
	if !ok {
		return l.jobClient.GetJobStatus(ctx, project, region, jobID)
	}
	if err != nil {
		return common.JobStateUnknown, err
	}
	return job.currentState(), nil
}

// CancelJob requests cancellation of the job.
func (l *DefaultLauncher) CancelJob(ctx context.Context, project, region, jobID string) error {
	job, ok, err := l.lookupLocal(jobID)
	if !ok {
		return l.jobClient.CancelJob(ctx, project, region, jobID)
	}
	if err != nil {
		return err
	}
	job.request(common.JobStateCancelling, common.JobStateCancelled)
	return nil
}

// DrainJob requests that the job drain.
func (l *DefaultLauncher) DrainJob(ctx context.Context, project, region, jobID string) error {
	job, ok, err := l.lookupLocal(jobID)
	if !ok {
		return l.jobClient.DrainJob(ctx, project, region, jobID)
	}
	if err != nil {
		return err
	}
	job.request(common.JobStateDraining, common.JobStateDrained)
	return nil
}

// ListMessages returns the job messages at or above minImportance.
func (l *DefaultLauncher) ListMessages(ctx context.Context, project, region, jobID, minImportance string) ([]common.JobMessage, error) {
	job, ok, err := l.lookupLocal(jobID)
	if !ok {
		return l.jobClient.ListMessages(ctx, project, region, jobID, minImportance)
	}
	if err != nil {
		return nil, err
	}
	return job.listMessages(minImportance), nil
}

// GetMetrics returns the committed metrics of the job.
func (l *DefaultLauncher) GetMetrics(ctx context.Context, project, region, jobID string) (map[string]float64, error) {
	job, ok, err := l.lookupLocal(jobID)
	if !ok {
		return l.jobClient.GetMetrics(ctx, project, region, jobID)
	}
	if err != nil {
		return nil, err
	}
	return job.metrics(), nil
}

// Cleanup cancels every unfinished job started by this launcher.
func (l *DefaultLauncher) Cleanup(ctx context.Context) error {
	l.mu.Lock()
	for _, job := range l.local {
		job.request(common.JobStateCancelling, common.JobStateCancelled)
	}
	l.mu.Unlock()
	return l.jobClient.Cleanup(ctx)
}

// localJob is a pipeline running in this process.
type localJob struct {
	id      string
	created time.Time
	cancel  context.CancelFunc

	mu        sync.Mutex
	state     common.JobState
	requested common.JobState
	result    beam.PipelineResult
	messages  []common.JobMessage
}

func (j *localJob) run(ctx context.Context, runner string, p *beam.Pipeline) {
	defer j.cancel()
	res, err := beam.Run(ctx, runner, p)

	j.mu.Lock()
	defer j.mu.Unlock()
	j.result = res
	switch {
	case j.requested != "":
		j.state = j.requested
	case err != nil:
		j.state = common.JobStateFailed
		j.addMessageLocked("JOB_MESSAGE_ERROR", err.Error())
		log.Errorf(ctx, "Job %v failed: %v", j.id, err)
	default:
		j.state = common.JobStateDone
	}
	j.addMessageLocked("JOB_MESSAGE_BASIC", fmt.Sprintf("Job %v finished in state %v", j.id, j.state))
}

func (j *localJob) currentState() common.JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// request moves an unfinished job to transient and records final as the
// state to report once the pipeline returns.
func (j *localJob) request(transient, final common.JobState) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.IsDone() || j.requested != "" {
		return
	}
	j.state, j.requested = transient, final
	j.cancel()
}

func (j *localJob) addMessage(importance, text string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.addMessageLocked(importance, text)
}

func (j *localJob) addMessageLocked(importance, text string) {
	j.messages = append(j.messages, common.JobMessage{
		ID:         fmt.Sprintf("%s-%d", j.id, len(j.messages)+1),
		Time:       time.Now(),
		Importance: importance,
		Text:       text,
	})
}

// importance orders Dataflow message importances.
var importance = map[string]int{
	"JOB_MESSAGE_DEBUG":    1,
	"JOB_MESSAGE_DETAILED": 2,
	"JOB_MESSAGE_BASIC":    3,
	"JOB_MESSAGE_WARNING":  4,
	"JOB_MESSAGE_ERROR":    5,
}

func (j *localJob) listMessages(minImportance string) []common.JobMessage {
	j.mu.Lock()
	defer j.mu.Unlock()
	var ret []common.JobMessage
	for _, m := range j.messages {
		if importance[m.Importance] >= importance[minImportance] {
			ret = append(ret, m)
		}
	}
	return ret
}

func (j *localJob) metrics() map[string]float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	ret := make(map[string]float64)
	if j.result == nil {
		return ret
	}
	for _, c := range j.result.Metrics().AllMetrics().Counters() {
		ret[c.Key.Name] += float64(c.Result())
	}
	return ret
}
