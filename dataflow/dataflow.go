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

// Package dataflow launches pipelines on Google Cloud Dataflow and monitors
// the jobs they create.
package dataflow

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/apache/beam/it/common"
	"github.com/apache/beam/it/internal/environment"
	"github.com/apache/beam/sdks/v2/go/pkg/beam/log"
	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/errgroup"
	df "google.golang.org/api/dataflow/v1b3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	// DefaultCheckInterval is the pause between job state polls.
	DefaultCheckInterval = 10 * time.Second

	// DefaultActiveTimeout bounds how long a launch waits for its job to
	// leave the pending states.
	DefaultActiveTimeout = 10 * time.Minute

	maxAttempts        = 3
	defaultRetryDelay  = time.Second
	cleanupParallelism = 8
)

// NewClient creates a Dataflow client. Without options it uses the default
// application credentials. DATAFLOW_ENDPOINT overrides the endpoint unless
// opts set one.
func NewClient(ctx context.Context, opts ...option.ClientOption) (*df.Service, error) {
	var base []option.ClientOption
	if len(opts) == 0 {
		cl, err := google.DefaultClient(ctx, df.CloudPlatformScope)
		if err != nil {
			return nil, errors.Wrap(err, "default credentials")
		}
		base = append(base, option.WithHTTPClient(cl))
	}
	if ep := environment.DataflowEndpoint.Value(); ep != "" {
		log.Infof(ctx, "Dataflow endpoint override: %s", ep)
		base = append(base, option.WithEndpoint(ep))
	}
	svc, err := df.NewService(ctx, append(base, opts...)...)
	if err != nil {
		return nil, errors.Wrap(err, "creating dataflow client")
	}
	return svc, nil
}

// Option configures a launcher.
type Option func(*jobClient)

// WithCheckInterval sets the pause between job state polls.
func WithCheckInterval(d time.Duration) Option {
	return func(c *jobClient) {
		c.checkInterval = d
	}
}

// WithActiveTimeout sets how long Launch waits for the job to start.
func WithActiveTimeout(d time.Duration) Option {
	return func(c *jobClient) {
		c.activeTimeout = d
	}
}

// WithRetryDelay sets the initial backoff between attempts of a failed
// API call.
func WithRetryDelay(d time.Duration) Option {
	return func(c *jobClient) {
		c.retryDelay = d
	}
}

var errNoClient = errors.New("launcher has no dataflow client")

type jobKey struct {
	project, region, id string
}

// jobClient implements the job queries shared by every launcher and keeps
// track of the jobs a launcher created.
type jobClient struct {
	svc           *df.Service
	checkInterval time.Duration
	activeTimeout time.Duration
	retryDelay    time.Duration

	mu       sync.Mutex
	launched []jobKey
}

func newJobClient(svc *df.Service, opts []Option) *jobClient {
	c := &jobClient{
		svc:           svc,
		checkInterval: DefaultCheckInterval,
		activeTimeout: DefaultActiveTimeout,
		retryDelay:    defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// isTransient reports whether a failed call is worth retrying.
func isTransient(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests || gerr.Code >= http.StatusInternalServerError
	}
	return false
}

// isThrottled reports whether the service rejected a call before acting on
// it. Launches are only retried on this.
func isThrottled(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusTooManyRequests
}

func (c *jobClient) call(ctx context.Context, name string, fn func() error) error {
	return c.callIf(ctx, name, isTransient, fn)
}

func (c *jobClient) callIf(ctx context.Context, name string, retryIf retry.RetryIfFunc, fn func() error) error {
	if c.svc == nil {
		return errNoClient
	}
	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(maxAttempts),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryIf),
		retry.OnRetry(func(n uint, err error) {
			log.Warnf(ctx, "%s failed on attempt %d: %v", name, n+1, err)
		}),
	)
}

func (c *jobClient) track(project, region, jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.launched = append(c.launched, jobKey{project, region, jobID})
}

// GetJob returns the job as reported by the service.
func (c *jobClient) GetJob(ctx context.Context, project, region, jobID string) (*df.Job, error) {
	var job *df.Job
	err := c.call(ctx, "get job", func() (err error) {
		job, err = c.svc.Projects.Locations.Jobs.Get(project, region, jobID).Context(ctx).Do()
		return err
	})
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			return nil, errors.Wrapf(common.ErrJobNotFound, "job %v in %v/%v", jobID, project, region)
		}
		return nil, errors.Wrapf(err, "getting job %v", jobID)
	}
	return job, nil
}

// GetJobStatus returns the current state of the job.
func (c *jobClient) GetJobStatus(ctx context.Context, project, region, jobID string) (common.JobState, error) {
	job, err := c.GetJob(ctx, project, region, jobID)
	if err != nil {
		return common.JobStateUnknown, err
	}
	return common.ParseJobState(job.CurrentState), nil
}

// ListActiveJobs returns the jobs of the project in region that have not
// finished.
func (c *jobClient) ListActiveJobs(ctx context.Context, project, region string) ([]*df.Job, error) {
	var jobs []*df.Job
	err := c.call(ctx, "list jobs", func() error {
		jobs = nil
		return c.svc.Projects.Locations.Jobs.List(project, region).Filter("ACTIVE").Pages(ctx, func(resp *df.ListJobsResponse) error {
			jobs = append(jobs, resp.Jobs...)
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrapf(err, "listing active jobs in %v/%v", project, region)
	}
	return jobs, nil
}

// CancelJob requests cancellation of the job.
func (c *jobClient) CancelJob(ctx context.Context, project, region, jobID string) error {
	return c.requestState(ctx, project, region, jobID, common.JobStateCancelled)
}

// DrainJob requests that the job drain.
func (c *jobClient) DrainJob(ctx context.Context, project, region, jobID string) error {
	return c.requestState(ctx, project, region, jobID, common.JobStateDrained)
}

func (c *jobClient) requestState(ctx context.Context, project, region, jobID string, state common.JobState) error {
	current, err := c.GetJobStatus(ctx, project, region, jobID)
	if err != nil {
		return err
	}
	if current.IsDone() {
		log.Infof(ctx, "Job %v is already %v, not requesting %v", jobID, current, state)
		return nil
	}
	log.Infof(ctx, "Requesting %v for job %v (currently %v)", state, jobID, current)
	err = c.call(ctx, "update job", func() error {
		_, err := c.svc.Projects.Locations.Jobs.Update(project, region, jobID, &df.Job{
			RequestedState: state.String(),
		}).Context(ctx).Do()
		return err
	})
	return errors.Wrapf(err, "requesting %v for job %v", state, jobID)
}

// ListMessages returns every job message at or above minImportance.
func (c *jobClient) ListMessages(ctx context.Context, project, region, jobID, minImportance string) ([]common.JobMessage, error) {
	if c.svc == nil {
		return nil, errNoClient
	}
	var ret []common.JobMessage
	token := ""
	for {
		call := c.svc.Projects.Locations.Jobs.Messages.List(project, region, jobID)
		if minImportance != "" {
			call.MinimumImportance(minImportance)
		}
		if token != "" {
			call.PageToken(token)
		}
		var resp *df.ListJobMessagesResponse
		err := c.call(ctx, "list messages", func() (err error) {
			resp, err = call.Context(ctx).Do()
			return err
		})
		if err != nil {
			return nil, errors.Wrapf(err, "listing messages of job %v", jobID)
		}
		for _, m := range resp.JobMessages {
			t, _ := time.Parse(time.RFC3339Nano, m.Time)
			ret = append(ret, common.JobMessage{
				ID:         m.Id,
				Time:       t,
				Importance: m.MessageImportance,
				Text:       m.MessageText,
			})
		}
		if token = resp.NextPageToken; token == "" {
			return ret, nil
		}
	}
}

// GetMetrics returns the committed scalar metrics of the job. Values
// reported for the same name by several steps are summed.
func (c *jobClient) GetMetrics(ctx context.Context, project, region, jobID string) (map[string]float64, error) {
	var resp *df.JobMetrics
	err := c.call(ctx, "get metrics", func() (err error) {
		resp, err = c.svc.Projects.Locations.Jobs.GetMetrics(project, region, jobID).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "getting metrics of job %v", jobID)
	}
	ret := make(map[string]float64)
	for _, m := range resp.Metrics {
		if m.Name == nil || m.Name.Context["tentative"] == "true" {
			continue
		}
		if v, ok := scalar(m.Scalar); ok {
			ret[m.Name.Name] += v
		}
	}
	return ret, nil
}

func scalar(v any) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// waitUntilActive polls the job until it runs. A job that finishes
// successfully before it is observed running is returned as is; any other
// terminal state is an error.
func (c *jobClient) waitUntilActive(ctx context.Context, project, region, jobID string) (*df.Job, error) {
	deadline := time.Now().Add(c.activeTimeout)
	for {
		job, err := c.GetJob(ctx, project, region, jobID)
		if err != nil {
			return nil, err
		}
		state := common.ParseJobState(job.CurrentState)
		switch {
		case state.IsActive(), state == common.JobStateDone:
			log.Infof(ctx, "Job %v is %v", jobID, state)
			return job, nil
		case state.IsDone(), state.IsFinishing():
			return job, errors.Errorf("job %v is %v before it became active", jobID, state)
		}
		if time.Now().After(deadline) {
			return job, errors.Errorf("job %v still %v after %v", jobID, state, c.activeTimeout)
		}
		log.Infof(ctx, "Job state: %v ...", state)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.checkInterval):
		}
	}
}

// Cleanup cancels every job launched through this client that has not
// finished yet.
func (c *jobClient) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	jobs := c.launched
	c.launched = nil
	c.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(cleanupParallelism)
	for _, j := range jobs {
		g.Go(func() error {
			return c.CancelJob(ctx, j.project, j.region, j.id)
		})
	}
	return g.Wait()
}

// launchInfo describes job as launched from cfg.
func launchInfo(job *df.Job, project, region, runner string, cfg *common.LaunchConfig) *common.LaunchInfo {
	created, _ := time.Parse(time.RFC3339Nano, job.CreateTime)
	info := &common.LaunchInfo{
		JobID:        job.Id,
		ProjectID:    project,
		Region:       region,
		State:        common.ParseJobState(job.CurrentState),
		CreateTime:   created,
		Sdk:          cfg.Sdk(),
		JobType:      job.Type,
		Runner:       runner,
		PipelineName: cfg.JobName(),
		Parameters:   cfg.Parameters(),
	}
	if job.ProjectId != "" {
		info.ProjectID = job.ProjectId
	}
	if job.Location != "" {
		info.Region = job.Location
	}
	if md := job.JobMetadata; md != nil && md.SdkVersion != nil {
		info.Version = md.SdkVersion.Version
	}
	return info
}
