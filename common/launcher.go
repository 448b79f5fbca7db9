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

// Package common defines the contract between integration tests and the
// services that launch and monitor their pipelines.
package common

import (
	"context"
	"strings"
	"time"

	"github.com/apache/beam/sdks/v2/go/pkg/beam"
	"github.com/pkg/errors"
)

// Errors returned by launchers for invalid configurations or lookups.
var (
	ErrNoJobName   = errors.New("launch config has no job name")
	ErrNoPipeline  = errors.New("launch config has no pipeline")
	ErrNoRunner    = errors.New("launch config has no runner parameter")
	ErrNoSpecPath  = errors.New("launch config has no template spec path")
	ErrJobNotFound = errors.New("job not found")
)

// RunnerParameter is the launch parameter that selects the pipeline runner.
const RunnerParameter = "runner"

// Sdk identifies the SDK a pipeline is written with.
type Sdk int

const (
	SdkJava Sdk = iota
	SdkPython
	SdkGo
)

func (s Sdk) String() string {
	switch s {
	case SdkJava:
		return "JAVA"
	case SdkPython:
		return "PYTHON"
	case SdkGo:
		return "GO"
	default:
		return "UNKNOWN"
	}
}

// ParseSdk converts an SDK name, case-insensitively.
func ParseSdk(name string) (Sdk, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "JAVA":
		return SdkJava, nil
	case "PYTHON":
		return SdkPython, nil
	case "GO", "":
		return SdkGo, nil
	}
	return SdkGo, errors.Errorf("unknown sdk %q", name)
}

// LaunchConfig describes how to submit a pipeline. It is immutable once
// built by NewLaunchConfig.
type LaunchConfig struct {
	jobName     string
	sdk         Sdk
	pipeline    *beam.Pipeline
	specPath    string
	executable  string
	parameters  map[string]string
	environment map[string]string
}

// LaunchOption configures a LaunchConfig.
type LaunchOption func(*LaunchConfig)

// WithSdk selects the SDK of the pipeline. Defaults to SdkGo.
func WithSdk(sdk Sdk) LaunchOption {
	return func(c *LaunchConfig) {
		c.sdk = sdk
	}
}

// WithPipeline attaches a constructed pipeline for in-process launchers.
func WithPipeline(p *beam.Pipeline) LaunchOption {
	return func(c *LaunchConfig) {
		c.pipeline = p
	}
}

// WithSpecPath sets the GCS location of a template spec.
func WithSpecPath(path string) LaunchOption {
	return func(c *LaunchConfig) {
		c.specPath = path
	}
}

// WithExecutable names a prebuilt worker binary to stage instead of the
// running one.
func WithExecutable(path string) LaunchOption {
	return func(c *LaunchConfig) {
		c.executable = path
	}
}

// WithParameter adds a pipeline parameter. Later values for the same key win.
func WithParameter(key, value string) LaunchOption {
	return func(c *LaunchConfig) {
		c.parameters[key] = value
	}
}

// WithParameters adds every entry of params as a pipeline parameter.
func WithParameters(params map[string]string) LaunchOption {
	return func(c *LaunchConfig) {
		for k, v := range params {
			c.parameters[k] = v
		}
	}
}

// WithEnvironment adds a runtime environment option for template launches.
func WithEnvironment(key, value string) LaunchOption {
	return func(c *LaunchConfig) {
		c.environment[key] = value
	}
}

// NewLaunchConfig builds a LaunchConfig for the named job.
func NewLaunchConfig(jobName string, opts ...LaunchOption) (*LaunchConfig, error) {
	if strings.TrimSpace(jobName) == "" {
		return nil, ErrNoJobName
	}
	c := &LaunchConfig{
		jobName:     jobName,
		sdk:         SdkGo,
		parameters:  map[string]string{},
		environment: map[string]string{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// JobName returns the requested job name.
func (c *LaunchConfig) JobName() string { return c.jobName }

// Sdk returns the pipeline SDK.
func (c *LaunchConfig) Sdk() Sdk { return c.sdk }

// Pipeline returns the attached pipeline, if any.
func (c *LaunchConfig) Pipeline() *beam.Pipeline { return c.pipeline }

// SpecPath returns the template spec location, if any.
func (c *LaunchConfig) SpecPath() string { return c.specPath }

// Executable returns the worker binary location, if any.
func (c *LaunchConfig) Executable() string { return c.executable }

// Runner returns the runner parameter, or "" when unset.
func (c *LaunchConfig) Runner() string { return c.parameters[RunnerParameter] }

// Parameters returns a copy of the pipeline parameters.
func (c *LaunchConfig) Parameters() map[string]string { return copyMap(c.parameters) }

// Parameter returns a single pipeline parameter.
func (c *LaunchConfig) Parameter(key string) (string, bool) {
	v, ok := c.parameters[key]
	return v, ok
}

// Environment returns a copy of the runtime environment options.
func (c *LaunchConfig) Environment() map[string]string { return copyMap(c.environment) }

func copyMap(m map[string]string) map[string]string {
	ret := make(map[string]string, len(m))
	for k, v := range m {
		ret[k] = v
	}
	return ret
}

// LaunchInfo describes a job accepted by a launcher.
type LaunchInfo struct {
	JobID        string
	ProjectID    string
	Region       string
	State        JobState
	CreateTime   time.Time
	Sdk          Sdk
	Version      string
	JobType      string
	Runner       string
	PipelineName string
	Parameters   map[string]string
}

// JobMessage is a log message reported by the service for a job.
type JobMessage struct {
	ID         string
	Time       time.Time
	Importance string
	Text       string
}

// PipelineLauncher launches pipelines and answers questions about the jobs
// it launched.
type PipelineLauncher interface {
	// Launch submits the pipeline and returns once the job is active or has
	// failed to start.
	Launch(ctx context.Context, project, region string, cfg *LaunchConfig) (*LaunchInfo, error)

	// GetJobStatus returns the current state of the job.
	GetJobStatus(ctx context.Context, project, region, jobID string) (JobState, error)

	// ListMessages returns job messages at or above minImportance, such as
	// "JOB_MESSAGE_WARNING".
	ListMessages(ctx context.Context, project, region, jobID, minImportance string) ([]JobMessage, error)

	// CancelJob requests cancellation. It is a no-op for terminal jobs.
	CancelJob(ctx context.Context, project, region, jobID string) error

	// DrainJob requests a drain. It is a no-op for terminal jobs.
	DrainJob(ctx context.Context, project, region, jobID string) error

	// GetMetrics returns the committed scalar metrics of the job by name.
	GetMetrics(ctx context.Context, project, region, jobID string) (map[string]float64, error)

	// Cleanup cancels every job launched by this launcher that is still
	// running.
	Cleanup(ctx context.Context) error
}
