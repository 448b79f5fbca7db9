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
	"strconv"
	"strings"

	"github.com/apache/beam/it/common"
	"github.com/apache/beam/sdks/v2/go/pkg/beam/log"
	"github.com/pkg/errors"
	df "google.golang.org/api/dataflow/v1b3"
)

// runtimeEnv holds the runtime environment options accepted by template
// launches.
type runtimeEnv struct {
	tempLocation        string
	maxWorkers          int64
	numWorkers          int64
	serviceAccountEmail string
	machineType         string
	experiments         []string
}

func parseEnvironment(env map[string]string) (runtimeEnv, error) {
	var ret runtimeEnv
	for k, v := range env {
		var err error
		switch k {
		case "tempLocation":
			ret.tempLocation = v
		case "maxWorkers":
			ret.maxWorkers, err = strconv.ParseInt(v, 10, 64)
		case "numWorkers":
			ret.numWorkers, err = strconv.ParseInt(v, 10, 64)
		case "serviceAccountEmail":
			ret.serviceAccountEmail = v
		case "machineType":
			ret.machineType = v
		case "additionalExperiments":
			for _, e := range strings.Split(v, ",") {
				if e = strings.TrimSpace(e); e != "" {
					ret.experiments = append(ret.experiments, e)
				}
			}
		default:
			return ret, errors.Errorf("unsupported environment option %q", k)
		}
		if err != nil {
			return ret, errors.Wrapf(err, "environment option %v", k)
		}
	}
	return ret, nil
}

// FlexTemplateLauncher launches jobs from Flex Template specs stored in GCS.
type FlexTemplateLauncher struct {
	*jobClient
}

var _ common.PipelineLauncher = (*FlexTemplateLauncher)(nil)

// NewFlexTemplateLauncher returns a launcher for Flex Templates.
func NewFlexTemplateLauncher(svc *df.Service, opts ...Option) *FlexTemplateLauncher {
	return &FlexTemplateLauncher{jobClient: newJobClient(svc, opts)}
}

// Launch starts the Flex Template at cfg.SpecPath() and waits until the job
// is active.
func (l *FlexTemplateLauncher) Launch(ctx context.Context, project, region string, cfg *common.LaunchConfig) (*common.LaunchInfo, error) {
	if cfg.SpecPath() == "" {
		return nil, common.ErrNoSpecPath
	}
	env, err := parseEnvironment(cfg.Environment())
	if err != nil {
		return nil, err
	}
	req := &df.LaunchFlexTemplateRequest{
		LaunchParameter: &df.LaunchFlexTemplateParameter{
			JobName:              cfg.JobName(),
			ContainerSpecGcsPath: cfg.SpecPath(),
			Parameters:           cfg.Parameters(),
			Environment: &df.FlexTemplateRuntimeEnvironment{
				TempLocation:          env.tempLocation,
				MaxWorkers:            env.maxWorkers,
				NumWorkers:            env.numWorkers,
				ServiceAccountEmail:   env.serviceAccountEmail,
				MachineType:           env.machineType,
				AdditionalExperiments: env.experiments,
			},
		},
	}
	log.Infof(ctx, "Launching flex template %v as %v", cfg.SpecPath(), cfg.JobName())
	var resp *df.LaunchFlexTemplateResponse
	err = l.callIf(ctx, "launch flex template", isThrottled, func() (err error) {
		resp, err = l.svc.Projects.Locations.FlexTemplates.Launch(project, region, req).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "launching flex template %v", cfg.SpecPath())
	}
	return l.started(ctx, project, region, resp.Job, cfg)
}

// ClassicTemplateLauncher launches jobs from classic templates stored in GCS.
type ClassicTemplateLauncher struct {
	*jobClient
}

var _ common.PipelineLauncher = (*ClassicTemplateLauncher)(nil)

// NewClassicTemplateLauncher returns a launcher for classic templates.
func NewClassicTemplateLauncher(svc *df.Service, opts ...Option) *ClassicTemplateLauncher {
	return &ClassicTemplateLauncher{jobClient: newJobClient(svc, opts)}
}

// Launch starts the template at cfg.SpecPath() and waits until the job is
// active.
func (l *ClassicTemplateLauncher) Launch(ctx context.Context, project, region string, cfg *common.LaunchConfig) (*common.LaunchInfo, error) {
	if cfg.SpecPath() == "" {
		return nil, common.ErrNoSpecPath
	}
	env, err := parseEnvironment(cfg.Environment())
	if err != nil {
		return nil, err
	}
	params := &df.LaunchTemplateParameters{
		JobName:    cfg.JobName(),
		Parameters: cfg.Parameters(),
		Environment: &df.RuntimeEnvironment{
			TempLocation:          env.tempLocation,
			MaxWorkers:            env.maxWorkers,
			NumWorkers:            env.numWorkers,
			ServiceAccountEmail:   env.serviceAccountEmail,
			MachineType:           env.machineType,
			AdditionalExperiments: env.experiments,
		},
	}
	log.Infof(ctx, "Launching template %v as %v", cfg.SpecPath(), cfg.JobName())
	var resp *df.LaunchTemplateResponse
	err = l.callIf(ctx, "launch template", isThrottled, func() (err error) {
		resp, err = l.svc.Projects.Locations.Templates.Launch(project, region, params).GcsPath(cfg.SpecPath()).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "launching template %v", cfg.SpecPath())
	}
	return l.started(ctx, project, region, resp.Job, cfg)
}

func (c *jobClient) started(ctx context.Context, project, region string, job *df.Job, cfg *common.LaunchConfig) (*common.LaunchInfo, error) {
	if job == nil || job.Id == "" {
		return nil, errors.Errorf("launching %v returned no job", cfg.JobName())
	}
	c.track(project, region, job.Id)
	job, err := c.waitUntilActive(ctx, project, region, job.Id)
	if err != nil {
		return nil, err
	}
	return launchInfo(job, project, region, "Dataflow", cfg), nil
}
