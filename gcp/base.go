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

// Package gcp holds the shared setup of integration tests that run against
// Google Cloud, and the word count integration tests.
package gcp

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/apache/beam/it/common"
	"github.com/apache/beam/it/dataflow"
	"github.com/apache/beam/it/internal/environment"
	"github.com/apache/beam/it/operator"
	"github.com/apache/beam/sdks/v2/go/pkg/beam/log"
	"github.com/apache/beam/sdks/v2/go/pkg/beam/options/gcpopts"
	"github.com/pkg/errors"
)

const (
	// DefaultRegion is used when neither --region nor REGION is set.
	DefaultRegion = "us-central1"

	// DefaultWaitTimeout is used when WAIT_TIMEOUT is not set.
	DefaultWaitTimeout = 20 * time.Minute
)

const stagingFlag = "staging_location"

// Project returns the --project flag, falling back to PROJECT.
func Project() string {
	if *gcpopts.Project != "" {
		return *gcpopts.Project
	}
	return environment.Project.Value()
}

// RequireProject returns an error naming the missing setting when no project
// is configured.
func RequireProject() error {
	if Project() != "" {
		return nil
	}
	return errors.Wrap(environment.Missing(environment.Project), "no Google Cloud project: set --project or PROJECT")
}

// WaitTimeout returns WAIT_TIMEOUT, assigning DefaultWaitTimeout to it when
// unset.
func WaitTimeout() (time.Duration, error) {
	if err := environment.WaitTimeout.Default(DefaultWaitTimeout.String()); err != nil {
		return 0, errors.Wrap(err, "defaulting wait timeout")
	}
	return environment.WaitTimeout.Duration()
}

// Region returns the --region flag, falling back to REGION and then to
// DefaultRegion.
func Region() string {
	if *gcpopts.Region != "" {
		return *gcpopts.Region
	}
	return environment.Region.Or(DefaultRegion)
}

// ArtifactBucket returns the bucket for staged and written test files, or "".
func ArtifactBucket() string {
	return strings.TrimPrefix(environment.ArtifactBucket.Value(), "gs://")
}

// ArtifactPath returns a location under the artifact bucket, or "" without
// one.
func ArtifactPath(parts ...string) string {
	bucket := ArtifactBucket()
	if bucket == "" {
		return ""
	}
	return "gs://" + strings.Join(append([]string{bucket}, parts...), "/")
}

// StagingLocation returns --staging_location, or a path derived from the
// artifact bucket.
func StagingLocation() string {
	if f := flag.Lookup(stagingFlag); f != nil && f.Value.String() != "" {
		return f.Value.String()
	}
	return ArtifactPath("staging")
}

// TestBase bundles what an integration test needs to launch and watch
// jobs.
type TestBase struct {
	Project  string
	Region   string
	Launcher common.PipelineLauncher
	Operator *operator.PipelineOperator
	// CheckAfter is copied into the configs built by CreateConfig.
	CheckAfter time.Duration
}

// NewTestBase returns a base launching on Dataflow. The test is skipped
// when no project is configured. Jobs still running when the test ends are
// cancelled.
func NewTestBase(t *testing.T, opts ...dataflow.Option) *TestBase {
	t.Helper()
	if err := RequireProject(); err != nil {
		t.Skip(err)
	}
	project := Project()
	ctx := context.Background()
	if loc := StagingLocation(); loc != "" {
		if err := flag.Set(stagingFlag, loc); err != nil {
			t.Fatalf("setting --%v: %v", stagingFlag, err)
		}
	}
	svc, err := dataflow.NewClient(ctx)
	if err != nil {
		t.Fatalf("creating dataflow client: %v", err)
	}
	return newTestBase(t, project, Region(), dataflow.NewDefaultLauncher(svc, opts...))
}

// NewLocalTestBase returns a base whose launcher only runs pipelines in
// process.
func NewLocalTestBase(t *testing.T, opts ...dataflow.Option) *TestBase {
	t.Helper()
	project := Project()
	if project == "" {
		project = "local"
	}
	return newTestBase(t, project, Region(), dataflow.NewDefaultLauncher(nil, opts...))
}

func newTestBase(t *testing.T, project, region string, l common.PipelineLauncher) *TestBase {
	t.Cleanup(func() {
		ctx := context.Background()
		if err := l.Cleanup(ctx); err != nil {
			log.Warnf(ctx, "Cleaning up jobs of %v: %v", t.Name(), err)
		}
	})
	return &TestBase{
		Project:  project,
		Region:   region,
		Launcher: l,
		Operator: operator.New(l),
	}
}

// CreateConfig returns an operator config for the launched job.
func (b *TestBase) CreateConfig(info *common.LaunchInfo, timeout time.Duration) operator.Config {
	return CreateConfig(info, timeout, b.CheckAfter)
}

// CreateConfig returns an operator config waiting at most timeout for the
// launched job. A zero checkAfter selects the operator default.
func CreateConfig(info *common.LaunchInfo, timeout, checkAfter time.Duration) operator.Config {
	return operator.Config{
		Project:    info.ProjectID,
		Region:     info.Region,
		JobID:      info.JobID,
		Timeout:    timeout,
		CheckAfter: checkAfter,
	}
}

// JobName returns a unique job name for the running test.
func JobName(t *testing.T) string {
	return common.CreateJobName(fmt.Sprintf("it-%s", t.Name()))
}
