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
	"time"

	"github.com/apache/beam/sdks/v2/go/pkg/beam/log"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	df "google.golang.org/api/dataflow/v1b3"
)

// LongRunningPrefix marks jobs that the Cleaner never cancels.
const LongRunningPrefix = "long-running-"

// JobLister lists and cancels jobs. The dataflow launchers implement it.
type JobLister interface {
	ListActiveJobs(ctx context.Context, project, region string) ([]*df.Job, error)
	CancelJob(ctx context.Context, project, region, jobID string) error
}

// Cleaner cancels test jobs that outlived their tests.
type Cleaner struct {
	Client JobLister
	// MaxAge is the age after which an active job is stale.
	MaxAge time.Duration
	// Parallelism bounds concurrent cancellations. Defaults to 8.
	Parallelism int
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Clean cancels the stale active jobs of project in region, excluding names
// with LongRunningPrefix, and returns the IDs it cancelled.
func (c *Cleaner) Clean(ctx context.Context, project, region string) ([]string, error) {
	now := time.Now()
	if c.Now != nil {
		now = c.Now()
	}
	jobs, err := c.Client.ListActiveJobs(ctx, project, region)
	if err != nil {
		return nil, err
	}

	var stale []*df.Job
	for _, j := range jobs {
		created, err := time.Parse(time.RFC3339, j.CreateTime)
		if err != nil {
			return nil, errors.Wrapf(err, "job %v has bad create time", j.Id)
		}
		age := now.Sub(created)
		log.Infof(ctx, "Job %v %v %v created %v", project, j.Id, j.Name, humanize.RelTime(created, now, "ago", "from now"))
		if age > c.MaxAge && !strings.HasPrefix(j.Name, LongRunningPrefix) {
			stale = append(stale, j)
		}
	}

	parallelism := c.Parallelism
	if parallelism <= 0 {
		parallelism = 8
	}
	var (
		mu        sync.Mutex
		cancelled []string
		g         errgroup.Group
	)
	g.SetLimit(parallelism)
	for _, j := range stale {
		g.Go(func() error {
			log.Infof(ctx, "Attempting to cancel %v", j.Id)
			if err := c.Client.CancelJob(ctx, project, region, j.Id); err != nil {
				return errors.Wrapf(err, "cancelling %v", j.Id)
			}
			mu.Lock()
			cancelled = append(cancelled, j.Id)
			mu.Unlock()
			return nil
		})
	}
	err = g.Wait()
	return cancelled, err
}
