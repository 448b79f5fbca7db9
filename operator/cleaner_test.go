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
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	df "google.golang.org/api/dataflow/v1b3"
)

var currentTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeLister struct {
	jobs      []*df.Job
	listErr   error
	cancelErr error

	mu        sync.Mutex
	cancelled []string
}

func (f *fakeLister) ListActiveJobs(ctx context.Context, project, region string) ([]*df.Job, error) {
	return f.jobs, f.listErr
}

func (f *fakeLister) CancelJob(ctx context.Context, project, region, jobID string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, jobID)
	return nil
}

func job(id, name string, age time.Duration) *df.Job {
	return &df.Job{Id: id, Name: name, CreateTime: currentTime.Add(-age).Format(time.RFC3339)}
}

func clean(t *testing.T, f *fakeLister) []string {
	t.Helper()
	c := &Cleaner{Client: f, MaxAge: 2 * time.Hour, Now: func() time.Time { return currentTime }}
	got, err := c.Clean(context.Background(), "some-project-id", "us-central1")
	if err != nil {
		t.Fatalf("Clean() = %v", err)
	}
	sort.Strings(got)
	return got
}

func TestClean_EmptyJobList(t *testing.T) {
	if got := clean(t, &fakeLister{}); len(got) != 0 {
		t.Errorf("Clean() cancelled %v, want nothing", got)
	}
}

func TestClean_NotExpiredJob(t *testing.T) {
	// Just under 2 hours.
	f := &fakeLister{jobs: []*df.Job{job("j1", "test-wordcount", 2*time.Hour-time.Second)}}
	if got := clean(t, f); len(got) != 0 {
		t.Errorf("Clean() cancelled %v, want nothing", got)
	}
}

func TestClean_ExpiredJobs(t *testing.T) {
	f := &fakeLister{jobs: []*df.Job{
		job("j1", "test-wordcount", 2*time.Hour+time.Second),
		job("j2", "long-running-nexmark", 48*time.Hour),
		job("j3", "test-wordcount-2", 3*time.Hour),
		job("j4", "fresh", time.Minute),
	}}
	got := clean(t, f)
	if diff := cmp.Diff([]string{"j1", "j3"}, got); diff != "" {
		t.Errorf("Clean() mismatch (-want +got):\n%s", diff)
	}
	sort.Strings(f.cancelled)
	if diff := cmp.Diff(got, f.cancelled); diff != "" {
		t.Errorf("cancel requests mismatch (-want +got):\n%s", diff)
	}
}

func TestClean_Errors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	c := &Cleaner{Client: &fakeLister{listErr: boom}, MaxAge: time.Hour}
	if _, err := c.Clean(ctx, "p", "r"); !errors.Is(err, boom) {
		t.Errorf("Clean(list error) = %v, want %v", err, boom)
	}

	c.Client = &fakeLister{jobs: []*df.Job{{Id: "bad", CreateTime: "yesterday"}}}
	if _, err := c.Clean(ctx, "p", "r"); err == nil {
		t.Error("Clean(bad create time) succeeded, want error")
	}

	c.Client = &fakeLister{jobs: []*df.Job{job("j1", "old", 24*time.Hour)}, cancelErr: boom}
	c.Now = func() time.Time { return currentTime }
	if _, err := c.Clean(ctx, "p", "r"); !errors.Is(err, boom) {
		t.Errorf("Clean(cancel error) = %v, want %v", err, boom)
	}
}
