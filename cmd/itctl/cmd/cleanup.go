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

package cmd

import (
	"time"

	"github.com/apache/beam/it/dataflow"
	"github.com/apache/beam/it/operator"
	"github.com/spf13/cobra"
)

var (
	cleanupCmd = &cobra.Command{
		Use:   "cleanup",
		Short: "Cancel active jobs older than --max-age, except long-running ones",
		Args:  cobra.NoArgs,
		RunE:  cleanupE,
	}

	maxAge      time.Duration
	parallelism int
)

func init() {
	cleanupCmd.Flags().DurationVar(&maxAge, "max-age", 3*time.Hour, "Age after which an active job is stale")
	cleanupCmd.Flags().IntVar(&parallelism, "parallelism", 8, "Concurrent cancellations")
}

func cleanupE(cmd *cobra.Command, _ []string) error {
	defer syncLogger()
	ctx, cancel := signalContext(cmd)
	defer cancel()

	project, region, err := projectAndRegion()
	if err != nil {
		return err
	}
	svc, err := dataflow.NewClient(ctx)
	if err != nil {
		return err
	}
	c := &operator.Cleaner{
		Client:      dataflow.NewDefaultLauncher(svc),
		MaxAge:      maxAge,
		Parallelism: parallelism,
	}
	cancelled, err := c.Clean(ctx, project, region)
	for _, id := range cancelled {
		cmd.Println(id)
	}
	return err
}
