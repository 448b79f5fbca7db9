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

// Package cmd implements the itctl commands.
package cmd

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/apache/beam/it/common"
	"github.com/apache/beam/it/gcp"
	"github.com/apache/beam/it/internal/logging"
	"github.com/apache/beam/it/operator"
	"github.com/apache/beam/sdks/v2/go/pkg/beam"
	"github.com/apache/beam/sdks/v2/go/pkg/beam/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	Root = &cobra.Command{
		Use:               "itctl",
		Short:             "itctl launches integration test pipelines on Dataflow and keeps the test project clean",
		SilenceUsage:      true,
		PersistentPreRunE: rootPreE,
		// Dataflow starts this binary without a subcommand to run it as a
		// worker. beam.Init in rootPreE takes over in that case.
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	logger *logging.Logger
)

func init() {
	// Beam and Dataflow runner options are plain Go flags.
	Root.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	Root.AddCommand(wordcountCmd, launchCmd, cleanupCmd)
}

func rootPreE(_ *cobra.Command, _ []string) error {
	beam.Init()
	var err error
	logger, err = logging.Install("itctl")
	return err
}

// signalContext returns a context cancelled on interrupt.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt)
}

func projectAndRegion() (string, string, error) {
	if err := gcp.RequireProject(); err != nil {
		return "", "", err
	}
	return gcp.Project(), gcp.Region(), nil
}

// await waits for the launched job, cancelling it if ctx is interrupted.
func await(ctx context.Context, cmd *cobra.Command, l common.PipelineLauncher, info *common.LaunchInfo, cfg operator.Config) error {
	res, err := operator.New(l).WaitUntilDone(ctx, cfg)
	if err != nil {
		if ctx.Err() != nil {
			log.Warnf(context.Background(), "Interrupted, cancelling %v", info.JobID)
			if cerr := l.CancelJob(context.Background(), cfg.Project, cfg.Region, info.JobID); cerr != nil {
				return errors.Wrap(cerr, err.Error())
			}
		}
		return err
	}
	cmd.Printf("%v: %v\n", info.JobID, res)
	if res != operator.ResultLaunchFinished {
		return errors.Errorf("job %v did not finish successfully: %v", info.JobID, res)
	}
	return nil
}

func printInfo(cmd *cobra.Command, info *common.LaunchInfo) {
	cmd.Printf("Launched %v as %v in %v/%v: %v\n", info.PipelineName, info.JobID, info.ProjectID, info.Region, info.State)
}

func syncLogger() {
	if logger != nil {
		_ = logger.Sync()
	}
}
