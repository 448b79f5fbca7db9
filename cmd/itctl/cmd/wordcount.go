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

	"github.com/apache/beam/it/common"
	"github.com/apache/beam/it/dataflow"
	"github.com/apache/beam/it/gcp"
	"github.com/apache/beam/it/wordcount"
	"github.com/spf13/cobra"
	df "google.golang.org/api/dataflow/v1b3"
)

var (
	wordcountCmd = &cobra.Command{
		Use:   "wordcount",
		Short: "Run the word count pipeline and wait for it to finish",
		Args:  cobra.NoArgs,
		RunE:  wordcountE,
	}

	wcInput  string
	wcOutput string
	wcRunner string
	wcName   string
	wcWait   time.Duration
	wcBinary string
)

func init() {
	f := wordcountCmd.Flags()
	f.StringVar(&wcInput, "input", wordcount.KingLear, "Text to count the words of")
	f.StringVar(&wcOutput, "output", wordcount.OutputPrefix, "Prefix of the written counts")
	f.StringVar(&wcRunner, "pipeline-runner", "DataflowRunner", "DataflowRunner, DirectRunner or PrismRunner")
	f.StringVar(&wcName, "name", "test-wordcount", "Job name")
	f.DurationVar(&wcWait, "wait", gcp.DefaultWaitTimeout, "How long to wait for the job to finish; WAIT_TIMEOUT applies when unset")
	f.StringVar(&wcBinary, "worker-binary", "", "Prebuilt Linux worker binary staged for Dataflow instead of cross-compiling")
}

func wordcountE(cmd *cobra.Command, _ []string) error {
	defer syncLogger()
	ctx, cancel := signalContext(cmd)
	defer cancel()

	project, region := gcp.Project(), gcp.Region()
	var svc *df.Service
	// Local jobs finish in seconds; poll them more often.
	checkAfter := time.Second
	if dataflow.IsDataflowRunner(wcRunner) {
		checkAfter = 0
		var err error
		if project, region, err = projectAndRegion(); err != nil {
			return err
		}
		if svc, err = dataflow.NewClient(ctx); err != nil {
			return err
		}
	} else if project == "" {
		project = "local"
	}

	wait := wcWait
	if !cmd.Flags().Changed("wait") {
		var err error
		if wait, err = gcp.WaitTimeout(); err != nil {
			return err
		}
	}

	cfg, err := common.NewLaunchConfig(wcName,
		common.WithSdk(common.SdkGo),
		common.WithPipeline(wordcount.New(wcInput, wcOutput)),
		common.WithParameter(common.RunnerParameter, wcRunner),
		common.WithExecutable(wcBinary),
	)
	if err != nil {
		return err
	}
	l := dataflow.NewDefaultLauncher(svc)
	info, err := l.Launch(ctx, project, region, cfg)
	if err != nil {
		return err
	}
	printInfo(cmd, info)
	return await(ctx, cmd, l, info, gcp.CreateConfig(info, wait, checkAfter))
}
