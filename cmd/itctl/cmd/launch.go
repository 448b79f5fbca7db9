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
	"os"
	"time"

	"github.com/apache/beam/it/common"
	"github.com/apache/beam/it/dataflow"
	"github.com/apache/beam/it/gcp"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	df "google.golang.org/api/dataflow/v1b3"
)

var (
	launchCmd = &cobra.Command{
		Use:   "launch <spec.yaml>",
		Short: "Launch a Flex or classic template described by a YAML spec",
		Args:  cobra.ExactArgs(1),
		RunE:  launchE,
	}

	launchWait time.Duration
)

func init() {
	launchCmd.Flags().DurationVar(&launchWait, "wait", 0, "How long to wait for the job to finish; 0 returns once it runs")
}

// readSpec decodes the launch spec stored at path.
func readSpec(path string) (*common.LaunchSpec, *common.LaunchConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	spec, err := common.DecodeLaunchSpec(f)
	if err != nil {
		return nil, nil, errors.WithMessage(err, path)
	}
	cfg, err := spec.ToLaunchConfig()
	if err != nil {
		return nil, nil, errors.WithMessage(err, path)
	}
	return spec, cfg, nil
}

// templateLauncher returns the launcher for the template kind.
func templateLauncher(kind string, svc *df.Service) (common.PipelineLauncher, error) {
	switch kind {
	case common.TemplateFlex:
		return dataflow.NewFlexTemplateLauncher(svc), nil
	case common.TemplateClassic:
		return dataflow.NewClassicTemplateLauncher(svc), nil
	default:
		return nil, errors.Errorf("unknown template kind %q", kind)
	}
}

func launchE(cmd *cobra.Command, args []string) error {
	defer syncLogger()
	ctx, cancel := signalContext(cmd)
	defer cancel()

	spec, cfg, err := readSpec(args[0])
	if err != nil {
		return err
	}
	project, region, err := projectAndRegion()
	if err != nil {
		return err
	}
	svc, err := dataflow.NewClient(ctx)
	if err != nil {
		return err
	}
	l, err := templateLauncher(spec.Template, svc)
	if err != nil {
		return err
	}
	info, err := l.Launch(ctx, project, region, cfg)
	if err != nil {
		return err
	}
	printInfo(cmd, info)
	if launchWait <= 0 {
		return nil
	}
	return await(ctx, cmd, l, info, gcp.CreateConfig(info, launchWait, 0))
}
