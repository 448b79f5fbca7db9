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

package common

import (
	"io"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Template kinds accepted in a LaunchSpec.
const (
	TemplateFlex    = "flex"
	TemplateClassic = "classic"
)

// LaunchSpec is the YAML form of a template launch.
//
//	jobName: teleport-wordcount
//	template: flex
//	specPath: gs://bucket/templates/wordcount.json
//	parameters:
//	  inputFile: gs://apache-beam-samples/shakespeare/kinglear.txt
//	environment:
//	  maxWorkers: "2"
type LaunchSpec struct {
	JobName     string            `yaml:"jobName"`
	Template    string            `yaml:"template"`
	SpecPath    string            `yaml:"specPath"`
	Sdk         string            `yaml:"sdk"`
	Parameters  map[string]string `yaml:"parameters"`
	Environment map[string]string `yaml:"environment"`
}

// DecodeLaunchSpec reads a single YAML LaunchSpec. Unknown fields are
// rejected; the template defaults to flex.
func DecodeLaunchSpec(r io.Reader) (*LaunchSpec, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var spec LaunchSpec
	if err := dec.Decode(&spec); err != nil {
		return nil, errors.Wrap(err, "decoding launch spec")
	}
	switch spec.Template {
	case "":
		spec.Template = TemplateFlex
	case TemplateFlex, TemplateClassic:
	default:
		return nil, errors.Errorf("unknown template kind %q, want %q or %q", spec.Template, TemplateFlex, TemplateClassic)
	}
	if spec.SpecPath == "" {
		return nil, ErrNoSpecPath
	}
	return &spec, nil
}

// ToLaunchConfig converts the spec. An empty job name is derived from the
// template kind with CreateJobName.
func (s *LaunchSpec) ToLaunchConfig() (*LaunchConfig, error) {
	sdk, err := ParseSdk(s.Sdk)
	if err != nil {
		return nil, err
	}
	name := s.JobName
	if name == "" {
		name = CreateJobName(s.Template + "-template")
	}
	opts := []LaunchOption{
		WithSdk(sdk),
		WithSpecPath(s.SpecPath),
		WithParameters(s.Parameters),
	}
	for k, v := range s.Environment {
		opts = append(opts, WithEnvironment(k, v))
	}
	return NewLaunchConfig(name, opts...)
}
