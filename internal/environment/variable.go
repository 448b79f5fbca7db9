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

// Package environment provides typed access to the environment variables
// read by the integration-test harness.
package environment

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	// Project is the Google Cloud project that hosts test jobs.
	Project Variable = "PROJECT"

	// Region is the Dataflow regional endpoint used for test jobs.
	Region Variable = "REGION"

	// ArtifactBucket is the GCS bucket used for staging and test output.
	ArtifactBucket Variable = "ARTIFACT_BUCKET"

	// DataflowEndpoint overrides the Dataflow API endpoint.
	DataflowEndpoint Variable = "DATAFLOW_ENDPOINT"

	// LogLevel selects the minimum severity emitted by the harness logger.
	LogLevel Variable = "LOG_LEVEL"

	// WaitTimeout bounds how long a launched job is waited for.
	WaitTimeout Variable = "WAIT_TIMEOUT"
)

// Variable names a system environment variable.
type Variable string

// Default assigns value to the system environment when v is not set.
func (v Variable) Default(value string) error {
	if v.Missing() {
		return os.Setenv(v.Key(), value)
	}
	return nil
}

// Missing reports whether the variable is unset or empty.
func (v Variable) Missing() bool {
	return v.Value() == ""
}

// Key returns the variable name.
func (v Variable) Key() string {
	return (string)(v)
}

// Value returns the variable value with surrounding whitespace removed.
func (v Variable) Value() string {
	return strings.TrimSpace(os.Getenv(v.Key()))
}

// Or returns the variable value, or fallback when it is missing.
func (v Variable) Or(fallback string) string {
	if v.Missing() {
		return fallback
	}
	return v.Value()
}

// Duration parses the variable value as a time.Duration.
func (v Variable) Duration() (time.Duration, error) {
	d, err := time.ParseDuration(v.Value())
	if err != nil {
		return 0, errors.Wrapf(err, "environment variable %s", v.Key())
	}
	return d, nil
}

// KeyValue returns "<key>=<value>".
func (v Variable) KeyValue() string {
	return fmt.Sprintf("%s=%s", v.Key(), v.Value())
}

// Missing returns an error listing every variable among vars that is not
// assigned, or nil when all are present.
func Missing(vars ...Variable) error {
	var missing []string
	for _, v := range vars {
		if v.Missing() {
			missing = append(missing, v.KeyValue())
		}
	}
	if len(missing) > 0 {
		return errors.Errorf("variables empty but expected from environment: %s", strings.Join(missing, "; "))
	}
	return nil
}
