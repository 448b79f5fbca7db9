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
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxJobNameLength is the longest job name Dataflow accepts.
const MaxJobNameLength = 63

var invalidJobNameChars = regexp.MustCompile(`[^a-z0-9-]+`)

// CreateJobName returns a unique Dataflow job name starting with a
// normalized form of prefix. Names are lowercase, start with a letter,
// contain only letters, digits and dashes, and never exceed MaxJobNameLength.
func CreateJobName(prefix string) string {
	return createJobName(prefix, time.Now().UTC(), uuid.NewString())
}

func createJobName(prefix string, now time.Time, id string) string {
	p := invalidJobNameChars.ReplaceAllString(strings.ToLower(prefix), "-")
	p = strings.Trim(p, "-")
	suffix := fmt.Sprintf("%s-%s", now.Format("20060102150405"), strings.ReplaceAll(id, "-", "")[:4])
	if p == "" || p[0] < 'a' || p[0] > 'z' {
		p = "job-" + p
		p = strings.TrimRight(p, "-")
	}
	// Leave room for the separator and the suffix.
	if limit := MaxJobNameLength - len(suffix) - 1; len(p) > limit {
		p = strings.TrimRight(p[:limit], "-")
	}
	return p + "-" + suffix
}
