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

// Package wordcount contains the word count pipeline launched by the
// integration tests.
package wordcount

import (
	"context"
	"fmt"
	"regexp"

	"github.com/apache/beam/sdks/v2/go/pkg/beam"
	"github.com/apache/beam/sdks/v2/go/pkg/beam/io/textio"
	"github.com/apache/beam/sdks/v2/go/pkg/beam/register"
	"github.com/apache/beam/sdks/v2/go/pkg/beam/transforms/filter"
	"github.com/apache/beam/sdks/v2/go/pkg/beam/transforms/stats"

	_ "github.com/apache/beam/sdks/v2/go/pkg/beam/io/filesystem/gcs"
	_ "github.com/apache/beam/sdks/v2/go/pkg/beam/io/filesystem/local"
)

const (
	// KingLear is the public sample text read by default.
	KingLear = "gs://apache-beam-samples/shakespeare/kinglear.txt"

	// OutputPrefix is the default prefix of the written counts.
	OutputPrefix = "wordcounts"
)

var (
	nonLetters = regexp.MustCompile(`[^\p{L}]+`)

	emptyLines = beam.NewCounter("wordcount", "emptyLines")
)

func init() {
	register.Function3x0(splitFn)
	register.Function1x1(isEmpty)
	register.Function2x1(formatFn)
	register.Emitter1[string]()
}

// SplitLine splits line on runs of non-letter characters. The result keeps
// the order of the tokens and may contain empty strings at either end.
func SplitLine(line string) []string {
	return nonLetters.Split(line, -1)
}

func splitFn(ctx context.Context, line string, emit func(string)) {
	letters := false
	for _, token := range SplitLine(line) {
		if token != "" {
			letters = true
		}
		emit(token)
	}
	if !letters {
		emptyLines.Inc(ctx, 1)
	}
}

func isEmpty(word string) bool {
	return word == ""
}

func formatFn(w string, c int) string {
	return fmt.Sprintf("%s: %v", w, c)
}

// ExtractWords converts a PCollection<string> of lines into the non-empty
// tokens they contain.
func ExtractWords(s beam.Scope, lines beam.PCollection) beam.PCollection {
	s = s.Scope("ExtractWords")
	tokens := beam.ParDo(s, splitFn, lines)
	return filter.Exclude(s, tokens, isEmpty)
}

// CountWords is a composite transform that counts the words of a PCollection
// of lines. It returns a PCollection<KV<string,int>> keyed by exact token.
func CountWords(s beam.Scope, lines beam.PCollection) beam.PCollection {
	s = s.Scope("CountWords")
	return stats.Count(s, ExtractWords(s, lines))
}

// Format formats each KV of a word and its count as "<word>: <count>".
func Format(s beam.Scope, counted beam.PCollection) beam.PCollection {
	return beam.ParDo(s, formatFn, counted)
}

// Build adds the complete word count to s: it reads input, counts the words
// and writes the formatted counts to output. No I/O happens until the
// pipeline is run.
func Build(s beam.Scope, input, output string) {
	lines := textio.Read(s, input)
	textio.Write(s, output, Format(s, CountWords(s, lines)))
}

// New returns a word count pipeline over input writing to output.
func New(input, output string) *beam.Pipeline {
	p, s := beam.NewPipelineWithRoot()
	Build(s, input, output)
	return p
}
