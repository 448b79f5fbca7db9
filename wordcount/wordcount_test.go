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

package wordcount

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/apache/beam/sdks/v2/go/pkg/beam"
	"github.com/apache/beam/sdks/v2/go/pkg/beam/io/filesystem"
	"github.com/apache/beam/sdks/v2/go/pkg/beam/io/filesystem/memfs"
	"github.com/apache/beam/sdks/v2/go/pkg/beam/testing/passert"
	"github.com/apache/beam/sdks/v2/go/pkg/beam/testing/ptest"
	"github.com/google/go-cmp/cmp"

	_ "github.com/apache/beam/sdks/v2/go/pkg/beam/runners/direct"
)

func TestMain(m *testing.M) {
	ptest.MainWithDefault(m, "direct")
}

func TestSplitLine(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"Fie, fie, fie!", []string{"Fie", "fie", "fie", ""}},
		{"", []string{""}},
		{"   ", []string{"", ""}},
		{"O, let me not be mad", []string{"O", "let", "me", "not", "be", "mad"}},
		{"Nothing will come of nothing: speak again.", []string{"Nothing", "will", "come", "of", "nothing", "speak", "again", ""}},
		{"Gloucester's eyes", []string{"Gloucester", "s", "eyes"}},
		{"naïve Straße", []string{"naïve", "Straße"}},
		{"12 3", []string{"", ""}},
	}
	for _, test := range tests {
		if diff := cmp.Diff(test.want, SplitLine(test.line)); diff != "" {
			t.Errorf("SplitLine(%q) mismatch (-want +got):\n%s", test.line, diff)
		}
	}
}

func TestCountWords(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		want  []any
	}{
		{
			name:  "case preserved",
			lines: []string{"Fie, fie, fie!"},
			want:  []any{"Fie: 1", "fie: 2"},
		},
		{
			name:  "merged across lines",
			lines: []string{"Fie, fie, fie!", "fie upon it", "", "--"},
			want:  []any{"Fie: 1", "fie: 3", "upon: 1", "it: 1"},
		},
		{
			name:  "no letters",
			lines: []string{"", "1234", "!!"},
			want:  nil,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			p, s, lines := ptest.CreateList(test.lines)
			formatted := Format(s, CountWords(s, lines))
			passert.Equals(s, formatted, test.want...)
			if err := ptest.Run(p); err != nil {
				t.Fatalf("pipeline failed: %v", err)
			}
		})
	}
}

func TestNew(t *testing.T) {
	ctx := context.Background()
	const (
		input  = "memfs://wordcount/lear.txt"
		output = "memfs://wordcount/wordcounts"
	)
	memfs.Write(input, []byte(strings.Join([]string{
		"How sharper than a serpent's tooth it is",
		"To have a thankless child!",
		"",
		"Fie, fie, fie!",
	}, "\n")))

	if err := ptest.Run(New(input, output)); err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}

	got := readLines(ctx, t, output)
	want := []string{
		"Fie: 1", "How: 1", "To: 1", "a: 2", "child: 1", "fie: 2", "have: 1",
		"is: 1", "it: 1", "s: 1", "serpent: 1", "sharper: 1", "than: 1",
		"thankless: 1", "tooth: 1",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("written counts mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_NoIO(t *testing.T) {
	p, s := beam.NewPipelineWithRoot()
	// Neither location exists; construction must not touch them.
	Build(s, "memfs://does/not/exist", "memfs://nowhere/out")
	edges, _, err := p.Build()
	if err != nil {
		t.Fatalf("Build() = %v", err)
	}
	if len(edges) == 0 {
		t.Error("Build() produced an empty graph")
	}
}

func readLines(ctx context.Context, t *testing.T, filename string) []string {
	t.Helper()
	fs, err := filesystem.New(ctx, filename)
	if err != nil {
		t.Fatalf("filesystem for %v: %v", filename, err)
	}
	defer fs.Close()
	r, err := fs.OpenRead(ctx, filename)
	if err != nil {
		t.Fatalf("open %v: %v", filename, err)
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read %v: %v", filename, err)
	}
	var lines []string
	for _, l := range strings.Split(string(b), "\n") {
		if l != "" {
			lines = append(lines, l)
		}
	}
	sort.Strings(lines)
	return lines
}

func ExampleSplitLine() {
	fmt.Printf("%q\n", SplitLine("Fie, fie, fie!"))
	// Output: ["Fie" "fie" "fie" ""]
}
