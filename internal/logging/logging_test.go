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

package logging

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/apache/beam/sdks/v2/go/pkg/beam/log"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zapcore"
)

type entry struct {
	Level  string `json:"level"`
	Logger string `json:"logger"`
	Msg    string `json:"msg"`
	Fatal  bool   `json:"fatal"`
}

func decode(t *testing.T, buf *bytes.Buffer) []entry {
	t.Helper()
	var got []entry
	s := bufio.NewScanner(buf)
	for s.Scan() {
		var e entry
		if err := json.Unmarshal(s.Bytes(), &e); err != nil {
			t.Fatalf("malformed entry %q: %v", s.Text(), err)
		}
		got = append(got, e)
	}
	return got
}

func TestLogger_Log(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	l := New("it", &buf, zapcore.InfoLevel)

	l.Log(ctx, log.SevDebug, 1, "dropped")
	l.Log(ctx, log.SevInfo, 1, "launched job\n")
	l.Log(ctx, log.SevWarn, 1, "slow")
	l.Log(ctx, log.SevError, 1, "failed")
	l.Log(ctx, log.SevFatal, 1, "fatal")
	l.Log(ctx, log.SevUnspecified, 1, "plain")

	want := []entry{
		{Level: "info", Logger: "it", Msg: "launched job"},
		{Level: "warn", Logger: "it", Msg: "slow"},
		{Level: "error", Logger: "it", Msg: "failed"},
		{Level: "error", Logger: "it", Msg: "fatal", Fatal: true},
		{Level: "info", Logger: "it", Msg: "plain"},
	}
	if diff := cmp.Diff(want, decode(t, &buf)); diff != "" {
		t.Errorf("logged entries mismatch (-want +got):\n%s", diff)
	}
}

func TestLogger_SetLevel(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	l := New("it", &buf, zapcore.ErrorLevel)
	l.Log(ctx, log.SevInfo, 1, "hidden")
	l.SetLevel(zapcore.DebugLevel)
	l.Log(ctx, log.SevDebug, 1, "shown")

	got := decode(t, &buf)
	if len(got) != 1 || got[0].Msg != "shown" {
		t.Errorf("entries after SetLevel = %+v, want only \"shown\"", got)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{in: "debug", want: zapcore.DebugLevel},
		{in: " INFO ", want: zapcore.InfoLevel},
		{in: "warn", want: zapcore.WarnLevel},
		{in: "error", want: zapcore.ErrorLevel},
		{in: "fatal", want: zapcore.FatalLevel},
		{in: "verbose", want: zapcore.InfoLevel, wantErr: true},
	}
	for _, test := range tests {
		got, err := ParseLevel(test.in)
		if (err != nil) != test.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", test.in, err, test.wantErr)
		}
		if got != test.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", test.in, got, test.want)
		}
	}
}
