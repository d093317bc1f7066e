package formatter

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"cfn-failing-stacks/analyzer"
)

var ts = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func sampleReport() analyzer.Report {
	return analyzer.Report{
		StackName: "demo",
		Window:    analyzer.TimeWindow{Start: ts.Add(-time.Hour), End: ts.Add(time.Hour)},
		Events: []analyzer.FailureEvent{
			{
				StackEvent: analyzer.StackEvent{
					StackId:              "arn:demo",
					LogicalResourceId:    "Nested",
					PhysicalResourceId:   "arn:child",
					ResourceType:         "AWS::CloudFormation::Stack",
					ResourceStatus:       "UPDATE_FAILED",
					ResourceStatusReason: "Embedded stack arn:child was not successfully updated",
					Timestamp:            ts,
				},
				Time:        ts.Format(time.RFC3339),
				ParentStack: "demo",
			},
			{
				StackEvent: analyzer.StackEvent{
					StackId:              "arn:child",
					LogicalResourceId:    "Function",
					ResourceType:         "AWS::Lambda::Function",
					ResourceStatus:       "CREATE_FAILED",
					ResourceStatusReason: "Internal Failure",
					Timestamp:            ts.Add(-time.Minute),
				},
				Properties:      map[string]any{"Runtime": "go1.x"},
				Time:            ts.Add(-time.Minute).Format(time.RFC3339),
				Depth:           1,
				ParentStack:     "arn:child",
				DetailedMessage: "role <arn> cannot be assumed",
			},
		},
	}
}

func TestRenderJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, sampleReport(), Options{Format: FormatJSON}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "[\n\t{\n\t\t\"StackId\"") {
		t.Fatalf("expected tab indented array, got:\n%s", out)
	}
	if !strings.Contains(out, "role <arn> cannot be assumed") {
		t.Fatalf("html escaping should be disabled:\n%s", out)
	}

	var decoded []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid json: %v", err)
	}
	if len(decoded) != 2 || decoded[1]["LogicalResourceId"] != "Function" || decoded[1]["Depth"] != float64(1) {
		t.Fatalf("unexpected decoded output %+v", decoded)
	}
	if _, ok := decoded[0]["Properties"]; ok {
		t.Fatalf("absent properties should be omitted")
	}
}

func TestRenderJSONEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, analyzer.Report{StackName: "demo"}, Options{}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Fatalf("expected empty array, got %q", buf.String())
	}
}

func TestRenderYAML(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, sampleReport(), Options{Format: FormatYAML}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(buf.String(), "- Depth: 0") || !strings.Contains(buf.String(), "LogicalResourceId: Function") {
		t.Fatalf("unexpected yaml:\n%s", buf.String())
	}
}

func TestRenderTextIndentsNestedFailures(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, sampleReport(), Options{Format: FormatText}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("colour codes emitted with colour disabled")
	}
	for _, want := range []string{"Stack:    demo", "Failures: 2", "[1] Nested AWS::CloudFormation::Stack", "  [2] Function AWS::Lambda::Function", "    Detail: role <arn> cannot be assumed"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestRenderTextColor(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, sampleReport(), Options{Format: FormatText, Color: true}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(buf.String(), "\x1b[31m") {
		t.Fatalf("expected red escape codes")
	}
}

func TestRenderTextEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, analyzer.Report{StackName: "demo"}, Options{Format: FormatText}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(buf.String(), "No failed resources found") {
		t.Fatalf("unexpected output:\n%s", buf.String())
	}
}

func TestRenderCompact(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, sampleReport(), Options{Format: FormatCompact}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[1], "| >Function | CREATE_FAILED | arn:child | role <arn> cannot be assumed") {
		t.Fatalf("unexpected line %q", lines[1])
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"abcdefghij", 10, "abcdefghij"},
		{"abcdefghijk", 10, "abcdefg..."},
		{strings.Repeat("é", 12), 10, strings.Repeat("é", 7) + "..."},
		{"日本語のエラーメッセージです", 8, "日本語のエ..."},
	}
	for _, tc := range cases {
		got := truncate(tc.in, tc.max)
		if got != tc.want {
			t.Fatalf("truncate(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
		if !utf8.ValidString(got) {
			t.Fatalf("truncate(%q, %d) produced invalid UTF-8", tc.in, tc.max)
		}
	}
}

func TestRenderCompactMultiByteDetail(t *testing.T) {
	report := sampleReport()
	report.Events = report.Events[1:]
	report.Events[0].DetailedMessage = strings.Repeat("ü", compactDetail+20)
	out := FormatCompactReport(report)
	if !utf8.ValidString(out) {
		t.Fatalf("compact output is not valid UTF-8: %q", out)
	}
	if !strings.Contains(out, strings.Repeat("ü", compactDetail-3)+"...") {
		t.Fatalf("unexpected truncation: %q", out)
	}
}

func TestRenderUnknownFormat(t *testing.T) {
	if err := Render(&bytes.Buffer{}, sampleReport(), Options{Format: "xml"}); err == nil {
		t.Fatalf("expected error")
	}
	if ValidFormat("xml") || !ValidFormat("yaml") {
		t.Fatalf("ValidFormat mismatch")
	}
}
