// Package formatter renders a failure report as JSON, YAML, coloured text or
// one line per failure.
package formatter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"cfn-failing-stacks/analyzer"

	"github.com/fatih/color"
	"sigs.k8s.io/yaml"
)

// Output formats.
const (
	FormatJSON    = "json"
	FormatYAML    = "yaml"
	FormatText    = "text"
	FormatCompact = "compact"
)

// Formats lists the accepted output formats.
var Formats = []string{FormatJSON, FormatYAML, FormatText, FormatCompact}

const (
	separator      = "─"
	separatorWidth = 80
	indentWidth    = 2
	compactDetail  = 100
)

// Options control rendering.
type Options struct {
	Format string
	Color  bool
}

// ValidFormat reports whether format is one of Formats.
func ValidFormat(format string) bool {
	for _, f := range Formats {
		if f == format {
			return true
		}
	}
	return false
}

// Render writes report to w.
func Render(w io.Writer, report analyzer.Report, opts Options) error {
	events := report.Events
	if events == nil {
		events = []analyzer.FailureEvent{}
	}

	switch opts.Format {
	case FormatJSON, "":
		return writeJSON(w, events)
	case FormatYAML:
		out, err := yaml.Marshal(events)
		if err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		_, err = w.Write(out)
		return err
	case FormatText:
		_, err := io.WriteString(w, newPalette(opts.Color).text(report))
		return err
	case FormatCompact:
		_, err := io.WriteString(w, FormatCompactReport(report))
		return err
	default:
		return fmt.Errorf("unknown output format %q (expected one of %s)", opts.Format, strings.Join(Formats, ", "))
	}
}

// writeJSON prints events indented with one tab, without HTML escaping.
func writeJSON(w io.Writer, events []analyzer.FailureEvent) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "\t")
	if err := enc.Encode(events); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

type palette struct {
	bold, red, yellow, cyan, gray *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		bold:   color.New(color.Bold),
		red:    color.New(color.FgRed),
		yellow: color.New(color.FgYellow),
		cyan:   color.New(color.FgCyan),
		gray:   color.New(color.FgHiBlack),
	}
	for _, c := range []*color.Color{p.bold, p.red, p.yellow, p.cyan, p.gray} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p palette) text(report analyzer.Report) string {
	var sb strings.Builder

	sb.WriteString(strings.Repeat(separator, separatorWidth))
	sb.WriteString("\n")
	sb.WriteString(p.bold.Sprint("CloudFormation Failure Report"))
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat(separator, separatorWidth))
	sb.WriteString("\n\n")

	fmt.Fprintf(&sb, "Stack:    %s\n", p.cyan.Sprint(report.StackName))
	fmt.Fprintf(&sb, "Window:   %s → %s\n", formatTimestamp(report.Window.Start), formatTimestamp(report.Window.End))
	fmt.Fprintf(&sb, "Failures: %d\n", len(report.Events))

	if len(report.Events) == 0 {
		sb.WriteString("\nNo failed resources found in the window.\n")
		return sb.String()
	}

	for i, event := range report.Events {
		sb.WriteString("\n")
		sb.WriteString(p.failure(i+1, event))
	}
	return sb.String()
}

// failure formats one failure, indented by its nesting depth.
func (p palette) failure(n int, event analyzer.FailureEvent) string {
	var sb strings.Builder

	indent := strings.Repeat(" ", indentWidth*event.Depth)
	inner := indent + strings.Repeat(" ", indentWidth)

	fmt.Fprintf(&sb, "%s%s %s %s\n", indent, p.red.Sprintf("[%d]", n), p.cyan.Sprint(event.LogicalResourceId), p.gray.Sprint(event.ResourceType))
	fmt.Fprintf(&sb, "%sStatus:    %s\n", inner, p.red.Sprint(event.ResourceStatus))
	fmt.Fprintf(&sb, "%sTime:      %s\n", inner, formatTimestamp(event.Timestamp))
	fmt.Fprintf(&sb, "%sStack:     %s\n", inner, event.ParentStack)
	if event.PhysicalResourceId != "" {
		fmt.Fprintf(&sb, "%sPhysical:  %s\n", inner, event.PhysicalResourceId)
	}
	if event.ResourceStatusReason != "" {
		fmt.Fprintf(&sb, "%sReason:    %s\n", inner, event.ResourceStatusReason)
	}

	if ct := event.CloudTrailEvent; ct != nil {
		fmt.Fprintf(&sb, "%s%s\n", inner, p.bold.Sprint("CloudTrail:"))
		fmt.Fprintf(&sb, "%s  Event:   %s (%s) at %s\n", inner, ct.EventName, ct.EventSource, formatTimestamp(ct.EventTime))
		if ct.ErrorCode != "" {
			fmt.Fprintf(&sb, "%s  Code:    %s\n", inner, p.red.Sprint(ct.ErrorCode))
		}
	}
	if event.DetailedMessage != "" {
		fmt.Fprintf(&sb, "%s%s %s\n", inner, p.yellow.Sprint("Detail:"), event.DetailedMessage)
	}

	return sb.String()
}

// truncate shortens s to at most limit runes, ending in "..." when cut.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-3]) + "..."
}

// FormatCompactReport prints one line per failure, nested failures prefixed by their depth.
func FormatCompactReport(report analyzer.Report) string {
	var sb strings.Builder
	for _, event := range report.Events {
		detail := event.ResourceStatusReason
		if event.DetailedMessage != "" {
			detail = event.DetailedMessage
		}
		detail = truncate(detail, compactDetail)
		fmt.Fprintf(&sb, "%s | %s%s | %s | %s | %s\n",
			formatTimestamp(event.Timestamp),
			strings.Repeat(">", event.Depth),
			event.LogicalResourceId,
			event.ResourceStatus,
			event.ParentStack,
			detail)
	}
	return sb.String()
}

// formatTimestamp formats a time.Time for display
func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "N/A"
	}
	return t.Format("2006-01-02 15:04:05 MST")
}
