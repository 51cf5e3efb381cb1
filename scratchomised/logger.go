package scratchomised

import (
	"fmt"
	"sort"
	"strings"

	"github.com/golang/glog"
)

// Logger is a minimal logging interface accepted by the SDK.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

// noopLogger discards all logs.
type noopLogger struct{}

func (noopLogger) Debug(string, map[string]any) {}
func (noopLogger) Info(string, map[string]any)  {}
func (noopLogger) Warn(string, map[string]any)  {}
func (noopLogger) Error(string, map[string]any) {}

// GlogLogger writes through glog. Debug lines need -v=2 or higher.
type GlogLogger struct {
	Prefix string
}

func (l GlogLogger) Debug(msg string, fields map[string]any) {
	if glog.V(2) {
		glog.InfoDepth(1, l.line(msg, fields))
	}
}

func (l GlogLogger) Info(msg string, fields map[string]any) {
	glog.InfoDepth(1, l.line(msg, fields))
}

func (l GlogLogger) Warn(msg string, fields map[string]any) {
	glog.WarningDepth(1, l.line(msg, fields))
}

func (l GlogLogger) Error(msg string, fields map[string]any) {
	glog.ErrorDepth(1, l.line(msg, fields))
}

func (l GlogLogger) line(msg string, fields map[string]any) string {
	var b strings.Builder
	b.WriteString(l.Prefix)
	b.WriteString(msg)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	return b.String()
}
