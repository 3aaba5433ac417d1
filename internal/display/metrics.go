package display

import (
	"fmt"
	"strings"

	"ongoal/internal/metrics"
)

func FormatRunMetrics(rm *metrics.RunMetrics) string {
	if rm == nil {
		return "No metrics available."
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Pipeline metrics (%s, message %s):\n", rm.Kind, rm.MessageID))
	sb.WriteString(fmt.Sprintf("- Total: %d ms  (success=%v)\n", rm.DurationMs, rm.Succeeded()))
	for _, s := range rm.Stages {
		status := "ok"
		if !s.Success {
			status = "err"
		}
		sb.WriteString(fmt.Sprintf("    • %-10s %5d ms  items=%-3d [%s]\n", s.Stage, s.DurationMs, s.Items, status))
	}
	return sb.String()
}
